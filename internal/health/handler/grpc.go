package handler

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

const checkTimeout = 2 * time.Second

// Pinger reports database reachability. *sql.DB implements it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// StorePinger reports key-value store reachability. kv.Store implements it.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// PolicyChecker reports whether the account policy evaluates. *engine.OPAEvaluator implements it.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server implements the standard grpc.health.v1.Health service. The overall status ("") and
// every name in services share the same readiness checks.
type Server struct {
	healthpb.UnimplementedHealthServer
	db       Pinger
	store    StorePinger
	policy   PolicyChecker
	services map[string]bool
	logger   *slog.Logger
}

// NewServer returns a health server. Nil dependencies are skipped.
func NewServer(db Pinger, store StorePinger, policy PolicyChecker, logger *slog.Logger, services ...string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	known := map[string]bool{"": true}
	for _, s := range services {
		known[s] = true
	}
	return &Server{db: db, store: store, policy: policy, services: known, logger: logger}
}

// Check returns SERVING when every configured dependency responds, NOT_SERVING otherwise.
// A failing dependency never surfaces as an RPC error.
func (s *Server) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if !s.services[req.GetService()] {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", req.GetService())
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if err := s.ready(ctx); err != nil {
		s.logger.WarnContext(ctx, "health: not serving", "error", err)
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

func (s *Server) ready(ctx context.Context) error {
	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			return err
		}
	}
	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			return err
		}
	}
	if s.policy != nil {
		if err := s.policy.HealthCheck(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Methods returns the full method names of the health service, which need no credentials.
func Methods() []string {
	return []string{
		healthpb.Health_Check_FullMethodName,
		healthpb.Health_Watch_FullMethodName,
	}
}
