// Package server assembles the gRPC server: interceptors, OTel instrumentation and the
// registered services.
package server

import (
	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthhandler "authcore/internal/health/handler"
	identityhandler "authcore/internal/identity/handler"
	identityservice "authcore/internal/identity/service"
	"authcore/internal/server/interceptors"
)

// Deps holds the service dependencies for the gRPC server.
type Deps struct {
	// Auth backs AuthService and validates access tokens. If nil, auth RPCs return Unimplemented
	// and no token validation runs.
	Auth *identityservice.AuthService
	// HealthDB is pinged on health checks (e.g. *sql.DB). Nil skips the database check.
	HealthDB healthhandler.Pinger
	// HealthStore is pinged on health checks (the kv store). Nil skips it.
	HealthStore healthhandler.StorePinger
	// HealthPolicy is evaluated on health checks (the OPA evaluator). Nil skips it.
	HealthPolicy healthhandler.PolicyChecker
	Logger       *slog.Logger
}

// PublicMethods returns the full method names that need no access token: every AuthService
// method except the protected ones, plus the health service.
func PublicMethods() map[string]bool {
	public := identityhandler.PublicMethods()
	for _, m := range healthhandler.Methods() {
		public[m] = true
	}
	return public
}

// NewServer returns a gRPC server with the request-metadata, logging and auth interceptors
// chained in that order, otelgrpc stats, and all services registered.
func NewServer(deps Deps, opts ...grpc.ServerOption) *grpc.Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	quiet := make(map[string]bool)
	for _, m := range healthhandler.Methods() {
		quiet[m] = true
	}
	chain := []grpc.UnaryServerInterceptor{
		interceptors.RequestMetaUnary(),
		interceptors.LoggingUnary(logger, quiet),
	}
	if deps.Auth != nil {
		chain = append(chain, interceptors.AuthUnary(deps.Auth, PublicMethods()))
	}
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(chain...),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers AuthService and the standard health service with s.
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	var auth identityhandler.Auth
	if deps.Auth != nil {
		auth = deps.Auth
	}
	identityhandler.RegisterAuthServiceServer(s, identityhandler.NewAuthServer(auth, deps.Logger))
	healthpb.RegisterHealthServer(s, healthhandler.NewServer(
		deps.HealthDB, deps.HealthStore, deps.HealthPolicy, deps.Logger, identityhandler.ServiceName,
	))
}
