package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"authcore/internal/audit"
	auditrepo "authcore/internal/audit/repository"
	"authcore/internal/config"
	"authcore/internal/db"
	identityrepo "authcore/internal/identity/repository"
	identityservice "authcore/internal/identity/service"
	"authcore/internal/kv"
	"authcore/internal/logging"
	"authcore/internal/notify"
	"authcore/internal/otp"
	"authcore/internal/ratelimit"
	policyengine "authcore/internal/policy/engine"
	"authcore/internal/rotation"
	"authcore/internal/security"
	"authcore/internal/server"
	sessionrepo "authcore/internal/session/repository"
	telemetryotel "authcore/internal/telemetry/otel"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat, cfg.OTelServiceName)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

type stores struct {
	identities identityrepo.Repository
	sessions   sessionrepo.Repository
	audits     auditrepo.Repository
	conn       *sql.DB
}

func openStores(cfg *config.Config, logger *slog.Logger) (*stores, error) {
	if cfg.DatabaseURL == "" {
		if cfg.IsProduction() {
			return nil, errors.New("DATABASE_URL must be set when APP_ENV=production")
		}
		logger.Warn("DATABASE_URL not set; using in-memory repositories")
		return &stores{
			identities: identityrepo.NewMemoryRepository(),
			sessions:   sessionrepo.NewMemoryRepository(),
			audits:     auditrepo.NewMemoryRepository(),
		}, nil
	}
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	return &stores{
		identities: identityrepo.NewPostgresRepository(conn),
		sessions:   sessionrepo.NewPostgresRepository(conn),
		audits:     auditrepo.NewPostgresRepository(conn),
		conn:       conn,
	}, nil
}

func openKV(ctx context.Context, cfg *config.Config, logger *slog.Logger) (kv.Store, func() error, error) {
	if cfg.RedisURL == "" {
		logger.Warn("REDIS_URL not set; one-time codes are kept in process memory")
		return kv.NewMemoryStore(), func() error { return nil }, nil
	}
	client, err := kv.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return kv.NewRedisStore(client, cfg.RedisPrefix), client.Close, nil
}

func tokenProvider(cfg *config.Config, logger *slog.Logger) (*security.TokenProvider, error) {
	var access, refresh security.KeyPair
	var err error
	if cfg.AuthEnabled() {
		if access, err = security.LoadKeyPair(cfg.JWTAccessPrivateKey, cfg.JWTAccessPublicKey); err != nil {
			return nil, fmt.Errorf("access keys: %w", err)
		}
		if refresh, err = security.LoadKeyPair(cfg.JWTRefreshPrivateKey, cfg.JWTRefreshPublicKey); err != nil {
			return nil, fmt.Errorf("refresh keys: %w", err)
		}
	} else {
		if cfg.IsProduction() {
			return nil, errors.New("JWT key settings must be set when APP_ENV=production")
		}
		logger.Warn("JWT keys not set; generating ephemeral signing keys")
		if access, refresh, err = security.GenerateKeyPairs(); err != nil {
			return nil, err
		}
	}
	return security.NewTokenProvider(access, refresh, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL())
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, cfg.OTelServiceName, cfg.OTLPInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	providers.SetGlobal()

	st, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	if st.conn != nil {
		defer st.conn.Close()
	}
	store, closeKV, err := openKV(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeKV()

	source, err := policyengine.LoadPolicyFile(cfg.AccountPolicyFile)
	if err != nil {
		return err
	}
	policy, err := policyengine.NewOPAEvaluator(ctx, source)
	if err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	tokens, err := tokenProvider(cfg, logger)
	if err != nil {
		return err
	}
	reuse, err := rotation.ParseReuseResponse(cfg.ReuseResponse)
	if err != nil {
		return err
	}

	var mail notify.Dispatcher
	if cfg.MailRelayURL != "" {
		mail = notify.NewHTTPRelay(cfg.MailRelayURL, cfg.MailRelayAPIKey, cfg.MailFrom)
	} else {
		logger.Warn("MAIL_RELAY_URL not set; messages are logged to the console")
		mail = &notify.ConsoleDispatcher{Logger: logger, ShowBody: !cfg.IsProduction()}
	}
	alerts := notify.NewAsyncDispatcher(mail, logger)

	hasher := security.NewHasher(cfg.BcryptCost)
	auditor := audit.NewLogger(st.audits, telemetryotel.NewAuditEmitter(providers.LoggerProvider), logger)
	codes := otp.NewManager(store, hasher, st.identities, mail,
		otp.WithTTL(cfg.OTPTTL()),
		otp.WithVerifiedTTL(cfg.OTPVerifiedTTL()),
		otp.WithMaxAttempts(cfg.OTPMaxAttempts),
		otp.WithLogger(logger),
	)
	engine := rotation.NewEngine(rotation.Deps{
		Identities:    st.identities,
		Sessions:      st.sessions,
		Tokens:        tokens,
		Policy:        policy,
		Auditor:       auditor,
		Alerts:        alerts,
		Logger:        logger,
		ReuseResponse: reuse,
	})
	auth := identityservice.NewAuthService(st.identities, st.audits, hasher, tokens, codes, engine, policy, auditor, logger)
	auth.SetLoginLimiter(ratelimit.NewLoginLimiter(store, ratelimit.Config{
		MaxAttempts:   cfg.LoginMaxAttempts,
		MaxIPAttempts: cfg.LoginMaxIPAttempts,
		Window:        cfg.LoginWindow(),
	}))

	deps := server.Deps{
		Auth:         auth,
		HealthStore:  store,
		HealthPolicy: policy,
		Logger:       logger,
	}
	if st.conn != nil {
		deps.HealthDB = st.conn
	}
	srv := server.NewServer(deps)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		serveErr <- srv.Serve(lis)
	}()

	select {
	case err = <-serveErr:
	case <-ctx.Done():
		logger.Info("shutting down gRPC server")
		srv.GracefulStop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if derr := alerts.Drain(shutdownCtx); derr != nil {
		logger.Warn("alerts not drained", "error", derr)
	}
	if serr := providers.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("telemetry shutdown", "error", serr)
	}
	logger.Info("gRPC server stopped")
	return err
}
