// seed inserts a development identity for local testing. Idempotent: skips the insert when
// the dev username or email already exists.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"authcore/internal/config"
	"authcore/internal/db"
	identitydomain "authcore/internal/identity/domain"
	identityrepo "authcore/internal/identity/repository"
	"authcore/internal/logging"
	"authcore/internal/security"
)

const (
	devUsername = "devuser"
	devEmail    = "dev@example.com"
	devPassword = "Password123!"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := logging.New(os.Stderr, cfg.LogLevel, "text", "authcore-seed")
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	if cfg.IsProduction() {
		logger.Error("refusing to seed when APP_ENV=production")
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
		os.Exit(1)
	}
	if err := seed(context.Background(), cfg, logger); err != nil {
		logger.Error("seed failed", "error", err)
		os.Exit(1)
	}
}

func seed(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer conn.Close()
	repo := identityrepo.NewPostgresRepository(conn)

	existing, err := repo.GetByEmail(ctx, devEmail)
	if err != nil {
		return err
	}
	if existing != nil {
		logger.Info("dev identity already exists; skipping", "email", devEmail)
		return nil
	}

	hash, err := security.NewHasher(cfg.BcryptCost).Hash([]byte(devPassword))
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	err = repo.Create(ctx, &identitydomain.Identity{
		ID:           uuid.New().String(),
		FirstName:    "Dev",
		LastName:     "User",
		Username:     devUsername,
		Email:        devEmail,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if errors.Is(err, identityrepo.ErrIdentityExists) {
		logger.Info("dev username already taken; skipping", "username", devUsername)
		return nil
	}
	if err != nil {
		return fmt.Errorf("create dev identity: %w", err)
	}
	logger.Info("seed completed", "username", devUsername, "email", devEmail, "password", devPassword)
	return nil
}
