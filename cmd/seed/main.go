// seed inserts development accounts for local testing. Run after cmd/migrate.
// Idempotent: accounts whose email already exists are left untouched.
package main

import (
	"context"
	"errors"
	"log"

	"verivault/core/internal/bridge"
	pgbridge "verivault/core/internal/bridge/postgres"
	"verivault/core/internal/config"
	"verivault/core/internal/db"
	"verivault/core/internal/security"
)

const (
	devPassword = "password123"
)

var devAccounts = []string{
	"dev@example.com",
	"member@example.com",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	// Seeding only creates accounts; no sessions are issued, so no token provider is needed.
	b := pgbridge.New(conn, security.NewHasher(cfg.BcryptCost), nil)

	for _, email := range devAccounts {
		id, err := b.CreateAccount(ctx, email, devPassword)
		if errors.Is(err, bridge.ErrEmailTaken) {
			log.Printf("%s already exists, skipping", email)
			continue
		}
		if err != nil {
			log.Fatalf("create %s: %v", email, err)
		}
		log.Printf("created %s (%s)", email, id)
	}
	log.Printf("Seed complete. Sign in with any dev account and password %q.", devPassword)
}
