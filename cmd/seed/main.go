// seed provisions the admin account from ADMIN_USERNAME and ADMIN_PASSWORD.
// Idempotent: exits cleanly if the admin account already exists.
package main

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	accountdomain "session-manager/backend/internal/account/domain"
	accountrepo "session-manager/backend/internal/account/repository"
	"session-manager/backend/internal/config"
	"session-manager/backend/internal/db"
	"session-manager/backend/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	if cfg.AdminUsername == "" || cfg.AdminPassword == "" {
		log.Fatal("ADMIN_USERNAME and ADMIN_PASSWORD must be set to seed the admin account")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	key, err := security.KeyFromConfig(cfg.AESKey, cfg.AESPassphrase)
	if err != nil {
		log.Fatalf("aes key: %v", err)
	}
	cipher, err := security.NewCipher(key)
	if err != nil {
		log.Fatalf("cipher: %v", err)
	}

	accounts := accountrepo.NewPostgresRepository(conn)
	ctx := context.Background()

	existing, err := accounts.GetByUsername(ctx, cfg.AdminUsername)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Printf("Seed already applied (%s exists). Skipping.", cfg.AdminUsername)
		return
	}

	cipherText, iv, err := cipher.Encrypt(cfg.AdminPassword)
	if err != nil {
		log.Fatalf("encrypt admin password: %v", err)
	}
	admin := &accountdomain.Account{
		ID:             uuid.New().String(),
		Username:       cfg.AdminUsername,
		PasswordCipher: cipherText,
		PasswordIV:     iv,
		Role:           accountdomain.RoleAdmin,
		CreatedAt:      time.Now().UTC(),
	}
	if err := accounts.Create(ctx, admin); err != nil {
		log.Fatalf("create admin account: %v", err)
	}
	log.Printf("Seeded admin account %s (%s)", admin.Username, admin.ID)
}
