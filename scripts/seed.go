//go:build ignore

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/hugh/go-backoffice/internal/apperr"
	"github.com/hugh/go-backoffice/internal/auth"
	"github.com/hugh/go-backoffice/internal/database"
	"github.com/hugh/go-backoffice/internal/database/models"
	"github.com/hugh/go-backoffice/internal/mail"
	"github.com/hugh/go-backoffice/internal/settings"
	"github.com/hugh/go-backoffice/internal/tokens"
	"github.com/hugh/go-backoffice/pkg/config"
	"github.com/hugh/go-backoffice/pkg/crypto"
	"github.com/hugh/go-backoffice/pkg/util"
	"github.com/joho/godotenv"
)

// Seeds the workspace owner. The first account created becomes the owner.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Server.Env)

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	key := cfg.Encryption.Key
	if key == "" {
		if key, err = crypto.GenerateKey(); err != nil {
			log.Fatalf("failed to generate encryption key: %v", err)
		}
		fmt.Printf("ENCRYPTION_KEY not set; generated one for this run:\nENCRYPTION_KEY=%s\n", key)
	}

	encryptor, err := crypto.NewEncryptor(key)
	if err != nil {
		log.Fatalf("failed to create encryptor: %v", err)
	}

	notifier, err := mail.NewNotifier(mail.NewSender(&config.MailConfig{Driver: "log"}, logger), nil)
	if err != nil {
		log.Fatalf("failed to load mail templates: %v", err)
	}

	settingsService := settings.NewService(db, encryptor, nil, logger)
	tokenService := tokens.NewService(db, cfg.Tokens.Secret, cfg.App.BaseURL, notifier, logger)
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry())
	authService := auth.NewService(db, jwtService, auth.NewMemorySessionStore(), tokenService, settingsService, logger)

	email := os.Getenv("OWNER_EMAIL")
	password := os.Getenv("OWNER_PASSWORD")
	if email == "" {
		email = "owner@example.com"
	}
	if password == "" {
		password = "Owner123!"
	}

	ctx := context.Background()
	session, err := authService.SignUp(ctx, auth.SignUpInput{
		Email:     email,
		Password:  password,
		FirstName: "Workspace",
		LastName:  "Owner",
	})
	if err != nil {
		if errors.Is(err, apperr.ErrUserAlreadyExists) {
			fmt.Printf("User already exists: %s\n", email)
			return
		}
		log.Fatalf("failed to create owner: %v", err)
	}

	if err := db.Model(session.User).Update("has_email_verified", true).Error; err != nil {
		log.Fatalf("failed to verify owner email: %v", err)
	}
	if err := tokenService.DeleteForTarget(ctx, session.User.ID); err != nil {
		log.Fatalf("failed to clear verification token: %v", err)
	}

	fmt.Printf("User created successfully!\n")
	fmt.Printf("Email: %s\n", session.User.Email)
	fmt.Printf("Role: %s\n", session.User.Role)
	if session.User.Role != models.RoleOwner {
		fmt.Printf("Note: an owner already exists, this account is a regular user\n")
	}
}
