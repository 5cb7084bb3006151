package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hugh/go-backoffice/internal/api"
	"github.com/hugh/go-backoffice/internal/api/middleware"
	"github.com/hugh/go-backoffice/internal/auth"
	"github.com/hugh/go-backoffice/internal/database"
	"github.com/hugh/go-backoffice/internal/files"
	"github.com/hugh/go-backoffice/internal/mail"
	"github.com/hugh/go-backoffice/internal/settings"
	"github.com/hugh/go-backoffice/internal/storage"
	"github.com/hugh/go-backoffice/internal/tasks"
	"github.com/hugh/go-backoffice/internal/tokens"
	"github.com/hugh/go-backoffice/internal/users"
	"github.com/hugh/go-backoffice/pkg/config"
	"github.com/hugh/go-backoffice/pkg/crypto"
	"github.com/hugh/go-backoffice/pkg/queue"
	"github.com/hugh/go-backoffice/pkg/util"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := util.NewLogger(cfg.Server.Env)
	slog.SetDefault(logger)

	logger.Info("starting backoffice server",
		"env", cfg.Server.Env,
		"addr", cfg.Server.Addr(),
	)

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := database.AutoMigrate(db); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	// Without redis, sessions live in process memory and file deletes run
	// inline.
	var sessions auth.SessionStore = auth.NewMemorySessionStore()
	var scheduler files.DeleteScheduler
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
	})
	queueClient := queue.NewClient(&cfg.Redis)
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Warn("failed to connect to Redis, using in-memory sessions", "error", err)
		redisClient.Close()
		queueClient.Close()
		redisClient, queueClient = nil, nil
	} else {
		sessions = auth.NewRedisSessionStore(redisClient)
		scheduler = tasks.NewEnqueuer(queueClient)
	}

	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		logger.Error("failed to create encryptor", "error", err)
		os.Exit(1)
	}
	if cfg.Encryption.Key == "" {
		logger.Warn("ENCRYPTION_KEY not set, using generated key - secret settings will be unreadable after restart",
			"recipient", encryptor.PublicKey())
	}

	store, err := storage.New(context.Background(), &cfg.Storage)
	if err != nil {
		logger.Error("failed to create storage", "error", err)
		os.Exit(1)
	}

	fileService := files.NewService(db, store, scheduler, cfg.Storage.MaxUploadBytes, cfg.Storage.URLExpiry(), logger)
	settingsService := settings.NewService(db, encryptor, fileService, logger)

	notifier, err := mail.NewNotifier(mail.NewSender(&cfg.Mail, logger), branding(settingsService, cfg.App.Name))
	if err != nil {
		logger.Error("failed to load mail templates", "error", err)
		os.Exit(1)
	}

	tokenService := tokens.NewService(db, cfg.Tokens.Secret, cfg.App.BaseURL, notifier, logger)
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry())
	authService := auth.NewService(db, jwtService, sessions, tokenService, settingsService, logger)
	oauthService := auth.NewOAuthService(authService, cfg.JWT.Secret, cfg.App.BaseURL)
	userService := users.NewService(db, authService, fileService, tokenService, logger)

	csrf := middleware.NewCSRFStore()
	defer csrf.Close()

	router := api.NewRouter(api.RouterConfig{
		DB:             db,
		Redis:          redisClient,
		Storage:        store,
		Logger:         logger,
		Guard:          auth.NewGuard(db, jwtService, sessions),
		Auth:           authService,
		OAuth:          oauthService,
		Users:          userService,
		Files:          fileService,
		Settings:       settingsService,
		Ownership:      settings.NewOwnership(settingsService, authService),
		CSRF:           csrf,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		RateLimitReqs:  cfg.RateLimit.Requests,
		RateLimitSecs:  cfg.RateLimit.WindowSeconds,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
		SecureCookies:  strings.HasPrefix(cfg.App.BaseURL, "https://"),

		AuthRateLimitReqs: cfg.RateLimit.AuthRequests,
		AuthRateLimitSecs: cfg.RateLimit.AuthWindowSeconds,
	})
	defer router.Close()

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if queueClient != nil {
		queueClient.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}

	sqlDB, _ := db.DB()
	sqlDB.Close()

	logger.Info("server stopped")
}

// branding reads the app name and colour from settings for each email.
func branding(s *settings.Service, fallbackName string) func(ctx context.Context) mail.Branding {
	return func(ctx context.Context) mail.Branding {
		b := mail.Branding{AppName: fallbackName, Color: "#2563eb"}
		if name, err := s.String(ctx, settings.AppName); err == nil && name != "" {
			b.AppName = name
		}
		if color, err := s.String(ctx, settings.PrimaryColor); err == nil && color != "" {
			b.Color = color
		}
		return b
	}
}
