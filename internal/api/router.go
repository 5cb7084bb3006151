package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hugh/go-backoffice/internal/api/handlers"
	"github.com/hugh/go-backoffice/internal/api/middleware"
	"github.com/hugh/go-backoffice/internal/auth"
	"github.com/hugh/go-backoffice/internal/database/models"
	"github.com/hugh/go-backoffice/internal/files"
	"github.com/hugh/go-backoffice/internal/settings"
	"github.com/hugh/go-backoffice/internal/storage"
	"github.com/hugh/go-backoffice/internal/users"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Router struct {
	chi.Router
	limiters []*middleware.Limiter
}

// Close stops the background sweepers of the router's rate limiters.
func (r *Router) Close() {
	for _, l := range r.limiters {
		l.Close()
	}
}

type RouterConfig struct {
	DB        *gorm.DB
	Redis     *redis.Client
	Storage   storage.Storage
	Logger    *slog.Logger
	Guard     *auth.Guard
	Auth      *auth.Service
	OAuth     *auth.OAuthService
	Users     *users.Service
	Files     *files.Service
	Settings  *settings.Service
	Ownership *settings.Ownership
	CSRF      *middleware.CSRFStore

	AllowedOrigins []string
	RateLimitReqs  int
	RateLimitSecs  int
	MaxUploadBytes int64
	SecureCookies  bool

	// AuthRateLimitReqs caps sign-in and emailed-link requests per account
	// address; zero disables the limit.
	AuthRateLimitReqs int
	AuthRateLimitSecs int
}

func NewRouter(cfg RouterConfig) *Router {
	r := chi.NewRouter()
	router := &Router{Router: r}

	r.Use(chimw.RequestID)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))

	limit := func(reqs, secs int, key middleware.KeyFunc) func(http.Handler) http.Handler {
		if reqs <= 0 {
			return func(next http.Handler) http.Handler { return next }
		}
		l := middleware.NewLimiter(reqs, time.Duration(secs)*time.Second)
		router.limiters = append(router.limiters, l)
		return middleware.Throttle(l, key)
	}
	signInLimit := limit(cfg.AuthRateLimitReqs, cfg.AuthRateLimitSecs, middleware.ByEmail)
	mailLimit := limit(cfg.AuthRateLimitReqs, cfg.AuthRateLimitSecs, middleware.ByEmail)

	r.Use(limit(cfg.RateLimitReqs, cfg.RateLimitSecs, middleware.ByIP))

	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Auth-Token"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	csrf := cfg.CSRF
	if csrf == nil {
		csrf = middleware.NewCSRFStore()
	}
	protect := middleware.CSRF(csrf)

	healthHandler := handlers.NewHealthHandler(cfg.DB, cfg.Redis, cfg.Storage)
	authHandler := handlers.NewAuthHandler(cfg.Auth, cfg.OAuth, csrf, cfg.SecureCookies, cfg.Logger)
	accountHandler := handlers.NewAccountHandler(cfg.Auth, cfg.Users, cfg.Files, cfg.MaxUploadBytes, cfg.SecureCookies, cfg.Logger)
	userHandler := handlers.NewUserHandler(cfg.Users, cfg.Logger)
	settingsHandler := handlers.NewSettingsHandler(cfg.Settings, cfg.Ownership, cfg.Files, cfg.Users, cfg.MaxUploadBytes, cfg.Logger)
	fileHandler := handlers.NewFileHandler(cfg.Files, cfg.Logger)

	session := middleware.Auth(cfg.Guard, cfg.Logger)
	staff := middleware.Auth(cfg.Guard, cfg.Logger, models.RoleAdmin, models.RoleOwner)
	owner := middleware.Auth(cfg.Guard, cfg.Logger, models.RoleOwner)

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/sign-up", authHandler.SignUp)
			r.With(signInLimit).Post("/sign-in", authHandler.SignIn)
			r.With(mailLimit).Post("/magic-link", authHandler.MagicLink)
			r.Post("/magic-link/verify", authHandler.MagicLinkVerify)
			r.With(mailLimit).Post("/forgot-password", authHandler.ForgotPassword)
			r.Post("/reset-password", authHandler.ResetPassword)
			r.Post("/verify-email", authHandler.VerifyEmail)
			r.Post("/email/confirm", authHandler.ConfirmEmail)
			r.Get("/oauth/{provider}", authHandler.OAuthStart)
			r.Get("/oauth/{provider}/callback", authHandler.OAuthCallback)

			r.Group(func(r chi.Router) {
				r.Use(session, protect)
				r.Post("/sign-out", authHandler.SignOut)
				r.Post("/refresh", authHandler.Refresh)
				r.With(mailLimit).Post("/resend-verification", authHandler.ResendVerification)
				r.Get("/csrf", authHandler.CSRFToken)
			})
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/public", settingsHandler.Public)
			r.Get("/password-policy", settingsHandler.PasswordPolicy)

			r.Group(func(r chi.Router) {
				r.Use(staff, protect)
				r.Use(middleware.RequireSettingsAccess(cfg.Ownership, cfg.Logger))
				r.Get("/", settingsHandler.List)
				r.Put("/", settingsHandler.Update)
				r.Post("/images/{name}", settingsHandler.UploadImage)
			})

			r.Group(func(r chi.Router) {
				r.Use(owner, protect)
				r.Get("/sharing", settingsHandler.Sharing)
				r.Put("/sharing", settingsHandler.UpdateSharing)
				r.Post("/ownership/transfer", settingsHandler.TransferOwnership)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(session, protect)
			r.Use(limit(cfg.RateLimitReqs, cfg.RateLimitSecs, middleware.ByUser))

			r.Route("/account", func(r chi.Router) {
				r.Get("/", accountHandler.Get)
				r.Delete("/", accountHandler.Delete)
				r.Put("/profile", accountHandler.UpdateProfile)
				r.Put("/password", accountHandler.ChangePassword)
				r.Post("/email", accountHandler.RequestEmailChange)
				r.Post("/photo", accountHandler.UploadPhoto)
				r.Delete("/photo", accountHandler.RemovePhoto)
			})

			r.Get("/files/{id}", fileHandler.Get)
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(staff, protect)
			r.Get("/", userHandler.List)
			r.Get("/{id}", userHandler.Get)
			r.Delete("/{id}", userHandler.Delete)
			r.Put("/{id}/role", userHandler.SetRole)
			r.Post("/{id}/suspend", userHandler.Suspend)
			r.Post("/{id}/activate", userHandler.Activate)
		})
	})

	return router
}
