package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hugh/go-backoffice/pkg/util"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	App        AppConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Tokens     TokensConfig
	Encryption EncryptionConfig
	RateLimit  RateLimitConfig
	Mail       MailConfig
	Storage    StorageConfig
	CORS       CORSConfig
}

type ServerConfig struct {
	Host string
	Port int
	Env  string
}

type AppConfig struct {
	Name    string
	BaseURL string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type JWTConfig struct {
	Secret      string
	ExpiryHours int
}

type TokensConfig struct {
	Secret    string
	PurgeCron string
}

type EncryptionConfig struct {
	Key string
}

type RateLimitConfig struct {
	Requests      int
	WindowSeconds int
	// AuthRequests caps sign-in and emailed-link requests per account.
	AuthRequests      int
	AuthWindowSeconds int
}

type MailConfig struct {
	Driver   string // smtp, log
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

type StorageConfig struct {
	Driver string // s3, gcs, memory
	Bucket string

	// S3
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	AssumeRoleARN   string

	// GCS
	CredentialsFile string

	URLExpiryMinutes int
	MaxUploadBytes   int64
}

type CORSConfig struct {
	AllowedOrigins []string
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func (j *JWTConfig) Expiry() time.Duration {
	return time.Duration(j.ExpiryHours) * time.Hour
}

func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (s *ServerConfig) IsDevelopment() bool {
	return s.Env == "development"
}

func (m *MailConfig) Addr() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

func (s *StorageConfig) URLExpiry() time.Duration {
	return time.Duration(s.URLExpiryMinutes) * time.Minute
}

// Validate checks values that would otherwise only fail at first use.
func (c *Config) Validate() error {
	switch c.Mail.Driver {
	case "smtp", "log":
	default:
		return fmt.Errorf("unknown mail driver %q", c.Mail.Driver)
	}
	switch c.Storage.Driver {
	case "s3", "gcs", "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if err := util.ValidateCronExpr(c.Tokens.PurgeCron); err != nil {
		return fmt.Errorf("TOKENS_PURGE_CRON: %w", err)
	}
	if c.Storage.MaxUploadBytes <= 0 {
		return fmt.Errorf("STORAGE_MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_ENV", "development")
	v.SetDefault("APP_NAME", "Backoffice")
	v.SetDefault("APP_BASE_URL", "http://localhost:8080")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "backoffice")
	v.SetDefault("DATABASE_PASSWORD", "backoffice_secret")
	v.SetDefault("DATABASE_NAME", "backoffice")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("JWT_SECRET", "change-me-in-production")
	v.SetDefault("JWT_EXPIRY_HOURS", 24*30)
	v.SetDefault("TOKENS_PURGE_CRON", "0 * * * *")
	v.SetDefault("RATE_LIMIT_REQUESTS", 100)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 60)
	v.SetDefault("RATE_LIMIT_AUTH_REQUESTS", 5)
	v.SetDefault("RATE_LIMIT_AUTH_WINDOW_SECONDS", 15*60)
	v.SetDefault("MAIL_DRIVER", "log")
	v.SetDefault("MAIL_PORT", 587)
	v.SetDefault("MAIL_FROM", "no-reply@localhost")
	v.SetDefault("MAIL_FROM_NAME", "Backoffice")
	v.SetDefault("STORAGE_DRIVER", "s3")
	v.SetDefault("STORAGE_BUCKET", "backoffice")
	v.SetDefault("STORAGE_REGION", "us-east-1")
	v.SetDefault("STORAGE_URL_EXPIRY_MINUTES", 60*24)
	v.SetDefault("STORAGE_MAX_UPLOAD_BYTES", 5<<20)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")

	// Load from .env file if present
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// Override with environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("SERVER_HOST"),
			Port: v.GetInt("SERVER_PORT"),
			Env:  v.GetString("SERVER_ENV"),
		},
		App: AppConfig{
			Name:    v.GetString("APP_NAME"),
			BaseURL: strings.TrimRight(v.GetString("APP_BASE_URL"), "/"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DATABASE_HOST"),
			Port:     v.GetInt("DATABASE_PORT"),
			User:     v.GetString("DATABASE_USER"),
			Password: v.GetString("DATABASE_PASSWORD"),
			Name:     v.GetString("DATABASE_NAME"),
			SSLMode:  v.GetString("DATABASE_SSLMODE"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetInt("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
		},
		JWT: JWTConfig{
			Secret:      v.GetString("JWT_SECRET"),
			ExpiryHours: v.GetInt("JWT_EXPIRY_HOURS"),
		},
		Tokens: TokensConfig{
			Secret:    v.GetString("TOKENS_SECRET"),
			PurgeCron: v.GetString("TOKENS_PURGE_CRON"),
		},
		Encryption: EncryptionConfig{
			Key: v.GetString("ENCRYPTION_KEY"),
		},
		RateLimit: RateLimitConfig{
			Requests:      v.GetInt("RATE_LIMIT_REQUESTS"),
			WindowSeconds: v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),

			AuthRequests:      v.GetInt("RATE_LIMIT_AUTH_REQUESTS"),
			AuthWindowSeconds: v.GetInt("RATE_LIMIT_AUTH_WINDOW_SECONDS"),
		},
		Mail: MailConfig{
			Driver:   v.GetString("MAIL_DRIVER"),
			Host:     v.GetString("MAIL_HOST"),
			Port:     v.GetInt("MAIL_PORT"),
			Username: v.GetString("MAIL_USERNAME"),
			Password: v.GetString("MAIL_PASSWORD"),
			From:     v.GetString("MAIL_FROM"),
			FromName: v.GetString("MAIL_FROM_NAME"),
		},
		Storage: StorageConfig{
			Driver:           v.GetString("STORAGE_DRIVER"),
			Bucket:           v.GetString("STORAGE_BUCKET"),
			Region:           v.GetString("STORAGE_REGION"),
			Endpoint:         v.GetString("STORAGE_ENDPOINT"),
			AccessKeyID:      v.GetString("STORAGE_ACCESS_KEY_ID"),
			SecretAccessKey:  v.GetString("STORAGE_SECRET_ACCESS_KEY"),
			AssumeRoleARN:    v.GetString("STORAGE_ASSUME_ROLE_ARN"),
			CredentialsFile:  v.GetString("STORAGE_CREDENTIALS_FILE"),
			URLExpiryMinutes: v.GetInt("STORAGE_URL_EXPIRY_MINUTES"),
			MaxUploadBytes:   v.GetInt64("STORAGE_MAX_UPLOAD_BYTES"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
	}

	// Action tokens fall back to the session secret
	if cfg.Tokens.Secret == "" {
		cfg.Tokens.Secret = cfg.JWT.Secret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
