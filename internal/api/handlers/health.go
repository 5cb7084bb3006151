package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/hugh/go-backoffice/internal/api/respond"
	"github.com/hugh/go-backoffice/internal/storage"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db      *gorm.DB
	redis   *redis.Client
	storage storage.Storage
}

// NewHealthHandler checks db, and redis and storage when they are set.
func NewHealthHandler(db *gorm.DB, redis *redis.Client, store storage.Storage) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, storage: store}
}

type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	services := make(map[string]string)
	status := "healthy"
	check := func(name string, err error) {
		if err != nil {
			services[name] = "unhealthy"
			status = "unhealthy"
			return
		}
		services[name] = "healthy"
	}

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	check("database", err)

	if h.redis != nil {
		check("redis", h.redis.Ping(ctx).Err())
	}
	if h.storage != nil {
		check("storage", h.storage.Ping(ctx))
	}

	statusCode := http.StatusOK
	if status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	respond.JSON(w, statusCode, HealthResponse{
		Status:   status,
		Services: services,
	})
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
