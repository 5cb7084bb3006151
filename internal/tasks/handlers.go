package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/hugh/go-backoffice/internal/storage"
)

// TokenPurger removes expired action tokens.
type TokenPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type Handler struct {
	storage storage.Storage
	tokens  TokenPurger
	logger  *slog.Logger
}

func NewHandler(store storage.Storage, tokens TokenPurger, logger *slog.Logger) *Handler {
	return &Handler{
		storage: store,
		tokens:  tokens,
		logger:  logger,
	}
}

func (h *Handler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeFileDelete, h.HandleFileDelete)
	mux.HandleFunc(TypeTokensPurge, h.HandleTokensPurge)
}

func (h *Handler) HandleFileDelete(ctx context.Context, t *asynq.Task) error {
	var payload FileDeletePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if payload.Key == "" {
		return fmt.Errorf("empty key: %w", asynq.SkipRetry)
	}

	if err := h.storage.Delete(ctx, payload.Key); err != nil {
		h.logger.Error("object delete failed", "key", payload.Key, "error", err)
		return err
	}

	h.logger.Info("object deleted", "key", payload.Key)
	return nil
}

func (h *Handler) HandleTokensPurge(ctx context.Context, _ *asynq.Task) error {
	n, err := h.tokens.PurgeExpired(ctx)
	if err != nil {
		return err
	}

	h.logger.Info("expired tokens purged", "count", n)
	return nil
}

// Enqueuer schedules background work from request handlers.
type Enqueuer struct {
	client *asynq.Client
}

func NewEnqueuer(client *asynq.Client) *Enqueuer {
	return &Enqueuer{client: client}
}

// ScheduleFileDelete enqueues removal of a storage object.
func (e *Enqueuer) ScheduleFileDelete(ctx context.Context, key string) error {
	task, err := NewFileDeleteTask(FileDeletePayload{Key: key})
	if err != nil {
		return err
	}
	if _, err := e.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueueing file delete: %w", err)
	}
	return nil
}
