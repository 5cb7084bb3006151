package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// Task type names
const (
	TypeFileDelete  = "file:delete"
	TypeTokensPurge = "token:purge_expired"
)

// FileDeletePayload names the storage object to remove
type FileDeletePayload struct {
	Key string `json:"key"`
}

func NewFileDeleteTask(payload FileDeletePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeFileDelete, data, asynq.MaxRetry(5), asynq.Queue("low")), nil
}

// TokensPurgePayload is empty - every expired token is removed
type TokensPurgePayload struct{}

func NewTokensPurgeTask() *asynq.Task {
	return asynq.NewTask(TypeTokensPurge, nil, asynq.Queue("low"))
}
