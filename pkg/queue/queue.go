package queue

import (
	"github.com/hibiken/asynq"
	"github.com/hugh/go-backoffice/pkg/config"
)

func redisOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
	}
}

func NewClient(cfg *config.RedisConfig) *asynq.Client {
	return asynq.NewClient(redisOpt(cfg))
}

func NewServer(cfg *config.RedisConfig, concurrency int) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 10
	}

	return asynq.NewServer(
		redisOpt(cfg),
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)
}

// NewScheduler registers periodic tasks; cronspec uses the standard five
// field syntax.
func NewScheduler(cfg *config.RedisConfig, entries map[string]*asynq.Task) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(redisOpt(cfg), nil)
	for cronspec, task := range entries {
		if _, err := scheduler.Register(cronspec, task); err != nil {
			return nil, err
		}
	}
	return scheduler, nil
}
