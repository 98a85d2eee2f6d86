package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/cfdilab/cfdilab/internal/jobs"
	"github.com/cfdilab/cfdilab/internal/seed"
)

// Seeder runs one seeding pass.
type Seeder interface {
	Run(ctx context.Context, scale string) (seed.Result, error)
}

// SeedJob handles TaskSeedRun.
type SeedJob struct {
	Seeder  Seeder
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewSeedJob builds the seed handler.
func NewSeedJob(seeder Seeder, logger *slog.Logger, metrics *jobmetrics.Metrics) *SeedJob {
	return &SeedJob{Seeder: seeder, Logger: logger, Metrics: metrics}
}

// Handle executes one seeding run. Malformed payloads are not retried.
func (j *SeedJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Seeder == nil {
		return errors.New("seed: handler not configured")
	}
	var payload SeedPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("seed: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	tracker := j.Metrics.Track(TaskSeedRun)
	defer func() {
		err = tracker.End(err)
	}()

	logger := loggerOrDefault(j.Logger).With(slog.String("job", TaskSeedRun), slog.String("scale", payload.Scale))
	res, err := j.Seeder.Run(ctx, payload.Scale)
	if err != nil {
		logger.Error("seed failed", slog.Any("error", err))
		return err
	}
	logger.Info("seed finished", slog.Int("documents", res.Documents), slog.Int("payments", res.Payments))
	return nil
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
