package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSeedRun fills the store with demo documents.
	TaskSeedRun = "seed:run"
	// TaskLedgerIntegrity re-checks every stored document against the ledger invariants.
	TaskLedgerIntegrity = "ledger:integrity"
)

// SeedPayload selects the seeding scale.
type SeedPayload struct {
	Scale string `json:"scale"`
}

// NewSeedTask constructs a seed task.
func NewSeedTask(scale string) (*asynq.Task, error) {
	data, err := json.Marshal(SeedPayload{Scale: scale})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSeedRun, data), nil
}

// NewLedgerIntegrityTask constructs the integrity task. It carries no payload.
func NewLedgerIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerIntegrity, nil)
}
