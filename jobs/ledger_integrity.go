package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/cfdilab/cfdilab/internal/jobs"
)

// IntegrityVerifier re-checks stored documents; cfdi.Service implements it.
type IntegrityVerifier interface {
	VerifyIntegrity(ctx context.Context) (checked int, violations map[string]error, err error)
}

// IntegrityReport is the outcome of one pass.
type IntegrityReport struct {
	Checked    int
	Violations map[string]error
	Duration   time.Duration
}

// LedgerIntegrityJob walks every document and reports those breaking the ledger invariants.
type LedgerIntegrityJob struct {
	Verifier IntegrityVerifier
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewLedgerIntegrityJob builds the integrity handler.
func NewLedgerIntegrityJob(verifier IntegrityVerifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{
		Verifier: verifier,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle runs the check as an asynq task. Violations are reported, not returned as errors,
// so the scheduler does not retry a pass that completed.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, _ *asynq.Task) error {
	_, err := j.Run(ctx)
	return err
}

// Run performs one pass and logs every violating document.
func (j *LedgerIntegrityJob) Run(ctx context.Context) (report IntegrityReport, err error) {
	if j == nil || j.Verifier == nil {
		return report, errors.New("ledger integrity: handler not configured")
	}
	tracker := j.Metrics.Track(TaskLedgerIntegrity)
	defer func() {
		err = tracker.End(err)
	}()

	logger := loggerOrDefault(j.Logger).With(slog.String("job", TaskLedgerIntegrity))
	start := j.clock()
	checked, violations, err := j.Verifier.VerifyIntegrity(ctx)
	report = IntegrityReport{Checked: checked, Violations: violations, Duration: j.clock().Sub(start)}
	if err != nil {
		logger.Error("integrity scan failed", slog.Int("checked", checked), slog.Any("error", err))
		return report, err
	}

	ids := make([]string, 0, len(violations))
	for id := range violations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		logger.Warn("ledger invariant violated", slog.String("uuid", id), slog.Any("error", violations[id]))
	}
	j.Metrics.RecordIntegrity(checked, len(violations))
	logger.Info("integrity scan completed",
		slog.Int("checked", checked),
		slog.Int("violations", len(violations)),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}
