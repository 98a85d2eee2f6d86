package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/cfdilab/cfdilab/internal/platform/cache"
	"github.com/cfdilab/cfdilab/jobs"
)

// JobsCLI wraps manual management helpers for the asynq queue.
type JobsCLI struct {
	client    *jobs.Client
	inspector QueueReader
}

// QueueReader is the part of *asynq.Inspector the CLI reads.
type QueueReader interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	Close() error
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	if strings.TrimSpace(redisAddr) == "" {
		return nil, errors.New("jobs cli: REDIS_ADDR is not set")
	}
	opt, err := cache.AsynqOpt(redisAddr)
	if err != nil {
		return nil, err
	}
	return &JobsCLI{client: jobs.NewClient(opt), inspector: asynq.NewInspector(opt)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		err = errors.Join(err, c.inspector.Close())
	}
	if c.client != nil {
		err = errors.Join(err, c.client.Close())
	}
	return err
}

// Trigger enqueues a supported job by name.
func (c *JobsCLI) Trigger(ctx context.Context, name, scale string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	switch name {
	case jobs.TaskLedgerIntegrity:
		return c.client.EnqueueLedgerIntegrity(ctx)
	case jobs.TaskSeedRun:
		return c.client.EnqueueSeed(ctx, scale)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Failed    int    `json:"failed"`
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue() (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Failed = info.Failed
	}
	return stats, nil
}

func newJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger background jobs and inspect the queue",
	}

	var scale string
	trigger := &cobra.Command{
		Use:       "trigger <" + jobs.TaskLedgerIntegrity + "|" + jobs.TaskSeedRun + ">",
		Short:     "Enqueue a job for the worker",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{jobs.TaskLedgerIntegrity, jobs.TaskSeedRun},
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := NewJobsCLI(os.Getenv("REDIS_ADDR"))
			if err != nil {
				return err
			}
			defer cli.Close()
			info, err := cli.Trigger(cmd.Context(), args[0], scale)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"id": info.ID, "type": info.Type, "queue": info.Queue})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s as %s\n", info.Type, info.ID)
			return nil
		},
	}
	trigger.Flags().StringVar(&scale, "scale", "", "seed scale for "+jobs.TaskSeedRun)

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show the default queue depth",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cli, err := NewJobsCLI(os.Getenv("REDIS_ADDR"))
			if err != nil {
				return err
			}
			defer cli.Close()
			s, err := cli.InspectQueue()
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), s)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: pending=%d active=%d scheduled=%d retry=%d failed=%d\n",
				s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Failed)
			return nil
		},
	}

	cmd.AddCommand(trigger, stats)
	return cmd
}
