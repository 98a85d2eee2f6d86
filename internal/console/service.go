package console

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// Result is the outcome of one console statement.
type Result struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	ElapsedMS float64          `json:"elapsed_ms"`
}

// Column describes one column of a table.
type Column struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Nullable   bool    `json:"nullable"`
	PrimaryKey bool    `json:"primary_key"`
	Default    *string `json:"default"`
}

// Executor runs statements against a SQL engine.
type Executor interface {
	Query(ctx context.Context, sql string) (columns []string, rows []map[string]any, err error)
	Tables(ctx context.Context) (map[string][]Column, error)
}

// Service guards and times console statements.
type Service struct {
	exec    Executor
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewService builds Service. timeout bounds each statement; zero disables it.
func NewService(exec Executor, logger *slog.Logger, timeout time.Duration) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{exec: exec, logger: logger, timeout: timeout, now: time.Now}
}

// Run checks the statement against the keyword denylist and executes it.
func (s *Service) Run(ctx context.Context, sql string) (Result, error) {
	if err := Check(sql); err != nil {
		s.logger.WarnContext(ctx, "console statement rejected", slog.Any("error", err))
		return Result{}, err
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := s.now()
	columns, rows, err := s.exec.Query(ctx, sql)
	elapsed := s.now().Sub(start)
	if err != nil {
		return Result{}, err
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	if columns == nil {
		columns = []string{}
	}
	return Result{
		Columns:   columns,
		Rows:      rows,
		RowCount:  len(rows),
		ElapsedMS: math.Round(float64(elapsed.Microseconds())/10) / 100,
	}, nil
}

// Tables lists the tables visible to the console with their columns.
func (s *Service) Tables(ctx context.Context) (map[string][]Column, error) {
	return s.exec.Tables(ctx)
}

// Unsupported is the Executor used when no SQL engine backs the store.
type Unsupported struct{}

func (Unsupported) Query(context.Context, string) ([]string, []map[string]any, error) {
	return nil, nil, ErrUnsupported
}

func (Unsupported) Tables(context.Context) (map[string][]Column, error) {
	return nil, ErrUnsupported
}
