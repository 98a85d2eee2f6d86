package reporting

import (
	"context"
	"log/slog"
	"strconv"

	"golang.org/x/sync/singleflight"
)

// Service serves dashboard rollups, caching them in Redis between writes.
type Service struct {
	repo   Repository
	cache  *Cache
	topN   int
	logger *slog.Logger
	group  singleflight.Group
}

// NewService builds Service. cache may be nil.
func NewService(repo Repository, cache *Cache, topN int, logger *slog.Logger) *Service {
	if topN <= 0 {
		topN = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, topN: topN, logger: logger}
}

// Dashboard returns KPIs and the top issuers. Concurrent rebuilds of the same version collapse
// into one store read.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	key, err := s.cache.BuildKey(ctx, "reporting", "dashboard", strconv.Itoa(s.topN))
	if err != nil {
		s.logger.WarnContext(ctx, "dashboard cache unavailable", slog.Any("error", err))
		return s.build(ctx)
	}
	ch := s.group.DoChan(key, func() (any, error) {
		var out Dashboard
		err := s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
			return s.build(ctx)
		})
		return out, err
	})
	select {
	case <-ctx.Done():
		return Dashboard{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Dashboard{}, res.Err
		}
		return res.Val.(Dashboard), nil
	}
}

// Invalidate drops cached dashboards.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

// Watch logs cache invalidations published by any process until ctx is done.
func (s *Service) Watch(ctx context.Context) error {
	return s.cache.ListenForInvalidation(ctx, func(version int64) {
		s.logger.DebugContext(ctx, "dashboard cache invalidated", slog.Int64("version", version))
	})
}

func (s *Service) build(ctx context.Context) (Dashboard, error) {
	snap, err := s.repo.Snapshot(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	return Build(snap, s.topN), nil
}
