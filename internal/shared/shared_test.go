package shared

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	locks := NewKeyedMutex()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locks.Lock(ctx, DocumentLockKey("a"))
			require.NoError(t, err)
			mu.Lock()
			active++
			maxSeen = max(maxSeen, active)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 1, maxSeen)
	require.Empty(t, locks.locks)
}

func TestKeyedMutexHonoursContext(t *testing.T) {
	locks := NewKeyedMutex()
	unlock, err := locks.Lock(context.Background(), "k")
	require.NoError(t, err)

	other, err := locks.Lock(context.Background(), "other")
	require.NoError(t, err)
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(ctx, "k")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	require.Empty(t, locks.locks)
}

func TestRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	locker := NewRedisLocker(rdb, time.Second)
	key := DocumentLockKey("0b7c")
	unlock, err := locker.Lock(context.Background(), key)
	require.NoError(t, err)
	require.True(t, mr.Exists(key))

	impatient := &RedisLocker{client: redislock.New(rdb), ttl: time.Second, backoff: time.Millisecond, retries: 2}
	_, err = impatient.Lock(context.Background(), key)
	require.ErrorIs(t, err, ErrLockNotObtained)

	unlock()
	require.False(t, mr.Exists(key))
	unlock, err = impatient.Lock(context.Background(), key)
	require.NoError(t, err)
	unlock()
}

func TestSkipLimit(t *testing.T) {
	cases := []struct {
		query     string
		skip, lim int
	}{
		{"", 0, 100},
		{"skip=20&limit=5", 20, 5},
		{"skip=-1&limit=0", 0, 100},
		{"skip=abc&limit=x", 0, 100},
	}
	for _, tc := range cases {
		q, err := url.ParseQuery(tc.query)
		require.NoError(t, err)
		skip, limit := SkipLimit(q, 100)
		require.Equal(t, tc.skip, skip, tc.query)
		require.Equal(t, tc.lim, limit, tc.query)
	}
}

func TestMemoryIdempotencyStore(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	ctx := context.Background()
	require.NoError(t, store.CheckAndInsert(ctx, "k1", "cfdi.payment"))
	require.ErrorIs(t, store.CheckAndInsert(ctx, "k1", "cfdi.payment"), ErrIdempotencyConflict)
	require.Error(t, store.CheckAndInsert(ctx, "", "cfdi.payment"))
	require.Error(t, store.CheckAndInsert(ctx, "k2", ""))

	require.NoError(t, store.Delete(ctx, "k1"))
	require.NoError(t, store.CheckAndInsert(ctx, "k1", "cfdi.payment"))
}

func TestActorContext(t *testing.T) {
	require.Equal(t, "system", ActorFromContext(context.Background()))
	require.Equal(t, "cfdictl", ActorFromContext(ContextWithActor(context.Background(), "cfdictl")))
}

func TestSlogAuditLogger(t *testing.T) {
	var buf bytes.Buffer
	audit := NewSlogAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.Error(t, audit.Record(context.Background(), AuditLog{Action: "cancel"}))
	require.NoError(t, audit.Record(context.Background(), AuditLog{
		Actor:    "api",
		Action:   "cancel",
		Entity:   "cfdi_comprobante",
		EntityID: "0b7c",
		Meta:     map[string]any{"status": "Cancelado"},
	}))
	require.Contains(t, buf.String(), `"entity_id":"0b7c"`)
	require.Contains(t, buf.String(), `"status":"Cancelado"`)
}
