package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

func TestTxOptions(t *testing.T) {
	// Row locks taken by writers must not fail with a serialization error once the holder commits.
	require.Equal(t, pgx.ReadCommitted, WriteTxOptions.IsoLevel)
	require.Equal(t, pgx.TxAccessMode(""), WriteTxOptions.AccessMode)

	require.Equal(t, pgx.RepeatableRead, ReadOnlyTxOptions.IsoLevel)
	require.Equal(t, pgx.ReadOnly, ReadOnlyTxOptions.AccessMode)
}

func TestWithTimeout(t *testing.T) {
	ctx, cancel := WithTimeout(context.Background(), 0)
	cancel()
	_, ok := ctx.Deadline()
	require.False(t, ok)

	ctx, cancel = WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, ok = ctx.Deadline()
	require.True(t, ok)
}
