package cfdi

import (
	"errors"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/cfdilab/cfdilab/internal/shared"
)

func TestMapPgError(t *testing.T) {
	cases := []struct {
		code   string
		want   error
		status int
	}{
		{"23505", ErrConstraintViolation, http.StatusConflict},
		{"23514", ErrInvariantViolation, http.StatusInternalServerError},
		{"22003", ErrInvalidDocument, http.StatusUnprocessableEntity},
		{"40001", shared.ErrLockNotObtained, http.StatusServiceUnavailable},
		{"40P01", shared.ErrLockNotObtained, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			err := mapPgError("load document", &pgconn.PgError{Code: tc.code})
			require.ErrorIs(t, err, tc.want)
			status, _ := statusFor(err)
			require.Equal(t, tc.status, status)
		})
	}

	require.ErrorIs(t, mapPgError("get document", pgx.ErrNoRows), ErrNotFound)
	require.NoError(t, mapPgError("noop", nil))

	other := mapPgError("list", errors.New("boom"))
	require.EqualError(t, other, "cfdi: list: boom")
}
