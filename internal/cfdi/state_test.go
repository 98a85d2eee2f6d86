package cfdi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateTransitions(t *testing.T) {
	active := State{Status: StatusActive}

	settled, err := active.next(eventSettled)
	require.NoError(t, err)
	require.Equal(t, State{Status: StatusActive, FullySettled: true}, settled)

	cancelled, err := settled.next(eventCancel)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.True(t, cancelled.FullySettled)

	unsettledCancel, err := active.next(eventCancel)
	require.NoError(t, err)
	require.False(t, unsettledCancel.FullySettled)

	_, err = cancelled.next(eventCancel)
	require.ErrorIs(t, err, ErrAlreadyCancelled)
	_, err = cancelled.next(eventSettled)
	require.ErrorIs(t, err, ErrDocumentCancelled)

	_, err = active.next(event(99))
	require.Error(t, err)
}
