package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/carbon/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	cursor := &domain.Cursor{
		OccurredAt: time.Date(2025, time.November, 3, 9, 30, 0, 0, time.UTC),
		ID:         "act-42",
	}

	decoded, err := DecodeCursor(EncodeCursor(cursor))
	require.NoError(t, err)
	require.Equal(t, cursor.OccurredAt, decoded.OccurredAt)
	require.Equal(t, cursor.ID, decoded.ID)
}

func TestDecodeCursorEmpty(t *testing.T) {
	decoded, err := DecodeCursor("  ")
	require.NoError(t, err)
	require.Nil(t, decoded)
}

func TestDecodeCursorGarbage(t *testing.T) {
	_, err := DecodeCursor("not-base64!!")
	require.Error(t, err)
}
