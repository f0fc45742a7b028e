package persistence

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/worklog/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	c := &domain.Cursor{CreatedAt: time.Date(2025, 5, 1, 9, 30, 0, 123, time.UTC), ID: "d-1"}

	token := EncodeCursor(c)
	require.Equal(t, token, url.QueryEscape(token), "tokens need no escaping")

	decoded, err := DecodeCursor(token)
	require.NoError(t, err)
	require.True(t, c.CreatedAt.Equal(decoded.CreatedAt))
	require.Equal(t, "d-1", decoded.ID)
	require.Empty(t, EncodeCursor(nil))
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	c, err := DecodeCursor("  ")
	require.NoError(t, err)
	require.Nil(t, c)

	for _, token := range []string{"not base64!", "bm9waXBl", "e30"} {
		_, err = DecodeCursor(token)
		require.ErrorIsf(t, err, ErrInvalidCursor, "token %q", token)
	}
}
