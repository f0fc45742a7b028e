// Package persistence holds helpers shared by the draft stores and the API.
package persistence

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"example.com/worklog/internal/domain"
)

// ErrInvalidCursor is returned for tokens that were not produced by EncodeCursor.
var ErrInvalidCursor = errors.New("invalid cursor")

// cursorToken is the wire shape of a page token. Keep field names short; the
// token travels in query strings.
type cursorToken struct {
	CreatedAt time.Time `json:"t"`
	ID        string    `json:"i"`
}

// EncodeCursor returns an opaque, URL-safe page token, or "" for the last page.
func EncodeCursor(c *domain.Cursor) string {
	if c == nil {
		return ""
	}
	raw, err := json.Marshal(cursorToken{CreatedAt: c.CreatedAt.UTC(), ID: c.ID})
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor parses a token from EncodeCursor. A blank token means the first page.
func DecodeCursor(token string) (*domain.Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var tok cursorToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if tok.ID == "" || tok.CreatedAt.IsZero() {
		return nil, ErrInvalidCursor
	}
	return &domain.Cursor{CreatedAt: tok.CreatedAt, ID: tok.ID}, nil
}
