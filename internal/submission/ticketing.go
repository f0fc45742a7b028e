package submission

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// WorkLog is one logical time-log call against the ticketing system.
type WorkLog struct {
	IdempotenceKey string
	Target         string
	Duration       time.Duration
	Started        time.Time
	Date           string
	Description    string
}

// Ticketing writes work logs and returns the remote entry id.
type Ticketing interface {
	LogWork(ctx context.Context, wl WorkLog) (string, error)
}

// WorkLogFinder is implemented by ticketing clients that can look up an
// earlier write by idempotence key. It resolves attempts whose outcome was
// never recorded locally.
type WorkLogFinder interface {
	FindWorkLog(ctx context.Context, target, idempotenceKey string) (remoteID string, found bool, err error)
}

// RemoteError is an HTTP error answer from the ticketing system. A 4xx
// means the request was refused and nothing was written. A 5xx may come from
// a gateway after the write was committed, so its outcome is unknown.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("ticketing system returned %d: %s", e.StatusCode, e.Message)
}

// Retriable reports whether repeating the request may succeed.
func (e *RemoteError) Retriable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Refused reports whether the ticketing system rejected the request without
// writing anything.
func (e *RemoteError) Refused() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// classify splits failures into definitive refusals and ambiguous errors
// where the write may have landed.
func classify(err error) (retriable, definitive bool) {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Retriable(), remote.Refused()
	}
	return true, false
}
