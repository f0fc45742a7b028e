package categorize

import (
	"context"
	"errors"
	"time"

	"example.com/worklog/internal/taxonomy"
)

// ErrMalformedResponse marks reasoning output that could not be parsed or
// failed validation. It earns one retry with a stricter prompt.
var ErrMalformedResponse = errors.New("malformed reasoning response")

// Request is everything the reasoning service sees about one block.
type Request struct {
	BlockID     string
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	Duration    time.Duration
	Sources     []string
	Metadata    map[string]string
	Taxonomy    []taxonomy.Category
	// Strict asks the service to answer with the bare structured result after
	// a previous answer was malformed.
	Strict bool
}

// Response is the structured classification returned by the service.
type Response struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// Reasoner classifies one block. Implementations wrap retryable failures with
// Transient and unparseable output with ErrMalformedResponse.
type Reasoner interface {
	Classify(ctx context.Context, req Request) (Response, error)
}

// TransientError marks a failure worth retrying with backoff.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err was marked retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
