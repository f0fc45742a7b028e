// Package sources fetches raw activity payloads from the systems a person
// works in.
package sources

import (
	"context"
	"encoding/json"
	"fmt"

	"example.com/worklog/internal/domain"
	"example.com/worklog/internal/normalize"
)

// Adapter fetches raw payloads for one source over a date range. Returned
// payloads must overlap the range; the merge step treats anything else as
// a programming error.
type Adapter interface {
	Source() domain.Source
	Fetch(ctx context.Context, rng domain.DateRange) ([]normalize.RawPayload, error)
}

// Select keeps the adapters whose source is listed in wanted, in the order of
// wanted. A wanted source without a configured adapter is an error.
func Select(available []Adapter, wanted []domain.Source) ([]Adapter, error) {
	bySource := make(map[domain.Source]Adapter, len(available))
	for _, a := range available {
		bySource[a.Source()] = a
	}
	out := make([]Adapter, 0, len(wanted))
	for _, s := range wanted {
		a, ok := bySource[s]
		if !ok {
			return nil, fmt.Errorf("no adapter configured for source %q", s)
		}
		out = append(out, a)
	}
	return out, nil
}

func payload(source domain.Source, v any) (normalize.RawPayload, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return normalize.RawPayload{}, fmt.Errorf("encode %s payload: %w", source, err)
	}
	return normalize.RawPayload{Source: source, Body: body}, nil
}
