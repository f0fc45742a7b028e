package domain

import (
	"sort"
	"time"
)

// Block is a merged span of one or more activity records. Members are owned by
// value and kept in chronological order.
type Block struct {
	ID            string
	Start         time.Time
	End           time.Time
	Members       []ActivityRecord
	Title         string
	Description   string
	TotalDuration time.Duration
}

// Sources returns the distinct member sources in first-seen order.
func (b Block) Sources() []Source {
	seen := make(map[Source]bool, len(b.Members))
	out := make([]Source, 0, len(b.Members))
	for _, m := range b.Members {
		if seen[m.Source] {
			continue
		}
		seen[m.Source] = true
		out = append(out, m.Source)
	}
	return out
}

// Metadata flattens member metadata. Keys seen on several members keep the
// first value.
func (b Block) Metadata() map[string]string {
	out := make(map[string]string)
	for _, m := range b.Members {
		for k, v := range m.Metadata {
			if _, ok := out[k]; !ok && v != "" {
				out[k] = v
			}
		}
	}
	return out
}

// MetadataKeys returns the flattened metadata keys sorted.
func (b Block) MetadataKeys() []string {
	meta := b.Metadata()
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
