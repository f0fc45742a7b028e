package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"example.com/worklog/internal/domain"
	"example.com/worklog/internal/normalize"
)

// File reads exported payloads from Dir/<source>-YYYY-MM-DD.json, one JSON
// array per day. A missing day file means no activity that day. Chat and
// meeting exports arrive this way.
type File struct {
	source domain.Source
	dir    string
}

// NewFile reads per-day JSON exports for source from dir.
func NewFile(source domain.Source, dir string) *File {
	return &File{source: source, dir: dir}
}

func (f *File) Source() domain.Source { return f.source }

// Path returns the export file for one day.
func (f *File) Path(day string) string {
	return filepath.Join(f.dir, fmt.Sprintf("%s-%s.json", f.source, day))
}

func (f *File) Fetch(ctx context.Context, rng domain.DateRange) ([]normalize.RawPayload, error) {
	var out []normalize.RawPayload
	for day := rng.Start; day.Before(rng.End); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := f.Path(day.Format("2006-01-02"))
		b, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var items []json.RawMessage
		if err := json.Unmarshal(b, &items); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		for _, item := range items {
			out = append(out, normalize.RawPayload{Source: f.source, Body: item})
		}
	}
	return out, nil
}
