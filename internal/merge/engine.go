// Package merge folds normalized activity records from every source into an
// ordered, non-overlapping sequence of blocks.
package merge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/worklog/internal/domain"
)

var blockNamespace = uuid.MustParse("6f0c2c1e-2b8a-4f57-9a52-7d3f4c8e1a90")

// Policy holds the tunables that reasonable deployments disagree on.
type Policy struct {
	// MinOverlap is the overlap two intervals must exceed to be merged.
	MinOverlap time.Duration
	// Priority orders sources for tie-breaks on identical start times; the
	// first member of a block supplies its title and description.
	Priority []domain.Source
}

// DefaultPolicy returns a one minute threshold and calendar > chat > commit > coding.
func DefaultPolicy() Policy {
	return Policy{
		MinOverlap: time.Minute,
		Priority:   append([]domain.Source(nil), domain.AllSources...),
	}
}

// Engine merges records according to a Policy.
type Engine struct {
	policy Policy
	rank   map[domain.Source]int
	logger *slog.Logger
}

// Option customises the Engine.
type Option func(*Engine)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine constructs an Engine. Sources missing from the priority list rank
// after the listed ones in their default order.
func NewEngine(policy Policy, opts ...Option) *Engine {
	if policy.MinOverlap < 0 {
		policy.MinOverlap = 0
	}
	rank := make(map[domain.Source]int, len(domain.AllSources))
	for _, s := range policy.Priority {
		if _, ok := rank[s]; !ok {
			rank[s] = len(rank)
		}
	}
	for _, s := range domain.AllSources {
		if _, ok := rank[s]; !ok {
			rank[s] = len(rank)
		}
	}
	e := &Engine{policy: policy, rank: rank, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type builder struct {
	start   time.Time
	end     time.Time
	members []domain.ActivityRecord
	covered time.Duration
}

// Merge validates every record against the range and returns the blocks in
// chronological order. A record outside the range is a MergeInvariantError.
func (e *Engine) Merge(ctx context.Context, rng domain.DateRange, records []domain.ActivityRecord) ([]domain.Block, error) {
	if len(records) == 0 {
		return nil, nil
	}
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return nil, &domain.MergeInvariantError{Source: r.Source, SourceID: r.SourceID, Reason: err.Error()}
		}
		if rng.Excludes(r.Start, r.End) {
			return nil, &domain.MergeInvariantError{
				Source:   r.Source,
				SourceID: r.SourceID,
				Reason:   fmt.Sprintf("span %s–%s lies outside %s", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339), rng.Key()),
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sorted := append([]domain.ActivityRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool { return e.less(sorted[i], sorted[j]) })

	var intervals, points []domain.ActivityRecord
	for _, r := range sorted {
		if r.IsPoint() {
			points = append(points, r)
		} else {
			intervals = append(intervals, r)
		}
	}

	builders := e.sweep(intervals)
	builders = e.absorbPoints(builders, points)

	sort.SliceStable(builders, func(i, j int) bool {
		if builders[i].start.Equal(builders[j].start) {
			return builders[i].end.Before(builders[j].end)
		}
		return builders[i].start.Before(builders[j].start)
	})

	blocks := make([]domain.Block, 0, len(builders))
	for _, b := range builders {
		blocks = append(blocks, e.finish(rng, b))
	}
	if err := checkOrdered(blocks); err != nil {
		return nil, err
	}

	recordMerge(records, blocks)
	e.logger.Debug("merged activity records",
		slog.String("range", rng.Key()),
		slog.Int("records", len(records)),
		slog.Int("blocks", len(blocks)),
	)
	return blocks, nil
}

func (e *Engine) less(a, b domain.ActivityRecord) bool {
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	if ra, rb := e.rank[a.Source], e.rank[b.Source]; ra != rb {
		return ra < rb
	}
	return a.SourceID < b.SourceID
}

// sweep merges interval records in start order. A record joins the open block
// when it overlaps it by more than the threshold or lies entirely inside it.
// Otherwise it opens a new block whose start is clipped to the previous end,
// so blocks never overlap and no minute is counted twice. A record that ends
// before the open block's clipped start belongs to the earlier block that
// spans it.
func (e *Engine) sweep(intervals []domain.ActivityRecord) []*builder {
	var out []*builder
	var cur *builder
	for _, r := range intervals {
		if cur != nil && !r.End.After(cur.start) {
			if b := containing(out, r); b != nil {
				b.members = e.insert(b.members, r)
				continue
			}
		}
		if cur != nil && (!r.End.After(cur.end) || overlap(cur, r) > e.policy.MinOverlap) {
			cur.members = append(cur.members, r)
			if r.End.After(cur.end) {
				cur.covered += r.End.Sub(latest(r.Start, cur.end))
				cur.end = r.End
			}
			continue
		}
		start := r.Start
		if cur != nil && cur.end.After(start) {
			start = cur.end
		}
		cur = &builder{start: start, end: r.End, members: []domain.ActivityRecord{r}, covered: r.End.Sub(start)}
		out = append(out, cur)
	}
	return out
}

// containing returns the latest builder whose span holds r, or nil.
func containing(builders []*builder, r domain.ActivityRecord) *builder {
	for i := len(builders) - 1; i >= 0; i-- {
		b := builders[i]
		if !r.Start.Before(b.start) && !r.End.After(b.end) {
			return b
		}
		if !b.end.After(r.Start) {
			return nil
		}
	}
	return nil
}

func (e *Engine) absorbPoints(blocks []*builder, points []domain.ActivityRecord) []*builder {
	intervals := len(blocks)
	pointBlocks := make(map[int64]*builder)
	for _, p := range points {
		i := sort.Search(intervals, func(i int) bool { return blocks[i].end.After(p.Start) })
		if i < intervals && !p.Start.Before(blocks[i].start) {
			blocks[i].members = e.insert(blocks[i].members, p)
			continue
		}
		at := p.Start.UnixNano()
		if b, ok := pointBlocks[at]; ok {
			b.members = append(b.members, p)
			continue
		}
		b := &builder{start: p.Start, end: p.End, members: []domain.ActivityRecord{p}}
		pointBlocks[at] = b
		blocks = append(blocks, b)
	}
	return blocks
}

func (e *Engine) insert(members []domain.ActivityRecord, r domain.ActivityRecord) []domain.ActivityRecord {
	i := sort.Search(len(members), func(i int) bool { return e.less(r, members[i]) })
	members = append(members, domain.ActivityRecord{})
	copy(members[i+1:], members[i:])
	members[i] = r
	return members
}

func (e *Engine) finish(rng domain.DateRange, b *builder) domain.Block {
	primary := b.members[0]
	title := strings.TrimSpace(primary.Title)
	if title == "" {
		for _, m := range b.members[1:] {
			if t := strings.TrimSpace(m.Title); t != "" {
				title = t
				break
			}
		}
	}

	seen := map[string]bool{strings.ToLower(title): true}
	var related []string
	for _, m := range b.members[1:] {
		t := strings.TrimSpace(m.Title)
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		related = append(related, fmt.Sprintf("%s: %s", m.Source, t))
	}
	description := strings.TrimSpace(primary.Description)
	if len(related) > 0 {
		if description != "" {
			description += "\n"
		}
		description += "Related: " + strings.Join(related, "; ")
	}

	name := fmt.Sprintf("%s|%s|%s", rng.Key(), primary.Source, primary.SourceID)
	return domain.Block{
		ID:            uuid.NewSHA1(blockNamespace, []byte(name)).String(),
		Start:         b.start,
		End:           b.end,
		Members:       b.members,
		Title:         title,
		Description:   description,
		TotalDuration: b.covered,
	}
}

func overlap(b *builder, r domain.ActivityRecord) time.Duration {
	end := b.end
	if r.End.Before(end) {
		end = r.End
	}
	return end.Sub(r.Start)
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func checkOrdered(blocks []domain.Block) error {
	for i := 1; i < len(blocks); i++ {
		prev, cur := blocks[i-1], blocks[i]
		if cur.Start.Before(prev.End) {
			first := cur.Members[0]
			return &domain.MergeInvariantError{
				Source:   first.Source,
				SourceID: first.SourceID,
				Reason:   fmt.Sprintf("block starting %s overlaps previous block ending %s", cur.Start.Format(time.RFC3339), prev.End.Format(time.RFC3339)),
			}
		}
	}
	return nil
}
