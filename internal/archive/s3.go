// Package archive stores JSON snapshots of fully submitted drafts in S3.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"example.com/worklog/internal/domain"
)

// S3Config configures the archive bucket.
type S3Config struct {
	Bucket string
	// Prefix is prepended to every object key, e.g. "drafts/".
	Prefix string
	Region string
	// Endpoint overrides the S3 endpoint for MinIO or LocalStack.
	Endpoint     string
	UsePathStyle bool
	Timeout      time.Duration
}

// PutObjectAPI is the slice of the S3 client the archiver needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes one object per submitted draft.
type S3Archiver struct {
	cfg    S3Config
	client PutObjectAPI
}

// NewS3Archiver loads the default AWS credential chain and builds a client.
func NewS3Archiver(ctx context.Context, cfg S3Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3ArchiverWithClient(client, cfg), nil
}

// NewS3ArchiverWithClient uses an existing client.
func NewS3ArchiverWithClient(client PutObjectAPI, cfg S3Config) *S3Archiver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &S3Archiver{cfg: cfg, client: client}
}

// Key returns the object key for a draft. Drafts for the same range are
// kept apart by id so reopened history is never overwritten.
func (a *S3Archiver) Key(d domain.Draft) string {
	return a.cfg.Prefix + strings.ReplaceAll(d.Key, ":", "_") + "/" + d.ID + ".json"
}

// Archive uploads the snapshot.
func (a *S3Archiver) Archive(ctx context.Context, d domain.Draft) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	data, err := json.Marshal(newSnapshot(d))
	if err != nil {
		return fmt.Errorf("archive: marshal draft %s: %w", d.Key, err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(a.Key(d)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"draft-key":     d.Key,
			"draft-version": fmt.Sprint(d.Version),
		},
	})
	if err != nil {
		return fmt.Errorf("archive: put draft %s: %w", d.Key, err)
	}
	return nil
}

type snapshot struct {
	DraftID    string          `json:"draft_id"`
	DraftKey   string          `json:"draft_key"`
	RangeStart time.Time       `json:"range_start"`
	RangeEnd   time.Time       `json:"range_end"`
	RunID      string          `json:"run_id,omitempty"`
	State      string          `json:"state"`
	Version    int64           `json:"version"`
	ApprovedBy string          `json:"approved_by,omitempty"`
	ApprovedAt *time.Time      `json:"approved_at,omitempty"`
	ArchivedAt time.Time       `json:"archived_at"`
	Entries    []snapshotEntry `json:"entries"`
}

type snapshotEntry struct {
	ID            string    `json:"id"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Title         string    `json:"title"`
	Category      string    `json:"category"`
	Minutes       int64     `json:"minutes"`
	Status        string    `json:"status"`
	RemoteEntryID string    `json:"remote_entry_id,omitempty"`
}

func newSnapshot(d domain.Draft) snapshot {
	s := snapshot{
		DraftID:    d.ID,
		DraftKey:   d.Key,
		RangeStart: d.Range.Start,
		RangeEnd:   d.Range.End,
		RunID:      d.RunID,
		State:      d.State.String(),
		Version:    d.Version,
		ApprovedAt: d.ApprovedAt,
		ArchivedAt: time.Now().UTC(),
		Entries:    make([]snapshotEntry, 0, len(d.Entries)),
	}
	if d.ApprovedBy != nil {
		s.ApprovedBy = *d.ApprovedBy
	}
	for _, e := range d.Entries {
		s.Entries = append(s.Entries, snapshotEntry{
			ID:            e.ID,
			Start:         e.Start,
			End:           e.End,
			Title:         e.Title,
			Category:      e.Category,
			Minutes:       int64(e.DurationToLog / time.Minute),
			Status:        e.SubmissionStatus.String(),
			RemoteEntryID: e.RemoteEntryID,
		})
	}
	return s
}
