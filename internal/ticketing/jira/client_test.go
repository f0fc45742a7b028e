package jira

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/worklog/internal/domain"
	"example.com/worklog/internal/persistence/memory"
	"example.com/worklog/internal/submission"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL, Email: "alice@example.com", APIToken: "secret"}, nil)
	require.NoError(t, err)
	return c
}

func TestLogWorkPostsWorklog(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	var got struct {
		TimeSpentSeconds int64  `json:"timeSpentSeconds"`
		Started          string `json:"started"`
		Comment          string `json:"comment"`
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/rest/api/2/issue/PROJ-123/worklog", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "alice@example.com", user)
		require.Equal(t, "secret", pass)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"10042"}`))
	})

	id, err := c.LogWork(context.Background(), submission.WorkLog{
		IdempotenceKey: "abc123",
		Target:         "PROJ-123",
		Duration:       60 * time.Minute,
		Started:        time.Date(2025, 5, 1, 9, 0, 0, 0, loc),
		Description:    "Sprint planning",
	})
	require.NoError(t, err)
	require.Equal(t, "10042", id)
	require.Equal(t, int64(3600), got.TimeSpentSeconds)
	require.Equal(t, "2025-05-01T09:00:00.000+0200", got.Started)
	require.Contains(t, got.Comment, "Sprint planning")
	require.Contains(t, got.Comment, Marker("abc123"))
}

func TestLogWorkMapsRefusalToRemoteError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errorMessages":["Issue does not exist or you do not have permission to see it."],"errors":{}}`))
	})

	_, err := c.LogWork(context.Background(), submission.WorkLog{Target: "NOPE-1", Duration: time.Hour})
	var remote *submission.RemoteError
	require.True(t, errors.As(err, &remote))
	require.Equal(t, http.StatusBadRequest, remote.StatusCode)
	require.False(t, remote.Retriable())
	require.True(t, remote.Refused())
	require.Contains(t, remote.Message, "Issue does not exist")
}

func TestLogWorkGatewayErrorIsNotARefusal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
		_, _ = w.Write([]byte("upstream timed out"))
	})

	_, err := c.LogWork(context.Background(), submission.WorkLog{Target: "PROJ-123", Duration: time.Hour})
	var remote *submission.RemoteError
	require.True(t, errors.As(err, &remote))
	require.Equal(t, http.StatusGatewayTimeout, remote.StatusCode)
	require.True(t, remote.Retriable())
	require.False(t, remote.Refused())
}

func TestFindWorkLogPagesThroughWorklogs(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/rest/api/2/issue/PROJ-123/worklog", r.URL.Path)
		require.Equal(t, "100", r.URL.Query().Get("maxResults"))
		if r.URL.Query().Get("startAt") == "0" {
			_, _ = w.Write([]byte(`{"startAt":0,"maxResults":1,"total":2,"worklogs":[{"id":"1","comment":"other"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"startAt":1,"maxResults":1,"total":2,"worklogs":[{"id":"2","comment":"Planning\n\n[worklog:abc123]"}]}`))
	})

	id, found, err := c.FindWorkLog(context.Background(), "PROJ-123", "abc123")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "2", id)
	require.Equal(t, 2, calls)

	_, found, err = c.FindWorkLog(context.Background(), "PROJ-123", "missing")
	require.NoError(t, err)
	require.False(t, found)
}

func TestFormatSpent(t *testing.T) {
	require.Equal(t, "2h 30m", formatSpent(9000))
	require.Equal(t, "1h", formatSpent(3600))
	require.Equal(t, "45m", formatSpent(2700))
	require.Equal(t, "1m", formatSpent(20))
}

// flakyGateway stores every posted worklog and answers the first POST with a
// 504, as a proxy does when Jira commits after the proxy gave up.
type flakyGateway struct {
	mu       sync.Mutex
	worklogs []map[string]any
	posts    int
}

func (g *flakyGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	if r.Method == http.MethodGet {
		_ = json.NewEncoder(w).Encode(map[string]any{"startAt": 0, "maxResults": 100, "total": len(g.worklogs), "worklogs": g.worklogs})
		return
	}
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	g.posts++
	body["id"] = strconv.Itoa(10000 + g.posts)
	g.worklogs = append(g.worklogs, body)
	if g.posts == 1 {
		w.WriteHeader(http.StatusGatewayTimeout)
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(body)
}

func TestSubmitAfterGatewayTimeoutWritesOnce(t *testing.T) {
	gateway := &flakyGateway{}
	srv := httptest.NewServer(gateway)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL, Email: "alice@example.com", APIToken: "secret"}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	repo := memory.NewDraftRepository()
	service := domain.NewService(repo)
	rng, err := domain.ParseDateRange("2025-05-01", time.UTC)
	require.NoError(t, err)
	start := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	_, err = service.CreateDraft(ctx, domain.CreateDraftInput{Range: rng, Entries: []domain.Entry{{
		ID: "e1", BlockID: "b1", Start: start, End: start.Add(time.Hour), Title: "Planning",
		Category: "PROJ-123", Confidence: 0.9, TotalDuration: time.Hour, DurationToLog: time.Hour,
	}}})
	require.NoError(t, err)
	_, err = service.Approve(ctx, rng.Key(), "alice")
	require.NoError(t, err)

	engine := submission.NewEngine(repo, memory.NewLedger(), c)
	report, err := engine.Submit(ctx, rng.Key())
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)

	report, err = engine.Submit(ctx, rng.Key())
	require.NoError(t, err)
	require.Equal(t, domain.DraftSubmitted, report.State)
	require.Equal(t, "10001", report.Entries[0].RemoteEntryID)
	require.Equal(t, 1, gateway.posts)
	require.Len(t, gateway.worklogs, 1)
}
