package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"example.com/worklog/internal/domain"
	"example.com/worklog/internal/normalize"
)

func day(t *testing.T, value string) domain.DateRange {
	t.Helper()
	rng, err := domain.ParseDateRange(value, time.UTC)
	require.NoError(t, err)
	return rng
}

func TestFileReadsOneExportPerDay(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chat-2025-05-01.json"),
		[]byte(`[{"id":"m1","subject":"Standup","startDateTime":"2025-05-01T09:55:00Z","endDateTime":"2025-05-01T10:05:00Z"}]`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chat-2025-05-03.json"),
		[]byte(`[{"id":"m2"},{"id":"m3"}]`), 0o600))

	f := NewFile(domain.SourceChat, dir)
	payloads, err := f.Fetch(context.Background(), day(t, "2025-05-01:2025-05-03"))
	require.NoError(t, err)
	require.Len(t, payloads, 3)
	require.Equal(t, domain.SourceChat, payloads[0].Source)

	records, errs := normalize.New(time.UTC).Normalize(payloads[:1])
	require.Empty(t, errs)
	require.Equal(t, "Standup", records[0].Title)
}

func TestFileRejectsMalformedExport(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chat-2025-05-01.json"), []byte(`{`), 0o600))

	_, err := NewFile(domain.SourceChat, dir).Fetch(context.Background(), day(t, "2025-05-01"))
	require.ErrorContains(t, err, "chat-2025-05-01.json")
}

func TestGitHubListsAuthoredCommits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer gh-token", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/user/repos":
			_, _ = w.Write([]byte(`[{"full_name":"acme/api"},{"full_name":"acme/empty"}]`))
		case "/repos/acme/api/commits":
			require.Equal(t, "alice", r.URL.Query().Get("author"))
			require.Equal(t, "2025-05-01T00:00:00Z", r.URL.Query().Get("since"))
			_, _ = w.Write([]byte(`[{"sha":"abc","html_url":"https://github.com/acme/api/commit/abc","commit":{"message":"Fix login\n\nDetails","author":{"name":"Alice","date":"2025-05-01T09:45:00Z"}}}]`))
		case "/repos/acme/empty/commits":
			http.Error(w, `{"message":"Git Repository is empty."}`, http.StatusConflict)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	g, err := NewGitHub(GitHubConfig{BaseURL: srv.URL, Token: "gh-token", Username: "alice"})
	require.NoError(t, err)

	payloads, err := g.Fetch(context.Background(), day(t, "2025-05-01"))
	require.NoError(t, err)
	require.Len(t, payloads, 1)

	record, nerr := normalize.New(time.UTC).One(payloads[0])
	require.Nil(t, nerr)
	require.True(t, record.IsPoint())
	require.Equal(t, "Fix login", record.Title)
	require.Equal(t, "acme/api", record.Metadata["repository"])
}

func TestGitHubFollowsNextPageLinks(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/acme/api/commits", r.URL.Path)
		require.Equal(t, "100", r.URL.Query().Get("per_page"))
		if r.URL.Query().Get("page") == "" {
			w.Header().Set("Link", `<`+srv.URL+`/repos/acme/api/commits?page=2&per_page=100>; rel="next"`)
			_, _ = w.Write([]byte(`[{"sha":"a1","commit":{"message":"First","author":{"date":"2025-05-01T09:00:00Z"}}}]`))
			return
		}
		require.Equal(t, "2", r.URL.Query().Get("page"))
		_, _ = w.Write([]byte(`[{"sha":"a2","commit":{"message":"Second","author":{"date":"2025-05-01T11:00:00Z"}}}]`))
	}))
	defer srv.Close()

	g, err := NewGitHub(GitHubConfig{BaseURL: srv.URL, Token: "gh-token", Username: "alice", Repositories: []string{"acme/api"}})
	require.NoError(t, err)

	payloads, err := g.Fetch(context.Background(), day(t, "2025-05-01"))
	require.NoError(t, err)
	require.Len(t, payloads, 2)

	records, errs := normalize.New(time.UTC).Normalize(payloads)
	require.Empty(t, errs)
	require.Equal(t, "Second", records[1].Title)
}

func TestGitHubRejectsMalformedRepository(t *testing.T) {
	g, err := NewGitHub(GitHubConfig{Token: "gh-token", Username: "alice", Repositories: []string{"api"}})
	require.NoError(t, err)

	_, err = g.Fetch(context.Background(), day(t, "2025-05-01"))
	require.ErrorContains(t, err, "owner/name")
}

func TestWakaTimeFetchesEachDay(t *testing.T) {
	var dates []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/users/current/durations", r.URL.Path)
		user, _, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "waka-key", user)
		dates = append(dates, r.URL.Query().Get("date"))
		_, _ = w.Write([]byte(`{"data":[{"project":"api","time":1746090000,"duration":1800}]}`))
	}))
	defer srv.Close()

	wk, err := NewWakaTime(WakaTimeConfig{BaseURL: srv.URL, APIKey: "waka-key"})
	require.NoError(t, err)

	payloads, err := wk.Fetch(context.Background(), day(t, "2025-05-01:2025-05-02"))
	require.NoError(t, err)
	require.Len(t, payloads, 2)
	require.Equal(t, []string{"2025-05-01", "2025-05-02"}, dates)
	require.Equal(t, domain.SourceCoding, payloads[0].Source)
}

func TestGoogleCalendarListsSingleEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/calendars/primary/events", r.URL.Path)
		require.Equal(t, "true", r.URL.Query().Get("singleEvents"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"id":"ev1","status":"confirmed","summary":"Sprint planning","start":{"dateTime":"2025-05-01T09:00:00Z"},"end":{"dateTime":"2025-05-01T10:00:00Z"}}]}`))
	}))
	defer srv.Close()

	svc, err := calendar.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)

	c := NewGoogleCalendarWithService(svc, "")
	payloads, err := c.Fetch(context.Background(), day(t, "2025-05-01"))
	require.NoError(t, err)
	require.Len(t, payloads, 1)

	record, nerr := normalize.New(time.UTC).One(payloads[0])
	require.Nil(t, nerr)
	require.Equal(t, "Sprint planning", record.Title)
	require.Equal(t, time.Hour, record.Duration())
}

func TestSelectKeepsRequestedOrder(t *testing.T) {
	chat := NewFile(domain.SourceChat, "")
	calendarFile := NewFile(domain.SourceCalendar, "")

	got, err := Select([]Adapter{chat, calendarFile}, []domain.Source{domain.SourceCalendar, domain.SourceChat})
	require.NoError(t, err)
	require.Equal(t, []Adapter{calendarFile, chat}, got)

	_, err = Select([]Adapter{chat}, []domain.Source{domain.SourceCoding})
	require.Error(t, err)
}
