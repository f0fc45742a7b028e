package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/worklog/internal/domain"
)

func raw(t *testing.T, source domain.Source, v any) RawPayload {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return RawPayload{Source: source, Body: body}
}

func TestNormalizeEachSource(t *testing.T) {
	n := New(time.UTC)
	payloads := []RawPayload{
		raw(t, domain.SourceCalendar, CalendarEvent{
			ID:        "evt-1",
			Summary:   "Sprint planning",
			Start:     CalendarEventTime{DateTime: "2025-05-01T11:00:00+02:00"},
			End:       CalendarEventTime{DateTime: "2025-05-01T12:00:00+02:00"},
			Attendees: []CalendarAttendee{{Email: "alice@example.com", Self: true, ResponseStatus: "accepted"}},
		}),
		raw(t, domain.SourceChat, ChatMeeting{
			ID:            "mtg-1",
			Subject:       "Sprint planning",
			StartDateTime: "2025-05-01T09:55:00Z",
			EndDateTime:   "2025-05-01T10:05:00Z",
			Participants:  []string{"alice", "bob"},
		}),
		raw(t, domain.SourceCommit, Commit{
			SHA:        "abc123",
			Repository: "X",
			Commit: CommitDetail{
				Message: "Add sprint board\n\nWires the board to the API.",
				Author:  CommitAuthor{Name: "alice", Date: "2025-05-01T09:45:00Z"},
			},
		}),
		raw(t, domain.SourceCoding, CodingDuration{
			Project:  "worklog",
			Time:     float64(time.Date(2025, 5, 1, 13, 0, 0, 0, time.UTC).Unix()),
			Duration: 1800,
			Language: "Go",
		}),
	}

	records, rejected := n.Normalize(payloads)
	require.Empty(t, rejected)
	require.Len(t, records, 4)

	cal := records[0]
	require.Equal(t, domain.SourceCalendar, cal.Source)
	require.Equal(t, time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC), cal.Start)
	require.Equal(t, "alice@example.com", cal.Metadata["attendees"])

	chat := records[1]
	require.Equal(t, 10*time.Minute, chat.Duration())
	require.Equal(t, "alice, bob", chat.Metadata["participants"])

	commit := records[2]
	require.True(t, commit.IsPoint())
	require.Equal(t, "Add sprint board", commit.Title)
	require.Equal(t, "Wires the board to the API.", commit.Description)
	require.Equal(t, "X", commit.Metadata["repository"])

	coding := records[3]
	require.Equal(t, 30*time.Minute, coding.Duration())
	require.Equal(t, "Coding: worklog", coding.Title)
	require.Equal(t, "Go", coding.Metadata["language"])
}

func TestNormalizeRejectsWithoutStoppingOthers(t *testing.T) {
	n := New(time.UTC)
	payloads := []RawPayload{
		raw(t, domain.SourceCalendar, CalendarEvent{
			ID:    "all-day",
			Start: CalendarEventTime{Date: "2025-05-01"},
			End:   CalendarEventTime{Date: "2025-05-02"},
		}),
		raw(t, domain.SourceChat, ChatMeeting{
			ID:            "inverted",
			StartDateTime: "2025-05-01T10:00:00Z",
			EndDateTime:   "2025-05-01T09:00:00Z",
		}),
		{Source: domain.SourceCommit, Body: json.RawMessage(`{"sha":`)},
		raw(t, domain.SourceCommit, Commit{SHA: "", Commit: CommitDetail{Message: "no sha", Author: CommitAuthor{Date: "2025-05-01T09:00:00Z"}}}),
		raw(t, domain.SourceChat, ChatMeeting{
			ID:            "ok",
			StartDateTime: "2025-05-01T10:00:00Z",
			EndDateTime:   "2025-05-01T10:30:00Z",
		}),
	}

	records, rejected := n.Normalize(payloads)
	require.Len(t, records, 1)
	require.Equal(t, "ok", records[0].SourceID)
	require.Len(t, rejected, 4)
	require.Equal(t, "all-day", rejected[0].SourceID)
	require.Equal(t, "inverted", rejected[1].SourceID)
	require.Contains(t, rejected[1].Error(), "precedes start")
}

func TestNormalizeConvertsToLocation(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	record, err := New(loc).One(raw(t, domain.SourceChat, ChatMeeting{
		ID:            "m",
		StartDateTime: "2025-05-01T07:00:00Z",
		EndDateTime:   "2025-05-01T08:00:00Z",
	}))
	require.Nil(t, err)
	require.Equal(t, 9, record.Start.Hour())
	require.Equal(t, loc, record.Start.Location())
}

func TestNormalizeReadsZonelessTimestampsInLocation(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	record, err := New(loc).One(raw(t, domain.SourceChat, ChatMeeting{
		ID:            "m",
		StartDateTime: "2025-05-01T09:00:00.0000000",
		EndDateTime:   "2025-05-01T09:30:00.0000000",
	}))
	require.Nil(t, err)
	require.Equal(t, time.Date(2025, 5, 1, 7, 0, 0, 0, time.UTC), record.Start.UTC())
	require.Equal(t, 30*time.Minute, record.Duration())

	record, err = New(loc).One(raw(t, domain.SourceChat, ChatMeeting{
		ID:            "utc",
		StartDateTime: "2025-05-01T09:00:00.0000000",
		EndDateTime:   "2025-05-01T09:30:00.0000000",
		TimeZone:      "UTC",
	}))
	require.Nil(t, err)
	require.Equal(t, 11, record.Start.Hour(), "payload zone wins over the normalizer location")
}
