package normalize

import (
	"encoding/json"

	"example.com/worklog/internal/domain"
)

// RawPayload is one provider object exactly as an adapter fetched it.
type RawPayload struct {
	Source domain.Source   `json:"source"`
	Body   json.RawMessage `json:"body"`
}

// CalendarEvent is the subset of a Google Calendar v3 event the normalizer reads.
type CalendarEvent struct {
	ID          string             `json:"id"`
	Status      string             `json:"status"`
	Summary     string             `json:"summary"`
	Description string             `json:"description"`
	Location    string             `json:"location"`
	HTMLLink    string             `json:"htmlLink"`
	Start       CalendarEventTime  `json:"start"`
	End         CalendarEventTime  `json:"end"`
	Attendees   []CalendarAttendee `json:"attendees"`
	Organizer   *CalendarAttendee  `json:"organizer"`
}

// CalendarEventTime is either a timed instant or an all-day date.
type CalendarEventTime struct {
	DateTime string `json:"dateTime"`
	Date     string `json:"date"`
	TimeZone string `json:"timeZone"`
}

// CalendarAttendee is an invitee of a calendar event.
type CalendarAttendee struct {
	Email          string `json:"email"`
	DisplayName    string `json:"displayName"`
	ResponseStatus string `json:"responseStatus"`
	Self           bool   `json:"self"`
}

// ChatMeeting is a chat/meeting export record.
type ChatMeeting struct {
	ID            string   `json:"id"`
	Subject       string   `json:"subject"`
	Description   string   `json:"description"`
	StartDateTime string   `json:"startDateTime"`
	EndDateTime   string   `json:"endDateTime"`
	TimeZone      string   `json:"timeZone"`
	Participants  []string `json:"participants"`
	JoinURL       string   `json:"joinWebUrl"`
	Channel       string   `json:"channel"`
}

// Commit mirrors a GitHub commit listing item plus the repository it came from.
type Commit struct {
	SHA        string       `json:"sha"`
	HTMLURL    string       `json:"html_url"`
	Repository string       `json:"repository"`
	Commit     CommitDetail `json:"commit"`
}

// CommitDetail is the git-level part of a GitHub commit.
type CommitDetail struct {
	Message string       `json:"message"`
	Author  CommitAuthor `json:"author"`
}

// CommitAuthor carries the authored timestamp.
type CommitAuthor struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Date  string `json:"date"`
}

// CodingDuration mirrors a WakaTime durations item.
type CodingDuration struct {
	Project  string  `json:"project"`
	Time     float64 `json:"time"`
	Duration float64 `json:"duration"`
	Language string  `json:"language"`
	Branch   string  `json:"branch"`
	Entity   string  `json:"entity"`
}
