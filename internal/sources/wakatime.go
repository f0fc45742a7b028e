package sources

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"example.com/worklog/internal/domain"
	"example.com/worklog/internal/normalize"
)

// WakaTimeConfig configures the coding-time adapter.
type WakaTimeConfig struct {
	BaseURL string
	APIKey  string
}

// WakaTime lists per-day coding durations.
type WakaTime struct {
	baseURL string
	auth    string
	http    *http.Client
}

// NewWakaTime creates a coding-session adapter authenticated with an API key.
func NewWakaTime(cfg WakaTimeConfig) (*WakaTime, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("wakatime: missing api key")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://wakatime.com/api/v1"
	}
	return &WakaTime{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		auth:    base64.StdEncoding.EncodeToString([]byte(cfg.APIKey)),
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (w *WakaTime) Source() domain.Source { return domain.SourceCoding }

// Fetch asks for durations one day at a time.
// GET /users/current/durations?date=YYYY-MM-DD&timezone=
func (w *WakaTime) Fetch(ctx context.Context, rng domain.DateRange) ([]normalize.RawPayload, error) {
	var out []normalize.RawPayload
	for day := rng.Start; day.Before(rng.End); day = day.AddDate(0, 0, 1) {
		q := url.Values{}
		q.Set("date", day.Format("2006-01-02"))
		q.Set("timezone", day.Location().String())

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/users/current/durations?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Basic "+w.auth)
		req.Header.Set("Accept", "application/json")

		resp, err := w.http.Do(req)
		if err != nil {
			return nil, err
		}
		var body struct {
			Data []json.RawMessage `json:"data"`
		}
		err = decodeOK(resp, &body)
		if err != nil {
			return nil, fmt.Errorf("wakatime durations for %s: %w", q.Get("date"), err)
		}
		for _, item := range body.Data {
			out = append(out, normalize.RawPayload{Source: domain.SourceCoding, Body: item})
		}
	}
	return out, nil
}

func decodeOK(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
