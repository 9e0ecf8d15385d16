// Package hass is a minimal Home Assistant REST client. It supplies
// the two unmetered inputs of a briefing cycle: the Waze travel-time
// entity state and today's calendar event titles.
package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("hass request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hass status %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("hass decode: %w", err)
	}
	return nil
}

type stateResponse struct {
	EntityID string `json:"entity_id"`
	State    string `json:"state"`
}

// TravelMinutes reads a travel-time sensor (e.g. a Waze entity) and
// returns its value in minutes. unknown/unavailable states are
// reported as errors.
func (c *Client) TravelMinutes(ctx context.Context, entityID string) (float64, error) {
	var st stateResponse
	if err := c.get(ctx, "/api/states/"+url.PathEscape(entityID), &st); err != nil {
		return 0, err
	}
	if st.State == "unknown" || st.State == "unavailable" || st.State == "" {
		return 0, fmt.Errorf("entity %s state %q", entityID, st.State)
	}
	mins, err := strconv.ParseFloat(st.State, 64)
	if err != nil {
		return 0, fmt.Errorf("entity %s state %q: %w", entityID, st.State, err)
	}
	return mins, nil
}

type calendarEvent struct {
	Summary string `json:"summary"`
}

// CalendarTitles returns the titles of all events overlapping the
// given local day.
func (c *Client) CalendarTitles(ctx context.Context, entityID string, day time.Time) ([]string, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)
	path := fmt.Sprintf("/api/calendars/%s?start=%s&end=%s",
		url.PathEscape(entityID),
		url.QueryEscape(start.Format(time.RFC3339)),
		url.QueryEscape(end.Format(time.RFC3339)))

	var events []calendarEvent
	if err := c.get(ctx, path, &events); err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(events))
	for _, ev := range events {
		if ev.Summary != "" {
			titles = append(titles, ev.Summary)
		}
	}
	return titles, nil
}
