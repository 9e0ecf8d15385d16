package transit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DefaultTransportAPIBaseURL is the UK bus live departures endpoint.
const DefaultTransportAPIBaseURL = "https://transportapi.com/v3/uk/bus/stop"

// TransportAPIClient fetches live departures from TransportAPI. Every
// successful round trip counts against the daily quota; admission is
// the caller's job, this client just fetches.
type TransportAPIClient struct {
	baseURL string
	appID   string
	appKey  string
	client  *http.Client
	now     func() time.Time
}

func NewTransportAPIClient(baseURL, appID, appKey string, timeout time.Duration) *TransportAPIClient {
	if baseURL == "" {
		baseURL = DefaultTransportAPIBaseURL
	}
	return &TransportAPIClient{
		baseURL: baseURL,
		appID:   appID,
		appKey:  appKey,
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

// SetClock overrides the clock used for due-minute derivation. Intended
// for tests.
func (c *TransportAPIClient) SetClock(now func() time.Time) { c.now = now }

// transportAPIResponse is the subset of the live.json payload we read.
// Departures are grouped by route line name.
type transportAPIResponse struct {
	Departures map[string][]transportAPIDeparture `json:"departures"`
}

type transportAPIDeparture struct {
	AimedDepartureTime    string `json:"aimed_departure_time"`
	ExpectedDepartureTime string `json:"expected_departure_time"`
	BestDepartureEstimate string `json:"best_departure_estimate"`
	Direction             string `json:"direction"`
}

// Departures fetches and normalizes live departures for a stop,
// filtered by the route allowlist and sorted soonest first.
func (c *TransportAPIClient) Departures(ctx context.Context, stopCode string, routes []string) ([]Departure, error) {
	u := fmt.Sprintf("%s/%s/live.json", c.baseURL, url.PathEscape(stopCode))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("app_id", c.appID)
	q.Set("app_key", c.appKey)
	q.Set("group", "route")
	q.Set("nextbuses", "yes")
	req.URL.RawQuery = q.Encode()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transportapi request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transportapi status %d", resp.StatusCode)
	}

	var payload transportAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("transportapi decode: %w", err)
	}

	now := c.now()
	var deps []Departure
	for route, raw := range payload.Departures {
		for _, r := range raw {
			aimed := r.AimedDepartureTime
			expected := r.ExpectedDepartureTime
			best := r.BestDepartureEstimate
			if best == "" {
				best = expected
			}
			if best == "" {
				best = aimed
			}
			due := DueUnknown
			if best != "" {
				due = dueMinutes(best, now)
			}
			deps = append(deps, Departure{
				Route:       route,
				DueMins:     due,
				Aimed:       aimed,
				Expected:    expected,
				Destination: r.Direction,
				Status:      statusFor(aimed, expected),
				Realtime:    expected != "" && expected != aimed,
			})
		}
	}
	deps = FilterRoutes(deps, routes)
	SortByDue(deps)
	return deps, nil
}
