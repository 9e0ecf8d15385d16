package transit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ScraperClient fetches departures from the headless-browser scraper
// microservice. Unmetered but slow; callers front it with the TTL
// cache rather than hitting it directly.
type ScraperClient struct {
	baseURL string
	client  *http.Client
}

func NewScraperClient(baseURL string, timeout time.Duration) *ScraperClient {
	return &ScraperClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// scraperResponse mirrors the microservice's StopDepartures payload.
type scraperResponse struct {
	StopCode    string      `json:"stop_code"`
	StopName    string      `json:"stop_name"`
	GeneratedAt string      `json:"generated_at"`
	Departures  []Departure `json:"departures"`
	Error       string      `json:"error"`
	Cached      bool        `json:"cached"`
}

// Departures fetches scraped departures for a stop, sorted soonest
// first. Route filtering is left to the caller so one cache entry per
// stop serves any filter.
func (c *ScraperClient) Departures(ctx context.Context, stopCode string) ([]Departure, error) {
	u := fmt.Sprintf("%s/lothian/stop/%s", c.baseURL, url.PathEscape(stopCode))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scraper request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scraper status %d", resp.StatusCode)
	}

	var payload scraperResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("scraper decode: %w", err)
	}
	if payload.Error != "" && len(payload.Departures) == 0 {
		return nil, fmt.Errorf("scraper: %s", payload.Error)
	}
	deps := payload.Departures
	SortByDue(deps)
	return deps, nil
}
