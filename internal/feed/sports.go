package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Juggernaut7/convex/internal/domain"
)

// ProviderSports is the provider key for API-Football fixture feeds.
const ProviderSports = "apifootball"

const sportsTimeout = 10 * time.Second

// Fixture result values. Event markets are phrased from the home side
// ("will the home team win?"), so a home win maps to 1, an away win to 0,
// and a draw to 0.5. The evaluator then compares against the market
// threshold like any price.
const (
	fixtureHomeWin = 1.0
	fixtureAwayWin = 0.0
	fixtureDraw    = 0.5
)

// SportsClient fetches finished fixture results from the API-Football v3 API.
type SportsClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewSportsClient creates an API-Football client. The API key is mandatory;
// Fetch fails with a configuration error when it is missing.
func NewSportsClient(baseURL, apiKey string) *SportsClient {
	return &SportsClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: sportsTimeout,
		},
	}
}

// Name returns the provider key.
func (c *SportsClient) Name() string {
	return ProviderSports
}

// fixtureResponse is the subset of the API-Football fixtures payload the
// engine reads.
type fixtureResponse struct {
	Response []struct {
		Goals struct {
			Home *int `json:"home"`
			Away *int `json:"away"`
		} `json:"goals"`
	} `json:"response"`
}

// Fetch returns the result of the fixture identified by eventID as a numeric
// snapshot: 1 for a home win, 0 for an away win, 0.5 for a draw.
func (c *SportsClient) Fetch(ctx context.Context, eventID string) (domain.PriceSnapshot, error) {
	if c.apiKey == "" {
		return domain.PriceSnapshot{}, fmt.Errorf("sports: %w: api key not configured", domain.ErrConfig)
	}

	params := url.Values{}
	params.Set("id", eventID)

	reqURL := c.baseURL + "/fixtures?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("sports: create request: %w", err)
	}
	req.Header.Set("x-apisports-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("sports: %w: fetch fixture %s: %v", domain.ErrUpstream, eventID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.PriceSnapshot{}, fmt.Errorf("sports: %w: status %d: %s", domain.ErrUpstream, resp.StatusCode, string(body))
	}

	var payload fixtureResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("sports: %w: decode response: %v", domain.ErrUpstream, err)
	}

	if len(payload.Response) == 0 {
		return domain.PriceSnapshot{}, fmt.Errorf("sports: %w: fixture %s not found", domain.ErrUpstream, eventID)
	}

	goals := payload.Response[0].Goals
	if goals.Home == nil || goals.Away == nil {
		return domain.PriceSnapshot{}, fmt.Errorf("sports: %w: fixture %s has no final score", domain.ErrUpstream, eventID)
	}

	value := fixtureDraw
	switch {
	case *goals.Home > *goals.Away:
		value = fixtureHomeWin
	case *goals.Away > *goals.Home:
		value = fixtureAwayWin
	}

	return domain.PriceSnapshot{
		Source:    ProviderSports,
		AssetID:   eventID,
		Value:     value,
		FetchedAt: time.Now().UTC(),
	}, nil
}
