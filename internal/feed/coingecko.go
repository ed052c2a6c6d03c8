// Package feed implements the external data-feed clients that supply ground
// truth for oracle resolution, plus a snapshot cache wrapper and a provider
// registry keyed by the "<provider>:<asset>" oracle id scheme.
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

// ProviderCoinGecko is the provider key for CoinGecko price feeds.
const ProviderCoinGecko = "coingecko"

// coinGeckoTimeout bounds a single price fetch so a slow upstream cannot
// stall a whole poll cycle.
const coinGeckoTimeout = 8 * time.Second

// CoinGeckoClient fetches spot prices from the CoinGecko simple-price API.
// It performs no retries; the runner decides whether a failed fetch is
// retried; it is not, the market is re-polled next cycle.
type CoinGeckoClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewCoinGeckoClient creates a CoinGecko client. baseURL is the API root,
// e.g. "https://api.coingecko.com/api/v3". apiKey is optional; when set it is
// sent as the pro-API header.
func NewCoinGeckoClient(baseURL, apiKey string) *CoinGeckoClient {
	return &CoinGeckoClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: coinGeckoTimeout,
		},
	}
}

// Name returns the provider key.
func (c *CoinGeckoClient) Name() string {
	return ProviderCoinGecko
}

// Fetch returns the current USD price for the given CoinGecko asset id.
// Network failures, timeouts, non-2xx responses, and payloads missing a
// numeric price all wrap domain.ErrUpstream.
func (c *CoinGeckoClient) Fetch(ctx context.Context, assetID string) (domain.PriceSnapshot, error) {
	id := canonicalAssetID(assetID)

	params := url.Values{}
	params.Set("ids", id)
	params.Set("vs_currencies", "usd")

	reqURL := c.baseURL + "/simple/price?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("coingecko: create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-cg-pro-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("coingecko: %w: fetch %s: %v", domain.ErrUpstream, id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.PriceSnapshot{}, fmt.Errorf("coingecko: %w: status %d: %s", domain.ErrUpstream, resp.StatusCode, string(body))
	}

	var payload map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.PriceSnapshot{}, fmt.Errorf("coingecko: %w: decode response: %v", domain.ErrUpstream, err)
	}

	price, ok := payload[id]["usd"]
	if !ok {
		return domain.PriceSnapshot{}, fmt.Errorf("coingecko: %w: no usd price for %q in response", domain.ErrUpstream, id)
	}

	return domain.PriceSnapshot{
		Source:    ProviderCoinGecko,
		AssetID:   id,
		Value:     price,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// canonicalAssetID maps common ticker shorthands to CoinGecko asset ids so
// market creators can write "coingecko:btc" as well as "coingecko:bitcoin".
func canonicalAssetID(asset string) string {
	switch strings.ToLower(asset) {
	case "eth", "ethereum":
		return "ethereum"
	case "btc", "bitcoin":
		return "bitcoin"
	case "celo":
		return "celo"
	default:
		return strings.ToLower(asset)
	}
}
