package feed

import (
	"fmt"

	"github.com/Juggernaut7/convex/internal/domain"
)

// Registry maps provider keys (the left half of a market's oracle id) to
// their PriceFeed clients.
type Registry struct {
	feeds map[string]domain.PriceFeed
}

// NewRegistry creates a Registry over the given feeds, keyed by Name().
func NewRegistry(feeds ...domain.PriceFeed) *Registry {
	m := make(map[string]domain.PriceFeed, len(feeds))
	for _, f := range feeds {
		m[f.Name()] = f
	}
	return &Registry{feeds: m}
}

// Lookup returns the feed for a provider key. An unknown provider is a
// configuration error on the market that references it.
func (r *Registry) Lookup(provider string) (domain.PriceFeed, error) {
	f, ok := r.feeds[provider]
	if !ok {
		return nil, fmt.Errorf("feed: %w: unknown provider %q", domain.ErrConfig, provider)
	}
	return f, nil
}

// Providers returns the registered provider keys.
func (r *Registry) Providers() []string {
	keys := make([]string, 0, len(r.feeds))
	for k := range r.feeds {
		keys = append(keys, k)
	}
	return keys
}
