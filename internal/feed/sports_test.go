package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Juggernaut7/convex/internal/domain"
)

func fixtureServer(t *testing.T, home, away int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fixtures", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-apisports-key"))
		_, _ = fmt.Fprintf(w, `{"response":[{"goals":{"home":%d,"away":%d}}]}`, home, away)
	}))
}

func TestSports_FixtureResults(t *testing.T) {
	cases := []struct {
		name       string
		home, away int
		want       float64
	}{
		{"home win", 3, 1, 1.0},
		{"away win", 0, 2, 0.0},
		{"draw", 1, 1, 0.5},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := fixtureServer(t, tc.home, tc.away)
			defer srv.Close()

			c := NewSportsClient(srv.URL, "key")
			snap, err := c.Fetch(context.Background(), "1035045")
			require.NoError(t, err)
			assert.Equal(t, ProviderSports, snap.Source)
			assert.Equal(t, tc.want, snap.Value)
		})
	}
}

func TestSports_MissingAPIKeyIsConfigError(t *testing.T) {
	c := NewSportsClient("http://localhost:0", "")
	_, err := c.Fetch(context.Background(), "1035045")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfig))
}

func TestSports_FixtureNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":[]}`))
	}))
	defer srv.Close()

	c := NewSportsClient(srv.URL, "key")
	_, err := c.Fetch(context.Background(), "999")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstream))
}

func TestSports_UnfinishedFixture(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":[{"goals":{"home":null,"away":null}}]}`))
	}))
	defer srv.Close()

	c := NewSportsClient(srv.URL, "key")
	_, err := c.Fetch(context.Background(), "1035045")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstream))
}
