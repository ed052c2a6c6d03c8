package feed

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Juggernaut7/convex/internal/domain"
)

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry(
		&fakeNamedFeed{name: "coingecko"},
		&fakeNamedFeed{name: "apifootball"},
	)

	f, err := r.Lookup("coingecko")
	require.NoError(t, err)
	assert.Equal(t, "coingecko", f.Name())

	_, err = r.Lookup("nosuchfeed")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfig))

	assert.ElementsMatch(t, []string{"coingecko", "apifootball"}, r.Providers())
}
