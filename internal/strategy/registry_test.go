package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_DefaultVersion(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, DefaultModelVersion, r.Version("unknown_model"))
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("sma_crossover", "1.2.0"))
	assert.Equal(t, "1.2.0", r.Version("sma_crossover"))

	// Loose version strings are padded.
	require.NoError(t, r.Register("rsi_mean_reversion", "2.1"))
	assert.Equal(t, "2.1.0", r.Version("rsi_mean_reversion"))

	assert.Error(t, r.Register("bad", "not-a-version"))
}

func TestRegistry_IsNewer(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("m", "1.2.0"))

	assert.True(t, r.IsNewer("m", "1.3.0"))
	assert.False(t, r.IsNewer("m", "1.2.0"))
	assert.False(t, r.IsNewer("m", "1.1.9"))
	assert.False(t, r.IsNewer("m", "garbage"))

	// Unregistered models compare against the default version.
	assert.True(t, r.IsNewer("fresh", "1.0.1"))
}

func TestCompare(t *testing.T) {
	cmp, err := Compare("1.2.0", "1.10.0")
	require.NoError(t, err)
	assert.Equal(t, -1, cmp)

	cmp, err = Compare("2.0", "2.0.0")
	require.NoError(t, err)
	assert.Equal(t, 0, cmp)

	_, err = Compare("x", "1.0.0")
	assert.Error(t, err)
}
