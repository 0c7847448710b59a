package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryGet(t *testing.T) {
	r := NewRegistry(
		Config{Chain: Fantom, ChainID: 250, MaxLogBlockRange: 2000},
		Config{Chain: Sonic, ChainID: 146, MaxLogBlockRange: 5000},
	)

	cfg, err := r.Get(Sonic)
	require.NoError(t, err)
	assert.Equal(t, uint64(146), cfg.ChainID)
	assert.Equal(t, uint64(5000), cfg.MaxLogBlockRange)

	_, err = r.Get(Chain("GNOSIS"))
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	c, err := Parse("MAINNET")
	require.NoError(t, err)
	assert.Equal(t, Mainnet, c)

	_, err = Parse("mainnet")
	assert.Error(t, err)

	_, err = Parse("")
	assert.Error(t, err)
}
