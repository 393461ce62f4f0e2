package dex

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokA = common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
	tokB = common.HexToAddress("0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619")
)

func TestPairKeyIsDirectionalAndPerVenue(t *testing.T) {
	k := NewPairKey("0x", tokA, tokB)
	assert.Equal(t, k, NewPairKey("0x", tokA, tokB))
	assert.NotEqual(t, k, NewPairKey("0x", tokB, tokA))
	assert.NotEqual(t, k, NewPairKey("paraswap", tokA, tokB))
}

func TestFilePairCachePersistsAndMerges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "pairs.json")

	first, err := NewFilePairCache(path)
	require.NoError(t, err)
	second, err := NewFilePairCache(path)
	require.NoError(t, err)

	k1 := NewPairKey("0x", tokA, tokB)
	k2 := NewPairKey("paraswap", tokB, tokA)
	first.Add(k1, NewPairEntry("0x", tokA, tokB))
	second.Add(k2, NewPairEntry("paraswap", tokB, tokA))

	require.NoError(t, first.Flush())
	require.NoError(t, second.Flush())

	reloaded, err := NewFilePairCache(path)
	require.NoError(t, err)
	assert.True(t, reloaded.Has(k1))
	assert.True(t, reloaded.Has(k2))
	assert.Equal(t, 2, reloaded.Len())
}

func TestFilePairCacheInMemory(t *testing.T) {
	c, err := NewFilePairCache("")
	require.NoError(t, err)

	k := NewPairKey("0x", tokA, tokB)
	assert.False(t, c.Has(k))
	c.Add(k, NewPairEntry("0x", tokA, tokB))
	assert.True(t, c.Has(k))
	assert.NoError(t, c.Flush())
}

func TestFilePairCacheConcurrentAdds(t *testing.T) {
	c, err := NewFilePairCache(filepath.Join(t.TempDir(), "pairs.json"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			venue := fmt.Sprintf("venue-%d", i%8)
			c.Add(NewPairKey(venue, tokA, tokB), NewPairEntry(venue, tokA, tokB))
			_ = c.Has(NewPairKey(venue, tokB, tokA))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 8, c.Len())
	assert.NoError(t, c.Flush())
}
