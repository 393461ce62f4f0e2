package dex

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
)

// PairKey identifies (venue, tokenIn, tokenOut) in the unsupported-pair cache
type PairKey uint64

// NewPairKey hashes the venue and the lowercase addresses
func NewPairKey(venue string, tokenIn, tokenOut common.Address) PairKey {
	d := xxhash.New()
	_, _ = d.WriteString(venue)
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(strings.ToLower(tokenIn.Hex()))
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(strings.ToLower(tokenOut.Hex()))
	return PairKey(d.Sum64())
}

// PairCache remembers pairs a venue has told us it cannot route.
// Entries never expire within a process.
type PairCache interface {
	Has(key PairKey) bool
	Add(key PairKey, entry PairEntry)
	Flush() error
}

// PairEntry is the human-readable form persisted next to each key
type PairEntry struct {
	Venue    string `json:"venue"`
	TokenIn  string `json:"token_in"`
	TokenOut string `json:"token_out"`
}

func NewPairEntry(venue string, tokenIn, tokenOut common.Address) PairEntry {
	return PairEntry{
		Venue:    venue,
		TokenIn:  strings.ToLower(tokenIn.Hex()),
		TokenOut: strings.ToLower(tokenOut.Hex()),
	}
}

func (e PairEntry) key() PairKey {
	return NewPairKey(e.Venue, common.HexToAddress(e.TokenIn), common.HexToAddress(e.TokenOut))
}

// FilePairCache is a mutex-guarded PairCache optionally backed by a JSON
// file. Flush merges with whatever is on disk, so concurrent processes only
// ever add entries.
type FilePairCache struct {
	mu      sync.RWMutex
	path    string
	entries map[PairKey]PairEntry
	dirty   bool
}

// NewFilePairCache loads path if it exists. An empty path keeps the cache in memory.
func NewFilePairCache(path string) (*FilePairCache, error) {
	c := &FilePairCache{
		path:    path,
		entries: make(map[PairKey]PairEntry),
	}
	if path == "" {
		return c, nil
	}
	loaded, err := readPairFile(path)
	if err != nil {
		return nil, err
	}
	for _, e := range loaded {
		c.entries[e.key()] = e
	}
	return c, nil
}

func (c *FilePairCache) Has(key PairKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[key]
	return ok
}

func (c *FilePairCache) Add(key PairKey, entry PairEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return
	}
	c.entries[key] = entry
	c.dirty = true
}

func (c *FilePairCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *FilePairCache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.path == "" || !c.dirty {
		return nil
	}

	onDisk, err := readPairFile(c.path)
	if err != nil {
		return err
	}
	for _, e := range onDisk {
		k := e.key()
		if _, ok := c.entries[k]; !ok {
			c.entries[k] = e
		}
	}

	out := make([]PairEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Venue != out[j].Venue {
			return out[i].Venue < out[j].Venue
		}
		if out[i].TokenIn != out[j].TokenIn {
			return out[i].TokenIn < out[j].TokenIn
		}
		return out[i].TokenOut < out[j].TokenOut
	})

	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode pair cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write pair cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace pair cache: %w", err)
	}
	c.dirty = false
	return nil
}

func readPairFile(path string) ([]PairEntry, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pair cache: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var entries []PairEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode pair cache: %w", err)
	}
	return entries, nil
}
