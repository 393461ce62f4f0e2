package bot

import (
	"fmt"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/michaelpento.lv/polyarb/types"
)

// LoadRoutes reads a routes file: a YAML (or JSON) list of 2 or 3 symbol
// lists. Malformed entries are logged and skipped, duplicates are dropped.
func LoadRoutes(path string, logger *zap.Logger) ([]types.Route, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routes: %w", err)
	}
	return ParseRoutes(raw, logger)
}

func ParseRoutes(raw []byte, logger *zap.Logger) ([]types.Route, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var entries [][]string
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode routes: %w", err)
	}

	seen := make(map[uint64]bool, len(entries))
	routes := make([]types.Route, 0, len(entries))
	for i, entry := range entries {
		r := types.NewRoute(entry...)
		if len(r.Symbols) < 2 || len(r.Symbols) > 3 {
			logger.Warn("Skipping route", zap.Int("index", i), zap.Strings("symbols", entry), zap.String("reason", "route must have 2 or 3 symbols"))
			continue
		}
		if hasEmpty(r.Symbols) {
			logger.Warn("Skipping route", zap.Int("index", i), zap.Strings("symbols", entry), zap.String("reason", "empty symbol"))
			continue
		}
		key := routeKey(r)
		if seen[key] {
			continue
		}
		seen[key] = true
		routes = append(routes, r)
	}
	if len(routes) == 0 {
		return nil, fmt.Errorf("no valid routes")
	}
	return routes, nil
}

func routeKey(r types.Route) uint64 {
	return xxhash.Sum64String(strings.Join(r.Symbols, "\x00"))
}

func hasEmpty(symbols []string) bool {
	for _, s := range symbols {
		if s == "" {
			return true
		}
	}
	return false
}
