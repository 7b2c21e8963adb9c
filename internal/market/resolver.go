package market

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"papertrader/internal/logger"

	"gopkg.in/yaml.v3"
)

//go:embed paprika_ids.yaml
var defaultPaprikaTable []byte

// DefaultIDTable returns the built-in CoinGecko -> CoinPaprika id table.
func DefaultIDTable() map[string]string {
	table, err := ParseIDTable(defaultPaprikaTable)
	if err != nil {
		panic(fmt.Sprintf("embedded paprika table: %v", err))
	}
	return table
}

// ParseIDTable decodes a flat YAML mapping of primary id to fallback id.
func ParseIDTable(raw []byte) (map[string]string, error) {
	table := make(map[string]string)
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(table))
	for k, v := range table {
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		if k != "" && v != "" {
			out[k] = v
		}
	}
	return out, nil
}

// LoadIDTable reads path and layers it over the built-in table.
func LoadIDTable(path string) (map[string]string, error) {
	table := DefaultIDTable()
	if strings.TrimSpace(path) == "" {
		return table, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	extra, err := ParseIDTable(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for k, v := range extra {
		table[k] = v
	}
	return table, nil
}

// IndexSource supplies the full translation index (lookup key -> fallback id).
type IndexSource interface {
	TickerIndex(ctx context.Context) (map[string]string, error)
}

// Resolver translates primary ids into fallback ids: static table first, then
// a lazily fetched index that is refreshed after ttl.
type Resolver struct {
	static map[string]string
	source IndexSource
	ttl    time.Duration
	now    func() time.Time

	mu        sync.Mutex
	index     map[string]string
	fetchedAt time.Time
}

func NewResolver(static map[string]string, source IndexSource, ttl time.Duration) *Resolver {
	if static == nil {
		static = map[string]string{}
	}
	return &Resolver{static: static, source: source, ttl: ttl, now: time.Now}
}

// Resolve reports the fallback id for geckoID, or false when unknown.
func (r *Resolver) Resolve(ctx context.Context, geckoID string) (string, bool) {
	if r == nil {
		return "", false
	}
	key := strings.ToLower(strings.TrimSpace(geckoID))
	if id, ok := r.static[key]; ok {
		return id, true
	}
	if r.source == nil {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index == nil || r.now().Sub(r.fetchedAt) > r.ttl {
		index, err := r.source.TickerIndex(ctx)
		if err != nil {
			logger.Warnf("paprika ticker index unavailable: %v", err)
			if r.index == nil {
				return "", false
			}
		} else {
			r.index = index
			r.fetchedAt = r.now()
		}
	}
	id, ok := r.index[key]
	return id, ok
}

// indexKey is the lookup key the index uses for a coin name.
func indexKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}
