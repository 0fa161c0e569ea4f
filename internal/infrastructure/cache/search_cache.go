package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/number"
)

// Keys longer than this are replaced by a digest of the canonical form.
const maxSearchKeyLength = 200

// SearchResultCache caches carrier search responses keyed by the normalized
// request. Entries are tagged by country so a whole market can be dropped
// when a carrier updates its inventory. Backend failures degrade to cache
// misses; they never fail a search.
type SearchResultCache struct {
	store  Store
	logger *zap.Logger
	ttl    time.Duration
}

// NewSearchResultCache creates a search cache on top of store. A
// non-positive ttl falls back to DefaultSearchTTL.
func NewSearchResultCache(store Store, logger *zap.Logger, ttl time.Duration) (*SearchResultCache, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if ttl <= 0 {
		ttl = DefaultSearchTTL
	}

	return &SearchResultCache{
		store:  store,
		logger: logger,
		ttl:    ttl,
	}, nil
}

// Get returns the cached response for req, if any. Hits come back with the
// cached flag set; the search id of the original response is preserved.
func (c *SearchResultCache) Get(ctx context.Context, req *number.SearchRequest) (*number.SearchResponse, bool) {
	key := searchKey(req)

	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !IsNotFound(err) {
			c.logger.Warn("search cache get failed, treating as miss",
				zap.String("key", key),
				zap.Error(err))
		}
		return nil, false
	}

	var resp number.SearchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.Warn("search cache entry corrupt, dropping",
			zap.String("key", key),
			zap.Error(err))
		if delErr := c.store.Delete(ctx, key); delErr != nil {
			c.logger.Warn("search cache cleanup failed", zap.String("key", key), zap.Error(delErr))
		}
		return nil, false
	}

	resp.Cached = true
	return &resp, true
}

// Set stores resp under the key derived from req. A non-positive ttl falls
// back to the cache's configured default. Failures are logged and swallowed
// so a flaky backend cannot fail the search path.
func (c *SearchResultCache) Set(ctx context.Context, req *number.SearchRequest, resp *number.SearchResponse, ttl time.Duration) {
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Warn("search cache marshal failed", zap.Error(err))
		return
	}

	if ttl <= 0 {
		ttl = c.ttl
	}

	key := searchKey(req)
	if err := c.store.Set(ctx, key, data, ttl, countryTag(req.CountryCode)); err != nil {
		c.logger.Warn("search cache set failed",
			zap.String("key", key),
			zap.Error(err))
	}
}

// InvalidateCountry drops every cached search for a country and returns how
// many entries were removed.
func (c *SearchResultCache) InvalidateCountry(ctx context.Context, countryCode string) (int, error) {
	tag := countryTag(strings.ToUpper(strings.TrimSpace(countryCode)))
	deleted, err := c.store.DeleteByTag(ctx, tag)
	if err != nil {
		return 0, fmt.Errorf("invalidate country %s: %w", countryCode, err)
	}

	c.logger.Info("search cache invalidated",
		zap.String("tag", tag),
		zap.Int("deleted", deleted))
	return deleted, nil
}

// searchKey builds the canonical cache key for a normalized request. Field
// order is fixed and features are sorted so equivalent requests collide.
func searchKey(req *number.SearchRequest) string {
	features := make([]string, len(req.Features))
	for i, f := range req.Features {
		features[i] = string(f)
	}
	sort.Strings(features)

	canonical := fmt.Sprintf("country=%s|area=%s|city=%s|region=%s|pattern=%s|features=%s|limit=%d",
		req.CountryCode,
		req.AreaCode,
		req.City,
		req.Region,
		req.Pattern,
		strings.Join(features, ","),
		req.Limit,
	)

	key := SearchPrefix + "v1:" + canonical
	if len(key) > maxSearchKeyLength {
		sum := sha256.Sum256([]byte(canonical))
		key = SearchPrefix + "v1:sha256:" + hex.EncodeToString(sum[:])
	}
	return key
}

func countryTag(countryCode string) string {
	return "country:" + countryCode
}
