package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/codyseavey/tcg-portfolio/internal/metrics"
	"github.com/codyseavey/tcg-portfolio/internal/models"
)

const (
	redisGenerationKey = "tcg:results:gen"
	redisEntryTTL      = time.Hour
	redisOpTimeout     = 500 * time.Millisecond
)

// RemoteResultStore is an optional second cache tier shared between instances
type RemoteResultStore interface {
	Get(ctx context.Context, key string) (*models.CacheEntry, error)
	Set(ctx context.Context, key string, entry *models.CacheEntry) error
	Purge(ctx context.Context) error
}

// ResultCache maps query fingerprints to result pages. The local tier is a
// bounded LRU; the remote tier, when configured, is consulted on local miss.
type ResultCache struct {
	local  *lru.Cache[string, models.CacheEntry]
	remote RemoteResultStore

	// gen counts purges; a fetch started under an older generation is not stored
	mu  sync.Mutex
	gen uint64
}

// NewResultCache creates a cache holding up to size entries locally. remote may be nil.
func NewResultCache(size int, remote RemoteResultStore) (*ResultCache, error) {
	local, err := lru.New[string, models.CacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("result cache: %w", err)
	}
	return &ResultCache{local: local, remote: remote}, nil
}

// QueryFingerprint hashes the canonical form of a sanitized query. Equal
// queries hash equal regardless of filter ordering or free-text case.
func QueryFingerprint(q models.SearchQuery) string {
	q.Sanitize()
	filters := make(map[string][]string, len(q.Filters))
	for k, v := range q.Filters {
		filters[string(k)] = v
	}
	canonical := struct {
		FreeText    string              `json:"q"`
		ExpansionID string              `json:"e"`
		ViewMode    models.ViewMode     `json:"m"`
		Filters     map[string][]string `json:"f"`
		SortBy      models.SortField    `json:"s"`
		SortOrder   models.SortOrder    `json:"o"`
		Page        int                 `json:"p"`
		PageSize    int                 `json:"n"`
	}{
		FreeText:    strings.ToLower(q.FreeText),
		ExpansionID: q.ExpansionID,
		ViewMode:    q.ViewMode,
		Filters:     filters,
		SortBy:      q.SortBy,
		SortOrder:   q.SortOrder,
		Page:        q.Page,
		PageSize:    q.PageSize,
	}
	// encoding/json sorts map keys, which makes the encoding canonical
	data, _ := json.Marshal(canonical)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Get returns the entry for key, promoting remote hits into the local tier
func (c *ResultCache) Get(ctx context.Context, key string) (models.CacheEntry, bool) {
	if entry, ok := c.local.Get(key); ok {
		metrics.ResultCacheHits.Inc()
		return entry, true
	}
	if c.remote != nil {
		entry, err := c.remote.Get(ctx, key)
		if err != nil {
			log.Printf("Warning: remote result cache get failed: %v", err)
		} else if entry != nil {
			metrics.ResultCacheHits.Inc()
			c.local.Add(key, *entry)
			return *entry, true
		}
	}
	metrics.ResultCacheMisses.Inc()
	return models.CacheEntry{}, false
}

// Generation identifies the current purge epoch
func (c *ResultCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Set stores entry under key in both tiers
func (c *ResultCache) Set(ctx context.Context, key string, entry models.CacheEntry) {
	c.SetAt(ctx, c.Generation(), key, entry)
}

// SetAt stores entry only if no purge happened since gen was read. It reports
// whether the entry was stored.
func (c *ResultCache) SetAt(ctx context.Context, gen uint64, key string, entry models.CacheEntry) bool {
	entry.Key = key
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	c.local.Add(key, entry)
	c.mu.Unlock()

	if c.remote != nil {
		if err := c.remote.Set(ctx, key, &entry); err != nil {
			log.Printf("Warning: remote result cache set failed: %v", err)
		}
	}
	return true
}

// InvalidateAll drops every entry in both tiers
func (c *ResultCache) InvalidateAll(ctx context.Context) {
	c.mu.Lock()
	c.gen++
	c.local.Purge()
	c.mu.Unlock()
	if c.remote != nil {
		if err := c.remote.Purge(ctx); err != nil {
			log.Printf("Warning: remote result cache purge failed: %v", err)
		}
	}
	metrics.ResultCachePurges.Inc()
}

// Len is the number of locally cached entries
func (c *ResultCache) Len() int {
	return c.local.Len()
}

// RedisResultStore keeps entries under a generation prefix. Purging bumps the
// generation so every older key becomes unreachable and expires on its own.
type RedisResultStore struct {
	client *redis.Client
}

// NewRedisResultStore parses redisURL and verifies connectivity
func NewRedisResultStore(ctx context.Context, redisURL string) (*RedisResultStore, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: invalid URL: %w", err)
	}
	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}

	log.Printf("Result cache: redis tier connected at %s", options.Addr)
	return &RedisResultStore{client: client}, nil
}

func (r *RedisResultStore) generation(ctx context.Context) (int64, error) {
	gen, err := r.client.Get(ctx, redisGenerationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (r *RedisResultStore) entryKey(ctx context.Context, key string) (string, error) {
	gen, err := r.generation(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("tcg:results:%d:%s", gen, key), nil
}

func (r *RedisResultStore) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	k, err := r.entryKey(ctx, key)
	if err != nil {
		return nil, err
	}
	data, err := r.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entry models.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *RedisResultStore) Set(ctx context.Context, key string, entry *models.CacheEntry) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	k, err := r.entryKey(ctx, key)
	if err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, k, data, redisEntryTTL).Err()
}

func (r *RedisResultStore) Purge(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	return r.client.Incr(ctx, redisGenerationKey).Err()
}

func (r *RedisResultStore) Close() error {
	return r.client.Close()
}
