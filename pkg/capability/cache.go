package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/pacehq/pace/pkg/observability"
)

// Cache holds capability-matrix records keyed by (tenant_id, user_id), plus
// module-scoped summary derivatives. Invalidation removes the record key and
// every derivative that could contain stale permission data for the user.
type Cache interface {
	GetRecord(ctx context.Context, tenantID string, userID int64) (*Record, bool)
	SetRecord(ctx context.Context, record *Record)
	GetModuleSummary(ctx context.Context, tenantID string, userID int64, module BusinessModule) (map[string]bool, bool)
	SetModuleSummary(ctx context.Context, tenantID string, userID int64, module BusinessModule, summary map[string]bool)
	Invalidate(ctx context.Context, tenantID string, userID int64) error
}

func recordKey(tenantID string, userID int64) string {
	return fmt.Sprintf("pace:cap:%s:%d", tenantID, userID)
}

func summaryKey(tenantID string, userID int64, module BusinessModule) string {
	return fmt.Sprintf("pace:cap:%s:%d:%s", tenantID, userID, module)
}

// MemoryCache is an in-process expirable LRU cache backend
type MemoryCache struct {
	records   *lru.LRU[string, *Record]
	summaries *lru.LRU[string, map[string]bool]
	metrics   *observability.Metrics
}

// NewMemoryCache creates the in-process cache backend
func NewMemoryCache(size int, ttl time.Duration, metrics *observability.Metrics) *MemoryCache {
	if size < 16 {
		size = 16
	}
	return &MemoryCache{
		records:   lru.NewLRU[string, *Record](size, nil, ttl),
		summaries: lru.NewLRU[string, map[string]bool](size, nil, ttl),
		metrics:   metrics,
	}
}

func (c *MemoryCache) GetRecord(ctx context.Context, tenantID string, userID int64) (*Record, bool) {
	record, ok := c.records.Get(recordKey(tenantID, userID))
	c.countLookup("memory", ok)
	return record, ok
}

func (c *MemoryCache) SetRecord(ctx context.Context, record *Record) {
	c.records.Add(recordKey(record.TenantID, record.UserID), record)
}

func (c *MemoryCache) GetModuleSummary(ctx context.Context, tenantID string, userID int64, module BusinessModule) (map[string]bool, bool) {
	summary, ok := c.summaries.Get(summaryKey(tenantID, userID, module))
	c.countLookup("memory", ok)
	return summary, ok
}

func (c *MemoryCache) SetModuleSummary(ctx context.Context, tenantID string, userID int64, module BusinessModule, summary map[string]bool) {
	c.summaries.Add(summaryKey(tenantID, userID, module), summary)
}

func (c *MemoryCache) Invalidate(ctx context.Context, tenantID string, userID int64) error {
	c.records.Remove(recordKey(tenantID, userID))
	for _, module := range Modules() {
		c.summaries.Remove(summaryKey(tenantID, userID, module))
	}
	if c.metrics != nil {
		c.metrics.CacheInvalidatesTotal.WithLabelValues("memory").Inc()
	}
	return nil
}

func (c *MemoryCache) countLookup(backend string, hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheHitsTotal.WithLabelValues(backend).Inc()
	} else {
		c.metrics.CacheMissesTotal.WithLabelValues(backend).Inc()
	}
}

// RedisCache is a shared cache backend for multi-instance deployments
type RedisCache struct {
	client  *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
}

// NewRedisCache creates the redis cache backend and verifies connectivity
func NewRedisCache(redisURL, password string, db int, ttl time.Duration, metrics *observability.Metrics) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	if db >= 0 {
		opts.DB = db
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client, ttl: ttl, metrics: metrics}, nil
}

// Close closes the redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) GetRecord(ctx context.Context, tenantID string, userID int64) (*Record, bool) {
	data, err := c.client.Get(ctx, recordKey(tenantID, userID)).Result()
	if err != nil {
		c.countLookup(false)
		return nil, false
	}

	var record Record
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		// Corrupt entry; drop it rather than serve it
		c.client.Del(ctx, recordKey(tenantID, userID))
		c.countLookup(false)
		return nil, false
	}
	c.countLookup(true)
	return &record, true
}

func (c *RedisCache) SetRecord(ctx context.Context, record *Record) {
	data, err := json.Marshal(record)
	if err != nil {
		return
	}
	c.client.Set(ctx, recordKey(record.TenantID, record.UserID), data, c.ttl)
}

func (c *RedisCache) GetModuleSummary(ctx context.Context, tenantID string, userID int64, module BusinessModule) (map[string]bool, bool) {
	data, err := c.client.Get(ctx, summaryKey(tenantID, userID, module)).Result()
	if err != nil {
		c.countLookup(false)
		return nil, false
	}
	var summary map[string]bool
	if err := json.Unmarshal([]byte(data), &summary); err != nil {
		c.client.Del(ctx, summaryKey(tenantID, userID, module))
		c.countLookup(false)
		return nil, false
	}
	c.countLookup(true)
	return summary, true
}

func (c *RedisCache) SetModuleSummary(ctx context.Context, tenantID string, userID int64, module BusinessModule, summary map[string]bool) {
	data, err := json.Marshal(summary)
	if err != nil {
		return
	}
	c.client.Set(ctx, summaryKey(tenantID, userID, module), data, c.ttl)
}

func (c *RedisCache) Invalidate(ctx context.Context, tenantID string, userID int64) error {
	keys := make([]string, 0, len(Modules())+1)
	keys = append(keys, recordKey(tenantID, userID))
	for _, module := range Modules() {
		keys = append(keys, summaryKey(tenantID, userID, module))
	}
	if c.metrics != nil {
		c.metrics.CacheInvalidatesTotal.WithLabelValues("redis").Inc()
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *RedisCache) countLookup(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheHitsTotal.WithLabelValues("redis").Inc()
	} else {
		c.metrics.CacheMissesTotal.WithLabelValues("redis").Inc()
	}
}
