package redisdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"readnest/internal/domain/reading"
	applog "readnest/internal/platform/log"
)

// HubFeedPage 缓存的广场分页结果
type HubFeedPage struct {
	Hubs  []reading.Hub `json:"hubs"`
	Total int           `json:"total"`
}

// HubCache 知识广场 Feed 的 Redis 缓存。
// Feed 对所有用户相同，按页缓存即可。
type HubCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
}

// NewHubCache 创建广场缓存
func NewHubCache(rdb *redis.Client, ttlSeconds int) *HubCache {
	ttl := 5 * time.Minute
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	return &HubCache{
		redis:  rdb,
		ttl:    ttl,
		prefix: "hub:feed:",
	}
}

// Get 从缓存获取一页 Feed
func (c *HubCache) Get(ctx context.Context, page, pageSize int) (*HubFeedPage, bool) {
	key := c.cacheKey(page, pageSize)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}

	var result HubFeedPage
	if err := json.Unmarshal(data, &result); err != nil {
		applog.Warn("[Hub/Cache] Failed to unmarshal cached page", "error", err)
		return nil, false
	}

	applog.Debug("[Hub/Cache] Hit", "key", key)
	return &result, true
}

// Set 写入一页 Feed 到缓存
func (c *HubCache) Set(ctx context.Context, page, pageSize int, result *HubFeedPage) {
	key := c.cacheKey(page, pageSize)
	data, err := json.Marshal(result)
	if err != nil {
		return
	}

	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		applog.Warn("[Hub/Cache] Failed to set cache", "key", key, "error", err)
	}
}

// InvalidateAll 清除全部 Feed 缓存（内容同步后调用）
func (c *HubCache) InvalidateAll(ctx context.Context) {
	pattern := c.prefix + "*"
	iter := c.redis.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		c.redis.Del(ctx, keys...)
		applog.Info("[Hub/Cache] Invalidated", "keys_deleted", len(keys))
	}
}

func (c *HubCache) cacheKey(page, pageSize int) string {
	return fmt.Sprintf("%s%d:%d", c.prefix, page, pageSize)
}
