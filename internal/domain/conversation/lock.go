package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	applog "readnest/internal/platform/log"
)

// RedisCompressLock 基于 Redis SETNX 的会话级压缩锁
type RedisCompressLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCompressLock 创建压缩锁
func NewRedisCompressLock(client *redis.Client) *RedisCompressLock {
	return &RedisCompressLock{
		client: client,
		ttl:    30 * time.Second,
	}
}

// Acquire 获取压缩锁
func (l *RedisCompressLock) Acquire(ctx context.Context, sessionID string) (bool, error) {
	key := fmt.Sprintf("chat:compress:lock:%s", sessionID)
	acquired, err := l.client.SetNX(ctx, key, "locked", l.ttl).Result()
	if err != nil {
		applog.Warn("[CompressLock] Failed to acquire lock",
			"session_id", sessionID,
			"error", err,
		)
		return false, err
	}

	if acquired {
		applog.Debug("[CompressLock] Lock acquired", "session_id", sessionID)
	} else {
		applog.Debug("[CompressLock] Lock already held", "session_id", sessionID)
	}

	return acquired, nil
}

// Release 释放压缩锁
func (l *RedisCompressLock) Release(ctx context.Context, sessionID string) error {
	key := fmt.Sprintf("chat:compress:lock:%s", sessionID)
	err := l.client.Del(ctx, key).Err()
	if err != nil {
		applog.Warn("[CompressLock] Failed to release lock",
			"session_id", sessionID,
			"error", err,
		)
		return err
	}

	applog.Debug("[CompressLock] Lock released", "session_id", sessionID)
	return nil
}
