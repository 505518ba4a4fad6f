package redisdb

import (
	"github.com/redis/go-redis/v9"

	"readnest/internal/domain/conversation"
)

// CompressLock Redis 压缩锁别名，与其余 Redis 组件同包暴露
type CompressLock = conversation.RedisCompressLock

// NewCompressLock 创建压缩锁
func NewCompressLock(client *redis.Client) *CompressLock {
	return conversation.NewRedisCompressLock(client)
}
