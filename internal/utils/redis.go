// 包 utils：环境变量驱动的外部依赖连接工具（Redis、PostgreSQL、TLS 证书）
package utils

import (
	"context"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"tz-api/internal/logger"
)

// OpenRedis：使用地址与密码打开 Redis 客户端，地址为空时返回 nil
func OpenRedis(addr, pass string, db int) *redis.Client {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db})
}

// 文档注释：从环境变量打开 Redis 客户端
// 约束：REDIS_HOST 未设置时视为停用（返回 nil），只用进程内缓存；REDIS_DB 解析失败回退为 0。
func OpenRedisFromEnv() *redis.Client {
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		return nil
	}
	addr := host + ":" + EnvString("REDIS_PORT", "6379")
	db := EnvInt("REDIS_DB", 0)
	if db < 0 {
		db = 0
	}
	logger.L().Debug("redis_env", "addr", addr, "db", db)
	return OpenRedis(addr, os.Getenv("REDIS_PASS"), db)
}

// PingRedis 带超时探活；失败时调用方应降级为本地缓存
func PingRedis(ctx context.Context, rc *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rc.Ping(ctx).Err()
}
