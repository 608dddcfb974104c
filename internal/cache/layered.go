package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"tz-api/internal/logger"
	"tz-api/internal/metrics"
)

// 文档注释：两级缓存（进程内 LRU → Redis）
// 背景：多实例部署时共享热点结果；Redis 不可用时只降级为本地缓存，不影响查询。
// 约束：Redis 键为 prefix + ":" + generation + ":" + key，数据集切换时更换 generation，旧键随 TTL 自然过期。
// 切换代次与按代次写入在同一把锁下，旧代次算出的结果不会写进新代次。
type Layered[V any] struct {
	lru    *LRU[V]
	rc     *redis.Client
	prefix string
	ttl    time.Duration

	mu  sync.RWMutex
	gen string
}

// NewLayered rc 可为 nil（仅本地缓存）
func NewLayered[V any](size int, ttl time.Duration, rc *redis.Client, prefix string) *Layered[V] {
	l := &Layered[V]{lru: NewLRU[V](size, ttl), rc: rc, prefix: prefix, ttl: ttl}
	l.SetGeneration("0")
	return l
}

// SetGeneration 切换数据代次并清空本地缓存
func (l *Layered[V]) SetGeneration(gen string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gen = gen
	l.lru.Purge()
}

// Generation 返回当前代次；调用方在计算前取得，写回时交给 SetAt
func (l *Layered[V]) Generation() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.gen
}

func (l *Layered[V]) redisKey(k string) string { return l.keyAt(l.Generation(), k) }

func (l *Layered[V]) keyAt(gen, k string) string { return l.prefix + ":" + gen + ":" + k }

func (l *Layered[V]) Get(ctx context.Context, k string) (V, bool) {
	if v, ok := l.lru.Get(k); ok {
		metrics.CacheHitsTotal.WithLabelValues("lru").Inc()
		return v, true
	}
	metrics.CacheMissesTotal.WithLabelValues("lru").Inc()
	var zero V
	if l.rc == nil {
		return zero, false
	}
	gen := l.Generation()
	s, err := l.rc.Get(ctx, l.keyAt(gen, k)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.L().Debug("cache_redis_get_error", "key", k, "err", err)
		}
		metrics.CacheMissesTotal.WithLabelValues("redis").Inc()
		return zero, false
	}
	var v V
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		metrics.CacheMissesTotal.WithLabelValues("redis").Inc()
		return zero, false
	}
	metrics.CacheHitsTotal.WithLabelValues("redis").Inc()
	l.mu.RLock()
	if l.gen == gen {
		l.lru.Set(k, v)
	}
	l.mu.RUnlock()
	return v, true
}

// Set 按当前代次写入
func (l *Layered[V]) Set(ctx context.Context, k string, v V) {
	l.SetAt(ctx, l.Generation(), k, v)
}

// 文档注释：按指定代次写入
// 返回：代次已切换时丢弃并返回 false；Redis 键始终带 gen，即使写入与切换交错也只落在旧代次下。
func (l *Layered[V]) SetAt(ctx context.Context, gen, k string, v V) bool {
	l.mu.RLock()
	if l.gen != gen {
		l.mu.RUnlock()
		logger.L().Debug("cache_stale_generation", "key", k, "gen", gen)
		return false
	}
	l.lru.Set(k, v)
	l.mu.RUnlock()
	if l.rc == nil {
		return true
	}
	b, err := json.Marshal(v)
	if err != nil {
		return true
	}
	if err := l.rc.Set(ctx, l.keyAt(gen, k), b, l.ttl).Err(); err != nil {
		logger.L().Debug("cache_redis_set_error", "key", k, "err", err)
	}
	return true
}
