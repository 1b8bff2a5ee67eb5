package geocache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"delivery-zone/internal/logger"
)

const DefaultRedisPrefix = "geo"

// 文档注释：Redis 共享缓存层
// 背景：多实例共享地理编码结果，降低外部服务调用量。
// 约束：键为 {prefix}:{gen}:{address}；Purge 只对 {prefix}:gen 执行 INCR，旧代的键随 TTL 过期，无需扫描删除。
// Redis 故障只记录日志并视为未命中，不影响报价。
type Redis struct {
	rc     *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(rc *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rc: rc, prefix: prefix, ttl: ttl}
}

func (r *Redis) genKey() string { return r.prefix + ":gen" }

func (r *Redis) gen(ctx context.Context) (int64, error) {
	v, err := r.rc.Get(ctx, r.genKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (r *Redis) key(gen int64, addr string) string {
	return r.prefix + ":" + strconv.FormatInt(gen, 10) + ":" + addr
}

func (r *Redis) Get(ctx context.Context, key string) (Entry, bool) {
	g, err := r.gen(ctx)
	if err != nil {
		logger.L().Warn("geocache_redis_error", "op", "gen", "err", err)
		return Entry{}, false
	}
	b, err := r.rc.Get(ctx, r.key(g, key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.L().Warn("geocache_redis_error", "op", "get", "err", err)
		}
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		logger.L().Warn("geocache_redis_decode_error", "err", err)
		return Entry{}, false
	}
	return e, true
}

func (r *Redis) Set(ctx context.Context, e Entry) {
	g, err := r.gen(ctx)
	if err != nil {
		logger.L().Warn("geocache_redis_error", "op", "gen", "err", err)
		return
	}
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := r.rc.Set(ctx, r.key(g, e.NormalizedAddress), b, r.ttl).Err(); err != nil {
		logger.L().Warn("geocache_redis_error", "op", "set", "err", err)
	}
}

func (r *Redis) Purge(ctx context.Context) error {
	g, err := r.rc.Incr(ctx, r.genKey()).Result()
	if err != nil {
		logger.L().Error("geocache_redis_purge_error", "err", err)
		return err
	}
	logger.L().Info("geocache_redis_purged", "gen", g)
	return nil
}
