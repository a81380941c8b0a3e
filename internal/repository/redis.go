package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"slotkeeper/internal/config"
	"slotkeeper/internal/models"
)

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

// Window anchored at the first request. The whole read-check-increment runs
// inside the script so concurrent callers for one phone serialize on Redis.
// Returns {allowed, count, window_start_ms, window_end_ms}.
var rateLimitScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local window = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local count = tonumber(redis.call("HGET", KEYS[1], "count"))
local window_start = tonumber(redis.call("HGET", KEYS[1], "window_start"))
local window_end = tonumber(redis.call("HGET", KEYS[1], "window_end"))

if count == nil or window_end == nil or now > window_end then
  redis.call("HSET", KEYS[1], "count", 1, "window_start", now, "window_end", now + window)
  redis.call("PEXPIRE", KEYS[1], ttl)
  return {1, 1, now, now + window}
end

if count < limit then
  count = redis.call("HINCRBY", KEYS[1], "count", 1)
  return {1, count, window_start, window_end}
end

return {0, count, window_start, window_end}
`)

// RedisRateLimitStore is the shared, multi-instance rate limit store.
type RedisRateLimitStore struct {
	client *redis.Client
	prefix string
}

func NewRedisRateLimitStore(client *redis.Client, prefix string) *RedisRateLimitStore {
	prefix = strings.TrimSuffix(prefix, ":")
	if prefix == "" {
		prefix = "rate_limit:phone"
	}
	return &RedisRateLimitStore{client: client, prefix: prefix}
}

func (r *RedisRateLimitStore) key(phone string) string {
	return r.prefix + ":" + phone
}

func (r *RedisRateLimitStore) CheckAndIncrement(ctx context.Context, phone string, limit int, window time.Duration, now time.Time) (models.RateLimitDecision, error) {
	if r.client == nil {
		return models.RateLimitDecision{}, fmt.Errorf("redis client is nil")
	}

	windowMs := window.Milliseconds()
	// keep the key a little past window_end so a reset is decided by the script
	ttlMs := windowMs + time.Minute.Milliseconds()

	res, err := rateLimitScript.Run(ctx, r.client, []string{r.key(phone)}, now.UnixMilli(), limit, windowMs, ttlMs).Result()
	if err != nil {
		return models.RateLimitDecision{}, fmt.Errorf("failed to run rate limit script: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 4 {
		return models.RateLimitDecision{}, fmt.Errorf("unexpected rate limit script result %T", res)
	}
	nums := make([]int64, len(values))
	for i, v := range values {
		n, err := toInt64(v)
		if err != nil {
			return models.RateLimitDecision{}, err
		}
		nums[i] = n
	}

	return decision(nums[0] == 1, int(nums[1]), limit, time.UnixMilli(nums[3])), nil
}

// Entry reads the stored window for phone.
func (r *RedisRateLimitStore) Entry(ctx context.Context, phone string) (*models.RateLimitEntry, error) {
	vals, err := r.client.HGetAll(ctx, r.key(phone)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read rate limit entry: %w", err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	count, _ := strconv.Atoi(vals["count"])
	start, _ := strconv.ParseInt(vals["window_start"], 10, 64)
	end, _ := strconv.ParseInt(vals["window_end"], 10, 64)
	return &models.RateLimitEntry{
		Phone:       phone,
		Count:       count,
		WindowStart: time.UnixMilli(start),
		WindowEnd:   time.UnixMilli(end),
	}, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case string:
		// Lua sometimes returns strings depending on Redis config/driver conversions.
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected redis script value type %T", v)
	}
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
