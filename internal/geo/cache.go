package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/memberportal/internal/model"
)

// DefaultCacheTTL は位置情報キャッシュの既定の保持期間。
const DefaultCacheTTL = 24 * time.Hour

// keyPrefix はキャッシュキーの接頭辞。
const keyPrefix = "memberportal:geo:"

// Cache は解決済みの位置情報をIPアドレス単位で保持するインターフェース。
type Cache interface {
	// Get はキャッシュ済みのスナップショットを返す。存在しない場合はnil, nilを返す。
	Get(ctx context.Context, ip string) (*model.GeoSnapshot, error)
	// Set はスナップショットをttlの間保持する。
	Set(ctx context.Context, ip string, snap *model.GeoSnapshot, ttl time.Duration) error
}

// RedisCache はRedisを使用したCacheの実装。
type RedisCache struct {
	client *redis.Client
}

// NewRedisCacheFromURL はREDIS_URL形式の接続文字列からRedisCacheを生成する。
// 起動時に疎通を確認する。
func NewRedisCacheFromURL(ctx context.Context, redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCache は既存のRedisクライアントからRedisCacheを生成する。
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Close はRedis接続を閉じる。
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Get はキャッシュ済みのスナップショットを返す。
func (c *RedisCache) Get(ctx context.Context, ip string) (*model.GeoSnapshot, error) {
	data, err := c.client.Get(ctx, cacheKey(ip)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get geo cache: %w", err)
	}

	var snap model.GeoSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode geo cache: %w", err)
	}
	return &snap, nil
}

// Set はスナップショットを保存する。ttlが0以下の場合はDefaultCacheTTLを使う。
func (c *RedisCache) Set(ctx context.Context, ip string, snap *model.GeoSnapshot, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode geo cache: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(ip), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set geo cache: %w", err)
	}
	return nil
}

func cacheKey(ip string) string {
	return keyPrefix + ip
}

// compile-time interface check
var _ Cache = (*RedisCache)(nil)
