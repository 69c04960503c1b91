// Package cache 提供声誉分缓存
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eidos-exchange/eidos-ubi/internal/model"
)

const (
	// ReputationKeyPrefix 声誉分缓存 Key 前缀
	ReputationKeyPrefix = "eidos:ubi:reputation:"
	// DefaultReputationTTL 默认缓存时间
	DefaultReputationTTL = 10 * time.Minute
)

// ReputationCache 声誉计算结果缓存
type ReputationCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewReputationCache 创建声誉缓存, ttl <= 0 时使用默认值
func NewReputationCache(rdb redis.UniversalClient, ttl time.Duration) *ReputationCache {
	if ttl <= 0 {
		ttl = DefaultReputationTTL
	}
	return &ReputationCache{rdb: rdb, ttl: ttl}
}

// Get 读取缓存, 未命中时返回 nil, false
func (c *ReputationCache) Get(ctx context.Context, userID string) (*model.ReputationData, bool, error) {
	raw, err := c.rdb.Get(ctx, ReputationKeyPrefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var data model.ReputationData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, false, fmt.Errorf("decode reputation: %w", err)
	}
	return &data, true, nil
}

// Set 写入缓存
func (c *ReputationCache) Set(ctx context.Context, data *model.ReputationData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode reputation: %w", err)
	}
	return c.rdb.Set(ctx, ReputationKeyPrefix+data.UserID, raw, c.ttl).Err()
}

// Invalidate 删除缓存
func (c *ReputationCache) Invalidate(ctx context.Context, userID string) error {
	return c.rdb.Del(ctx, ReputationKeyPrefix+userID).Err()
}
