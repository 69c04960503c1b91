package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	releaseScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`)
	extendScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// RedisLock Redis 分布式锁
type RedisLock struct {
	client     redis.UniversalClient
	key        string
	value      string
	expiration time.Duration
}

// RedisLocker Redis 分布式锁管理器
type RedisLocker struct {
	client        redis.UniversalClient
	keyPrefix     string
	expiration    time.Duration
	retryInterval time.Duration
	maxRetries    int
}

// RedisLockerConfig 锁配置
type RedisLockerConfig struct {
	KeyPrefix     string
	Expiration    time.Duration
	RetryInterval time.Duration
	MaxRetries    int
}

// NewRedisLocker 创建 Redis 分布式锁管理器
func NewRedisLocker(client redis.UniversalClient, cfg RedisLockerConfig) *RedisLocker {
	if cfg.Expiration <= 0 {
		cfg.Expiration = 30 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 50 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 20
	}
	return &RedisLocker{
		client:        client,
		keyPrefix:     cfg.KeyPrefix,
		expiration:    cfg.Expiration,
		retryInterval: cfg.RetryInterval,
		maxRetries:    cfg.MaxRetries,
	}
}

// NewLock 创建一个新锁
func (l *RedisLocker) NewLock(key string) *RedisLock {
	return &RedisLock{
		client:     l.client,
		key:        l.keyPrefix + key,
		value:      uuid.New().String(),
		expiration: l.expiration,
	}
}

// Acquire 获取锁 (非阻塞)
func (lock *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := lock.client.SetNX(ctx, lock.key, lock.value, lock.expiration).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock failed: %w", err)
	}
	return ok, nil
}

// AcquireWithRetry 获取锁 (带重试)
func (lock *RedisLock) AcquireWithRetry(ctx context.Context, retryInterval time.Duration, maxRetries int) (bool, error) {
	for i := 0; i < maxRetries; i++ {
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return false, nil
}

// Release 释放锁 (只有持有者才能释放)
func (lock *RedisLock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, lock.client, []string{lock.key}, lock.value).Int64()
	if err != nil {
		return fmt.Errorf("release lock failed: %w", err)
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Extend 延长锁的过期时间 (只有持有者才能延长)
func (lock *RedisLock) Extend(ctx context.Context, extension time.Duration) error {
	result, err := extendScript.Run(ctx, lock.client, []string{lock.key}, lock.value, extension.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lock failed: %w", err)
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// WithLock 在锁保护下执行函数, 重试耗尽返回 ErrLockAcquireFailed
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lock := l.NewLock(key)

	ok, err := lock.AcquireWithRetry(ctx, l.retryInterval, l.maxRetries)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockAcquireFailed
	}

	defer func() {
		// 锁可能已过期, 忽略错误
		_ = lock.Release(context.Background())
	}()

	return fn(ctx)
}
