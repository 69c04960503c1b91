// Package lock 提供按 key 互斥的锁 (进程内 / Redis 分布式)
package lock

import (
	"context"
	"errors"
)

var (
	// ErrLockNotHeld 锁未持有
	ErrLockNotHeld = errors.New("lock not held")
	// ErrLockAcquireFailed 获取锁失败
	ErrLockAcquireFailed = errors.New("failed to acquire lock")
)

// Locker 按 key 串行执行 fn
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}
