// Package id 提供 Snowflake ID 生成器
package id

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// 格式: 1 bit 符号位 + 41 bit 时间戳 + 10 bit 机器 ID + 12 bit 序列号
const (
	epoch          = int64(1735689600000) // 2025-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

// Generator Snowflake ID 生成器, 由调用方持有 (无全局实例)
type Generator struct {
	mu        sync.Mutex
	workerID  int64
	sequence  int64
	lastStamp int64
	now       func() int64
}

// NewGenerator 创建 ID 生成器
func NewGenerator(workerID int64) (*Generator, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("worker ID must be between 0 and %d", maxWorkerID)
	}
	return &Generator{
		workerID:  workerID,
		lastStamp: -1,
		now:       func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Generate 生成唯一 ID
func (g *Generator) Generate() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()

	// 时钟回拨, 等待追上
	for now < g.lastStamp {
		time.Sleep(time.Millisecond)
		now = g.now()
	}

	if now == g.lastStamp {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			for now <= g.lastStamp {
				time.Sleep(100 * time.Microsecond)
				now = g.now()
			}
		}
	} else {
		g.sequence = 0
	}

	g.lastStamp = now

	return ((now - epoch) << timestampShift) |
		(g.workerID << workerIDShift) |
		g.sequence
}

// GenerateString 生成带前缀的字符串 ID, 例如 "clm_123"
func (g *Generator) GenerateString(prefix string) string {
	s := strconv.FormatInt(g.Generate(), 10)
	if prefix == "" {
		return s
	}
	return prefix + "_" + s
}

// ParseID 解析 ID
func ParseID(id int64) (timestamp int64, workerID int64, sequence int64) {
	timestamp = (id >> timestampShift) + epoch
	workerID = (id >> workerIDShift) & maxWorkerID
	sequence = id & maxSequence
	return
}
