// Package kafka 提供 Kafka 生产者
package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-ubi/pkg/logger"
)

// Producer Kafka 异步生产者
type Producer struct {
	producer sarama.AsyncProducer
	wg       sync.WaitGroup
	closed   bool
	mu       sync.RWMutex
}

// ProducerConfig 生产者配置
type ProducerConfig struct {
	Brokers      []string
	ClientID     string
	RequiredAcks sarama.RequiredAcks // 默认 WaitForAll
	MaxRetry     int                 // 默认 3
	RetryBackoff time.Duration       // 默认 100ms
	FlushFreq    time.Duration       // 批量发送间隔, 默认 10ms
}

// DefaultProducerConfig 返回默认生产者配置
func DefaultProducerConfig(brokers []string) *ProducerConfig {
	return &ProducerConfig{
		Brokers:      brokers,
		ClientID:     "eidos-ubi",
		RequiredAcks: sarama.WaitForAll,
		MaxRetry:     3,
		RetryBackoff: 100 * time.Millisecond,
		FlushFreq:    10 * time.Millisecond,
	}
}

// SaramaConfig 由生产者配置生成 sarama 配置
func (c *ProducerConfig) SaramaConfig() *sarama.Config {
	config := sarama.NewConfig()
	if c.ClientID != "" {
		config.ClientID = c.ClientID
	}
	config.Producer.RequiredAcks = c.RequiredAcks
	config.Producer.Retry.Max = c.MaxRetry
	config.Producer.Retry.Backoff = c.RetryBackoff
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.Flush.Frequency = c.FlushFreq
	config.Producer.Compression = sarama.CompressionSnappy

	// 幂等性要求单连接单请求
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	return config
}

// NewProducer 连接 broker 并创建异步生产者
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	producer, err := sarama.NewAsyncProducer(cfg.Brokers, cfg.SaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer failed: %w", err)
	}

	logger.Info("kafka producer started", zap.Strings("brokers", cfg.Brokers))
	return NewProducerWith(producer), nil
}

// NewProducerWith 包装已有的 sarama 生产者
func NewProducerWith(producer sarama.AsyncProducer) *Producer {
	p := &Producer{producer: producer}
	p.wg.Add(2)
	go p.handleSuccesses()
	go p.handleErrors()
	return p
}

// SendWithContext 异步发送消息
func (p *Producer) SendWithContext(ctx context.Context, topic string, key, value []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("producer is closed")
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
	}
	if key != nil {
		msg.Key = sarama.ByteEncoder(key)
	}

	select {
	case p.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Producer) handleSuccesses() {
	defer p.wg.Done()

	for msg := range p.producer.Successes() {
		logger.Debug("kafka message sent",
			zap.String("topic", msg.Topic),
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset))
	}
}

func (p *Producer) handleErrors() {
	defer p.wg.Done()

	for err := range p.producer.Errors() {
		logger.Error("kafka message send failed",
			zap.String("topic", err.Msg.Topic),
			zap.Error(err.Err))
	}
}

// Close 关闭生产者并等待回执处理协程退出
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer failed: %w", err)
	}
	p.wg.Wait()

	logger.Info("kafka producer closed")
	return nil
}
