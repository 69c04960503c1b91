// Package publisher 发布领取与分配事件, 供外部结算层上链
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-ubi/internal/kafka"
	"github.com/eidos-exchange/eidos-ubi/internal/model"
	"github.com/eidos-exchange/eidos-ubi/pkg/logger"
)

// KafkaProducer 生产者接口
type KafkaProducer interface {
	SendWithContext(ctx context.Context, topic string, key, value []byte) error
}

// SettlementPublisher 结算事件发布者
type SettlementPublisher struct {
	producer KafkaProducer
}

// NewSettlementPublisher 创建发布者, producer 为 nil 时不发布
func NewSettlementPublisher(producer KafkaProducer) *SettlementPublisher {
	return &SettlementPublisher{producer: producer}
}

// ClaimMessage 领取事件
type ClaimMessage struct {
	ClaimID     string  `json:"claim_id"`
	UserID      string  `json:"user_id"`
	Address     string  `json:"address,omitempty"`
	CommunityID string  `json:"community_id,omitempty"`
	Amount      string  `json:"amount"`
	Multiplier  float64 `json:"multiplier"`
	Reason      string  `json:"reason"`
	ClaimedAt   int64   `json:"claimed_at"`
}

// DistributionMessage 社区分配事件
type DistributionMessage struct {
	DistributionID string            `json:"distribution_id"`
	CommunityID    string            `json:"community_id"`
	Requested      string            `json:"requested"`
	Distributed    string            `json:"distributed"`
	Payouts        map[string]string `json:"payouts"`
	CreatedAt      int64             `json:"created_at"`
}

// PublishClaim 发布领取事件, 以用户 ID 作为分区键保证同一用户的顺序
func (p *SettlementPublisher) PublishClaim(ctx context.Context, claim *model.Claim, address string) error {
	if p.producer == nil {
		return nil
	}

	msg := &ClaimMessage{
		ClaimID:     claim.ID,
		UserID:      claim.UserID,
		Address:     settlementAddress(claim.UserID, address),
		CommunityID: claim.CommunityID,
		Amount:      claim.Amount.String(),
		Multiplier:  claim.Multiplier,
		Reason:      string(claim.Reason),
		ClaimedAt:   claim.Timestamp.UnixMilli(),
	}
	return p.send(ctx, kafka.TopicClaims, claim.UserID, msg)
}

// PublishDistribution 发布社区分配事件
func (p *SettlementPublisher) PublishDistribution(ctx context.Context, distributionID, communityID string, requested, distributed decimal.Decimal, payouts map[string]decimal.Decimal, at time.Time) error {
	if p.producer == nil {
		return nil
	}

	msg := &DistributionMessage{
		DistributionID: distributionID,
		CommunityID:    communityID,
		Requested:      requested.String(),
		Distributed:    distributed.String(),
		Payouts:        make(map[string]string, len(payouts)),
		CreatedAt:      at.UnixMilli(),
	}
	for id, amount := range payouts {
		msg.Payouts[id] = amount.String()
	}
	return p.send(ctx, kafka.TopicDistributions, communityID, msg)
}

// settlementAddress 返回 EIP-55 校验和地址, 非法地址置空由结算层按用户 ID 处理
func settlementAddress(userID, address string) string {
	if address == "" {
		return ""
	}
	if !common.IsHexAddress(address) {
		logger.Warn("invalid settlement address",
			zap.String("user_id", userID),
			zap.String("address", address))
		return ""
	}
	return common.HexToAddress(address).Hex()
}

func (p *SettlementPublisher) send(ctx context.Context, topic, key string, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", topic, err)
	}

	if err := p.producer.SendWithContext(ctx, topic, []byte(key), data); err != nil {
		logger.Error("publish settlement event failed",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("send %s: %w", topic, err)
	}

	logger.Debug("settlement event published",
		zap.String("topic", topic),
		zap.String("key", key))
	return nil
}
