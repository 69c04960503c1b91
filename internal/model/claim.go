package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ClaimReason 领取原因
type ClaimReason string

const (
	ClaimReasonDaily     ClaimReason = "daily"
	ClaimReasonBonus     ClaimReason = "bonus"
	ClaimReasonCommunity ClaimReason = "community"
	ClaimReasonStreak    ClaimReason = "streak"
)

// Valid 是否为已知原因
func (r ClaimReason) Valid() bool {
	switch r {
	case ClaimReasonDaily, ClaimReasonBonus, ClaimReasonCommunity, ClaimReasonStreak:
		return true
	}
	return false
}

// CountsTowardCooldown daily 与 streak 领取都受 24h 冷却约束
func (r ClaimReason) CountsTowardCooldown() bool {
	return r == ClaimReasonDaily || r == ClaimReasonStreak
}

// Claim 一次 UBI 领取, 创建后不可变
// TxHash 由外部结算层回填
type Claim struct {
	ID          string          `gorm:"column:id;primaryKey;type:varchar(64)" json:"id"`
	UserID      string          `gorm:"column:user_id;type:varchar(64);not null;index:idx_claim_user_time,priority:1" json:"user_id"`
	CommunityID string          `gorm:"column:community_id;type:varchar(64);index" json:"community_id,omitempty"`
	Amount      decimal.Decimal `gorm:"column:amount;type:decimal(36,18);not null" json:"amount"`
	Timestamp   time.Time       `gorm:"column:claimed_at;not null;index:idx_claim_user_time,priority:2" json:"timestamp"`
	Multiplier  float64         `gorm:"column:multiplier;not null" json:"multiplier"`
	Reason      ClaimReason     `gorm:"column:reason;type:varchar(16);not null" json:"reason"`
	TxHash      *string         `gorm:"column:tx_hash;type:varchar(80)" json:"tx_hash,omitempty"`
}

// TableName 表名
func (Claim) TableName() string {
	return "ubi_claims"
}
