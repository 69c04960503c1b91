package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RuleType 分配规则类型
type RuleType string

const (
	RuleTypeReputation RuleType = "reputation"
	RuleTypeActivity   RuleType = "activity"
	RuleTypeStreak     RuleType = "streak"
	RuleTypeCommunity  RuleType = "community"
)

// DistributionRule 社区分配规则
// 权重不要求合计为 1; 当前分配器固定组合 reputation 0.6 / activity 0.4
type DistributionRule struct {
	ID          string   `gorm:"column:id;primaryKey;type:varchar(64)" json:"id"`
	CommunityID string   `gorm:"column:community_id;type:varchar(64);not null;index" json:"community_id"`
	Type        RuleType `gorm:"column:type;type:varchar(16);not null" json:"type"`
	Weight      float64  `gorm:"column:weight;not null" json:"weight"`
	Min         float64  `gorm:"column:min_value" json:"min"`
	Max         float64  `gorm:"column:max_value" json:"max"`
	Position    int      `gorm:"column:position;not null;default:0" json:"position"`
}

// TableName 表名
func (DistributionRule) TableName() string {
	return "ubi_distribution_rules"
}

// Community 社区及其资金池
type Community struct {
	ID                string             `gorm:"column:id;primaryKey;type:varchar(64)" json:"id"`
	Name              string             `gorm:"column:name;type:varchar(128)" json:"name"`
	Members           []User             `gorm:"many2many:ubi_community_members;joinForeignKey:CommunityID;joinReferences:UserID" json:"members"`
	TotalPool         decimal.Decimal    `gorm:"column:total_pool;type:decimal(36,18);not null;default:0" json:"total_pool"`
	DistributionRules []DistributionRule `gorm:"foreignKey:CommunityID;references:ID" json:"distribution_rules"`
	CreatedAt         time.Time          `gorm:"column:created_at" json:"created_at"`
	UpdatedAt         time.Time          `gorm:"column:updated_at" json:"updated_at"`
}

// TableName 表名
func (Community) TableName() string {
	return "ubi_communities"
}

// Snapshot 返回成员列表的不可变副本, 之后的成员变更对副本不可见
func (c *Community) Snapshot() *Community {
	if c == nil {
		return nil
	}
	s := *c
	s.Members = make([]User, len(c.Members))
	for i, m := range c.Members {
		s.Members[i] = m.Clone()
	}
	s.DistributionRules = make([]DistributionRule, len(c.DistributionRules))
	copy(s.DistributionRules, c.DistributionRules)
	return &s
}

// HasMember 判断是否包含成员
func (c *Community) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m.ID == userID {
			return true
		}
	}
	return false
}
