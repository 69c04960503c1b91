// Package model 定义 UBI 引擎的数据模型
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User 社区成员
// 只由领取流程修改; 领取历史只追加, 不删除
type User struct {
	ID              string          `gorm:"column:id;primaryKey;type:varchar(64)" json:"id"`
	Address         string          `gorm:"column:address;type:varchar(64);index" json:"address"`
	ReputationScore int             `gorm:"column:reputation_score;not null;default:0" json:"reputation_score"`
	ClaimHistory    []Claim         `gorm:"foreignKey:UserID;references:ID" json:"claim_history,omitempty"`
	TotalClaimed    decimal.Decimal `gorm:"column:total_claimed;type:decimal(36,18);not null;default:0" json:"total_claimed"`
	Streak          int             `gorm:"column:streak;not null;default:0" json:"streak"`
	LastClaimDate   *time.Time      `gorm:"column:last_claim_date" json:"last_claim_date,omitempty"`
	// Eligible 派生字段, 由外部成员管理刷新, 不作为领取判定依据
	Eligible  bool      `gorm:"column:eligible;not null;default:false" json:"eligible"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// TableName 表名
func (User) TableName() string {
	return "ubi_users"
}

// Clone 深拷贝 (含领取历史)
func (u User) Clone() User {
	c := u
	if u.ClaimHistory != nil {
		c.ClaimHistory = make([]Claim, len(u.ClaimHistory))
		copy(c.ClaimHistory, u.ClaimHistory)
	}
	if u.LastClaimDate != nil {
		t := *u.LastClaimDate
		c.LastClaimDate = &t
	}
	return c
}
