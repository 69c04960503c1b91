package model

import "github.com/shopspring/decimal"

// UBIFactors 计算个性化 UBI 时使用的输入因子
type UBIFactors struct {
	ReputationScore          int     `json:"reputation_score"`
	Streak                   int     `json:"streak"`
	UserActivity             float64 `json:"user_activity"`
	CommunityAverageActivity float64 `json:"community_average_activity"`
	StreakBonusApplied       bool    `json:"streak_bonus_applied"`
}

// UBICalculation 个性化 UBI 计算结果
type UBICalculation struct {
	BaseAmount           decimal.Decimal `json:"base_amount"`
	ReputationMultiplier float64         `json:"reputation_multiplier"`
	StreakMultiplier     float64         `json:"streak_multiplier"`
	CommunityMultiplier  float64         `json:"community_multiplier"`
	// TotalMultiplier 封顶后的组合倍数, 不含 streak 奖励
	TotalMultiplier float64         `json:"total_multiplier"`
	FinalAmount     decimal.Decimal `json:"final_amount"`
	Reason          ClaimReason     `json:"reason"`
	Factors         UBIFactors      `json:"factors"`
}

// Multiplier 最终金额相对基础金额的倍数
func (c *UBICalculation) Multiplier() float64 {
	if c.BaseAmount.IsZero() {
		return 0
	}
	m, _ := c.FinalAmount.Div(c.BaseAmount).Float64()
	return m
}
