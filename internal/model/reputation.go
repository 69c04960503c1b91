package model

import "time"

// PaymentHistory 付款记录汇总
type PaymentHistory struct {
	TotalPayments  int `json:"total_payments"`
	OnTimePayments int `json:"on_time_payments"`
}

// CommunityActivity 社区贡献汇总
type CommunityActivity struct {
	Contributions int `json:"contributions"`
}

// UBIClaimStats UBI 领取连续性汇总
type UBIClaimStats struct {
	ConsistentDays int `json:"consistent_days"`
}

// ActivityData 计算声誉分所需的行为历史
type ActivityData struct {
	TandaHistory      []Claim           `json:"tanda_history"`
	PaymentHistory    PaymentHistory    `json:"payment_history"`
	CommunityActivity CommunityActivity `json:"community_activity"`
	UBIClaims         UBIClaimStats     `json:"ubi_claims"`
}

// ReputationFactors 各因子得分 (0-100)
type ReputationFactors struct {
	TandaParticipation    int `json:"tanda_participation"`
	PaymentReliability    int `json:"payment_reliability"`
	CommunityContribution int `json:"community_contribution"`
	UBIClaimConsistency   int `json:"ubi_claim_consistency"`
}

// ReputationData 声誉计算结果
type ReputationData struct {
	UserID      string            `json:"user_id"`
	Score       int               `json:"score"`
	Factors     ReputationFactors `json:"factors"`
	LastUpdated time.Time         `json:"last_updated"`
}
