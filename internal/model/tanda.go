package model

import "github.com/shopspring/decimal"

// TandaVerificationRequest 校验一轮 tanda 的缴款情况
type TandaVerificationRequest struct {
	TandaID              string                     `json:"tanda_id"`
	Round                int                        `json:"round"`
	Participants         []string                   `json:"participants"`
	Contributions        map[string]decimal.Decimal `json:"contributions"`
	ExpectedContribution decimal.Decimal            `json:"expected_contribution"`
}

// TandaVerificationResult 校验结果
type TandaVerificationResult struct {
	TandaID        string          `json:"tanda_id"`
	Round          int             `json:"round"`
	Verified       bool            `json:"verified"`
	Missing        []string        `json:"missing"`
	Shortfall      decimal.Decimal `json:"shortfall"`
	TotalCollected decimal.Decimal `json:"total_collected"`
}
