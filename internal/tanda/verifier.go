// Package tanda 校验 tanda (轮转储蓄会) 每轮缴款
package tanda

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/eidos-exchange/eidos-ubi/internal/model"
	"github.com/eidos-exchange/eidos-ubi/pkg/errors"
)

// Verify 校验一轮缴款是否齐全
// 非参与者的缴款不计入 TotalCollected
func Verify(req *model.TandaVerificationRequest) (*model.TandaVerificationResult, error) {
	if req == nil || req.TandaID == "" || len(req.Participants) == 0 {
		return nil, errors.ErrInvalidRequest.WithMessage("tanda sin participantes")
	}
	if !req.ExpectedContribution.IsPositive() {
		return nil, errors.ErrInvalidAmount
	}

	res := &model.TandaVerificationResult{
		TandaID:        req.TandaID,
		Round:          req.Round,
		Missing:        []string{},
		Shortfall:      decimal.Zero,
		TotalCollected: decimal.Zero,
	}

	seen := make(map[string]struct{}, len(req.Participants))
	for _, p := range req.Participants {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}

		paid, ok := req.Contributions[p]
		if !ok || paid.IsNegative() {
			paid = decimal.Zero
		}
		res.TotalCollected = res.TotalCollected.Add(paid)
		if paid.LessThan(req.ExpectedContribution) {
			res.Missing = append(res.Missing, p)
			res.Shortfall = res.Shortfall.Add(req.ExpectedContribution.Sub(paid))
		}
	}
	sort.Strings(res.Missing)
	res.Verified = len(res.Missing) == 0
	return res, nil
}
