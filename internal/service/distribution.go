package service

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-ubi/internal/distribution"
	"github.com/eidos-exchange/eidos-ubi/internal/metrics"
	"github.com/eidos-exchange/eidos-ubi/internal/model"
	"github.com/eidos-exchange/eidos-ubi/pkg/errors"
	"github.com/eidos-exchange/eidos-ubi/pkg/logger"
)

// DistributionResult 社区分配结果
type DistributionResult struct {
	Success        bool                       `json:"success"`
	DistributionID string                     `json:"distribution_id,omitempty"`
	Distribution   map[string]decimal.Decimal `json:"distribution,omitempty"`
	Total          decimal.Decimal            `json:"total"`
	Debited        decimal.Decimal            `json:"debited"`
	Code           string                     `json:"code,omitempty"`
	Error          string                     `json:"error,omitempty"`
}

// DistributeCommunityUBI 将 totalAmount 按权重分给社区合格成员并扣减资金池
func (e *Engine) DistributeCommunityUBI(ctx context.Context, communityID string, totalAmount decimal.Decimal) DistributionResult {
	var res DistributionResult

	err := e.locker.WithLock(ctx, communityLockPrefix+communityID, func(ctx context.Context) error {
		var err error
		res, err = e.distributeLocked(ctx, communityID, totalAmount)
		return err
	})
	if err != nil {
		res = DistributionResult{Total: decimal.Zero, Debited: decimal.Zero}
		res.Code, res.Error = failure(err)
		metrics.RecordDistribution(communityID, res.Code, decimal.Zero)
		logger.Warn("community distribution failed",
			zap.String("community_id", communityID),
			zap.String("amount", totalAmount.String()),
			zap.String("code", res.Code))
		return res
	}

	metrics.RecordDistribution(communityID, "success", res.Total)
	return res
}

func (e *Engine) distributeLocked(ctx context.Context, communityID string, totalAmount decimal.Decimal) (DistributionResult, error) {
	community, err := e.communities.GetByID(ctx, communityID)
	if err != nil {
		return DistributionResult{}, err
	}

	if totalAmount.GreaterThan(community.TotalPool) {
		return DistributionResult{}, errors.ErrInsufficientPool.
			WithDetail("pool", community.TotalPool.String()).
			WithDetail("requested", totalAmount.String())
	}

	now := e.now()
	d := distribution.NewDistributor(distribution.WithActivity(func(u *model.User) float64 {
		return e.calculator.ActivityScore(u, now)
	}))
	out, err := d.Distribute(community, totalAmount)
	if err != nil {
		return DistributionResult{}, err
	}

	// 逐人取整可能使合计略高于资金池, 扣减以资金池余额为上限
	debit := decimal.Min(out.Total, community.TotalPool)
	if debit.IsPositive() {
		if err := e.communities.DebitPool(ctx, communityID, debit); err != nil {
			return DistributionResult{}, err
		}
	}

	res := DistributionResult{
		Success:        true,
		DistributionID: e.ids.GenerateString("dst"),
		Distribution:   out.Distribution,
		Total:          out.Total,
		Debited:        debit,
	}

	if e.publisher != nil {
		if err := e.publisher.PublishDistribution(ctx, res.DistributionID, communityID, totalAmount, out.Total, out.Distribution, now); err != nil {
			logger.Error("publish distribution failed",
				zap.String("distribution_id", res.DistributionID),
				zap.Error(err))
		}
	}

	logger.Info("community distribution completed",
		zap.String("community_id", communityID),
		zap.String("distribution_id", res.DistributionID),
		zap.Int("members", len(out.Distribution)),
		zap.String("total", out.Total.String()),
		zap.String("debited", debit.String()))

	return res, nil
}
