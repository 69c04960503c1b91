package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eidos-exchange/eidos-ubi/internal/eligibility"
	"github.com/eidos-exchange/eidos-ubi/internal/metrics"
	"github.com/eidos-exchange/eidos-ubi/internal/model"
	"github.com/eidos-exchange/eidos-ubi/pkg/errors"
	"github.com/eidos-exchange/eidos-ubi/pkg/logger"
)

// EligibilityResult 领取资格
type EligibilityResult struct {
	Eligible         bool       `json:"eligible"`
	Reason           string     `json:"reason,omitempty"`
	NextEligibleDate *time.Time `json:"next_eligible_date,omitempty"`
}

// ClaimResult 领取结果, 失败时 Success 为 false 并携带错误码
type ClaimResult struct {
	Success          bool                  `json:"success"`
	Claim            *model.Claim          `json:"claim,omitempty"`
	Calculation      *model.UBICalculation `json:"calculation,omitempty"`
	AuditJobID       string                `json:"audit_job_id,omitempty"`
	NextEligibleDate *time.Time            `json:"next_eligible_date,omitempty"`
	Code             string                `json:"code,omitempty"`
	Error            string                `json:"error,omitempty"`
}

// IsEligibleForClaim 判定用户当前能否领取
func (e *Engine) IsEligibleForClaim(user *model.User) EligibilityResult {
	d := eligibility.Evaluate(user, e.now())
	return EligibilityResult{
		Eligible:         d.Eligible(),
		Reason:           d.Reason,
		NextEligibleDate: d.NextEligible,
	}
}

// CalculatePersonalizedUBI 计算个性化领取金额
func (e *Engine) CalculatePersonalizedUBI(user *model.User, community *model.Community) *model.UBICalculation {
	return e.calculator.CalculateAt(user, community, e.now())
}

// ProcessUBIClaim 处理一次领取, 同一用户的领取串行执行
func (e *Engine) ProcessUBIClaim(ctx context.Context, userID, communityID string) ClaimResult {
	start := time.Now()
	var res ClaimResult

	err := e.locker.WithLock(ctx, claimLockPrefix+userID, func(ctx context.Context) error {
		var err error
		res, err = e.claimLocked(ctx, userID, communityID)
		return err
	})
	if err != nil {
		res.Success = false
		res.Claim = nil
		res.Code, res.Error = failure(err)
		metrics.RecordClaim(res.Code, "", decimal.Zero, time.Since(start))
		logger.Info("ubi claim rejected",
			zap.String("user_id", userID),
			zap.String("community_id", communityID),
			zap.String("code", res.Code))
		return res
	}

	metrics.RecordClaim("success", string(res.Claim.Reason), res.Claim.Amount, time.Since(start))
	return res
}

func (e *Engine) claimLocked(ctx context.Context, userID, communityID string) (ClaimResult, error) {
	var res ClaimResult

	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return res, err
	}

	var community *model.Community
	if communityID != "" {
		community, err = e.communities.GetByID(ctx, communityID)
		if err != nil {
			return res, err
		}
		if !community.HasMember(userID) {
			return res, errors.ErrInvalidRequest.
				WithMessage("El usuario no pertenece a la comunidad").
				WithDetail("community_id", communityID)
		}
	}

	now := e.now()
	decision := eligibility.Evaluate(user, now)
	if !decision.Eligible() {
		res.NextEligibleDate = decision.NextEligible
		return res, decision.Err()
	}

	calc := e.calculator.CalculateAt(user, community, now)
	claim := &model.Claim{
		ID:          e.ids.GenerateString("clm"),
		UserID:      user.ID,
		CommunityID: communityID,
		Amount:      calc.FinalAmount,
		Timestamp:   now,
		Multiplier:  calc.Multiplier(),
		Reason:      calc.Reason,
	}

	updated := user.Clone()
	updated.Streak = e.nextStreak(user, now)
	updated.LastClaimDate = &now
	updated.TotalClaimed = user.TotalClaimed.Add(claim.Amount)

	if err := e.claims.Record(ctx, claim, &updated); err != nil {
		return res, err
	}

	res = ClaimResult{Success: true, Claim: claim, Calculation: calc}

	if e.publisher != nil {
		if err := e.publisher.PublishClaim(ctx, claim, user.Address); err != nil {
			// 领取已落库, 结算层可通过 ListUnsettled 补偿
			logger.Error("publish claim failed", zap.String("claim_id", claim.ID), zap.Error(err))
		}
	}

	if e.cfg.AuditClaims && e.jobs != nil {
		snapshot := model.Community{}
		if community != nil {
			snapshot = *community.Snapshot()
		}
		jobID, err := e.jobs.Submit(ctx, model.UBICalculationInput{User: user.Clone(), Community: snapshot, At: now})
		if err != nil {
			logger.Warn("submit claim audit failed", zap.String("claim_id", claim.ID), zap.Error(err))
		} else {
			res.AuditJobID = jobID
		}
	}

	logger.Info("ubi claim processed",
		zap.String("user_id", user.ID),
		zap.String("claim_id", claim.ID),
		zap.String("amount", claim.Amount.String()),
		zap.String("reason", string(claim.Reason)),
		zap.Int("streak", updated.Streak))

	return res, nil
}

// nextStreak 上次领取在 StreakWindow 内时加一, 否则从 1 开始
func (e *Engine) nextStreak(user *model.User, now time.Time) int {
	if user.LastClaimDate == nil || now.Sub(*user.LastClaimDate) > e.cfg.StreakWindow {
		return 1
	}
	return user.Streak + 1
}

// ProcessClaims 批量处理同一社区的领取, 结果顺序与 userIDs 一致
func (e *Engine) ProcessClaims(ctx context.Context, communityID string, userIDs []string) []ClaimResult {
	results := make([]ClaimResult, len(userIDs))

	var g errgroup.Group
	g.SetLimit(e.cfg.BatchConcurrency)
	for i, userID := range userIDs {
		i, userID := i, userID
		g.Go(func() error {
			results[i] = e.ProcessUBIClaim(ctx, userID, communityID)
			return nil
		})
	}
	_ = g.Wait()

	return results
}
