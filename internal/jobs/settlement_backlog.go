package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-ubi/internal/model"
	"github.com/eidos-exchange/eidos-ubi/internal/scheduler"
	"github.com/eidos-exchange/eidos-ubi/pkg/logger"
)

// UnsettledClaimSource 未结算领取查询
type UnsettledClaimSource interface {
	ListUnsettled(ctx context.Context, before time.Time, limit int) ([]*model.Claim, error)
}

// AddressBook 用户地址查询
type AddressBook interface {
	ListByIDs(ctx context.Context, ids []string) ([]*model.User, error)
}

// ClaimPublisher 领取事件发布
type ClaimPublisher interface {
	PublishClaim(ctx context.Context, claim *model.Claim, address string) error
}

// SettlementBacklogConfig 重发配置
type SettlementBacklogConfig struct {
	// Grace 领取后超过该时长仍无 tx hash 才重发
	Grace     time.Duration
	BatchSize int
}

// SettlementBacklogJob 重发长时间未结算的领取事件
// 结算层按 claim_id 幂等
type SettlementBacklogJob struct {
	scheduler.BaseJob
	claims    UnsettledClaimSource
	users     AddressBook
	publisher ClaimPublisher
	cfg       SettlementBacklogConfig
	now       func() time.Time
}

// NewSettlementBacklogJob 创建任务
func NewSettlementBacklogJob(claims UnsettledClaimSource, users AddressBook, publisher ClaimPublisher, cfg SettlementBacklogConfig) *SettlementBacklogJob {
	if cfg.Grace <= 0 {
		cfg.Grace = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	def := scheduler.DefaultJobConfigs[scheduler.JobNameSettlementBacklog]
	return &SettlementBacklogJob{
		BaseJob:   scheduler.NewBaseJob(scheduler.JobNameSettlementBacklog, def.Timeout, def.RequiresLock),
		claims:    claims,
		users:     users,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Execute 执行
func (j *SettlementBacklogJob) Execute(ctx context.Context) (*scheduler.JobResult, error) {
	result := &scheduler.JobResult{Details: make(map[string]interface{})}

	claims, err := j.claims.ListUnsettled(ctx, j.now().Add(-j.cfg.Grace), j.cfg.BatchSize)
	if err != nil {
		return result, fmt.Errorf("list unsettled claims: %w", err)
	}
	result.ProcessedCount = len(claims)
	if len(claims) == 0 {
		return result, nil
	}

	addresses, err := j.addresses(ctx, claims)
	if err != nil {
		return result, err
	}

	for _, claim := range claims {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		if err := j.publisher.PublishClaim(ctx, claim, addresses[claim.UserID]); err != nil {
			result.ErrorCount++
			logger.Warn("republish claim failed",
				zap.String("claim_id", claim.ID),
				zap.Error(err))
			continue
		}
		result.AffectedCount++
	}

	result.Details["oldest_claim_id"] = claims[0].ID
	return result, nil
}

func (j *SettlementBacklogJob) addresses(ctx context.Context, claims []*model.Claim) (map[string]string, error) {
	seen := make(map[string]struct{}, len(claims))
	ids := make([]string, 0, len(claims))
	for _, c := range claims {
		if _, ok := seen[c.UserID]; ok {
			continue
		}
		seen[c.UserID] = struct{}{}
		ids = append(ids, c.UserID)
	}

	users, err := j.users.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load claim owners: %w", err)
	}
	out := make(map[string]string, len(users))
	for _, u := range users {
		out[u.ID] = u.Address
	}
	return out, nil
}
