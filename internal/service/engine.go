// Package service 组合评分 / 资格判定 / 计算 / 分配, 对外提供 UBI 引擎操作
package service

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-ubi/internal/compute"
	"github.com/eidos-exchange/eidos-ubi/internal/model"
	"github.com/eidos-exchange/eidos-ubi/internal/repository"
	"github.com/eidos-exchange/eidos-ubi/internal/reputation"
	"github.com/eidos-exchange/eidos-ubi/internal/ubi"
	"github.com/eidos-exchange/eidos-ubi/pkg/errors"
	"github.com/eidos-exchange/eidos-ubi/pkg/id"
	"github.com/eidos-exchange/eidos-ubi/pkg/lock"
	"github.com/eidos-exchange/eidos-ubi/pkg/logger"
)

const (
	claimLockPrefix     = "ubi:claim:"
	communityLockPrefix = "ubi:community:"
)

// EventPublisher 结算事件发布
type EventPublisher interface {
	PublishClaim(ctx context.Context, claim *model.Claim, address string) error
	PublishDistribution(ctx context.Context, distributionID, communityID string, requested, distributed decimal.Decimal, payouts map[string]decimal.Decimal, at time.Time) error
}

// ReputationCache 声誉分缓存
type ReputationCache interface {
	Get(ctx context.Context, userID string) (*model.ReputationData, bool, error)
	Set(ctx context.Context, data *model.ReputationData) error
}

// Config 引擎配置
type Config struct {
	// StreakWindow 与上次领取间隔不超过该值时连续天数加一, 否则重置为 1
	StreakWindow time.Duration
	// BatchConcurrency 批量领取的并发上限
	BatchConcurrency int
	// AuditClaims 每次成功领取同时提交一个 ubi_calculation 计算任务留档
	AuditClaims bool
}

// DefaultConfig 默认引擎配置
var DefaultConfig = Config{
	StreakWindow:     48 * time.Hour,
	BatchConcurrency: 8,
}

// Deps 引擎依赖
type Deps struct {
	Users       repository.UserRepository
	Communities repository.CommunityRepository
	Claims      repository.ClaimRepository
	Jobs        *compute.Manager
	Locker      lock.Locker
	IDs         *id.Generator
	Scorer      *reputation.Scorer
	Calculator  *ubi.Calculator
	// 可选
	Publisher EventPublisher
	Cache     ReputationCache
}

// Engine UBI 引擎
type Engine struct {
	cfg         Config
	users       repository.UserRepository
	communities repository.CommunityRepository
	claims      repository.ClaimRepository
	jobs        *compute.Manager
	locker      lock.Locker
	ids         *id.Generator
	scorer      *reputation.Scorer
	calculator  *ubi.Calculator
	publisher   EventPublisher
	cache       ReputationCache
	now         func() time.Time
}

// Option 引擎选项
type Option func(*Engine)

// WithClock 指定时钟 (测试用)
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine 创建引擎
func NewEngine(cfg Config, deps Deps, opts ...Option) *Engine {
	if cfg.StreakWindow <= 0 {
		cfg.StreakWindow = DefaultConfig.StreakWindow
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = DefaultConfig.BatchConcurrency
	}

	e := &Engine{
		cfg:         cfg,
		users:       deps.Users,
		communities: deps.Communities,
		claims:      deps.Claims,
		jobs:        deps.Jobs,
		locker:      deps.Locker,
		ids:         deps.IDs,
		scorer:      deps.Scorer,
		calculator:  deps.Calculator,
		publisher:   deps.Publisher,
		cache:       deps.Cache,
		now:         time.Now,
	}
	if e.locker == nil {
		e.locker = lock.NewLocalLocker()
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CalculateReputationScore 计算声誉分, 写入缓存并同步到用户记录
func (e *Engine) CalculateReputationScore(ctx context.Context, userID string, data model.ActivityData) (*model.ReputationData, error) {
	rep, err := e.scorer.Score(userID, data)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, rep); err != nil {
			logger.Warn("cache reputation failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	if e.users != nil {
		err := e.users.UpdateReputation(ctx, userID, rep.Score)
		if err != nil && !errors.Is(err, errors.ErrUserNotFound) {
			return nil, err
		}
	}
	return rep, nil
}

// GetReputation 优先读缓存, 未命中时返回用户记录中的分数
func (e *Engine) GetReputation(ctx context.Context, userID string) (*model.ReputationData, error) {
	if e.cache != nil {
		data, ok, err := e.cache.Get(ctx, userID)
		if err != nil {
			logger.Warn("read reputation cache failed", zap.String("user_id", userID), zap.Error(err))
		} else if ok {
			return data, nil
		}
	}

	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.ReputationData{UserID: user.ID, Score: user.ReputationScore, LastUpdated: user.UpdatedAt}, nil
}

// ListComputations 按创建顺序列出计算任务
func (e *Engine) ListComputations() []*model.ComputationJob {
	return e.jobs.ListAll()
}

// SubmitComputation 提交异步计算任务
func (e *Engine) SubmitComputation(ctx context.Context, input model.JobInput) (string, error) {
	return e.jobs.Submit(ctx, input)
}

// GetComputationStatus 查询计算任务
func (e *Engine) GetComputationStatus(jobID string) (*model.ComputationJob, bool) {
	return e.jobs.GetStatus(jobID)
}

// AttachSettlement 回填结算哈希, 每个领取只能回填一次
func (e *Engine) AttachSettlement(ctx context.Context, claimID, txHash string) error {
	if claimID == "" || txHash == "" {
		return errors.ErrInvalidRequest.WithMessage("claim_id y tx_hash son obligatorios")
	}
	return e.claims.AttachTxHash(ctx, claimID, txHash)
}

// failure 将错误转换为对外的错误码与消息
func failure(err error) (string, string) {
	if stderrors.Is(err, lock.ErrLockAcquireFailed) {
		err = errors.ErrClaimInProgress
	}
	bizErr := errors.FromError(err)
	return bizErr.Code, bizErr.Message
}
