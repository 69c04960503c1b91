// Package reputation 根据行为历史计算 0-100 的声誉分
package reputation

import (
	"math"
	"time"

	"github.com/eidos-exchange/eidos-ubi/internal/model"
	"github.com/eidos-exchange/eidos-ubi/pkg/errors"
)

// 因子上限
const (
	maxTandaRounds    = 10
	maxContributions  = 20
	maxConsistentDays = 30
	MinScore          = 0
	MaxScore          = 100
)

// 因子权重, 合计为 1
const (
	weightTandaParticipation    = 0.3
	weightPaymentReliability    = 0.4
	weightCommunityContribution = 0.2
	weightUBIClaimConsistency   = 0.1
)

// Scorer 声誉评分器, 无副作用
type Scorer struct {
	now func() time.Time
}

// Option 评分器选项
type Option func(*Scorer)

// WithClock 指定时钟 (测试用)
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) {
		s.now = now
	}
}

// NewScorer 创建评分器
func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score 计算声誉分
func (s *Scorer) Score(userID string, data model.ActivityData) (*model.ReputationData, error) {
	if err := validate(data); err != nil {
		return nil, err
	}

	tanda := float64(min(len(data.TandaHistory), maxTandaRounds)) / maxTandaRounds
	payment := float64(data.PaymentHistory.OnTimePayments) / float64(max(data.PaymentHistory.TotalPayments, 1))
	community := float64(min(data.CommunityActivity.Contributions, maxContributions)) / maxContributions
	consistency := float64(min(data.UBIClaims.ConsistentDays, maxConsistentDays)) / maxConsistentDays

	total := Round(100 * (weightTandaParticipation*tanda +
		weightPaymentReliability*payment +
		weightCommunityContribution*community +
		weightUBIClaimConsistency*consistency))

	return &model.ReputationData{
		UserID: userID,
		Score:  Clamp(int(total)),
		Factors: model.ReputationFactors{
			TandaParticipation:    int(Round(tanda * 100)),
			PaymentReliability:    int(Round(payment * 100)),
			CommunityContribution: int(Round(community * 100)),
			UBIClaimConsistency:   int(Round(consistency * 100)),
		},
		LastUpdated: s.now(),
	}, nil
}

func validate(data model.ActivityData) error {
	p := data.PaymentHistory
	switch {
	case p.TotalPayments < 0, p.OnTimePayments < 0:
		return errors.ErrInvalidActivityData.WithDetail("field", "payment_history")
	case p.OnTimePayments > p.TotalPayments:
		return errors.ErrInvalidActivityData.WithDetail("field", "payment_history.on_time_payments")
	case data.CommunityActivity.Contributions < 0:
		return errors.ErrInvalidActivityData.WithDetail("field", "community_activity.contributions")
	case data.UBIClaims.ConsistentDays < 0:
		return errors.ErrInvalidActivityData.WithDetail("field", "ubi_claims.consistent_days")
	}
	return nil
}

// Round 四舍五入 (0.5 向上)
func Round(v float64) float64 {
	return math.Floor(v + 0.5)
}

// Clamp 将分数限制在 [0,100]
func Clamp(score int) int {
	return min(max(score, MinScore), MaxScore)
}
