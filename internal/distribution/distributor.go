// Package distribution 将社区资金池按声誉与活跃度分配给合格成员
package distribution

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/eidos-exchange/eidos-ubi/internal/model"
	"github.com/eidos-exchange/eidos-ubi/pkg/errors"
)

const (
	reputationWeight = 0.6
	activityWeight   = 0.4
)

// ActivityFunc 返回成员的活跃度分
type ActivityFunc func(member *model.User) float64

// Distributor 社区分配器
type Distributor struct {
	activity ActivityFunc
}

// Option 分配器选项
type Option func(*Distributor)

// WithActivity 指定活跃度来源
func WithActivity(fn ActivityFunc) Option {
	return func(d *Distributor) {
		d.activity = fn
	}
}

// NewDistributor 创建分配器, 未指定活跃度来源时活跃度为 0
func NewDistributor(opts ...Option) *Distributor {
	d := &Distributor{activity: func(*model.User) float64 { return 0 }}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Share 单个成员的分配明细
type Share struct {
	UserID string
	Weight float64
	Amount decimal.Decimal
}

// Result 分配结果
type Result struct {
	Distribution map[string]decimal.Decimal
	Shares       []Share
	Total        decimal.Decimal
}

// Distribute 计算分配方案
// 在调用时对成员列表做快照, 结果只包含 Eligible 成员
func (d *Distributor) Distribute(community *model.Community, totalAmount decimal.Decimal) (*Result, error) {
	if community == nil {
		return nil, errors.ErrCommunityNotConfigured
	}
	if !totalAmount.IsPositive() {
		return nil, errors.ErrInvalidAmount
	}

	snapshot := community.Snapshot()
	eligible := make([]*model.User, 0, len(snapshot.Members))
	for i := range snapshot.Members {
		if snapshot.Members[i].Eligible {
			eligible = append(eligible, &snapshot.Members[i])
		}
	}
	if len(eligible) == 0 {
		return nil, errors.ErrNoEligibleMembers
	}
	sort.SliceStable(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })

	weights := make([]float64, len(eligible))
	sum := 0.0
	for i, m := range eligible {
		weights[i] = Weight(m.ReputationScore, d.activity(m))
		sum += weights[i]
	}

	res := &Result{
		Distribution: make(map[string]decimal.Decimal, len(eligible)),
		Shares:       make([]Share, 0, len(eligible)),
		Total:        decimal.Zero,
	}
	for i, m := range eligible {
		share := 1 / float64(len(eligible))
		if sum > 0 {
			share = weights[i] / sum
		}
		amount := decimal.NewFromFloat(share).Mul(totalAmount).Round(0)
		res.Distribution[m.ID] = amount
		res.Shares = append(res.Shares, Share{UserID: m.ID, Weight: weights[i], Amount: amount})
		res.Total = res.Total.Add(amount)
	}
	return res, nil
}

// Weight (rep/100)*0.6 + min(activity/100, 1)*0.4
func Weight(reputation int, activity float64) float64 {
	return float64(reputation)/100*reputationWeight + math.Min(math.Max(activity, 0)/100, 1)*activityWeight
}
