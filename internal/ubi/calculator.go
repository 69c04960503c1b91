// Package ubi 计算个性化 UBI 领取金额
package ubi

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eidos-exchange/eidos-ubi/internal/model"
	"github.com/eidos-exchange/eidos-ubi/internal/reputation"
)

// Config 计算参数
type Config struct {
	BaseAmount             decimal.Decimal
	MaxMultiplier          float64
	StreakBonusPerDay      float64
	MaxStreakMultiplier    float64
	MinReputationMult      float64
	MaxReputationMult      float64
	MaxCommunityMultiplier float64
	// StreakThreshold 达到该连续天数后原因升级为 streak 并乘以 StreakReasonBonus
	StreakThreshold   int
	StreakReasonBonus decimal.Decimal
	ActivityWindow    time.Duration
}

// DefaultConfig 默认计算参数
var DefaultConfig = Config{
	BaseAmount:             decimal.NewFromInt(10),
	MaxMultiplier:          3.0,
	StreakBonusPerDay:      0.1,
	MaxStreakMultiplier:    1.5,
	MinReputationMult:      0.5,
	MaxReputationMult:      2.0,
	MaxCommunityMultiplier: 1.3,
	StreakThreshold:        7,
	StreakReasonBonus:      decimal.NewFromFloat(1.2),
	ActivityWindow:         30 * 24 * time.Hour,
}

// Calculator UBI 计算器, 纯计算无 I/O
type Calculator struct {
	cfg Config
	now func() time.Time
}

// NewCalculator 创建计算器, cfg 为 nil 时使用默认参数
func NewCalculator(cfg *Config, now func() time.Time) *Calculator {
	c := &Calculator{cfg: DefaultConfig, now: now}
	if cfg != nil {
		c.cfg = *cfg
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Config 返回计算参数
func (c *Calculator) Config() Config {
	return c.cfg
}

// Calculate 以当前时刻计算
func (c *Calculator) Calculate(user *model.User, community *model.Community) *model.UBICalculation {
	return c.CalculateAt(user, community, c.now())
}

// CalculateAt 以指定时刻计算
// 组合倍数先封顶 MaxMultiplier, 之后才叠加 streak 奖励, 实际上限为 3.6 倍
func (c *Calculator) CalculateAt(user *model.User, community *model.Community, at time.Time) *model.UBICalculation {
	repMult := c.ReputationMultiplier(user.ReputationScore)
	streakMult := c.StreakMultiplier(user.Streak)

	userActivity := c.ActivityScore(user, at)
	avgActivity := 0.0
	if community != nil {
		avgActivity = c.AverageActivity(community.Members, at)
	}
	communityMult := c.CommunityMultiplier(userActivity, avgActivity)

	total := math.Min(repMult*streakMult*communityMult, c.cfg.MaxMultiplier)

	base, _ := c.cfg.BaseAmount.Float64()
	finalAmount := decimal.NewFromFloat(reputation.Round(base * total))

	reason := model.ClaimReasonDaily
	bonus := false
	if user.Streak >= c.cfg.StreakThreshold {
		reason = model.ClaimReasonStreak
		finalAmount = finalAmount.Mul(c.cfg.StreakReasonBonus)
		bonus = true
	}

	return &model.UBICalculation{
		BaseAmount:           c.cfg.BaseAmount,
		ReputationMultiplier: repMult,
		StreakMultiplier:     streakMult,
		CommunityMultiplier:  communityMult,
		TotalMultiplier:      total,
		FinalAmount:          finalAmount,
		Reason:               reason,
		Factors: model.UBIFactors{
			ReputationScore:          user.ReputationScore,
			Streak:                   user.Streak,
			UserActivity:             userActivity,
			CommunityAverageActivity: avgActivity,
			StreakBonusApplied:       bonus,
		},
	}
}

// ReputationMultiplier clamp(score/50, 0.5, 2.0)
func (c *Calculator) ReputationMultiplier(score int) float64 {
	return clamp(float64(score)/50, c.cfg.MinReputationMult, c.cfg.MaxReputationMult)
}

// StreakMultiplier min(1 + streak*0.1, 1.5)
func (c *Calculator) StreakMultiplier(streak int) float64 {
	return math.Min(1+float64(max(streak, 0))*c.cfg.StreakBonusPerDay, c.cfg.MaxStreakMultiplier)
}

// CommunityMultiplier 活跃度高于社区平均时给予加成, 最多 1.3
func (c *Calculator) CommunityMultiplier(userActivity, avgActivity float64) float64 {
	if userActivity <= avgActivity {
		return 1.0
	}
	return math.Min(1+(userActivity-avgActivity)/100, c.cfg.MaxCommunityMultiplier)
}

// ActivityScore consistency*50 + avgClaimAmount*0.1
// consistency 为最近 30 天内的领取次数 / 30
func (c *Calculator) ActivityScore(user *model.User, at time.Time) float64 {
	if len(user.ClaimHistory) == 0 {
		return 0
	}

	since := at.Add(-c.cfg.ActivityWindow)
	recent := 0
	sum := decimal.Zero
	for _, claim := range user.ClaimHistory {
		if claim.Timestamp.After(since) && !claim.Timestamp.After(at) {
			recent++
		}
		sum = sum.Add(claim.Amount)
	}

	windowDays := c.cfg.ActivityWindow.Hours() / 24
	consistency := float64(recent) / windowDays
	avgAmount, _ := sum.Div(decimal.NewFromInt(int64(len(user.ClaimHistory)))).Float64()

	return consistency*50 + avgAmount*0.1
}

// AverageActivity 社区成员平均活跃度, 无成员时为 0
func (c *Calculator) AverageActivity(members []model.User, at time.Time) float64 {
	if len(members) == 0 {
		return 0
	}
	total := 0.0
	for i := range members {
		total += c.ActivityScore(&members[i], at)
	}
	return total / float64(len(members))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
