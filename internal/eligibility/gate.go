// Package eligibility 判断用户当前是否可以领取 UBI
//
// 判定不保存任何状态, 每次调用都由 (距上次领取的时间, 声誉分) 重新推导:
//
//	now - lastClaimDate < 24h  -> Cooldown (nextEligible = lastClaimDate + 24h)
//	reputationScore < 20       -> Ineligible
//	otherwise                  -> Eligible
package eligibility

import (
	"time"

	"github.com/eidos-exchange/eidos-ubi/internal/model"
	"github.com/eidos-exchange/eidos-ubi/pkg/errors"
)

const (
	// CooldownPeriod 两次领取之间的最短间隔
	CooldownPeriod = 24 * time.Hour
	// MinReputationScore 领取所需最低声誉分
	MinReputationScore = 20

	ReasonCooldown               = "Debes esperar 24 horas entre claims"
	ReasonInsufficientReputation = "insufficient reputation"
)

// State 判定结果
type State string

const (
	StateEligible   State = "eligible"
	StateCooldown   State = "cooldown"
	StateIneligible State = "ineligible"
)

// Decision 领取资格判定
type Decision struct {
	State        State
	Reason       string
	NextEligible *time.Time
}

// Eligible 是否可以领取
func (d Decision) Eligible() bool {
	return d.State == StateEligible
}

// Err 将判定转换为业务错误, 可领取时返回 nil
func (d Decision) Err() error {
	switch d.State {
	case StateCooldown:
		return errors.ErrCooldownActive.WithDetail("next_eligible", d.NextEligible.UTC().Format(time.RFC3339))
	case StateIneligible:
		return errors.ErrInsufficientReputation
	}
	return nil
}

// Evaluate 在时刻 now 判定用户资格
func Evaluate(user *model.User, now time.Time) Decision {
	if user.LastClaimDate != nil && now.Sub(*user.LastClaimDate) < CooldownPeriod {
		next := user.LastClaimDate.Add(CooldownPeriod)
		return Decision{
			State:        StateCooldown,
			Reason:       ReasonCooldown,
			NextEligible: &next,
		}
	}

	if user.ReputationScore < MinReputationScore {
		return Decision{
			State:  StateIneligible,
			Reason: ReasonInsufficientReputation,
		}
	}

	return Decision{State: StateEligible}
}
