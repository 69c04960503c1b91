package eligibility

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos-ubi/internal/model"
	"github.com/eidos-exchange/eidos-ubi/pkg/errors"
)

var now = time.Date(2026, 5, 10, 9, 30, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := now.Add(-d)
	return &t
}

func TestEvaluate_CooldownTenHoursAgo(t *testing.T) {
	last := at(10 * time.Hour)
	d := Evaluate(&model.User{ID: "u1", ReputationScore: 80, LastClaimDate: last}, now)

	assert.False(t, d.Eligible())
	assert.Equal(t, StateCooldown, d.State)
	require.NotNil(t, d.NextEligible)
	assert.True(t, d.NextEligible.Equal(last.Add(24*time.Hour)))
	assert.Equal(t, ReasonCooldown, d.Reason)
}

func TestEvaluate_CooldownBoundary(t *testing.T) {
	// 恰好 24h 时不再冷却
	d := Evaluate(&model.User{ReputationScore: 80, LastClaimDate: at(24 * time.Hour)}, now)
	assert.Equal(t, StateEligible, d.State)

	d = Evaluate(&model.User{ReputationScore: 80, LastClaimDate: at(24*time.Hour - time.Nanosecond)}, now)
	assert.Equal(t, StateCooldown, d.State)
}

func TestEvaluate_CooldownTakesPrecedence(t *testing.T) {
	d := Evaluate(&model.User{ReputationScore: 5, LastClaimDate: at(time.Hour)}, now)
	assert.Equal(t, StateCooldown, d.State)
}

func TestEvaluate_InsufficientReputation(t *testing.T) {
	d := Evaluate(&model.User{ReputationScore: 19}, now)
	assert.Equal(t, StateIneligible, d.State)
	assert.Equal(t, ReasonInsufficientReputation, d.Reason)
	assert.Nil(t, d.NextEligible)

	d = Evaluate(&model.User{ReputationScore: 20, LastClaimDate: at(48 * time.Hour)}, now)
	assert.True(t, d.Eligible())
}

func TestEvaluate_NeverClaimed(t *testing.T) {
	d := Evaluate(&model.User{ReputationScore: 50}, now)
	assert.True(t, d.Eligible())
	assert.NoError(t, d.Err())
}

func TestDecision_Err(t *testing.T) {
	last := at(2 * time.Hour)
	err := Evaluate(&model.User{ReputationScore: 50, LastClaimDate: last}, now).Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCooldownActive))

	var bizErr *errors.Error
	require.ErrorAs(t, err, &bizErr)
	assert.Equal(t, last.Add(24*time.Hour).Format(time.RFC3339), bizErr.Details["next_eligible"])

	err = Evaluate(&model.User{ReputationScore: 1}, now).Err()
	assert.True(t, errors.Is(err, errors.ErrInsufficientReputation))
}

func TestEvaluate_IsPure(t *testing.T) {
	u := &model.User{ReputationScore: 70, LastClaimDate: at(3 * time.Hour)}
	first := Evaluate(u, now)
	second := Evaluate(u, now)
	assert.Equal(t, first, second)
	assert.Equal(t, 70, u.ReputationScore)
}
