// Package compute 管理异步隐私计算任务
// 计算后端通过 Provider 接口接入, 本地实现直接在进程内执行纯计算
package compute

import (
	"context"
	"fmt"
	"time"

	"github.com/eidos-exchange/eidos-ubi/internal/model"
	"github.com/eidos-exchange/eidos-ubi/internal/reputation"
	"github.com/eidos-exchange/eidos-ubi/internal/tanda"
	"github.com/eidos-exchange/eidos-ubi/internal/ubi"
	"github.com/eidos-exchange/eidos-ubi/pkg/errors"
)

// Provider 计算后端
type Provider interface {
	Name() string
	Execute(ctx context.Context, input model.JobInput) (model.JobOutput, error)
}

// LocalProvider 进程内同步执行
type LocalProvider struct {
	scorer     *reputation.Scorer
	calculator *ubi.Calculator
}

// NewLocalProvider 创建本地计算后端
func NewLocalProvider(scorer *reputation.Scorer, calculator *ubi.Calculator) *LocalProvider {
	return &LocalProvider{scorer: scorer, calculator: calculator}
}

// Name 后端名称
func (p *LocalProvider) Name() string {
	return "local"
}

// Execute 按输入类型分派
func (p *LocalProvider) Execute(ctx context.Context, input model.JobInput) (model.JobOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch in := input.(type) {
	case model.ReputationScoreInput:
		rep, err := p.scorer.Score(in.UserID, in.Activity)
		if err != nil {
			return nil, err
		}
		return model.ReputationScoreOutput{Reputation: *rep}, nil

	case model.UBICalculationInput:
		var calc *model.UBICalculation
		if in.At.IsZero() {
			calc = p.calculator.Calculate(&in.User, &in.Community)
		} else {
			calc = p.calculator.CalculateAt(&in.User, &in.Community, in.At)
		}
		return model.UBICalculationOutput{Calculation: *calc}, nil

	case model.TandaVerificationInput:
		res, err := tanda.Verify(&in.Request)
		if err != nil {
			return nil, err
		}
		return model.TandaVerificationOutput{Result: *res}, nil
	}

	return nil, errors.ErrUnsupportedJobType.WithDetail("type", fmt.Sprintf("%T", input))
}

// FuncProvider 用函数实现 Provider
type FuncProvider func(ctx context.Context, input model.JobInput) (model.JobOutput, error)

// Name 后端名称
func (f FuncProvider) Name() string {
	return "func"
}

// Execute 执行
func (f FuncProvider) Execute(ctx context.Context, input model.JobInput) (model.JobOutput, error) {
	return f(ctx, input)
}

// DefaultTimeout 默认单任务超时
const DefaultTimeout = 10 * time.Second
