package repository

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/eidos-exchange/eidos-ubi/internal/model"
	bizerr "github.com/eidos-exchange/eidos-ubi/pkg/errors"
)

// CommunityRepository 社区仓储接口
type CommunityRepository interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
	Create(ctx context.Context, community *model.Community) error
	// GetByID 查询社区, 包含成员 (含领取历史) 与按顺序排列的分配规则
	GetByID(ctx context.Context, id string) (*model.Community, error)
	AddMember(ctx context.Context, communityID, userID string) error
	RemoveMember(ctx context.Context, communityID, userID string) error
	// CreditPool 资金池入账
	CreditPool(ctx context.Context, communityID string, amount decimal.Decimal) error
	// DebitPool 资金池扣减, 余额不足返回 ErrInsufficientPool
	DebitPool(ctx context.Context, communityID string, amount decimal.Decimal) error
}

type communityRepository struct {
	*Repository
}

// NewCommunityRepository 创建社区仓储
func NewCommunityRepository(db *gorm.DB) CommunityRepository {
	return &communityRepository{Repository: NewRepository(db)}
}

func (r *communityRepository) Create(ctx context.Context, community *model.Community) error {
	return r.DB(ctx).Create(community).Error
}

func (r *communityRepository) GetByID(ctx context.Context, id string) (*model.Community, error) {
	var c model.Community
	err := r.DB(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Members.ClaimHistory", orderByTimestamp).
		Preload("DistributionRules", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("id = ?", id).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, bizerr.ErrCommunityNotFound.WithDetail("community_id", id)
		}
		return nil, err
	}
	return &c, nil
}

func (r *communityRepository) AddMember(ctx context.Context, communityID, userID string) error {
	var count int64
	if err := r.DB(ctx).Model(&model.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return bizerr.ErrUserNotFound.WithDetail("user_id", userID)
	}
	return r.DB(ctx).Model(&model.Community{ID: communityID}).
		Association("Members").
		Append(&model.User{ID: userID})
}

func (r *communityRepository) RemoveMember(ctx context.Context, communityID, userID string) error {
	return r.DB(ctx).Model(&model.Community{ID: communityID}).
		Association("Members").
		Delete(&model.User{ID: userID})
}

func (r *communityRepository) CreditPool(ctx context.Context, communityID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return bizerr.ErrInvalidAmount
	}
	return r.adjustPool(ctx, communityID, func(pool decimal.Decimal) (decimal.Decimal, error) {
		return pool.Add(amount), nil
	})
}

func (r *communityRepository) DebitPool(ctx context.Context, communityID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return bizerr.ErrInvalidAmount
	}
	return r.adjustPool(ctx, communityID, func(pool decimal.Decimal) (decimal.Decimal, error) {
		if pool.LessThan(amount) {
			return pool, bizerr.ErrInsufficientPool.
				WithDetail("pool", pool.String()).
				WithDetail("requested", amount.String())
		}
		return pool.Sub(amount), nil
	})
}

// adjustPool 读取余额后在同一事务中写回
// 同一社区的并发调整由调用方的社区锁串行化
func (r *communityRepository) adjustPool(ctx context.Context, communityID string, fn func(decimal.Decimal) (decimal.Decimal, error)) error {
	return r.Transaction(ctx, func(ctx context.Context) error {
		var c model.Community
		if err := r.DB(ctx).Select("id", "total_pool").Where("id = ?", communityID).First(&c).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return bizerr.ErrCommunityNotFound.WithDetail("community_id", communityID)
			}
			return err
		}
		next, err := fn(c.TotalPool)
		if err != nil {
			return err
		}
		return r.DB(ctx).Model(&model.Community{}).
			Where("id = ?", communityID).
			Update("total_pool", next).Error
	})
}
