package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/eidos-exchange/eidos-ubi/internal/model"
	bizerr "github.com/eidos-exchange/eidos-ubi/pkg/errors"
)

// UserRepository 用户仓储接口
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	// GetByID 查询用户及其按时间排序的领取历史
	GetByID(ctx context.Context, id string) (*model.User, error)
	ListByIDs(ctx context.Context, ids []string) ([]*model.User, error)
	UpdateReputation(ctx context.Context, id string, score int) error
	SetEligible(ctx context.Context, id string, eligible bool) error
}

type userRepository struct {
	*Repository
}

// NewUserRepository 创建用户仓储
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{Repository: NewRepository(db)}
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	return r.DB(ctx).Omit("ClaimHistory").Create(user).Error
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := r.DB(ctx).
		Preload("ClaimHistory", orderByTimestamp).
		Where("id = ?", id).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, bizerr.ErrUserNotFound.WithDetail("user_id", id)
		}
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) ListByIDs(ctx context.Context, ids []string) ([]*model.User, error) {
	var users []*model.User
	err := r.DB(ctx).
		Preload("ClaimHistory", orderByTimestamp).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&users).Error
	return users, err
}

func (r *userRepository) UpdateReputation(ctx context.Context, id string, score int) error {
	return r.updateColumn(ctx, id, "reputation_score", score)
}

func (r *userRepository) SetEligible(ctx context.Context, id string, eligible bool) error {
	return r.updateColumn(ctx, id, "eligible", eligible)
}

func (r *userRepository) updateColumn(ctx context.Context, id, column string, value interface{}) error {
	result := r.DB(ctx).Model(&model.User{}).Where("id = ?", id).Update(column, value)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return bizerr.ErrUserNotFound.WithDetail("user_id", id)
	}
	return nil
}

func orderByTimestamp(db *gorm.DB) *gorm.DB {
	return db.Order("claimed_at ASC")
}
