package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/eidos-exchange/eidos-ubi/internal/model"
	bizerr "github.com/eidos-exchange/eidos-ubi/pkg/errors"
)

// ClaimRepository 领取记录仓储接口
type ClaimRepository interface {
	// Record 在同一事务中写入领取记录并更新用户的 streak / lastClaimDate / totalClaimed
	Record(ctx context.Context, claim *model.Claim, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.Claim, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.Claim, error)
	// AttachTxHash 回填结算哈希, 只允许写入一次
	AttachTxHash(ctx context.Context, claimID, txHash string) error
	ListUnsettled(ctx context.Context, before time.Time, limit int) ([]*model.Claim, error)
}

type claimRepository struct {
	*Repository
}

// NewClaimRepository 创建领取记录仓储
func NewClaimRepository(db *gorm.DB) ClaimRepository {
	return &claimRepository{Repository: NewRepository(db)}
}

func (r *claimRepository) Record(ctx context.Context, claim *model.Claim, user *model.User) error {
	return r.Transaction(ctx, func(ctx context.Context) error {
		if err := r.DB(ctx).Create(claim).Error; err != nil {
			return err
		}
		result := r.DB(ctx).Model(&model.User{}).
			Where("id = ?", user.ID).
			Updates(map[string]interface{}{
				"streak":          user.Streak,
				"last_claim_date": user.LastClaimDate,
				"total_claimed":   user.TotalClaimed,
				"updated_at":      time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return bizerr.ErrUserNotFound.WithDetail("user_id", user.ID)
		}
		return nil
	})
}

func (r *claimRepository) GetByID(ctx context.Context, id string) (*model.Claim, error) {
	var claim model.Claim
	if err := r.DB(ctx).Where("id = ?", id).First(&claim).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, bizerr.ErrClaimNotFound.WithDetail("claim_id", id)
		}
		return nil, err
	}
	return &claim, nil
}

func (r *claimRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*model.Claim, error) {
	var claims []*model.Claim
	q := r.DB(ctx).Where("user_id = ?", userID).Order("claimed_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&claims).Error
	return claims, err
}

func (r *claimRepository) AttachTxHash(ctx context.Context, claimID, txHash string) error {
	result := r.DB(ctx).Model(&model.Claim{}).
		Where("id = ? AND tx_hash IS NULL", claimID).
		Update("tx_hash", txHash)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}
	if _, err := r.GetByID(ctx, claimID); err != nil {
		return err
	}
	return bizerr.ErrSettlementAlreadyStored.WithDetail("claim_id", claimID)
}

func (r *claimRepository) ListUnsettled(ctx context.Context, before time.Time, limit int) ([]*model.Claim, error) {
	var claims []*model.Claim
	err := r.DB(ctx).
		Where("tx_hash IS NULL AND claimed_at < ?", before).
		Order("claimed_at ASC").
		Limit(limit).
		Find(&claims).Error
	return claims, err
}
