package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/eidos-exchange/eidos-ubi/internal/model"
	bizerr "github.com/eidos-exchange/eidos-ubi/pkg/errors"
)

// JobRepository 计算任务审计记录仓储
type JobRepository struct {
	*Repository
}

// NewJobRepository 创建计算任务仓储
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{Repository: NewRepository(db)}
}

// Save 写入或覆盖任务快照
func (r *JobRepository) Save(ctx context.Context, job *model.ComputationJob) error {
	rec, err := model.NewJobRecord(job)
	if err != nil {
		return err
	}
	return r.DB(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(rec).Error
}

// GetByID 查询任务
func (r *JobRepository) GetByID(ctx context.Context, id string) (*model.ComputationJob, error) {
	var rec model.ComputationJobRecord
	if err := r.DB(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, bizerr.ErrJobNotFound.WithDetail("job_id", id)
		}
		return nil, err
	}
	return rec.ToJob()
}

// ListByStatus 按状态查询, 最新的在前
func (r *JobRepository) ListByStatus(ctx context.Context, status model.JobStatus, limit int) ([]*model.ComputationJob, error) {
	var recs []*model.ComputationJobRecord
	err := r.DB(ctx).
		Where("status = ?", status).
		Order("created_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	jobs := make([]*model.ComputationJob, 0, len(recs))
	for _, rec := range recs {
		job, err := rec.ToJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// CountByTypeAndStatus 统计任务数
func (r *JobRepository) CountByTypeAndStatus(ctx context.Context, jobType model.JobType, status model.JobStatus) (int64, error) {
	var count int64
	err := r.DB(ctx).
		Model(&model.ComputationJobRecord{}).
		Where("type = ? AND status = ?", jobType, status).
		Count(&count).Error
	return count, err
}

// CleanupBefore 删除创建时间早于 before 的记录
func (r *JobRepository) CleanupBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.DB(ctx).
		Where("created_at < ?", before.UnixMilli()).
		Delete(&model.ComputationJobRecord{})
	return result.RowsAffected, result.Error
}
