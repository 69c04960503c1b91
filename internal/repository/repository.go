// Package repository 基于 gorm 的持久化层
package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/eidos-exchange/eidos-ubi/internal/model"
)

// Repository 基础仓储, 其他仓储嵌入此结构
type Repository struct {
	db *gorm.DB
}

// NewRepository 创建基础仓储
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// DB 返回数据库连接, context 中有事务时返回事务连接
func (r *Repository) DB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return r.db.WithContext(ctx)
}

type txKey struct{}

// Transaction 执行事务, fn 中通过 DB(ctx) 的操作都在同一事务中
func (r *Repository) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// Models 需要迁移的全部模型
func Models() []interface{} {
	return []interface{}{
		&model.User{},
		&model.Claim{},
		&model.Community{},
		&model.DistributionRule{},
		&model.ComputationJobRecord{},
	}
}

// AutoMigrate 迁移表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
