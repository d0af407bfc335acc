package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/hpckit/alloc-notifier/internal/domain"
)

type AllocationRepository interface {
	ExpiringBetween(ctx context.Context, from, to time.Time) ([]domain.Allocation, error)
}

type GormAllocationRepo struct {
	db *gorm.DB
}

func NewGormAllocationRepo(db *gorm.DB) *GormAllocationRepo {
	return &GormAllocationRepo{db: db}
}

// ExpiringBetween returns active allocations whose expiry falls in (from, to],
// ordered by expiry so earlier deadlines are notified first.
func (r *GormAllocationRepo) ExpiringBetween(ctx context.Context, from, to time.Time) ([]domain.Allocation, error) {
	var models []AllocationModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at > ? AND expires_at <= ?", domain.AllocationStatusActive, from, to).
		Order("expires_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	allocations := make([]domain.Allocation, 0, len(models))
	for i := range models {
		allocations = append(allocations, *allocationModelToDomain(&models[i]))
	}

	return allocations, nil
}
