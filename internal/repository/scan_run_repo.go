package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hpckit/alloc-notifier/internal/domain"
)

type ScanRunRepository interface {
	Exists(ctx context.Context, windowDays int, scanDate time.Time) (bool, error)
	Record(ctx context.Context, run *domain.ScanRun) error
	ListRecent(ctx context.Context, limit int) ([]domain.ScanRun, error)
}

type GormScanRunRepo struct {
	db *gorm.DB
}

func NewGormScanRunRepo(db *gorm.DB) *GormScanRunRepo {
	return &GormScanRunRepo{db: db}
}

func (r *GormScanRunRepo) Exists(ctx context.Context, windowDays int, scanDate time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&ScanRunModel{}).
		Where("window_days = ? AND scan_date = ?", windowDays, scanDate).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormScanRunRepo) Record(ctx context.Context, run *domain.ScanRun) error {
	if run == nil {
		return fmt.Errorf("%w: scan run is required", domain.ErrValidation)
	}

	model := scanRunModelFromDomain(run)
	if model.ID == "" {
		model.ID = uuid.NewString()
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: scan run for window %dd on %s", domain.ErrConflict, run.WindowDays, run.ScanDate.Format("2006-01-02"))
		}
		return err
	}

	*run = *scanRunModelToDomain(model)
	return nil
}

func (r *GormScanRunRepo) ListRecent(ctx context.Context, limit int) ([]domain.ScanRun, error) {
	var models []ScanRunModel
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	runs := make([]domain.ScanRun, 0, len(models))
	for i := range models {
		runs = append(runs, *scanRunModelToDomain(&models[i]))
	}

	return runs, nil
}
