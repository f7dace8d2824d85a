package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jmylchreest/vodarr/internal/models"
)

// conversionRecordRepo implements ConversionRecordRepository using GORM.
type conversionRecordRepo struct {
	db *gorm.DB
}

// NewConversionRecordRepository creates a new ConversionRecordRepository.
func NewConversionRecordRepository(db *gorm.DB) *conversionRecordRepo {
	return &conversionRecordRepo{db: db}
}

// RecordConversion persists a session outcome, replacing any earlier row for
// the same session ID.
func (r *conversionRecordRepo) RecordConversion(ctx context.Context, record *models.ConversionRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("validating conversion record: %w", err)
	}

	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"container", "video_codec", "audio_codec", "preset", "quality",
			"mode", "final_state", "attempts", "chunks_appended",
			"bytes_appended", "source_duration", "output_path", "error",
			"started_at", "finished_at", "updated_at",
		}),
	}).Create(record).Error; err != nil {
		return fmt.Errorf("recording conversion: %w", err)
	}
	return nil
}

// GetByID retrieves a conversion record by ID.
func (r *conversionRecordRepo) GetByID(ctx context.Context, id models.ULID) (*models.ConversionRecord, error) {
	var record models.ConversionRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting conversion record by ID: %w", err)
	}
	return &record, nil
}

// GetBySessionID retrieves the record for a conversion session.
func (r *conversionRecordRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.ConversionRecord, error) {
	var record models.ConversionRecord
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting conversion record by session ID: %w", err)
	}
	return &record, nil
}

// List retrieves records matching the filter, newest first.
func (r *conversionRecordRepo) List(ctx context.Context, filter ConversionRecordFilter) ([]*models.ConversionRecord, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.ConversionRecord{})
	if filter.Mode != "" {
		query = query.Where("mode = ?", filter.Mode)
	}
	if filter.FinalState != "" {
		query = query.Where("final_state = ?", filter.FinalState)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting conversion records: %w", err)
	}

	query = query.Order("created_at DESC")
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var records []*models.ConversionRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("listing conversion records: %w", err)
	}
	return records, total, nil
}

// Delete deletes a conversion record by ID.
// Uses Unscoped() for permanent deletion so the unique session_id index
// cannot collide with a soft-deleted row when a session is re-recorded.
func (r *conversionRecordRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Unscoped().Where("id = ?", id).Delete(&models.ConversionRecord{}).Error; err != nil {
		return fmt.Errorf("deleting conversion record: %w", err)
	}
	return nil
}

// DeleteFinishedBefore deletes records for sessions that finished before the
// given time. Records without a finish time are kept.
// Uses Unscoped() for permanent deletion since pruned records have no value.
func (r *conversionRecordRepo) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Unscoped().
		Where("finished_at IS NOT NULL AND finished_at < ?", before).
		Delete(&models.ConversionRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("pruning conversion records: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CountByState returns record counts grouped by terminal state.
func (r *conversionRecordRepo) CountByState(ctx context.Context) (map[models.ConversionState]int64, error) {
	type stateCount struct {
		FinalState models.ConversionState
		Count      int64
	}

	var counts []stateCount
	if err := r.db.WithContext(ctx).
		Model(&models.ConversionRecord{}).
		Select("final_state, COUNT(*) as count").
		Group("final_state").
		Find(&counts).Error; err != nil {
		return nil, fmt.Errorf("counting conversion records by state: %w", err)
	}

	result := make(map[models.ConversionState]int64, len(counts))
	for _, c := range counts {
		result[c.FinalState] = c.Count
	}
	return result, nil
}

var _ ConversionRecordRepository = (*conversionRecordRepo)(nil)
