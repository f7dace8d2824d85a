// Package repository defines data access interfaces for vodarr entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/vodarr/internal/models"
)

// ConversionRecordFilter narrows List results. Zero values match everything.
type ConversionRecordFilter struct {
	// Mode filters by delivery mode (streamed, fallback).
	Mode models.ConversionMode
	// FinalState filters by terminal state (completed, aborted).
	FinalState models.ConversionState
	// Offset and Limit paginate. Limit 0 means no limit.
	Offset int
	Limit  int
}

// ConversionRecordRepository defines operations for conversion record persistence.
type ConversionRecordRepository interface {
	// RecordConversion persists the outcome of a conversion session. The
	// write is an upsert keyed on session ID so a re-recorded session
	// replaces its earlier row.
	RecordConversion(ctx context.Context, record *models.ConversionRecord) error
	// GetByID retrieves a conversion record by ID. Returns nil when no
	// record exists.
	GetByID(ctx context.Context, id models.ULID) (*models.ConversionRecord, error)
	// GetBySessionID retrieves the record for a session. Returns nil when
	// no record exists.
	GetBySessionID(ctx context.Context, sessionID string) (*models.ConversionRecord, error)
	// List retrieves records matching the filter, newest first, along with
	// the total match count before pagination.
	List(ctx context.Context, filter ConversionRecordFilter) ([]*models.ConversionRecord, int64, error)
	// Delete deletes a conversion record by ID.
	Delete(ctx context.Context, id models.ULID) error
	// DeleteFinishedBefore deletes records whose session finished before
	// the given time and returns how many were removed.
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)
	// CountByState returns record counts grouped by terminal state.
	CountByState(ctx context.Context) (map[models.ConversionState]int64, error)
}
