// Package handlers provides HTTP API handlers for vodarr.
package handlers

import (
	"time"

	"github.com/jmylchreest/vodarr/internal/models"
)

// Common response types

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// MessageResponse carries a human-readable confirmation.
type MessageResponse struct {
	Message string `json:"message"`
}

// Pagination contains pagination parameters for list requests.
type Pagination struct {
	Page  int `query:"page" default:"1" minimum:"1" doc:"Page number (1-indexed)"`
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"1000" doc:"Items per page"`
}

// Offset returns the row offset the page maps to.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

// PaginationMeta contains pagination metadata in responses.
type PaginationMeta struct {
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
	TotalItems  int64 `json:"total_items"`
	TotalPages  int64 `json:"total_pages"`
}

// NewPaginationMeta computes response metadata for one page of a result
// set of total items.
func NewPaginationMeta(p Pagination, total int64) PaginationMeta {
	totalPages := total / int64(p.Limit)
	if total%int64(p.Limit) > 0 {
		totalPages++
	}
	return PaginationMeta{
		CurrentPage: p.Page,
		PageSize:    p.Limit,
		TotalItems:  total,
		TotalPages:  totalPages,
	}
}

// Conversion record types

// ConversionRecordResponse represents a persisted conversion outcome in
// API responses.
type ConversionRecordResponse struct {
	ID             models.ULID            `json:"id"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	SessionID      string                 `json:"session_id"`
	Source         string                 `json:"source"`
	Container      string                 `json:"container,omitempty"`
	VideoCodec     string                 `json:"video_codec,omitempty"`
	AudioCodec     string                 `json:"audio_codec,omitempty"`
	Preset         string                 `json:"preset,omitempty"`
	Quality        int                    `json:"quality,omitempty"`
	Mode           models.ConversionMode  `json:"mode"`
	FinalState     models.ConversionState `json:"final_state"`
	Attempts       int                    `json:"attempts"`
	ChunksAppended int64                  `json:"chunks_appended"`
	BytesAppended  int64                  `json:"bytes_appended"`
	SourceDuration float64                `json:"source_duration,omitempty"`
	OutputPath     string                 `json:"output_path,omitempty"`
	Error          string                 `json:"error,omitempty"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	FinishedAt     *time.Time             `json:"finished_at,omitempty"`
}

// ConversionRecordFromModel converts a model to a response.
func ConversionRecordFromModel(r *models.ConversionRecord) ConversionRecordResponse {
	return ConversionRecordResponse{
		ID:             r.ID,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		SessionID:      r.SessionID,
		Source:         r.Source,
		Container:      r.Container,
		VideoCodec:     r.VideoCodec,
		AudioCodec:     r.AudioCodec,
		Preset:         r.Preset,
		Quality:        r.Quality,
		Mode:           r.Mode,
		FinalState:     r.FinalState,
		Attempts:       r.Attempts,
		ChunksAppended: r.ChunksAppended,
		BytesAppended:  r.BytesAppended,
		SourceDuration: r.SourceDuration,
		OutputPath:     r.OutputPath,
		Error:          r.Error,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
	}
}

// Health types

// HealthResponse is the full health report.
type HealthResponse struct {
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	SystemLoad    float64           `json:"system_load"`
	CPUInfo       CPUInfo           `json:"cpu"`
	Memory        MemoryInfo        `json:"memory"`
	Components    HealthComponents  `json:"components"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// CPUInfo reports CPU core count and load averages.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo reports system and process memory usage.
type MemoryInfo struct {
	TotalMemoryMB     float64           `json:"total_memory_mb"`
	UsedMemoryMB      float64           `json:"used_memory_mb"`
	FreeMemoryMB      float64           `json:"free_memory_mb"`
	AvailableMemoryMB float64           `json:"available_memory_mb"`
	SwapTotalMB       float64           `json:"swap_total_mb"`
	SwapUsedMB        float64           `json:"swap_used_mb"`
	ProcessMemory     ProcessMemoryInfo `json:"process"`
}

// ProcessMemoryInfo reports memory usage of this process and its
// children. Transcoder child processes dominate during conversions.
type ProcessMemoryInfo struct {
	MainProcessMB      float64 `json:"main_process_mb"`
	ChildProcessesMB   float64 `json:"child_processes_mb"`
	ChildProcessCount  int     `json:"child_process_count"`
	TotalProcessTreeMB float64 `json:"total_process_tree_mb"`
	PercentageOfSystem float64 `json:"percentage_of_system"`
}

// HealthComponents groups per-component health reports.
type HealthComponents struct {
	Database DatabaseHealth `json:"database"`
	Streams  StreamHealth   `json:"streams"`
}

// DatabaseHealth reports database connectivity and pool pressure.
type DatabaseHealth struct {
	Status                 string  `json:"status"`
	ConnectionPoolSize     int     `json:"connection_pool_size"`
	ActiveConnections      int     `json:"active_connections"`
	IdleConnections        int     `json:"idle_connections"`
	PoolUtilizationPercent float64 `json:"pool_utilization_percent"`
	ResponseTimeMS         float64 `json:"response_time_ms"`
	ResponseTimeStatus     string  `json:"response_time_status"`
}

// StreamHealth reports conversion session occupancy.
type StreamHealth struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"active_sessions"`
	MaxSessions    int    `json:"max_sessions"`
}

// LivezResponse is the liveness probe response.
type LivezResponse struct {
	Status string `json:"status"`
}

// ReadyzResponse is the readiness probe response.
type ReadyzResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}
