package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/jmylchreest/vodarr/internal/repository"
	"github.com/jmylchreest/vodarr/internal/stream"
)

// ConversionHandler handles conversion session API endpoints.
type ConversionHandler struct {
	manager *stream.Manager
	records repository.ConversionRecordRepository
	logger  *slog.Logger
}

// NewConversionHandler creates a new conversion handler.
func NewConversionHandler(manager *stream.Manager, records repository.ConversionRecordRepository) *ConversionHandler {
	return &ConversionHandler{
		manager: manager,
		records: records,
		logger:  slog.Default(),
	}
}

// WithLogger sets the logger for the handler.
func (h *ConversionHandler) WithLogger(logger *slog.Logger) *ConversionHandler {
	h.logger = logger
	return h
}

// Register registers the conversion routes with the API.
func (h *ConversionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "startConversion",
		Method:      "POST",
		Path:        "/api/v1/conversions",
		Summary:     "Start a conversion",
		Description: "Starts a chunked conversion session for a source file and begins progressive delivery",
		Tags:        []string{"Conversions"},
	}, h.Start)

	huma.Register(api, huma.Operation{
		OperationID: "listConversions",
		Method:      "GET",
		Path:        "/api/v1/conversions",
		Summary:     "List conversions",
		Description: "Returns all tracked conversion sessions ordered by creation time",
		Tags:        []string{"Conversions"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getConversionStats",
		Method:      "GET",
		Path:        "/api/v1/conversions/stats",
		Summary:     "Get conversion statistics",
		Description: "Returns session occupancy and aggregate sink counters",
		Tags:        []string{"Conversions"},
	}, h.GetStats)

	huma.Register(api, huma.Operation{
		OperationID: "getConversion",
		Method:      "GET",
		Path:        "/api/v1/conversions/{id}",
		Summary:     "Get conversion",
		Description: "Returns a conversion session by ID",
		Tags:        []string{"Conversions"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "getConversionRecord",
		Method:      "GET",
		Path:        "/api/v1/conversions/{id}/record",
		Summary:     "Get conversion record",
		Description: "Returns the persisted outcome of a finished conversion session",
		Tags:        []string{"Conversions"},
	}, h.GetRecord)

	huma.Register(api, huma.Operation{
		OperationID: "stopConversion",
		Method:      "POST",
		Path:        "/api/v1/conversions/{id}/stop",
		Summary:     "Stop conversion",
		Description: "Cancels a running conversion session. The session stays tracked until deleted so buffered media remains readable.",
		Tags:        []string{"Conversions"},
	}, h.Stop)

	huma.Register(api, huma.Operation{
		OperationID: "deleteConversion",
		Method:      "DELETE",
		Path:        "/api/v1/conversions/{id}",
		Summary:     "Delete conversion",
		Description: "Cancels a conversion session, tears its sink down and stops tracking it",
		Tags:        []string{"Conversions"},
	}, h.Delete)
}

// StartConversionRequest is the request body for starting a conversion.
type StartConversionRequest struct {
	Source        string  `json:"source" doc:"Path of the source media file" minLength:"1" maxLength:"1024"`
	ChunkDuration float64 `json:"chunk_duration_seconds,omitempty" doc:"Chunk window in seconds (0 uses the configured default)" minimum:"0" maximum:"600"`
	VideoCodec    string  `json:"video_codec,omitempty" doc:"Video encoder (default from configuration)" maxLength:"64"`
	AudioCodec    string  `json:"audio_codec,omitempty" doc:"Audio encoder (default from configuration)" maxLength:"64"`
	Preset        string  `json:"preset,omitempty" doc:"Encoder preset" maxLength:"32"`
	Quality       int     `json:"quality,omitempty" doc:"CRF value (0 uses the configured default)" minimum:"0" maximum:"63"`
	MaxAttempts   int     `json:"max_attempts,omitempty" doc:"Streaming attempts before the whole-file fallback (0 uses the configured default)" minimum:"0" maximum:"10"`
}

// ConversionResponse represents a conversion session in API responses.
type ConversionResponse struct {
	ID             string              `json:"id"`
	Source         string              `json:"source"`
	State          string              `json:"state"`
	Health         string              `json:"health"`
	Attempt        int                 `json:"attempt"`
	SourceDuration float64             `json:"source_duration_seconds"`
	MimeType       string              `json:"mime_type,omitempty"`
	FallbackOutput string              `json:"fallback_output,omitempty"`
	Error          string              `json:"error,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	Monitor        stream.MonitorStats `json:"monitor"`
}

// ConversionFromSession converts a live session snapshot to a response.
func ConversionFromSession(sess *stream.Session) ConversionResponse {
	stats := sess.Stats()
	resp := ConversionResponse{
		ID:             stats.ID,
		Source:         stats.Source,
		State:          stats.State,
		Health:         stats.Health,
		Attempt:        stats.Attempt,
		SourceDuration: stats.SourceDuration,
		MimeType:       stats.MimeType,
		FallbackOutput: stats.FallbackOutput,
		CreatedAt:      stats.CreatedAt,
		Monitor:        stats.Monitor,
	}

	// The terminal error is meaningful only once the session finished.
	select {
	case <-sess.Done():
		if err := sess.Err(); err != nil {
			resp.Error = err.Error()
		}
	default:
	}
	return resp
}

// StartConversionInput is the input for starting a conversion.
type StartConversionInput struct {
	Body StartConversionRequest
}

// StartConversionOutput is the output for starting a conversion.
type StartConversionOutput struct {
	Body ConversionResponse
}

// Start starts a conversion session.
func (h *ConversionHandler) Start(ctx context.Context, input *StartConversionInput) (*StartConversionOutput, error) {
	req := stream.ConversionRequest{
		Source:        input.Body.Source,
		ChunkDuration: time.Duration(input.Body.ChunkDuration * float64(time.Second)),
		VideoCodec:    input.Body.VideoCodec,
		AudioCodec:    input.Body.AudioCodec,
		Preset:        input.Body.Preset,
		Quality:       input.Body.Quality,
		MaxAttempts:   input.Body.MaxAttempts,
	}

	sess, err := h.manager.Start(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, stream.ErrTooManySessions):
			return nil, huma.Error503ServiceUnavailable("no conversion capacity", err)
		case errors.Is(err, stream.ErrManagerClosed):
			return nil, huma.Error503ServiceUnavailable("service is shutting down", err)
		case errors.Is(err, stream.ErrUnsupportedCodec), errors.Is(err, stream.ErrNoSupportedFormat):
			return nil, huma.Error422UnprocessableEntity("unsupported codec or format", err)
		default:
			return nil, huma.Error400BadRequest("invalid conversion request", err)
		}
	}

	return &StartConversionOutput{
		Body: ConversionFromSession(sess),
	}, nil
}

// ListConversionsInput is the input for listing conversions.
type ListConversionsInput struct{}

// ListConversionsOutput is the output for listing conversions.
type ListConversionsOutput struct {
	Body struct {
		Conversions []ConversionResponse `json:"conversions"`
	}
}

// List returns all tracked conversion sessions.
func (h *ConversionHandler) List(ctx context.Context, input *ListConversionsInput) (*ListConversionsOutput, error) {
	sessions := h.manager.List()

	resp := &ListConversionsOutput{}
	resp.Body.Conversions = make([]ConversionResponse, 0, len(sessions))
	for _, sess := range sessions {
		resp.Body.Conversions = append(resp.Body.Conversions, ConversionFromSession(sess))
	}

	return resp, nil
}

// GetConversionInput is the input for getting a conversion.
type GetConversionInput struct {
	ID string `path:"id" doc:"Conversion session ID (UUID)"`
}

// GetConversionOutput is the output for getting a conversion.
type GetConversionOutput struct {
	Body ConversionResponse
}

// GetByID returns a conversion session by ID.
func (h *ConversionHandler) GetByID(ctx context.Context, input *GetConversionInput) (*GetConversionOutput, error) {
	id, err := uuid.Parse(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid session ID format", err)
	}

	sess, err := h.manager.Get(id)
	if err != nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("conversion %s not found", input.ID))
	}

	return &GetConversionOutput{
		Body: ConversionFromSession(sess),
	}, nil
}

// GetConversionRecordInput is the input for getting a conversion record.
type GetConversionRecordInput struct {
	ID string `path:"id" doc:"Conversion session ID (UUID)"`
}

// GetConversionRecordOutput is the output for getting a conversion record.
type GetConversionRecordOutput struct {
	Body ConversionRecordResponse
}

// GetRecord returns the persisted outcome of a finished session. A
// running session has no record yet.
func (h *ConversionHandler) GetRecord(ctx context.Context, input *GetConversionRecordInput) (*GetConversionRecordOutput, error) {
	if _, err := uuid.Parse(input.ID); err != nil {
		return nil, huma.Error400BadRequest("invalid session ID format", err)
	}

	record, err := h.records.GetBySessionID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get conversion record", err)
	}
	if record == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("no record for conversion %s", input.ID))
	}

	return &GetConversionRecordOutput{
		Body: ConversionRecordFromModel(record),
	}, nil
}

// StopConversionInput is the input for stopping a conversion.
type StopConversionInput struct {
	ID string `path:"id" doc:"Conversion session ID (UUID)"`
}

// StopConversionOutput is the output for stopping a conversion.
type StopConversionOutput struct {
	Body MessageResponse
}

// Stop cancels a running conversion session.
func (h *ConversionHandler) Stop(ctx context.Context, input *StopConversionInput) (*StopConversionOutput, error) {
	id, err := uuid.Parse(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid session ID format", err)
	}

	if err := h.manager.Stop(id); err != nil {
		if errors.Is(err, stream.ErrSessionNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("conversion %s not found", input.ID))
		}
		return nil, huma.Error500InternalServerError("failed to stop conversion", err)
	}

	return &StopConversionOutput{
		Body: MessageResponse{
			Message: fmt.Sprintf("conversion %s stopped", input.ID),
		},
	}, nil
}

// DeleteConversionInput is the input for deleting a conversion.
type DeleteConversionInput struct {
	ID string `path:"id" doc:"Conversion session ID (UUID)"`
}

// DeleteConversionOutput is the output for deleting a conversion.
type DeleteConversionOutput struct{}

// Delete cancels a session, waits for it to finish and stops tracking it.
func (h *ConversionHandler) Delete(ctx context.Context, input *DeleteConversionInput) (*DeleteConversionOutput, error) {
	id, err := uuid.Parse(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid session ID format", err)
	}

	if err := h.manager.Remove(ctx, id); err != nil {
		if errors.Is(err, stream.ErrSessionNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("conversion %s not found", input.ID))
		}
		return nil, huma.Error500InternalServerError("failed to delete conversion", err)
	}

	return &DeleteConversionOutput{}, nil
}

// ConversionStatsResponse summarises session occupancy and sink
// throughput across all tracked sessions.
type ConversionStatsResponse struct {
	ActiveSessions int            `json:"active_sessions"`
	MaxSessions    int            `json:"max_sessions"`
	ChunksAppended int64          `json:"chunks_appended"`
	BytesAppended  int64          `json:"bytes_appended"`
	ByState        map[string]int `json:"by_state"`
}

// GetConversionStatsInput is the input for conversion statistics.
type GetConversionStatsInput struct{}

// GetConversionStatsOutput is the output for conversion statistics.
type GetConversionStatsOutput struct {
	Body ConversionStatsResponse
}

// GetStats returns occupancy and aggregate counters.
func (h *ConversionHandler) GetStats(ctx context.Context, input *GetConversionStatsInput) (*GetConversionStatsOutput, error) {
	stats := h.manager.Stats()

	resp := ConversionStatsResponse{
		ActiveSessions: stats.ActiveSessions,
		MaxSessions:    stats.MaxSessions,
		ByState:        make(map[string]int),
	}
	for _, sess := range stats.Sessions {
		resp.ChunksAppended += sess.Monitor.ChunksAppended
		resp.BytesAppended += sess.Monitor.BytesAppended
		resp.ByState[sess.State]++
	}

	return &GetConversionStatsOutput{Body: resp}, nil
}
