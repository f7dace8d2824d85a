package handlers

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/repository"
)

// RecordHandler handles conversion record API endpoints.
type RecordHandler struct {
	records repository.ConversionRecordRepository
}

// NewRecordHandler creates a new record handler.
func NewRecordHandler(records repository.ConversionRecordRepository) *RecordHandler {
	return &RecordHandler{
		records: records,
	}
}

// Register registers the record routes with the API.
func (h *RecordHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listRecords",
		Method:      "GET",
		Path:        "/api/v1/records",
		Summary:     "List conversion records",
		Description: "Returns persisted conversion outcomes, newest first, with pagination",
		Tags:        []string{"Records"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getRecordStats",
		Method:      "GET",
		Path:        "/api/v1/records/stats",
		Summary:     "Get record statistics",
		Description: "Returns conversion record counts grouped by final state",
		Tags:        []string{"Records"},
	}, h.GetStats)

	huma.Register(api, huma.Operation{
		OperationID: "getRecord",
		Method:      "GET",
		Path:        "/api/v1/records/{id}",
		Summary:     "Get conversion record",
		Description: "Returns a conversion record by ID",
		Tags:        []string{"Records"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "deleteRecord",
		Method:      "DELETE",
		Path:        "/api/v1/records/{id}",
		Summary:     "Delete conversion record",
		Description: "Permanently deletes a conversion record",
		Tags:        []string{"Records"},
	}, h.Delete)
}

// ListRecordsInput is the input for listing conversion records.
type ListRecordsInput struct {
	Mode       string `query:"mode" doc:"Filter by conversion mode (optional)" enum:"streamed,fallback,"`
	FinalState string `query:"final_state" doc:"Filter by final state (optional)" enum:"completed,aborted,"`
	Pagination
}

// ListRecordsOutput is the output for listing conversion records.
type ListRecordsOutput struct {
	Body struct {
		Records    []ConversionRecordResponse `json:"records"`
		Pagination PaginationMeta             `json:"pagination"`
	}
}

// List returns conversion records, newest first.
func (h *RecordHandler) List(ctx context.Context, input *ListRecordsInput) (*ListRecordsOutput, error) {
	filter := repository.ConversionRecordFilter{
		Mode:       models.ConversionMode(input.Mode),
		FinalState: models.ConversionState(input.FinalState),
		Offset:     input.Offset(),
		Limit:      input.Limit,
	}

	records, total, err := h.records.List(ctx, filter)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list conversion records", err)
	}

	resp := &ListRecordsOutput{}
	resp.Body.Records = make([]ConversionRecordResponse, 0, len(records))
	for _, r := range records {
		resp.Body.Records = append(resp.Body.Records, ConversionRecordFromModel(r))
	}
	resp.Body.Pagination = NewPaginationMeta(input.Pagination, total)

	return resp, nil
}

// GetRecordInput is the input for getting a conversion record.
type GetRecordInput struct {
	ID string `path:"id" doc:"Record ID (ULID)"`
}

// GetRecordOutput is the output for getting a conversion record.
type GetRecordOutput struct {
	Body ConversionRecordResponse
}

// GetByID returns a conversion record by ID.
func (h *RecordHandler) GetByID(ctx context.Context, input *GetRecordInput) (*GetRecordOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	record, err := h.records.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get conversion record", err)
	}
	if record == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("record %s not found", input.ID))
	}

	return &GetRecordOutput{
		Body: ConversionRecordFromModel(record),
	}, nil
}

// DeleteRecordInput is the input for deleting a conversion record.
type DeleteRecordInput struct {
	ID string `path:"id" doc:"Record ID (ULID)"`
}

// DeleteRecordOutput is the output for deleting a conversion record.
type DeleteRecordOutput struct{}

// Delete permanently deletes a conversion record.
func (h *RecordHandler) Delete(ctx context.Context, input *DeleteRecordInput) (*DeleteRecordOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	record, err := h.records.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get conversion record", err)
	}
	if record == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("record %s not found", input.ID))
	}

	if err := h.records.Delete(ctx, id); err != nil {
		return nil, huma.Error500InternalServerError("failed to delete conversion record", err)
	}

	return &DeleteRecordOutput{}, nil
}

// RecordStatsResponse reports record counts grouped by final state.
type RecordStatsResponse struct {
	Total   int64            `json:"total"`
	ByState map[string]int64 `json:"by_state"`
}

// GetRecordStatsInput is the input for record statistics.
type GetRecordStatsInput struct{}

// GetRecordStatsOutput is the output for record statistics.
type GetRecordStatsOutput struct {
	Body RecordStatsResponse
}

// GetStats returns record counts grouped by final state.
func (h *RecordHandler) GetStats(ctx context.Context, input *GetRecordStatsInput) (*GetRecordStatsOutput, error) {
	counts, err := h.records.CountByState(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to count conversion records", err)
	}

	resp := RecordStatsResponse{
		ByState: make(map[string]int64, len(counts)),
	}
	for state, count := range counts {
		resp.ByState[string(state)] = count
		resp.Total += count
	}

	return &GetRecordStatsOutput{Body: resp}, nil
}
