package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jmylchreest/vodarr/internal/mediasink"
	"github.com/jmylchreest/vodarr/internal/stream"
)

// streamReadBuffer sizes the copy buffer between the sink reader and the
// HTTP response. Each filled buffer is flushed so clients see media as
// soon as a chunk commits.
const streamReadBuffer = 64 * 1024

// StreamHandler serves the progressive media stream of a conversion
// session.
type StreamHandler struct {
	manager *stream.Manager
	logger  *slog.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(manager *stream.Manager) *StreamHandler {
	return &StreamHandler{
		manager: manager,
		logger:  slog.Default(),
	}
}

// WithLogger sets the logger for the handler.
func (h *StreamHandler) WithLogger(logger *slog.Logger) *StreamHandler {
	h.logger = logger
	return h
}

// setDeliveryHeaders tags the response with how the media is delivered.
func setDeliveryHeaders(w http.ResponseWriter, mode string) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("X-Conversion-Mode", mode)
}

// RegisterChiRoutes registers the stream route as a raw Chi handler.
// Huma's response model buffers output; progressive delivery needs
// direct writer access to flush each committed fragment.
func (h *StreamHandler) RegisterChiRoutes(router chi.Router) {
	router.Get("/api/v1/conversions/{id}/stream", h.handleStream)
	router.Options("/api/v1/conversions/{id}/stream", h.handleStreamOptions)
}

// Register registers documentation-only operations for the stream
// endpoint. The actual request handling is done by raw Chi handlers
// (RegisterChiRoutes); these exist so the endpoint appears in the
// OpenAPI output.
func (h *StreamHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "streamConversion",
		Method:      "GET",
		Path:        "/api/v1/conversions/{id}/stream",
		Summary:     "Stream a conversion",
		Description: `Delivers the media of a conversion session.

While the session streams, the response body follows the sink: fragments
are written and flushed as chunks commit, so playback can start before
the conversion finishes. When the session fell back to a whole-file
conversion, the finished output file is served instead, with range
support.

**Response Headers:**
- Content-Type: negotiated stream MIME type, or the fallback file's type
- X-Conversion-Mode: streamed or fallback
- Cache-Control: no-cache (live stream content is never cacheable)`,
		Tags: []string{"Conversions"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Media content",
				Headers: map[string]*huma.Param{
					"Content-Type":      {Description: "Negotiated stream MIME type (e.g. video/mp4)"},
					"X-Conversion-Mode": {Description: "streamed or fallback"},
					"Cache-Control":     {Description: "no-cache, no-store, must-revalidate"},
				},
			},
			"400": {Description: "Invalid session ID format"},
			"404": {Description: "Conversion session not found"},
			"503": {Description: "Session has no open sink and no fallback output yet"},
		},
		SkipValidateBody: true,
	}, h.streamDocsHandler)

	huma.Register(api, huma.Operation{
		OperationID: "streamConversionOptions",
		Method:      "OPTIONS",
		Path:        "/api/v1/conversions/{id}/stream",
		Summary:     "CORS preflight for stream endpoint",
		Description: "Handles CORS preflight requests for browser-based media clients.",
		Tags:        []string{"Conversions"},
		Responses: map[string]*huma.Response{
			"204": {Description: "CORS preflight response"},
		},
	}, h.streamOptionsDocsHandler)
}

// StreamConversionInput is the documented input for the stream endpoint.
type StreamConversionInput struct {
	ID string `path:"id" doc:"Conversion session ID (UUID)"`
}

// streamDocsHandler is a no-op handler for the documentation-only
// registration; Chi handles the route first.
func (h *StreamHandler) streamDocsHandler(ctx context.Context, input *StreamConversionInput) (*huma.StreamResponse, error) {
	return nil, huma.Error500InternalServerError("this endpoint is handled by raw Chi handlers", nil)
}

// StreamConversionOptionsOutput is the documented preflight output.
type StreamConversionOptionsOutput struct{}

func (h *StreamHandler) streamOptionsDocsHandler(ctx context.Context, input *StreamConversionInput) (*StreamConversionOptionsOutput, error) {
	return &StreamConversionOptionsOutput{}, nil
}

// handleStreamOptions handles CORS preflight requests for the stream
// endpoint.
func (h *StreamHandler) handleStreamOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Range")
	w.WriteHeader(http.StatusNoContent)
}

// handleStream delivers a session's media. A live sink is streamed
// progressively; a session that completed through the whole-file
// fallback serves its output file instead.
func (h *StreamHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid session ID format", http.StatusBadRequest)
		return
	}

	sess, err := h.manager.Get(id)
	if err != nil {
		http.Error(w, "conversion not found", http.StatusNotFound)
		return
	}

	reader, err := sess.NewReader()
	if err != nil {
		if !errors.Is(err, stream.ErrSinkNotOpen) {
			h.logger.Error("attaching stream reader failed",
				"session_id", id.String(), "error", err)
			http.Error(w, "stream not available", http.StatusInternalServerError)
			return
		}
		// No open sink. Serve the fallback output when the session
		// produced one; otherwise the stream has not started yet or was
		// torn down without output.
		if output, ok := sess.Output(); ok {
			h.serveFallback(w, r, output)
			return
		}
		http.Error(w, "stream not open", http.StatusServiceUnavailable)
		return
	}
	defer reader.Close()

	h.serveLive(w, r, sess, reader)
}

// serveLive copies the sink's delivery stream to the response, flushing
// after every write so fragments reach the client as chunks commit.
func (h *StreamHandler) serveLive(w http.ResponseWriter, r *http.Request, sess *stream.Session, reader *mediasink.Reader) {
	mimeType := sess.MimeType()
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Connection", "keep-alive")
	setDeliveryHeaders(w, "streamed")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	ctx := r.Context()

	h.logger.Debug("stream client connected",
		"session_id", sess.ID.String(), "remote_addr", r.RemoteAddr)

	buf := make([]byte, streamReadBuffer)
	var delivered int64
	for {
		n, err := reader.ReadContext(ctx, buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				h.logger.Debug("stream client disconnected",
					"session_id", sess.ID.String(), "bytes", delivered)
				return
			}
			delivered += int64(n)
			if canFlush {
				flusher.Flush()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				h.logger.Debug("stream drained",
					"session_id", sess.ID.String(), "bytes", delivered)
			} else if !errors.Is(err, context.Canceled) {
				h.logger.Debug("stream read ended",
					"session_id", sess.ID.String(), "bytes", delivered, "error", err)
			}
			return
		}
	}
}

// serveFallback serves the whole-file fallback output with range
// support.
func (h *StreamHandler) serveFallback(w http.ResponseWriter, r *http.Request, output string) {
	setDeliveryHeaders(w, "fallback")
	http.ServeFile(w, r, output)
}
