package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jmylchreest/vodarr/internal/stream"
)

func streamRouter(t *testing.T, m *stream.Manager) chi.Router {
	t.Helper()
	router := chi.NewRouter()
	NewStreamHandler(m).WithLogger(testLogger()).RegisterChiRoutes(router)
	return router
}

func runConversion(t *testing.T, m *stream.Manager, source string) string {
	t.Helper()
	sess, err := m.Start(context.Background(), stream.ConversionRequest{Source: source})
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	waitDone(t, sess)
	return sess.ID.String()
}

func getStream(router chi.Router, id string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversions/"+id+"/stream", nil)
	router.ServeHTTP(rec, req)
	return rec
}

func TestStreamHandler_DeliversStreamedMedia(t *testing.T) {
	m := newTestManager(t, newStubEngine(t.TempDir()), nil)
	router := streamRouter(t, m)
	id := runConversion(t, m, "/media/movie.mkv")

	rec := getStream(router, id)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "video/mp4" {
		t.Errorf("Content-Type = %q, want video/mp4", got)
	}
	if got := rec.Header().Get("X-Conversion-Mode"); got != "streamed" {
		t.Errorf("X-Conversion-Mode = %q, want streamed", got)
	}
	if got := rec.Header().Get("Cache-Control"); !strings.Contains(got, "no-cache") {
		t.Errorf("Cache-Control = %q, want no-cache", got)
	}
	if want := strings.Repeat("chunk-payload", 3); rec.Body.String() != want {
		t.Errorf("body = %q, want %q", rec.Body.String(), want)
	}
	if !rec.Flushed {
		t.Error("expected the response to be flushed during delivery")
	}
}

func TestStreamHandler_ServesFallbackOutput(t *testing.T) {
	eng := newStubEngine(t.TempDir())
	eng.failChunks = true
	m := newTestManager(t, eng, nil)
	router := streamRouter(t, m)
	id := runConversion(t, m, "/media/movie.mkv")

	rec := getStream(router, id)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-Conversion-Mode"); got != "fallback" {
		t.Errorf("X-Conversion-Mode = %q, want fallback", got)
	}
	if rec.Body.String() != "chunk-payload" {
		t.Errorf("body = %q, want the converted file content", rec.Body.String())
	}
}

func TestStreamHandler_InvalidID(t *testing.T) {
	m := newTestManager(t, newStubEngine(t.TempDir()), nil)
	router := streamRouter(t, m)

	rec := getStream(router, "not-a-uuid")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStreamHandler_UnknownSession(t *testing.T) {
	m := newTestManager(t, newStubEngine(t.TempDir()), nil)
	router := streamRouter(t, m)

	rec := getStream(router, uuid.NewString())

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestStreamHandler_AbortedWithoutOutput(t *testing.T) {
	eng := newStubEngine(t.TempDir())
	eng.failChunks = true
	eng.failWhole = true
	m := newTestManager(t, eng, nil)
	router := streamRouter(t, m)
	id := runConversion(t, m, "/media/movie.mkv")

	rec := getStream(router, id)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestStreamHandler_Preflight(t *testing.T) {
	m := newTestManager(t, newStubEngine(t.TempDir()), nil)
	router := streamRouter(t, m)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/conversions/"+uuid.NewString()+"/stream", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}
