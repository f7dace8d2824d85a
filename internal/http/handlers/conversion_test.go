package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/stream"
)

func TestConversionHandler_StartAndGet(t *testing.T) {
	m := newTestManager(t, newStubEngine(t.TempDir()), nil)
	h := NewConversionHandler(m, setupHandlerRepo(t)).WithLogger(testLogger())
	ctx := context.Background()

	started, err := h.Start(ctx, &StartConversionInput{
		Body: StartConversionRequest{Source: "/media/movie.mkv"},
	})
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	id, err := uuid.Parse(started.Body.ID)
	if err != nil {
		t.Fatalf("Start() returned unparseable ID %q: %v", started.Body.ID, err)
	}
	if started.Body.Source != "/media/movie.mkv" {
		t.Errorf("Source = %q, want /media/movie.mkv", started.Body.Source)
	}

	sess, err := m.Get(id)
	if err != nil {
		t.Fatalf("manager lost session %s: %v", id, err)
	}
	waitDone(t, sess)

	got, err := h.GetByID(ctx, &GetConversionInput{ID: started.Body.ID})
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if got.Body.State != "completed" {
		t.Errorf("State = %q, want completed", got.Body.State)
	}
	if got.Body.MimeType != "video/mp4" {
		t.Errorf("MimeType = %q, want video/mp4", got.Body.MimeType)
	}
	if got.Body.Monitor.ChunksAppended != 3 {
		t.Errorf("ChunksAppended = %d, want 3", got.Body.Monitor.ChunksAppended)
	}
	if got.Body.Error != "" {
		t.Errorf("Error = %q, want empty", got.Body.Error)
	}
}

func TestConversionHandler_Start_CustomChunkDuration(t *testing.T) {
	m := newTestManager(t, newStubEngine(t.TempDir()), nil)
	h := NewConversionHandler(m, setupHandlerRepo(t)).WithLogger(testLogger())
	ctx := context.Background()

	// 24s source with 12s windows produces two chunks.
	started, err := h.Start(ctx, &StartConversionInput{
		Body: StartConversionRequest{Source: "/media/movie.mkv", ChunkDuration: 12},
	})
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	sess, err := m.Get(uuid.MustParse(started.Body.ID))
	if err != nil {
		t.Fatalf("manager lost session: %v", err)
	}
	waitDone(t, sess)

	got, err := h.GetByID(ctx, &GetConversionInput{ID: started.Body.ID})
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if got.Body.Monitor.ChunksAppended != 2 {
		t.Errorf("ChunksAppended = %d, want 2", got.Body.Monitor.ChunksAppended)
	}
}

func TestConversionHandler_Start_EmptySource(t *testing.T) {
	m := newTestManager(t, newStubEngine(t.TempDir()), nil)
	h := NewConversionHandler(m, setupHandlerRepo(t)).WithLogger(testLogger())

	_, err := h.Start(context.Background(), &StartConversionInput{
		Body: StartConversionRequest{Source: ""},
	})
	if got := statusOf(t, err); got != 400 {
		t.Errorf("Start() with empty source = %d, want 400", got)
	}
}

func TestConversionHandler_Start_AtCapacity(t *testing.T) {
	cfg := handlerStreamConfig()
	cfg.MaxConcurrentSessions = 1
	m := stream.NewManager(stream.ManagerConfig{
		Stream:    cfg,
		OutputDir: t.TempDir(),
		Engine:    newStubEngine(t.TempDir()),
		Prober:    &stubProber{duration: 24 * time.Second},
		Logger:    testLogger(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		m.Close(ctx)
	})
	h := NewConversionHandler(m, setupHandlerRepo(t)).WithLogger(testLogger())
	ctx := context.Background()

	started, err := h.Start(ctx, &StartConversionInput{
		Body: StartConversionRequest{Source: "/media/a.mkv"},
	})
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	sess, _ := m.Get(uuid.MustParse(started.Body.ID))
	waitDone(t, sess)

	// Finished sessions hold their slot until deleted.
	_, err = h.Start(ctx, &StartConversionInput{
		Body: StartConversionRequest{Source: "/media/b.mkv"},
	})
	if got := statusOf(t, err); got != 503 {
		t.Errorf("Start() over capacity = %d, want 503", got)
	}
}

func TestConversionHandler_GetByID_Errors(t *testing.T) {
	m := newTestManager(t, newStubEngine(t.TempDir()), nil)
	h := NewConversionHandler(m, setupHandlerRepo(t)).WithLogger(testLogger())
	ctx := context.Background()

	_, err := h.GetByID(ctx, &GetConversionInput{ID: "not-a-uuid"})
	if got := statusOf(t, err); got != 400 {
		t.Errorf("GetByID() with malformed ID = %d, want 400", got)
	}

	_, err = h.GetByID(ctx, &GetConversionInput{ID: uuid.NewString()})
	if got := statusOf(t, err); got != 404 {
		t.Errorf("GetByID() with unknown ID = %d, want 404", got)
	}
}

func TestConversionHandler_StopAndDelete(t *testing.T) {
	m := newTestManager(t, newStubEngine(t.TempDir()), nil)
	h := NewConversionHandler(m, setupHandlerRepo(t)).WithLogger(testLogger())
	ctx := context.Background()

	started, err := h.Start(ctx, &StartConversionInput{
		Body: StartConversionRequest{Source: "/media/movie.mkv"},
	})
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	id := started.Body.ID
	sess, _ := m.Get(uuid.MustParse(id))
	waitDone(t, sess)

	stopped, err := h.Stop(ctx, &StopConversionInput{ID: id})
	if err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if stopped.Body.Message == "" {
		t.Error("Stop() returned empty message")
	}

	if _, err := h.Delete(ctx, &DeleteConversionInput{ID: id}); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := m.Get(uuid.MustParse(id)); err == nil {
		t.Error("session still tracked after Delete()")
	}

	_, err = h.Delete(ctx, &DeleteConversionInput{ID: id})
	if got := statusOf(t, err); got != 404 {
		t.Errorf("Delete() twice = %d, want 404", got)
	}

	_, err = h.Stop(ctx, &StopConversionInput{ID: uuid.NewString()})
	if got := statusOf(t, err); got != 404 {
		t.Errorf("Stop() unknown ID = %d, want 404", got)
	}
}

func TestConversionHandler_GetRecord(t *testing.T) {
	repo := setupHandlerRepo(t)
	m := newTestManager(t, newStubEngine(t.TempDir()), repo)
	h := NewConversionHandler(m, repo).WithLogger(testLogger())
	ctx := context.Background()

	started, err := h.Start(ctx, &StartConversionInput{
		Body: StartConversionRequest{Source: "/media/movie.mkv"},
	})
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	sess, _ := m.Get(uuid.MustParse(started.Body.ID))
	waitDone(t, sess)

	got, err := h.GetRecord(ctx, &GetConversionRecordInput{ID: started.Body.ID})
	if err != nil {
		t.Fatalf("GetRecord() failed: %v", err)
	}
	if got.Body.SessionID != started.Body.ID {
		t.Errorf("SessionID = %q, want %q", got.Body.SessionID, started.Body.ID)
	}
	if got.Body.Mode != models.ModeStreamed {
		t.Errorf("Mode = %q, want %q", got.Body.Mode, models.ModeStreamed)
	}
	if got.Body.FinalState != models.ConversionCompleted {
		t.Errorf("FinalState = %q, want %q", got.Body.FinalState, models.ConversionCompleted)
	}
	if got.Body.ChunksAppended != 3 {
		t.Errorf("ChunksAppended = %d, want 3", got.Body.ChunksAppended)
	}

	_, err = h.GetRecord(ctx, &GetConversionRecordInput{ID: uuid.NewString()})
	if got := statusOf(t, err); got != 404 {
		t.Errorf("GetRecord() unknown session = %d, want 404", got)
	}

	_, err = h.GetRecord(ctx, &GetConversionRecordInput{ID: "not-a-uuid"})
	if got := statusOf(t, err); got != 400 {
		t.Errorf("GetRecord() malformed ID = %d, want 400", got)
	}
}

func TestConversionHandler_ListAndStats(t *testing.T) {
	m := newTestManager(t, newStubEngine(t.TempDir()), nil)
	h := NewConversionHandler(m, setupHandlerRepo(t)).WithLogger(testLogger())
	ctx := context.Background()

	for _, source := range []string{"/media/a.mkv", "/media/b.mkv"} {
		started, err := h.Start(ctx, &StartConversionInput{
			Body: StartConversionRequest{Source: source},
		})
		if err != nil {
			t.Fatalf("Start(%s) failed: %v", source, err)
		}
		sess, _ := m.Get(uuid.MustParse(started.Body.ID))
		waitDone(t, sess)
	}

	list, err := h.List(ctx, &ListConversionsInput{})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(list.Body.Conversions) != 2 {
		t.Fatalf("List() returned %d conversions, want 2", len(list.Body.Conversions))
	}

	stats, err := h.GetStats(ctx, &GetConversionStatsInput{})
	if err != nil {
		t.Fatalf("GetStats() failed: %v", err)
	}
	if stats.Body.ActiveSessions != 2 {
		t.Errorf("ActiveSessions = %d, want 2", stats.Body.ActiveSessions)
	}
	if stats.Body.MaxSessions != 4 {
		t.Errorf("MaxSessions = %d, want 4", stats.Body.MaxSessions)
	}
	if stats.Body.ChunksAppended != 6 {
		t.Errorf("ChunksAppended = %d, want 6", stats.Body.ChunksAppended)
	}
	if want := int64(6 * len("chunk-payload")); stats.Body.BytesAppended != want {
		t.Errorf("BytesAppended = %d, want %d", stats.Body.BytesAppended, want)
	}
	if stats.Body.ByState["completed"] != 2 {
		t.Errorf("ByState[completed] = %d, want 2", stats.Body.ByState["completed"])
	}
}
