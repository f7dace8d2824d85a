package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/vodarr/internal/codec"
	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/mediasink"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/observability"
	"github.com/jmylchreest/vodarr/internal/telemetry"
)

// recordTimeout bounds the persistence write after a session ends.
const recordTimeout = 10 * time.Second

// ManagerConfig holds the collaborators and settings of the session
// manager. Recorder and Metrics may be nil; sessions then run without
// persistence or telemetry.
type ManagerConfig struct {
	Stream config.StreamConfig
	// OutputDir receives whole-file fallback results.
	OutputDir string

	Engine   Engine
	Prober   DurationProber
	Recorder ConversionRecorder
	Metrics  *telemetry.StreamMetrics
	Logger   *slog.Logger
}

// Manager owns all conversion sessions. It enforces the concurrent
// session ceiling, runs each session on its own goroutine, and
// persists a conversion record when a session reaches a terminal
// state. Finished sessions stay tracked until removed so readers can
// drain buffered media and stats remain inspectable.
type Manager struct {
	cfg    ManagerConfig
	gate   *Gate
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	closed   bool
}

// NewManager creates a session manager.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = observability.WithComponent(logger, "stream")
	return &Manager{
		cfg:      cfg,
		gate:     NewGate(cfg.Stream.Admission, logger),
		logger:   logger,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// ConversionRequest describes a conversion to start. Zero-valued
// fields fall back to the configured defaults.
type ConversionRequest struct {
	Source        string
	ChunkDuration time.Duration
	VideoCodec    string
	AudioCodec    string
	Preset        string
	Quality       int
	MaxAttempts   int
}

// Start validates the source, registers a new session and launches it
// on its own goroutine. The session detaches from ctx; cancel it
// through Session.Cancel, Stop or Close.
func (m *Manager) Start(ctx context.Context, req ConversionRequest) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Source == "" {
		return nil, fmt.Errorf("source path required")
	}
	if err := m.cfg.Engine.ValidateSource(req.Source); err != nil {
		return nil, fmt.Errorf("validating source: %w", err)
	}

	chunkDuration := req.ChunkDuration
	if chunkDuration <= 0 {
		chunkDuration = m.cfg.Stream.ChunkDuration.Duration()
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = m.cfg.Stream.MaxSessionAttempts
	}
	params := EncodeParams{
		VideoCodec: req.VideoCodec,
		AudioCodec: req.AudioCodec,
		Preset:     req.Preset,
		Quality:    req.Quality,
	}
	if params.VideoCodec == "" {
		params.VideoCodec = m.cfg.Stream.VideoCodec
	}
	if params.AudioCodec == "" {
		params.AudioCodec = m.cfg.Stream.AudioCodec
	}
	if params.Preset == "" {
		params.Preset = m.cfg.Stream.Preset
	}
	if params.Quality <= 0 {
		params.Quality = m.cfg.Stream.Quality
	}

	// Resolve codec names to their encoders and drop format preferences
	// whose container cannot carry them, so negotiation and mid-session
	// format demotion never pick a container the codecs do not fit.
	prefs := m.cfg.Stream.FormatPreferences
	if params.VideoCodec != "" {
		video, ok := codec.ParseVideo(params.VideoCodec)
		if !ok {
			return nil, fmt.Errorf("%w: video codec %q", ErrUnsupportedCodec, params.VideoCodec)
		}
		params.VideoCodec = video.Encoder()
		prefs = filterFormats(prefs, video.SupportsContainer)
	}
	if params.AudioCodec != "" {
		audio, ok := codec.ParseAudio(params.AudioCodec)
		if !ok {
			return nil, fmt.Errorf("%w: audio codec %q", ErrUnsupportedCodec, params.AudioCodec)
		}
		params.AudioCodec = audio.Encoder()
		prefs = filterFormats(prefs, audio.SupportsContainer)
	}
	if len(prefs) == 0 && len(m.cfg.Stream.FormatPreferences) > 0 {
		return nil, fmt.Errorf("%w: codecs %s/%s fit none of the configured formats",
			ErrNoSupportedFormat, params.VideoCodec, params.AudioCodec)
	}

	id := uuid.New()
	logger := m.logger.With("session_id", id.String())
	monitor := NewMonitor(m.cfg.Metrics)
	adapter := NewSinkAdapter(mediasink.Config{
		MaxBufferedBytes: m.cfg.Stream.Sink.MaxBufferedBytes.Int64(),
	}, prefs, logger)

	controller := NewController(ControllerConfig{
		Engine:            m.cfg.Engine,
		Prober:            m.cfg.Prober,
		Sink:              adapter,
		Gate:              m.gate,
		Monitor:           monitor,
		Logger:            logger,
		SessionID:         id,
		Source:            req.Source,
		OutputDir:         m.cfg.OutputDir,
		ChunkDuration:     chunkDuration,
		MaxChunkRetries:   m.cfg.Stream.MaxChunkRetries,
		ChunkRetryDelay:   m.cfg.Stream.ChunkRetryDelay.Duration(),
		MaxAppendFailures: m.cfg.Stream.MaxAppendFailures,
		MaxAttempts:       maxAttempts,
		AttemptCooldown:   m.cfg.Stream.AttemptCooldown.Duration(),
		ReopenDelay:       m.cfg.Stream.ReopenDelay.Duration(),
		Params:            params,
	})

	sctx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		ID:         id,
		Source:     req.Source,
		CreatedAt:  time.Now(),
		controller: controller,
		monitor:    monitor,
		adapter:    adapter,
		params:     params,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return nil, ErrManagerClosed
	}
	if len(m.sessions) >= m.cfg.Stream.MaxConcurrentSessions {
		n := len(m.sessions)
		m.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("%w: %d sessions tracked", ErrTooManySessions, n)
	}
	m.sessions[id] = sess
	m.mu.Unlock()

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ActiveSessions.Inc()
	}
	m.logger.Info("conversion session started",
		"session_id", id.String(), "source", req.Source)

	go m.runSession(sctx, sess)
	return sess, nil
}

// filterFormats drops preferences whose container is known to be unable
// to carry the codec. Unparseable preferences pass through; sink
// negotiation rejects those the same way it always has.
func filterFormats(prefs []string, supports func(string) bool) []string {
	kept := make([]string, 0, len(prefs))
	for _, mime := range prefs {
		container, err := mediasink.ParseMimeType(mime)
		if err == nil && container != mediasink.ContainerUnknown && !supports(container.String()) {
			continue
		}
		kept = append(kept, mime)
	}
	return kept
}

// runSession drives one session to its terminal state and persists the
// outcome.
func (m *Manager) runSession(ctx context.Context, sess *Session) {
	defer close(sess.done)

	startedAt := time.Now()
	err := sess.controller.Run(ctx)
	sess.setErr(err)
	finishedAt := time.Now()

	state := sess.controller.State()
	if err != nil {
		m.logger.Error("conversion session failed",
			"session_id", sess.ID.String(), "state", state.String(), "error", err)
	} else {
		m.logger.Info("conversion session finished",
			"session_id", sess.ID.String(), "state", state.String(),
			"chunks", sess.monitor.ChunksAppended())
	}

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ActiveSessions.Dec()
		m.cfg.Metrics.IncrementSessions(state.String())
	}

	m.record(sess, err, startedAt, finishedAt)
}

// record persists the session outcome. The write runs on a detached
// context so a cancelled session still leaves a record behind.
func (m *Manager) record(sess *Session, runErr error, startedAt, finishedAt time.Time) {
	if m.cfg.Recorder == nil {
		return
	}

	output, usedFallback := sess.controller.Output()
	mode := models.ModeStreamed
	if usedFallback {
		mode = models.ModeFallback
	}
	finalState := models.ConversionAborted
	if sess.controller.State() == StateCompleted {
		finalState = models.ConversionCompleted
	}
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	container := ""
	if c := sess.adapter.Container(); c != mediasink.ContainerUnknown {
		container = c.String()
	}

	rec := &models.ConversionRecord{
		SessionID:      sess.ID.String(),
		Source:         sess.Source,
		Container:      container,
		VideoCodec:     sess.params.VideoCodec,
		AudioCodec:     sess.params.AudioCodec,
		Preset:         sess.params.Preset,
		Quality:        sess.params.Quality,
		Mode:           mode,
		FinalState:     finalState,
		Attempts:       sess.controller.Attempts(),
		ChunksAppended: sess.monitor.ChunksAppended(),
		BytesAppended:  sess.monitor.BytesAppended(),
		SourceDuration: sess.controller.SourceDuration().Seconds(),
		OutputPath:     output,
		Error:          errMsg,
		StartedAt:      &startedAt,
		FinishedAt:     &finishedAt,
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := m.cfg.Recorder.RecordConversion(ctx, rec); err != nil {
		m.logger.Error("recording conversion failed",
			"session_id", sess.ID.String(), "error", err)
	}
}

// Get returns the session with the given ID.
func (m *Manager) Get(id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// List returns all tracked sessions ordered by creation time.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID.String() < sessions[j].ID.String()
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions
}

// Stop cancels a session. The session stays tracked until Remove so
// its stats and any buffered media remain reachable.
func (m *Manager) Stop(id uuid.UUID) error {
	sess, err := m.Get(id)
	if err != nil {
		return err
	}
	sess.Cancel()
	return nil
}

// Remove cancels a session, waits for it to finish, tears its sink
// down and stops tracking it.
func (m *Manager) Remove(ctx context.Context, id uuid.UUID) error {
	sess, err := m.Get(id)
	if err != nil {
		return err
	}

	sess.Cancel()
	select {
	case <-sess.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	sess.adapter.Close()

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	m.logger.Info("conversion session removed", "session_id", id.String())
	return nil
}

// Close shuts the manager down: no new sessions are accepted, every
// tracked session is cancelled and awaited, and all sinks are torn
// down. ctx bounds the wait.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[uuid.UUID]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.Cancel()
	}
	var waitErr error
	for _, sess := range sessions {
		select {
		case <-sess.Done():
		case <-ctx.Done():
			waitErr = ctx.Err()
		}
		sess.adapter.Close()
	}
	m.logger.Info("stream manager closed", "sessions", len(sessions))
	return waitErr
}

// ManagerStats is a point-in-time snapshot of the manager.
type ManagerStats struct {
	ActiveSessions int            `json:"active_sessions"`
	MaxSessions    int            `json:"max_sessions"`
	Sessions       []SessionStats `json:"sessions"`
}

// Stats snapshots every tracked session. Session stats are collected
// outside the manager lock.
func (m *Manager) Stats() ManagerStats {
	sessions := m.List()
	stats := ManagerStats{
		ActiveSessions: len(sessions),
		MaxSessions:    m.cfg.Stream.MaxConcurrentSessions,
		Sessions:       make([]SessionStats, 0, len(sessions)),
	}
	for _, sess := range sessions {
		stats.Sessions = append(stats.Sessions, sess.Stats())
	}
	return stats
}
