package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/skypro1111/emotion-relay-service/internal/analysis"
	"github.com/skypro1111/emotion-relay-service/internal/metrics"
	"github.com/skypro1111/emotion-relay-service/internal/protocol"
)

// DialFunc opens the outbound analysis connection for a freshly admitted
// session. Swappable so tests can substitute a fake connector.
type DialFunc func(ctx context.Context, key, examID, studentID string, sink analysis.Sink) (AnalysisConn, error)

// ManagerConfig contains configuration for the session manager
type ManagerConfig struct {
	Analysis           analysis.Config
	BufferMaxChunks    int
	BufferRetainChunks int
	Retention          time.Duration
}

// Manager drives session admission, displacement, media relay, graceful
// finalize, and deferred cleanup. It owns the registry and the expiry
// scheduler.
type Manager struct {
	registry  *Registry
	scheduler *ExpiryScheduler
	logger    *slog.Logger
	metrics   *metrics.Metrics
	cfg       ManagerConfig
	dial      DialFunc
}

// NewManager creates a session manager wired to the real analysis service.
func NewManager(logger *slog.Logger, m *metrics.Metrics, cfg ManagerConfig) *Manager {
	mgr := &Manager{
		registry: NewRegistry(),
		logger:   logger,
		metrics:  m,
		cfg:      cfg,
	}

	mgr.dial = func(ctx context.Context, key, examID, studentID string, sink analysis.Sink) (AnalysisConn, error) {
		c, err := analysis.Dial(ctx, cfg.Analysis, key, examID, studentID, sink, analysis.Hooks{
			OnResult:  m.RecordAnalysisResult,
			OnForward: m.RecordAnalysisForwarded,
		}, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	mgr.scheduler = NewExpiryScheduler(mgr.purge)

	return mgr
}

// Admit handles an init control frame: displaces any active session for
// the same (examId, studentId) pair, constructs the new session, attempts
// the analysis connection, registers the session, and confirms creation to
// the client. The returned session owns the client connection from here on.
func (m *Manager) Admit(ctx context.Context, client ClientConn, examID, studentID string) (*Session, error) {
	if examID == "" {
		m.metrics.RecordAdmissionError()
		return nil, &AdmissionError{Field: "examId"}
	}
	if studentID == "" {
		m.metrics.RecordAdmissionError()
		return nil, &AdmissionError{Field: "studentId"}
	}

	// Displacement: the prior session must run its full finalize sequence
	// before the successor is admitted. Synchronous on purpose so the
	// prior completion frame is observable before the new confirmation.
	if prior, ok := m.registry.ActiveForPair(examID, studentID); ok {
		m.logger.Info("Displacing active session for pair",
			slog.String("session_id", prior.ID),
			slog.String("exam_id", examID),
			slog.String("student_id", studentID),
		)
		m.metrics.RecordSessionDisplaced()
		m.Finalize(ctx, prior, "displaced")
	}

	s := newSession(examID, studentID, client, m.cfg.BufferMaxChunks, m.cfg.BufferRetainChunks)

	conn, err := m.dial(ctx, s.Key, examID, studentID, client)
	if err != nil {
		// Degraded admission: the session proceeds without a connector
		// and finalize falls back to a synthesized identifier. An
		// unreachable analysis service must never block the client.
		m.metrics.RecordAnalysisConnectFailure()
		s.MarkDegraded()
		m.logger.Warn("Analysis service unreachable, session degraded",
			slog.String("session_id", s.ID),
			slog.String("session_key", s.Key),
			slog.String("error", err.Error()),
		)
	} else {
		s.setConnector(conn)
	}

	m.registry.Insert(s)
	m.metrics.RecordSessionCreated()

	concurrent := m.registry.CountActiveForExam(examID)

	if err := client.SendJSON(protocol.NewSessionCreated(s.ID, examID, studentID, concurrent)); err != nil {
		m.logger.Warn("Failed to send creation confirmation",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
	}

	m.logger.Info("Session admitted",
		slog.String("session_id", s.ID),
		slog.String("session_key", s.Key),
		slog.String("exam_id", examID),
		slog.String("student_id", studentID),
		slog.Int("concurrent_sessions", concurrent),
		slog.Bool("degraded", s.Degraded()),
	)

	return s, nil
}

// RelayMedia routes one binary chunk to its session: buffer first, then
// forward to the analysis service when the outbound connection is usable.
// Chunks for unknown or non-active sessions are dropped silently and
// reported false.
func (m *Manager) RelayMedia(sessionID string, data []byte) bool {
	s, ok := m.registry.Get(sessionID)
	if !ok || !s.IsActive() {
		m.metrics.RecordChunkDropped()
		return false
	}

	s.Buffer.Append(data)
	m.metrics.RecordChunkReceived()

	conn := s.Connector()
	if conn == nil || conn.Failed() {
		// Retained locally but not forwarded; degraded delivery.
		return true
	}

	if err := conn.ForwardMedia(data); err != nil {
		s.MarkDegraded()
		m.metrics.RecordAnalysisRuntimeError()
		m.logger.Warn("Failed to forward chunk to analysis service",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
		return true
	}

	m.metrics.RecordChunkForwarded()
	return true
}

// Finalize runs the graceful stop sequence exactly once per session:
// active -> processing, bounded wait for a final analysis message,
// completion record to the client, terminal status, deferred purge.
// Safe to call from any trigger; later callers are no-ops.
func (m *Manager) Finalize(ctx context.Context, s *Session, reason string) {
	if !s.beginFinalize() {
		return
	}

	m.logger.Info("Finalizing session",
		slog.String("session_id", s.ID),
		slog.String("reason", reason),
	)

	var finalizeErr error

	if err := s.transition(eventProcess); err != nil {
		finalizeErr = &FinalizeError{Step: "transition", Err: err}
	}

	if conn := s.Connector(); conn != nil && finalizeErr == nil {
		if conn.Failed() {
			m.metrics.RecordAnalysisRuntimeError()
			s.MarkDegraded()
		} else if err := conn.SendStop(); err != nil {
			// Analysis connection died between last forward and stop;
			// nothing more to wait for.
			s.MarkDegraded()
			m.logger.Warn("Failed to send stop notice to analysis service",
				slog.String("session_id", s.ID),
				slog.String("error", err.Error()),
			)
		} else {
			waitStart := time.Now()
			gotMessage := conn.AwaitMessage(ctx, m.cfg.Analysis.ResultTimeout)
			m.metrics.RecordFinalizeWait(time.Since(waitStart).Seconds())

			m.logger.Debug("Finalize wait resolved",
				slog.String("session_id", s.ID),
				slog.Bool("final_message", gotMessage),
				slog.Duration("waited", time.Since(waitStart)),
			)
		}

		if err := conn.Close(); err != nil {
			m.logger.Debug("Error closing analysis connection",
				slog.String("session_id", s.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	emotionID := s.EmotionID()
	if emotionID == "" {
		emotionID = s.SyntheticEmotionID()
	}
	s.setEmotionID(emotionID)

	duration := time.Since(s.StartTime)
	chunks := s.Buffer.Received()

	if finalizeErr == nil {
		record := protocol.NewSessionCompleted(s.ID, emotionID, duration.Seconds(), chunks)
		if err := s.client.SendJSON(record); err != nil {
			// The client connection may already be closed (it is, for the
			// connection-close trigger). Best-effort by contract.
			m.logger.Debug("Could not deliver completion record",
				slog.String("session_id", s.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	status := StatusCompleted
	if finalizeErr != nil {
		status = StatusFailed
		if err := s.transition(eventFail); err != nil {
			m.logger.Error("Status machine rejected fail transition",
				slog.String("session_id", s.ID),
				slog.String("error", err.Error()),
			)
		}
		if err := s.client.SendJSON(protocol.NewError(finalizeErr.Error())); err != nil {
			m.logger.Debug("Could not deliver finalize error notice",
				slog.String("session_id", s.ID),
				slog.String("error", err.Error()),
			)
		}
	} else {
		if err := s.transition(eventComplete); err != nil {
			m.logger.Error("Status machine rejected complete transition",
				slog.String("session_id", s.ID),
				slog.String("error", err.Error()),
			)
			status = StatusFailed
			// Keep the machine terminal so the snapshot agrees with the
			// reported status.
			if failErr := s.transition(eventFail); failErr != nil {
				m.logger.Error("Status machine rejected fail transition",
					slog.String("session_id", s.ID),
					slog.String("error", failErr.Error()),
				)
			}
		}
	}

	m.metrics.RecordSessionFinalized(status, duration.Seconds())
	m.scheduler.Schedule(s.ID, m.cfg.Retention)

	m.logger.Info("Session finalized",
		slog.String("session_id", s.ID),
		slog.String("status", status),
		slog.String("emotion_id", emotionID),
		slog.Duration("duration", duration),
		slog.Uint64("chunks_received", chunks),
	)
}

// FinalizeByID finalizes the session with the given identifier if it is
// still registered.
func (m *Manager) FinalizeByID(ctx context.Context, sessionID, reason string) {
	if s, ok := m.registry.Get(sessionID); ok {
		m.Finalize(ctx, s, reason)
	}
}

// Snapshot returns the introspection view of a session, or ok=false for
// unknown identifiers. Never an error: unknown is an empty result.
func (m *Manager) Snapshot(sessionID string) (SessionInfo, bool) {
	s, ok := m.registry.Get(sessionID)
	if !ok {
		return SessionInfo{}, false
	}
	return s.Snapshot(), true
}

// Sessions returns snapshots of every registered session, terminal ones
// still inside their retention window included.
func (m *Manager) Sessions() []SessionInfo {
	all := m.registry.All()
	out := make([]SessionInfo, 0, len(all))
	for _, s := range all {
		out = append(out, s.Snapshot())
	}
	return out
}

// ActiveSessionCount returns the number of sessions in status active.
func (m *Manager) ActiveSessionCount() int {
	count := 0
	for _, s := range m.registry.All() {
		if s.IsActive() {
			count++
		}
	}
	return count
}

// CountActiveForExam reports the concurrent active sessions for one exam.
func (m *Manager) CountActiveForExam(examID string) int {
	return m.registry.CountActiveForExam(examID)
}

// RegisteredSessionCount returns the total registry size, retention
// window included.
func (m *Manager) RegisteredSessionCount() int {
	return m.registry.Len()
}

// Shutdown force-closes every connection across all sessions and clears
// the registry. Process teardown only; individual sessions go through
// Finalize.
func (m *Manager) Shutdown() {
	m.logger.Info("Shutting down session manager...")

	m.scheduler.Stop()

	drained := m.registry.Drain()
	for _, s := range drained {
		if conn := s.Connector(); conn != nil {
			if err := conn.Close(); err != nil {
				m.logger.Debug("Error closing analysis connection",
					slog.String("session_id", s.ID),
					slog.String("error", err.Error()),
				)
			}
		}
		if err := s.client.Close(); err != nil {
			m.logger.Debug("Error closing client connection",
				slog.String("session_id", s.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	m.logger.Info("Session manager stopped",
		slog.Int("sessions_dropped", len(drained)),
	)
}

// purge removes a terminal session once its retention delay has elapsed.
func (m *Manager) purge(sessionID string) {
	if m.registry.Remove(sessionID) {
		m.logger.Debug("Purged terminal session",
			slog.String("session_id", sessionID),
		)
	}
}
