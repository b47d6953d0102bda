package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/skypro1111/emotion-relay-service/internal/media"
)

// Session status values as observed by clients and the introspection API.
const (
	StatusActive     = "active"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Status transition events. The machine enforces that no path reaches a
// terminal state without passing through processing.
const (
	eventProcess  = "process"
	eventComplete = "complete"
	eventFail     = "fail"
)

// newStatusFSM builds the session status machine:
// active -> processing -> {completed, failed}
func newStatusFSM() *fsm.FSM {
	return fsm.NewFSM(
		StatusActive,
		fsm.Events{
			{Name: eventProcess, Src: []string{StatusActive}, Dst: StatusProcessing},
			{Name: eventComplete, Src: []string{StatusProcessing}, Dst: StatusCompleted},
			{Name: eventFail, Src: []string{StatusProcessing}, Dst: StatusFailed},
		}, nil,
	)
}

// ClientConn is the inbound client connection handle owned by a session.
// Implementations must serialize their own writes.
type ClientConn interface {
	SendJSON(v any) error
	SendRaw(messageType int, data []byte) error
	Close() error
}

// AnalysisConn is the outbound connection handle owned by a session. It is
// satisfied by *analysis.Connector and by test fakes.
type AnalysisConn interface {
	ForwardMedia(data []byte) error
	SendStop() error
	AwaitMessage(ctx context.Context, timeout time.Duration) bool
	EmotionID() string
	Failed() bool
	Close() error
}

// Session binds one inbound client media stream to one outbound
// analysis-service interaction.
type Session struct {
	ID        string
	ExamID    string
	StudentID string
	Key       string
	StartTime time.Time

	Buffer *media.Buffer

	client    ClientConn
	connector AnalysisConn // nil when the service was unreachable at admission

	status    *fsm.FSM
	emotionID string
	degraded  bool
	finalized bool

	mu sync.Mutex
}

// SessionInfo is the introspection snapshot of a session.
type SessionInfo struct {
	SessionID      string    `json:"sessionId"`
	ExamID         string    `json:"examId"`
	StudentID      string    `json:"studentId"`
	EmotionID      string    `json:"emotionId"`
	Status         string    `json:"status"`
	StartTime      time.Time `json:"startTime"`
	ChunksReceived uint64    `json:"chunksReceived"`
}

// NewSessionKey builds the correlation key identifying a session to the
// analysis service. The admission timestamp disambiguates rapid
// re-admissions for the same pair.
func NewSessionKey(examID, studentID string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%d", examID, studentID, at.UnixMilli())
}

// newSession constructs a session in status active with a fresh identifier.
func newSession(examID, studentID string, client ClientConn, bufferMax, bufferRetain int) *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.NewString(),
		ExamID:    examID,
		StudentID: studentID,
		Key:       NewSessionKey(examID, studentID, now),
		StartTime: now,
		Buffer:    media.NewBuffer(bufferMax, bufferRetain),
		client:    client,
		status:    newStatusFSM(),
	}
}

// Status returns the externally observed session status.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.Current()
}

// IsActive reports whether the session still accepts media.
func (s *Session) IsActive() bool {
	return s.Status() == StatusActive
}

// MarkDegraded records an analysis-side failure without changing the
// externally observed status; finalize surfaces it later.
func (s *Session) MarkDegraded() {
	s.mu.Lock()
	s.degraded = true
	s.mu.Unlock()
}

// Degraded reports whether the analysis side failed at some point.
func (s *Session) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Connector returns the outbound connection handle, which may be nil.
func (s *Session) Connector() AnalysisConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connector
}

// setConnector installs the outbound handle at admission time.
func (s *Session) setConnector(c AnalysisConn) {
	s.mu.Lock()
	s.connector = c
	s.mu.Unlock()
}

// beginFinalize claims the finalize sequence. Only the first caller wins;
// concurrent triggers (stop frame racing a connection close, displacement
// racing either) become no-ops.
func (s *Session) beginFinalize() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return false
	}
	s.finalized = true
	return true
}

// transition drives the status machine.
func (s *Session) transition(event string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.Event(context.Background(), event)
}

// EmotionID returns the resolved emotion identifier. Before finalize the
// connector's live value is consulted; afterwards the captured value is
// authoritative.
func (s *Session) EmotionID() string {
	s.mu.Lock()
	id := s.emotionID
	conn := s.connector
	s.mu.Unlock()

	if id != "" {
		return id
	}
	if conn != nil {
		return conn.EmotionID()
	}
	return ""
}

// setEmotionID stores the resolved identifier captured during finalize.
func (s *Session) setEmotionID(id string) {
	s.mu.Lock()
	s.emotionID = id
	s.mu.Unlock()
}

// SyntheticEmotionID returns the deterministic fallback identifier used
// when the analysis service never produced a result.
func (s *Session) SyntheticEmotionID() string {
	return "local-" + s.Key
}

// Snapshot returns the introspection view of the session.
func (s *Session) Snapshot() SessionInfo {
	return SessionInfo{
		SessionID:      s.ID,
		ExamID:         s.ExamID,
		StudentID:      s.StudentID,
		EmotionID:      s.EmotionID(),
		Status:         s.Status(),
		StartTime:      s.StartTime,
		ChunksReceived: s.Buffer.Received(),
	}
}
