package protocol

import (
	"encoding/json"

	"github.com/gorilla/websocket"
)

// Frame type tags exchanged with clients and the analysis service.
const (
	// Inbound control frame types
	ControlTypeInit = "init"
	ControlTypeStop = "stop"

	// Client-bound frame types
	FrameTypeSessionCreated   = "session_created"
	FrameTypeSessionCompleted = "session_completed"
	FrameTypeError            = "error"

	// Analysis-service frame types (outbound leg)
	AnalysisTypeInit = "init"
	AnalysisTypeStop = "stop"
)

// MessageClass distinguishes control envelopes from opaque media on an
// inbound websocket connection.
type MessageClass uint8

const (
	ClassControl MessageClass = iota + 1
	ClassMedia
)

// ControlFrame represents an inbound control envelope from a client.
// Only init frames carry the admission fields.
type ControlFrame struct {
	Type      string `json:"type"`
	ExamID    string `json:"examId"`
	StudentID string `json:"studentId"`
}

// SessionCreatedFrame confirms a successful admission to the client.
type SessionCreatedFrame struct {
	Type               string `json:"type"`
	SessionID          string `json:"sessionId"`
	ExamID             string `json:"examId"`
	StudentID          string `json:"studentId"`
	ConcurrentSessions int    `json:"concurrentSessions"`
	Status             string `json:"status"`
}

// SessionCompletedFrame carries the completion record to the client.
// Duration is reported in seconds.
type SessionCompletedFrame struct {
	Type           string  `json:"type"`
	SessionID      string  `json:"sessionId"`
	EmotionID      string  `json:"emotionId"`
	Duration       float64 `json:"duration"`
	ChunksReceived uint64  `json:"chunksReceived"`
}

// ErrorFrame notifies the client of a rejected operation.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AnalysisInitFrame is the handshake sent on a freshly opened connection
// to the analysis service.
type AnalysisInitFrame struct {
	Type       string `json:"type"`
	ExamID     string `json:"examId"`
	StudentID  string `json:"studentId"`
	SessionKey string `json:"sessionKey"`
	Timestamp  int64  `json:"timestamp"`
}

// AnalysisStopFrame tells the analysis service to finish the session and
// emit a final result.
type AnalysisStopFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// Classify decides whether an inbound websocket message is a control
// envelope or opaque media. Text frames are the control variant; binary
// frames are always media. A text frame that does not parse as a JSON
// object with a recognized type falls through to the media path rather
// than being rejected, so clients that send textual payloads mid-stream
// are relayed instead of disconnected.
func Classify(messageType int, data []byte) (MessageClass, *ControlFrame) {
	if messageType != websocket.TextMessage {
		return ClassMedia, nil
	}

	var frame ControlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return ClassMedia, nil
	}

	if frame.Type != ControlTypeInit && frame.Type != ControlTypeStop {
		return ClassMedia, nil
	}

	return ClassControl, &frame
}

// NewSessionCreated builds a creation confirmation frame.
func NewSessionCreated(sessionID, examID, studentID string, concurrent int) SessionCreatedFrame {
	return SessionCreatedFrame{
		Type:               FrameTypeSessionCreated,
		SessionID:          sessionID,
		ExamID:             examID,
		StudentID:          studentID,
		ConcurrentSessions: concurrent,
		Status:             "active",
	}
}

// NewSessionCompleted builds a completion record frame.
func NewSessionCompleted(sessionID, emotionID string, durationSeconds float64, chunks uint64) SessionCompletedFrame {
	return SessionCompletedFrame{
		Type:           FrameTypeSessionCompleted,
		SessionID:      sessionID,
		EmotionID:      emotionID,
		Duration:       durationSeconds,
		ChunksReceived: chunks,
	}
}

// NewError builds an error notice frame.
func NewError(message string) ErrorFrame {
	return ErrorFrame{Type: FrameTypeError, Message: message}
}

// ExtractEmotionID scans a raw analysis-service message for a resolved
// emotion identifier. Both camelCase and snake_case field names are
// accepted because the service has shipped both over time.
func ExtractEmotionID(data []byte) (string, bool) {
	var msg struct {
		EmotionID      string `json:"emotionId"`
		EmotionIDSnake string `json:"emotion_id"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", false
	}
	if msg.EmotionID != "" {
		return msg.EmotionID, true
	}
	if msg.EmotionIDSnake != "" {
		return msg.EmotionIDSnake, true
	}
	return "", false
}
