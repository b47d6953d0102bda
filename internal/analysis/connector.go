package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/emotion-relay-service/internal/protocol"
)

// Config contains analysis-service connection parameters
type Config struct {
	Endpoint       string
	ConnectTimeout time.Duration
	ResultTimeout  time.Duration
}

// Sink receives analysis-service messages forwarded verbatim. Each
// connector has exactly one sink: the client connection that originated
// the session. Cross-session forwarding is structurally impossible.
type Sink interface {
	SendRaw(messageType int, data []byte) error
}

// Hooks are optional observation callbacks invoked from the read loop.
// Nil funcs are skipped.
type Hooks struct {
	OnResult  func()
	OnForward func()
}

// Connector owns one outbound websocket connection to the analysis
// service on behalf of one session. It forwards inbound service messages
// to the sink in receipt order and captures any resolved emotion
// identifier along the way.
type Connector struct {
	key    string
	conn   *websocket.Conn
	sink   Sink
	hooks  Hooks
	logger *slog.Logger

	// Serializes writes; gorilla/websocket allows one concurrent writer.
	writeMu sync.Mutex

	mu        sync.Mutex
	emotionID string
	failed    bool

	msgCh     chan struct{} // signaled on every inbound service message
	readDone  chan struct{} // closed when the read loop exits
	done      chan struct{} // closed on Close
	closeOnce sync.Once
}

// Dial opens the per-session connection to the analysis service,
// parameterized by the session correlation key, and sends the init
// handshake. The read loop starts before Dial returns.
func Dial(ctx context.Context, cfg Config, key, examID, studentID string, sink Sink, hooks Hooks, logger *slog.Logger) (*Connector, error) {
	target, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid analysis endpoint %s: %w", cfg.Endpoint, err)
	}
	query := target.Query()
	query.Set("session", key)
	target.RawQuery = query.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.ConnectTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		return nil, &ConnectError{Endpoint: target.String(), Err: err}
	}

	c := &Connector{
		key:      key,
		conn:     conn,
		sink:     sink,
		hooks:    hooks,
		logger:   logger,
		msgCh:    make(chan struct{}, 1),
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}

	handshake := protocol.AnalysisInitFrame{
		Type:       protocol.AnalysisTypeInit,
		ExamID:     examID,
		StudentID:  studentID,
		SessionKey: key,
		Timestamp:  time.Now().UnixMilli(),
	}
	if err := c.writeJSON(handshake); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send analysis handshake: %w", err)
	}

	go c.readLoop()

	return c, nil
}

// Key returns the session correlation key this connector was opened with.
func (c *Connector) Key() string {
	return c.key
}

// ForwardMedia relays a raw binary chunk to the analysis service.
func (c *Connector) ForwardMedia(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// SendStop tells the analysis service to finish this session. A token left
// in msgCh by an interim mid-stream message is drained first, so a
// subsequent AwaitMessage resolves only on a message received after the
// stop notice.
func (c *Connector) SendStop() error {
	select {
	case <-c.msgCh:
	default:
	}

	return c.writeJSON(protocol.AnalysisStopFrame{
		Type:      protocol.AnalysisTypeStop,
		Timestamp: time.Now().UnixMilli(),
	})
}

// AwaitMessage blocks until the next inbound service message, the timeout,
// context cancellation, or loss of the connection, whichever comes first.
// It reports whether a message won the race. The timer is always released.
func (c *Connector) AwaitMessage(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.msgCh:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	case <-c.readDone:
		// Connection is gone; no further message can arrive.
		return false
	}
}

// EmotionID returns the resolved emotion identifier, or empty when the
// service has not produced one.
func (c *Connector) EmotionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emotionID
}

// Failed reports whether the connection errored after a successful open.
func (c *Connector) Failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}

// Close tears down the outbound connection. Safe to call more than once.
func (c *Connector) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// writeJSON serializes a frame under the write lock.
func (c *Connector) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// readLoop forwards every service message to the sink in receipt order,
// capturing emotion identifiers as they pass through.
func (c *Connector) readLoop() {
	defer close(c.readDone)

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Deliberate close; not a failure.
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.mu.Lock()
					c.failed = true
					c.mu.Unlock()

					c.logger.Warn("Analysis connection error",
						slog.String("session_key", c.key),
						slog.String("error", err.Error()),
					)
				}
			}
			return
		}

		if id, ok := protocol.ExtractEmotionID(data); ok {
			c.mu.Lock()
			c.emotionID = id
			c.mu.Unlock()

			if c.hooks.OnResult != nil {
				c.hooks.OnResult()
			}

			c.logger.Debug("Emotion identifier resolved",
				slog.String("session_key", c.key),
				slog.String("emotion_id", id),
			)
		}

		// Signal the finalize race before forwarding so a waiter is
		// released even if the client write below fails.
		select {
		case c.msgCh <- struct{}{}:
		default:
		}

		if err := c.sink.SendRaw(messageType, data); err != nil {
			c.logger.Debug("Failed to forward analysis message to client",
				slog.String("session_key", c.key),
				slog.String("error", err.Error()),
			)
			continue
		}

		if c.hooks.OnForward != nil {
			c.hooks.OnForward()
		}
	}
}
