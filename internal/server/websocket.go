package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/emotion-relay-service/internal/config"
	"github.com/skypro1111/emotion-relay-service/internal/protocol"
	"github.com/skypro1111/emotion-relay-service/internal/session"
)

// WSServer accepts inbound client connections on the fixed session
// endpoint and feeds classified frames into the session manager.
type WSServer struct {
	server   *http.Server
	upgrader websocket.Upgrader
	cfg      *config.ServerConfig
	logger   *slog.Logger
	manager  *session.Manager

	// Frame counters
	connectionsAccepted uint64
	framesReceived      uint64
	controlFrames       uint64
	mediaFrames         uint64
	mediaDropped        uint64
	mu                  sync.RWMutex
}

// NewWSServer creates the websocket acceptor bound to the configured
// endpoint path.
func NewWSServer(cfg *config.ServerConfig, logger *slog.Logger, manager *session.Manager) *WSServer {
	s := &WSServer{
		cfg:     cfg,
		logger:  logger,
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Authentication and origin policy live in the surrounding
			// transport layer.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.WSPath, s.handleConnection)

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port),
		Handler: mux,
	}

	return s
}

// Handler exposes the acceptor's HTTP handler; used by tests to host the
// endpoint on an httptest server.
func (s *WSServer) Handler() http.Handler {
	return s.server.Handler
}

// Start begins accepting websocket connections.
func (s *WSServer) Start() error {
	s.logger.Info("Starting websocket server",
		slog.String("address", s.server.Addr),
		slog.String("path", s.cfg.WSPath),
	)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Websocket server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops accepting new connections. Established sessions
// are torn down by the manager's shutdown.
func (s *WSServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping websocket server...")

	return s.server.Shutdown(ctx)
}

// handleConnection upgrades one inbound connection and runs its read loop.
func (s *WSServer) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	conn.SetReadLimit(s.cfg.MaxMessageSize)

	s.mu.Lock()
	s.connectionsAccepted++
	s.mu.Unlock()

	s.logger.Debug("Client connected",
		slog.String("remote_addr", r.RemoteAddr),
	)

	client := newClientConn(conn, s.cfg.GetWriteTimeoutDuration())
	s.serveClient(client, r.RemoteAddr)
}

// serveClient is the per-connection read loop: classify each frame and
// route it. Connection close or error finalizes the bound session.
func (s *WSServer) serveClient(client *clientConn, remoteAddr string) {
	defer client.Close()

	var sess *session.Session

	for {
		messageType, data, err := client.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("Client read error",
					slog.String("remote_addr", remoteAddr),
					slog.String("error", err.Error()),
				)
			}
			break
		}

		s.mu.Lock()
		s.framesReceived++
		s.mu.Unlock()

		class, ctrl := protocol.Classify(messageType, data)
		if class == protocol.ClassControl {
			s.mu.Lock()
			s.controlFrames++
			s.mu.Unlock()

			switch ctrl.Type {
			case protocol.ControlTypeInit:
				// A repeated init supersedes whatever session this
				// connection carries, even for a different pair. The
				// manager's displacement only covers same-pair
				// re-admissions, so finalize the bound session here.
				if sess != nil {
					s.manager.Finalize(context.Background(), sess, "superseded by re-init")
					sess = nil
				}

				admitted, err := s.manager.Admit(context.Background(), client, ctrl.ExamID, ctrl.StudentID)
				if err != nil {
					s.logger.Warn("Admission rejected",
						slog.String("remote_addr", remoteAddr),
						slog.String("error", err.Error()),
					)
					if sendErr := client.SendJSON(protocol.NewError(err.Error())); sendErr != nil {
						s.logger.Debug("Could not deliver admission error",
							slog.String("error", sendErr.Error()),
						)
					}
					continue
				}
				sess = admitted

			case protocol.ControlTypeStop:
				if sess != nil {
					s.manager.Finalize(context.Background(), sess, "stop requested")
				}
			}
			continue
		}

		s.mu.Lock()
		s.mediaFrames++
		s.mu.Unlock()

		if sess == nil || !s.manager.RelayMedia(sess.ID, data) {
			s.mu.Lock()
			s.mediaDropped++
			s.mu.Unlock()
		}
	}

	if sess != nil {
		s.manager.Finalize(context.Background(), sess, "connection closed")
	}

	s.logger.Debug("Client disconnected",
		slog.String("remote_addr", remoteAddr),
	)
}

// GetStatistics returns current acceptor statistics
func (s *WSServer) GetStatistics() WSStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return WSStatistics{
		ConnectionsAccepted: s.connectionsAccepted,
		FramesReceived:      s.framesReceived,
		ControlFrames:       s.controlFrames,
		MediaFrames:         s.mediaFrames,
		MediaDropped:        s.mediaDropped,
		ActiveSessions:      uint64(s.manager.ActiveSessionCount()),
	}
}

// WSStatistics represents acceptor performance counters
type WSStatistics struct {
	ConnectionsAccepted uint64 `json:"connections_accepted"`
	FramesReceived      uint64 `json:"frames_received"`
	ControlFrames       uint64 `json:"control_frames"`
	MediaFrames         uint64 `json:"media_frames"`
	MediaDropped        uint64 `json:"media_dropped"`
	ActiveSessions      uint64 `json:"active_sessions"`
}

// clientConn wraps one inbound websocket connection with serialized,
// deadline-bounded writes. It is the session.ClientConn handed to the
// manager and the analysis.Sink the connector forwards into.
type clientConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newClientConn(conn *websocket.Conn, writeTimeout time.Duration) *clientConn {
	return &clientConn{
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

// SendJSON writes a JSON frame to the client.
func (c *clientConn) SendJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// SendRaw writes a verbatim frame to the client, preserving the original
// websocket message type.
func (c *clientConn) SendRaw(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// Close closes the underlying connection. Safe to call more than once.
func (c *clientConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
