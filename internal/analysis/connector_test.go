package analysis

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/emotion-relay-service/internal/protocol"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newMockServer hosts a websocket endpoint that hands each upgraded
// connection to the handler. Returns the ws:// URL.
func newMockServer(t *testing.T, handler func(r *http.Request, conn *websocket.Conn)) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(r, conn)
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// holdOpen blocks until the peer closes the connection.
func holdOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// captureSink records forwarded messages and signals each arrival.
type captureSink struct {
	mu       sync.Mutex
	types    []int
	messages [][]byte
	received chan struct{}
}

func newCaptureSink() *captureSink {
	return &captureSink{received: make(chan struct{}, 16)}
}

func (s *captureSink) SendRaw(messageType int, data []byte) error {
	s.mu.Lock()
	msg := make([]byte, len(data))
	copy(msg, data)
	s.types = append(s.types, messageType)
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	s.received <- struct{}{}
	return nil
}

func (s *captureSink) last() (int, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return 0, nil
	}
	return s.types[len(s.types)-1], s.messages[len(s.messages)-1]
}

func testConfig(endpoint string) Config {
	return Config{
		Endpoint:       endpoint,
		ConnectTimeout: 2 * time.Second,
		ResultTimeout:  time.Second,
	}
}

func TestDialSendsInitHandshake(t *testing.T) {
	type received struct {
		frame      protocol.AnalysisInitFrame
		sessionKey string
	}
	got := make(chan received, 1)

	endpoint := newMockServer(t, func(r *http.Request, conn *websocket.Conn) {
		var frame protocol.AnalysisInitFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		got <- received{frame: frame, sessionKey: r.URL.Query().Get("session")}
		holdOpen(conn)
	})

	c, err := Dial(context.Background(), testConfig(endpoint),
		"exam-1_student-1_1700000000000", "exam-1", "student-1",
		newCaptureSink(), Hooks{}, discardLogger())
	require.NoError(t, err)
	defer c.Close()

	select {
	case r := <-got:
		require.Equal(t, protocol.AnalysisTypeInit, r.frame.Type)
		require.Equal(t, "exam-1", r.frame.ExamID)
		require.Equal(t, "student-1", r.frame.StudentID)
		require.Equal(t, "exam-1_student-1_1700000000000", r.frame.SessionKey)
		require.NotZero(t, r.frame.Timestamp)
		require.Equal(t, "exam-1_student-1_1700000000000", r.sessionKey,
			"correlation key must travel in the query string")
	case <-time.After(2 * time.Second):
		t.Fatal("service never received the init handshake")
	}
}

func TestDialFailsWhenUnreachable(t *testing.T) {
	cfg := Config{
		Endpoint:       "ws://127.0.0.1:1/analysis",
		ConnectTimeout: 200 * time.Millisecond,
		ResultTimeout:  time.Second,
	}

	c, err := Dial(context.Background(), cfg, "key", "exam-1", "student-1",
		newCaptureSink(), Hooks{}, discardLogger())
	require.Error(t, err)
	require.Nil(t, c)
}

func TestDialRejectsInvalidEndpoint(t *testing.T) {
	cfg := testConfig("://not-a-url")

	c, err := Dial(context.Background(), cfg, "key", "exam-1", "student-1",
		newCaptureSink(), Hooks{}, discardLogger())
	require.Error(t, err)
	require.Nil(t, c)
}

func TestServiceMessagesForwardedVerbatim(t *testing.T) {
	payload := `{"emotionId":"emo-7","confidence":0.93}`

	endpoint := newMockServer(t, func(r *http.Request, conn *websocket.Conn) {
		var frame protocol.AnalysisInitFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			return
		}
		holdOpen(conn)
	})

	var results, forwards atomic.Int64
	hooks := Hooks{
		OnResult:  func() { results.Add(1) },
		OnForward: func() { forwards.Add(1) },
	}

	sink := newCaptureSink()
	c, err := Dial(context.Background(), testConfig(endpoint),
		"key", "exam-1", "student-1", sink, hooks, discardLogger())
	require.NoError(t, err)
	defer c.Close()

	select {
	case <-sink.received:
	case <-time.After(2 * time.Second):
		t.Fatal("sink never received the forwarded message")
	}

	messageType, data := sink.last()
	require.Equal(t, websocket.TextMessage, messageType)
	require.Equal(t, payload, string(data), "service messages must pass through unmodified")

	require.Equal(t, "emo-7", c.EmotionID())
	require.EqualValues(t, 1, results.Load())
	require.EqualValues(t, 1, forwards.Load())
}

func TestForwardMediaReachesService(t *testing.T) {
	type received struct {
		messageType int
		data        []byte
	}
	got := make(chan received, 1)

	endpoint := newMockServer(t, func(r *http.Request, conn *websocket.Conn) {
		var frame protocol.AnalysisInitFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		got <- received{messageType: messageType, data: data}
		holdOpen(conn)
	})

	c, err := Dial(context.Background(), testConfig(endpoint),
		"key", "exam-1", "student-1", newCaptureSink(), Hooks{}, discardLogger())
	require.NoError(t, err)
	defer c.Close()

	chunk := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	require.NoError(t, c.ForwardMedia(chunk))

	select {
	case r := <-got:
		require.Equal(t, websocket.BinaryMessage, r.messageType)
		require.Equal(t, chunk, r.data)
	case <-time.After(2 * time.Second):
		t.Fatal("service never received the media chunk")
	}
}

func TestAwaitMessageResolvesOnServiceMessage(t *testing.T) {
	endpoint := newMockServer(t, func(r *http.Request, conn *websocket.Conn) {
		var frame protocol.AnalysisInitFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		// Emit the final result once the stop notice arrives.
		var stop protocol.AnalysisStopFrame
		if err := conn.ReadJSON(&stop); err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"emotionId":"emo-final"}`))
		holdOpen(conn)
	})

	c, err := Dial(context.Background(), testConfig(endpoint),
		"key", "exam-1", "student-1", newCaptureSink(), Hooks{}, discardLogger())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.SendStop())
	require.True(t, c.AwaitMessage(context.Background(), 2*time.Second),
		"a service message must win the finalize race")
	require.Equal(t, "emo-final", c.EmotionID())
}

func TestAwaitMessageIgnoresInterimResults(t *testing.T) {
	endpoint := newMockServer(t, func(r *http.Request, conn *websocket.Conn) {
		var frame protocol.AnalysisInitFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		// Interim result mid-stream, long before any stop notice.
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"emotionId":"interim"}`)); err != nil {
			return
		}
		var stop protocol.AnalysisStopFrame
		if err := conn.ReadJSON(&stop); err != nil {
			return
		}
		time.Sleep(300 * time.Millisecond)
		conn.WriteMessage(websocket.TextMessage, []byte(`{"emotionId":"final"}`))
		holdOpen(conn)
	})

	sink := newCaptureSink()
	c, err := Dial(context.Background(), testConfig(endpoint),
		"key", "exam-1", "student-1", sink, Hooks{}, discardLogger())
	require.NoError(t, err)
	defer c.Close()

	// Let the interim result land before the stop notice goes out.
	select {
	case <-sink.received:
	case <-time.After(2 * time.Second):
		t.Fatal("interim result never arrived")
	}
	require.Equal(t, "interim", c.EmotionID())

	require.NoError(t, c.SendStop())

	start := time.Now()
	require.True(t, c.AwaitMessage(context.Background(), 2*time.Second),
		"the genuine final result must win the race")
	require.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond,
		"the wait must not be satisfied by the pre-stop interim result")
	require.Equal(t, "final", c.EmotionID(),
		"the post-stop result must be the one captured")
}

func TestAwaitMessageTimesOut(t *testing.T) {
	endpoint := newMockServer(t, func(r *http.Request, conn *websocket.Conn) {
		holdOpen(conn)
	})

	c, err := Dial(context.Background(), testConfig(endpoint),
		"key", "exam-1", "student-1", newCaptureSink(), Hooks{}, discardLogger())
	require.NoError(t, err)
	defer c.Close()

	start := time.Now()
	require.False(t, c.AwaitMessage(context.Background(), 50*time.Millisecond))
	require.Less(t, time.Since(start), time.Second, "the wait must stay bounded")
}

func TestAwaitMessageHonorsContextCancellation(t *testing.T) {
	endpoint := newMockServer(t, func(r *http.Request, conn *websocket.Conn) {
		holdOpen(conn)
	})

	c, err := Dial(context.Background(), testConfig(endpoint),
		"key", "exam-1", "student-1", newCaptureSink(), Hooks{}, discardLogger())
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	require.False(t, c.AwaitMessage(ctx, 10*time.Second))
	require.Less(t, time.Since(start), time.Second)
}

func TestCloseIsIdempotent(t *testing.T) {
	endpoint := newMockServer(t, func(r *http.Request, conn *websocket.Conn) {
		holdOpen(conn)
	})

	c, err := Dial(context.Background(), testConfig(endpoint),
		"key", "exam-1", "student-1", newCaptureSink(), Hooks{}, discardLogger())
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.False(t, c.Failed(), "a deliberate close is not a failure")
}
