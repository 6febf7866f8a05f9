package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yegors/handsfree/internal/pipeline"
	"github.com/yegors/handsfree/internal/segmenter"
	"github.com/yegors/handsfree/pkg/logger"
)

type recordingHandler struct {
	mu       sync.Mutex
	messages []string
}

func (h *recordingHandler) HandleMessage(client *Client, messageType string, data map[string]any) error {
	h.mu.Lock()
	h.messages = append(h.messages, messageType)
	h.mu.Unlock()
	client.SendMessage(&Message{Type: MessageTypeStatus, Data: map[string]any{"echo": data["cmd"]}})
	return nil
}

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	s := NewServer(logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(s.HandleConnection))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return s, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, s *Server, url string) *websocket.Conn {
	t.Helper()
	before := s.ClientCount()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return s.ClientCount() == before+1 }, time.Second, time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestBroadcastReachesClients(t *testing.T) {
	s, url := startServer(t)
	a := dial(t, s, url)
	b := dial(t, s, url)

	s.Broadcast(&Message{Type: MessageTypeTranscript, Data: map[string]any{"text": "hello"}})

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMessage(t, conn)
		assert.Equal(t, "transcript", msg["type"])
		assert.Equal(t, "hello", msg["data"].(map[string]any)["text"])
	}
}

func TestSubscribeFiltersTopics(t *testing.T) {
	s, url := startServer(t)
	conn := dial(t, s, url)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "subscribe",
		"data": map[string]any{"topics": []string{"transcript"}},
	}))
	// Subscription is applied by the read pump; probe until it takes effect
	require.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		for c := range s.clients {
			if !c.wants(MessageTypeLevel) {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	s.Broadcast(&Message{Type: MessageTypeLevel, Data: map[string]any{"rms": 0.1}})
	s.Broadcast(&Message{Type: MessageTypeTranscript, Data: map[string]any{"text": "kept"}})

	msg := readMessage(t, conn)
	assert.Equal(t, "transcript", msg["type"])
}

func TestCommandsReachHandler(t *testing.T) {
	s, url := startServer(t)
	handler := &recordingHandler{}
	s.SetMessageHandler(handler)
	conn := dial(t, s, url)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "command", "data": map[string]any{"cmd": "toggle"}}))

	msg := readMessage(t, conn)
	assert.Equal(t, "status", msg["type"])
	assert.Equal(t, "toggle", msg["data"].(map[string]any)["echo"])

	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Equal(t, []string{"command"}, handler.messages)
}

func TestDisconnectUnregisters(t *testing.T) {
	s, url := startServer(t)
	conn := dial(t, s, url)
	conn.Close()
	require.Eventually(t, func() bool { return s.ClientCount() == 0 }, time.Second, time.Millisecond)
}

func TestFeedForwardsPipelineEvents(t *testing.T) {
	s, url := startServer(t)
	conn := dial(t, s, url)

	p := pipeline.New(pipeline.Config{}, nil, nil, nil, logger.NewNop())
	off := s.Feed(p)
	defer off()

	p.Warn(segmenter.Warning{Kind: segmenter.WarningContinuousRecording, SessionID: "s1", Message: "long"})

	msg := readMessage(t, conn)
	assert.Equal(t, "warning", msg["type"])
	data := msg["data"].(map[string]any)
	assert.Equal(t, "continuous_recording", data["kind"])
	assert.Equal(t, "s1", data["sessionId"])
}

func TestBroadcastNeverBlocks(t *testing.T) {
	s := NewServer(logger.NewNop())
	// No Run loop: the queue fills and further messages are dropped
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			s.Broadcast(&Message{Type: MessageTypeLevel})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked")
	}
}
