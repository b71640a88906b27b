package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var errConnClosed = errors.New("use of closed connection")

// mockConn is an in-memory wsConnection. Inbound frames are fed through a
// channel; writes are recorded for assertions.
type mockConn struct {
	inbound chan []byte

	mu      sync.Mutex
	written []mockFrame
	closed  bool

	closeCh   chan struct{}
	closeOnce sync.Once
}

type mockFrame struct {
	messageType int
	data        []byte
}

func newMockConn() *mockConn {
	return &mockConn{
		inbound: make(chan []byte, 16),
		closeCh: make(chan struct{}),
	}
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-m.inbound:
		if !ok {
			return 0, nil, errConnClosed
		}
		return websocket.TextMessage, data, nil
	case <-m.closeCh:
		return 0, nil, errConnClosed
	}
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errConnClosed
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.written = append(m.written, mockFrame{messageType: messageType, data: buf})
	return nil
}

func (m *mockConn) Close() error {
	m.closeOnce.Do(func() { close(m.closeCh) })
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *mockConn) SetWriteDeadline(time.Time) error { return nil }

// send feeds an inbound frame to the read pump.
func (m *mockConn) send(data []byte) {
	m.inbound <- data
}

func (m *mockConn) frames() []mockFrame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockFrame, len(m.written))
	copy(out, m.written)
	return out
}

func (m *mockConn) textFrames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [][]byte
	for _, f := range m.written {
		if f.messageType == websocket.TextMessage {
			out = append(out, f.data)
		}
	}
	return out
}

func (m *mockConn) closeFrameSent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.written {
		if f.messageType == websocket.CloseMessage {
			return true
		}
	}
	return false
}
