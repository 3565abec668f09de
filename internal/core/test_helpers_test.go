package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/scopechat-server/internal/proto"
	"github.com/vovakirdan/scopechat-server/internal/script"
)

var errSendFull = errors.New("send queue full")

// fakeConn records outbound messages instead of writing to a socket.
type fakeConn struct {
	mu     sync.Mutex
	msgs   []proto.ChatMessage
	closed bool
	full   bool
}

func (f *fakeConn) Send(msg proto.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return errSendFull
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) received() []proto.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]proto.ChatMessage(nil), f.msgs...)
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestRouter(t *testing.T, engine script.Engine) *Router {
	t.Helper()

	if engine == nil {
		engine = script.NewRecorder(nil)
	}
	r, err := NewRouter(engine, nil, RouterConfig{
		DefaultChannel:  "Lobby",
		InjectTimeout:   5 * time.Second,
		InjectQueueSize: 4,
	}, nil)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func mustRegister(t *testing.T, r *Router, name string) (*Client, *fakeConn) {
	t.Helper()

	conn := &fakeConn{}
	c := NewClient("id-"+name, name, "127.0.0.1:0", conn)
	if err := r.Register(c); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return c, conn
}

func mustCreate(t *testing.T, r *Router, name, password string) *Channel {
	t.Helper()

	ch, err := r.CreateChannel(context.Background(), name, password)
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return ch
}

// eventually polls cond until it holds or two seconds pass.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}
