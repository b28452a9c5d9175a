package voiceclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type wireFrame struct {
	messageType int
	data        []byte
}

// fakeConn is a scripted wire connection: tests push server frames into it
// and inspect what the client wrote.
type fakeConn struct {
	in        chan wireFrame
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	writes []wireFrame
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan wireFrame, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case frame := <-f.in:
		return frame.messageType, frame.data, nil
	case <-f.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("use of closed connection")
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, wireFrame{messageType: messageType, data: append([]byte(nil), data...)})
	return nil
}

func (f *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) serverSend(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal server frame: %v", err)
	}
	f.in <- wireFrame{messageType: websocket.TextMessage, data: data}
}

func (f *fakeConn) serverSendRaw(data []byte) {
	f.in <- wireFrame{messageType: websocket.TextMessage, data: data}
}

func (f *fakeConn) serverSendBinary(data []byte) {
	f.in <- wireFrame{messageType: websocket.BinaryMessage, data: data}
}

func (f *fakeConn) writtenFrames() []wireFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wireFrame(nil), f.writes...)
}

func (f *fakeConn) textWrites() [][]byte {
	var out [][]byte
	for _, w := range f.writtenFrames() {
		if w.messageType == websocket.TextMessage {
			out = append(out, w.data)
		}
	}
	return out
}

// fakeDialer counts dials and optionally blocks until released, so tests can
// observe the Connecting window.
type fakeDialer struct {
	mu      sync.Mutex
	dials   int
	conns   []*fakeConn
	release chan struct{} // nil means dial immediately
}

func (d *fakeDialer) dial(ctx context.Context, _ string, _ http.Header) (wireConn, error) {
	d.mu.Lock()
	d.dials++
	release := d.release
	d.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	conn := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// recordAdapter implements audio.Adapter with enough bookkeeping for the
// playback-gate properties.
type recordAdapter struct {
	mu             sync.Mutex
	enqueuedBytes  int
	flushes        int
	captureStarted int
	captureStopped int
}

func (a *recordAdapter) EnqueuePlayback(chunk []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enqueuedBytes += len(chunk)
	return nil
}

func (a *recordAdapter) FlushPlayback() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flushes++
}

func (a *recordAdapter) StartCapture(func(chunk []byte)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.captureStarted++
	return nil
}

func (a *recordAdapter) StopCapture() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.captureStopped++
}

func (a *recordAdapter) stats() (enqueued, flushes int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enqueuedBytes, a.flushes
}

func waitForState(t *testing.T, c *Client, want ConnectionState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state = %q, want %q", c.State(), want)
}

func waitForEvent(t *testing.T, c *Client, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event")
			return nil
		}
	}
}
