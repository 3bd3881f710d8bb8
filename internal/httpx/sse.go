package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/shaxa2505/fudly-bot-sub003/internal/bus"
)

var errConnClosed = errors.New("sse connection closed")

// sseConn adapts one server-sent-events response to the registry's
// Conn. Push runs on the registry's pump goroutine, heartbeats on the
// handler goroutine; the mutex keeps frames whole.
type sseConn struct {
	mu  sync.Mutex
	w   http.ResponseWriter
	fl  http.Flusher
	err error

	closeOnce sync.Once
	ready     chan struct{}
	done      chan struct{}
	reason    string
}

func newSSEConn(w http.ResponseWriter, fl http.Flusher) *sseConn {
	return &sseConn{w: w, fl: fl, ready: make(chan struct{}), done: make(chan struct{})}
}

// start releases queued pushes once the handler has written the
// response headers.
func (c *sseConn) start() { close(c.ready) }

func (c *sseConn) Push(ev bus.Event) error {
	select {
	case <-c.done:
		return errConnClosed
	case <-c.ready:
	}
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.write(fmt.Sprintf("event: %s\ndata: %s\n\n", ev.Kind, b))
}

func (c *sseConn) heartbeat() error {
	return c.write(": ping\n\n")
}

func (c *sseConn) write(frame string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if _, err := fmt.Fprint(c.w, frame); err != nil {
		c.err = err
		return err
	}
	c.fl.Flush()
	return nil
}

// Close records the reason and wakes the handler so it can emit the
// final close frame and return.
func (c *sseConn) Close(reason string) {
	c.closeOnce.Do(func() {
		c.reason = reason
		close(c.done)
	})
}
