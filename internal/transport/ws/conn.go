// Package ws carries player connections over WebSocket: handshake
// resolution before the upgrade, a connection wrapper with an explicit
// lifecycle, and an acceptor that tracks connection workers.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned by operations on a connection that is not Open.
var ErrNotConnected = errors.New("websocket: not connected")

// State is the lifecycle state of a Conn.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// MessageKind distinguishes text from binary frames.
type MessageKind int

const (
	Text MessageKind = iota
	Binary
)

func (k MessageKind) String() string {
	if k == Binary {
		return "binary"
	}
	return "text"
}

// Message is one data frame.
type Message struct {
	Kind MessageKind
	Data []byte
}

// Options are the per-connection timeouts and limits.
type Options struct {
	// ReadTimeout bounds the wait for each inbound message; zero waits forever.
	ReadTimeout time.Duration
	// WriteTimeout bounds each write.
	WriteTimeout time.Duration
	// CloseTimeout bounds the wait for the peer's close acknowledgment.
	CloseTimeout time.Duration
	// ReadLimit caps inbound message size in bytes; zero means no limit.
	ReadLimit int64
}

const defaultCloseTimeout = time.Second

// Conn wraps an upgraded websocket connection. It is owned by a single
// worker; Send and Close may be called from other goroutines.
type Conn struct {
	ws         *websocket.Conn
	route      Route
	remoteAddr string
	opts       Options

	state     atomic.Int32
	readMu    sync.Mutex
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error

	readerDoneOnce sync.Once
	readerDone     chan struct{}
}

func newConn(raw *websocket.Conn, route Route, remoteAddr string, opts Options) *Conn {
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = defaultCloseTimeout
	}
	if opts.ReadLimit > 0 {
		raw.SetReadLimit(opts.ReadLimit)
	}
	c := &Conn{
		ws:         raw,
		route:      route,
		remoteAddr: remoteAddr,
		opts:       opts,
		readerDone: make(chan struct{}),
	}
	c.state.Store(int32(StateOpen))
	return c
}

// Route returns the handshake decision this connection was accepted with.
func (c *Conn) Route() Route { return c.route }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Send writes one message.
//
// Precondition: the connection is Open.
// Postcondition: Returns ErrNotConnected if it is not, or the write error.
func (c *Conn) Send(ctx context.Context, msg Message) error {
	if c.State() != StateOpen {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.State() != StateOpen {
		return ErrNotConnected
	}
	deadline := time.Time{}
	if c.opts.WriteTimeout > 0 {
		deadline = time.Now().Add(c.opts.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)

	frame := websocket.TextMessage
	if msg.Kind == Binary {
		frame = websocket.BinaryMessage
	}
	if err := c.ws.WriteMessage(frame, msg.Data); err != nil {
		return fmt.Errorf("writing %s message: %w", msg.Kind, err)
	}
	return nil
}

// Receive returns the next data message.
//
// Postcondition: Returns io.EOF once the stream has ended for any reason:
// the peer closed, the connection was closed locally, or the transport
// failed. Returns ctx.Err() if ctx ends first; the connection is then no
// longer readable and should be closed.
func (c *Conn) Receive(ctx context.Context) (Message, error) {
	if c.State() != StateOpen {
		return Message{}, io.EOF
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.State() != StateOpen {
		return Message{}, io.EOF
	}
	if c.opts.ReadTimeout > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		frame, data, err := c.ws.ReadMessage()
		if err != nil {
			c.markReaderDone()
			if ctx.Err() != nil && c.State() == StateOpen {
				return Message{}, ctx.Err()
			}
			return Message{}, io.EOF
		}
		if c.State() != StateOpen {
			// Draining toward the peer's close acknowledgment.
			continue
		}
		switch frame {
		case websocket.TextMessage:
			return Message{Kind: Text, Data: data}, nil
		case websocket.BinaryMessage:
			return Message{Kind: Binary, Data: data}, nil
		}
	}
}

func (c *Conn) markReaderDone() {
	c.readerDoneOnce.Do(func() { close(c.readerDone) })
}

// Close performs the closing handshake and releases the socket. It is safe
// to call more than once and from any goroutine; later calls return the
// first call's result.
//
// Postcondition: State() == StateClosed and any in-flight Receive has returned.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.close()
	})
	return c.closeErr
}

func (c *Conn) close() error {
	if !c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		c.state.Store(int32(StateClosed))
		return c.ws.Close()
	}

	deadline := time.Now().Add(c.opts.CloseTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); err == nil {
		_ = c.ws.SetReadDeadline(deadline)
		if c.readMu.TryLock() {
			// No reader is active; wait for the acknowledgment ourselves.
			for {
				if _, _, err := c.ws.ReadMessage(); err != nil {
					break
				}
			}
			c.readMu.Unlock()
			c.markReaderDone()
		} else {
			timer := time.NewTimer(time.Until(deadline))
			select {
			case <-c.readerDone:
			case <-timer.C:
			}
			timer.Stop()
		}
	}

	c.state.Store(int32(StateClosed))
	if err := c.ws.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("closing websocket: %w", err)
	}
	return nil
}
