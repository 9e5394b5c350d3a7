package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// DefaultOutboxSize is used when a non-positive outbox size is configured.
const DefaultOutboxSize = 64

var (
	// ErrOutboxClosed is returned when pushing to a closed outbox.
	ErrOutboxClosed = errors.New("outbox closed")
	// ErrOutboxFull is returned when the outbox buffer has no room.
	ErrOutboxFull = errors.New("outbox full")
)

// Outbox routes encoded events for one player to a channel drained by that
// player's connection writer. It is the only handle a Session holds on a
// connection.
type Outbox struct {
	playerID uuid.UUID
	events   chan []byte
	mu       sync.Mutex
	closed   bool
}

// NewOutbox creates an Outbox for the given player.
//
// Postcondition: Returns an Outbox with an open events channel of at least
// one slot.
func NewOutbox(playerID uuid.UUID, size int) *Outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	return &Outbox{
		playerID: playerID,
		events:   make(chan []byte, size),
	}
}

// PlayerID returns the owning player's id.
func (o *Outbox) PlayerID() uuid.UUID {
	return o.playerID
}

// Push enqueues data without blocking.
//
// Postcondition: data is enqueued, or an error wrapping ErrOutboxClosed or
// ErrOutboxFull is returned.
func (o *Outbox) Push(data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("player %s: %w", o.playerID, ErrOutboxClosed)
	}
	select {
	case o.events <- data:
		return nil
	default:
		return fmt.Errorf("player %s: %w", o.playerID, ErrOutboxFull)
	}
}

// Events returns the read-only events channel. It is closed when the outbox closes.
func (o *Outbox) Events() <-chan []byte {
	return o.events
}

// Close closes the events channel. Calling Close more than once is safe.
//
// Postcondition: Further Push calls return ErrOutboxClosed. Buffered events
// remain readable.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.events)
	}
}

// IsClosed reports whether the outbox has been closed.
func (o *Outbox) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
