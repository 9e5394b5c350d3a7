// Package session binds players to running games and serializes every
// game mutation with its broadcast.
package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/cory-johannsen/uno/internal/game/uno"
	"github.com/cory-johannsen/uno/internal/protocol"
)

var (
	// ErrSessionNotFound is returned for an unknown or closed session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionFull is returned when the roster is at max players.
	ErrSessionFull = errors.New("session full")
	// ErrBadPassword is returned when a join password does not match.
	ErrBadPassword = errors.New("bad session password")
	// ErrAlreadyJoined is returned when a player joins a session twice.
	ErrAlreadyJoined = errors.New("player already joined")
	// ErrNotMember is returned when a non-member acts on a session.
	ErrNotMember = errors.New("player is not a member of the session")
	// ErrNotYourTurn is returned when a member acts out of turn.
	ErrNotYourTurn = errors.New("not your turn")
	// ErrUnknownGame is returned when creating a session for an unknown game id.
	ErrUnknownGame = errors.New("unknown game")
	// ErrInvalidSettings is returned when session settings are out of range.
	ErrInvalidSettings = errors.New("invalid session settings")
)

// Settings configure a session at creation.
type Settings struct {
	// Public sessions appear in discovery listings.
	Public bool
	// MaxPlayers caps the roster; zero selects the game's default.
	MaxPlayers int
	// Password, when non-empty, is required to join.
	Password string
}

// ActionKind enumerates the game actions a member may apply.
type ActionKind int

const (
	ActionPlayCard ActionKind = iota
	ActionDrawCard
	ActionResolveDrawnCard
)

// Action is one game mutation requested by a member.
type Action struct {
	Kind  ActionKind
	Index int
	Play  bool
}

// PlayCard returns an action playing the card at index.
func PlayCard(index int) Action { return Action{Kind: ActionPlayCard, Index: index} }

// DrawCard returns an action drawing one card.
func DrawCard() Action { return Action{Kind: ActionDrawCard} }

// ResolveDrawnCard returns an action playing or keeping the card just drawn.
func ResolveDrawnCard(play bool) Action { return Action{Kind: ActionResolveDrawnCard, Play: play} }

// Summary is the public listing view of a session.
type Summary struct {
	ID     uuid.UUID `json:"id"`
	GameID string    `json:"game_id"`
}

// Session is one joinable game with its roster.
//
// Invariant: every roster member is seated in game, and every seated player
// is a roster member.
type Session struct {
	id           uuid.UUID
	gameID       string
	public       bool
	maxPlayers   int
	passwordHash []byte
	outboxSize   int
	logger       *zap.Logger

	mu      sync.Mutex
	game    *uno.Game
	members map[uuid.UUID]*Outbox
	seq     uint64
	closed  bool
}

// ID returns the session id.
func (s *Session) ID() uuid.UUID { return s.id }

// GameID returns the library id of the game being played.
func (s *Session) GameID() string { return s.gameID }

// Public reports whether the session is listed.
func (s *Session) Public() bool { return s.public }

// MaxPlayers returns the roster cap.
func (s *Session) MaxPlayers() int { return s.maxPlayers }

// HasPassword reports whether joining requires a password.
func (s *Session) HasPassword() bool { return len(s.passwordHash) > 0 }

// CheckPassword reports whether password admits a player. Sessions without
// a password admit any.
func (s *Session) CheckPassword(password string) bool {
	if !s.HasPassword() {
		return true
	}
	return bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)) == nil
}

// Summary returns the listing view of the session.
func (s *Session) Summary() Summary {
	return Summary{ID: s.id, GameID: s.gameID}
}

// PlayerCount returns the number of joined members.
func (s *Session) PlayerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// Apply performs a game action on behalf of playerID and, on success,
// broadcasts the new state to every member before releasing the session.
//
// Precondition: playerID must be a member.
// Postcondition: On error the game is unchanged and nothing is broadcast.
func (s *Session) Apply(playerID uuid.UUID, a Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[playerID]; !ok {
		return ErrNotMember
	}
	current, ok := s.game.Current()
	if !ok {
		return uno.ErrNoPlayers
	}
	if current != playerID {
		return ErrNotYourTurn
	}

	var err error
	switch a.Kind {
	case ActionPlayCard:
		err = s.game.PlayCard(a.Index)
	case ActionDrawCard:
		err = s.game.DrawCard()
	case ActionResolveDrawnCard:
		err = s.game.ResolveDrawnCard(a.Play)
	default:
		err = fmt.Errorf("unknown action kind %d", a.Kind)
	}
	if err != nil {
		return err
	}

	s.broadcastLocked()
	return nil
}

// Snapshot encodes the current state as seen by playerID.
func (s *Session) Snapshot(playerID uuid.UUID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[playerID]; !ok {
		return nil, ErrNotMember
	}
	hand, _ := s.game.Hand(playerID)
	return protocol.Encode(protocol.State(s.seq, s.game.PublicState(), hand))
}

// Resend queues the current state for playerID behind any events already
// in its outbox, so it never overtakes an earlier broadcast.
func (s *Session) Resend(playerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	outbox, ok := s.members[playerID]
	if !ok {
		return ErrNotMember
	}
	hand, _ := s.game.Hand(playerID)
	data, err := protocol.Encode(protocol.State(s.seq, s.game.PublicState(), hand))
	if err != nil {
		return err
	}
	return s.deliverLocked(outbox, data)
}

// join seats playerID. A verified join skips the password check.
func (s *Session) join(playerID uuid.UUID, password string, verified bool) (*Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionNotFound
	}
	if !verified && !s.CheckPassword(password) {
		return nil, ErrBadPassword
	}
	if _, ok := s.members[playerID]; ok {
		return nil, ErrAlreadyJoined
	}
	if len(s.members) >= s.maxPlayers {
		return nil, ErrSessionFull
	}
	welcome, err := protocol.Encode(protocol.Welcome(s.id, playerID, s.gameID))
	if err != nil {
		return nil, err
	}
	if err := s.game.AddPlayer(playerID); err != nil {
		return nil, fmt.Errorf("seating player: %w", err)
	}

	outbox := NewOutbox(playerID, s.outboxSize)
	s.members[playerID] = outbox

	// A fresh outbox always has room.
	_ = outbox.Push(welcome)
	s.broadcastLocked()

	s.logger.Info("player joined",
		zap.Stringer("session_id", s.id),
		zap.Stringer("player_id", playerID),
		zap.Int("players", len(s.members)),
	)
	return &Member{session: s, playerID: playerID, outbox: outbox}, nil
}

func (s *Session) leave(playerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	outbox, ok := s.members[playerID]
	if !ok {
		return ErrNotMember
	}
	delete(s.members, playerID)
	if err := s.game.RemovePlayer(playerID); err != nil {
		return fmt.Errorf("unseating player: %w", err)
	}
	outbox.Close()
	s.broadcastLocked()

	s.logger.Info("player left",
		zap.Stringer("session_id", s.id),
		zap.Stringer("player_id", playerID),
		zap.Int("players", len(s.members)),
	)
	return nil
}

// close closes every member outbox. The game is left as is.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for _, outbox := range s.members {
		outbox.Close()
	}
}

// broadcastLocked pushes a state event to each member in seat order. A
// member whose outbox is full is dropped by closing its outbox.
//
// Precondition: s.mu is held.
func (s *Session) broadcastLocked() {
	s.seq++
	state := s.game.PublicState()

	for _, seat := range state.Seats {
		outbox, ok := s.members[seat.PlayerID]
		if !ok || outbox.IsClosed() {
			continue
		}
		hand, _ := s.game.Hand(seat.PlayerID)
		data, err := protocol.Encode(protocol.State(s.seq, state, hand))
		if err != nil {
			s.logger.Error("encoding state event", zap.Error(err))
			continue
		}
		_ = s.deliverLocked(outbox, data)
	}
}

// deliverLocked pushes data to one member. A member whose outbox is full is
// dropped by closing its outbox.
//
// Precondition: s.mu is held.
func (s *Session) deliverLocked(outbox *Outbox, data []byte) error {
	err := outbox.Push(data)
	if errors.Is(err, ErrOutboxFull) {
		s.logger.Warn("dropping slow member",
			zap.Stringer("session_id", s.id),
			zap.Stringer("player_id", outbox.PlayerID()),
			zap.Error(err),
		)
		outbox.Close()
	}
	return err
}

// Member is a joined player's handle on a session.
type Member struct {
	session  *Session
	playerID uuid.UUID
	outbox   *Outbox
}

// Session returns the joined session.
func (m *Member) Session() *Session { return m.session }

// PlayerID returns the member's player id.
func (m *Member) PlayerID() uuid.UUID { return m.playerID }

// Events returns the channel of encoded events for this member. It is
// closed when the member leaves, is dropped, or the session closes.
func (m *Member) Events() <-chan []byte { return m.outbox.Events() }

// Apply performs a game action as this member.
func (m *Member) Apply(a Action) error { return m.session.Apply(m.playerID, a) }

// Snapshot encodes the current state as seen by this member.
func (m *Member) Snapshot() ([]byte, error) { return m.session.Snapshot(m.playerID) }

// Resend queues the current state in this member's outbox.
func (m *Member) Resend() error { return m.session.Resend(m.playerID) }

// Send queues an event for this member alone.
func (m *Member) Send(e protocol.Event) error {
	data, err := protocol.Encode(e)
	if err != nil {
		return err
	}
	return m.outbox.Push(data)
}
