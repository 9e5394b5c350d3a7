// Package uno implements the per-session turn state machine for a game of Uno.
//
// A Game is not safe for concurrent use; callers serialize access (see
// session.Session).
package uno

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/cory-johannsen/uno/internal/game/card"
	"github.com/cory-johannsen/uno/internal/game/random"
)

// InitialHandSize is the number of cards dealt to each player.
const InitialHandSize = 8

var (
	// ErrWrongTurnState is returned when an action is not legal in the current TurnState.
	ErrWrongTurnState = errors.New("action not allowed in current turn state")
	// ErrHandIndex is returned when a hand index is out of range.
	ErrHandIndex = errors.New("hand index out of range")
	// ErrUnplayable is returned when a card cannot be placed on the discard top.
	ErrUnplayable = errors.New("card is not playable on the discard pile")
	// ErrDrawPileExhausted is returned when the draw pile has too few cards.
	ErrDrawPileExhausted = errors.New("draw pile exhausted")
	// ErrNoPlayers is returned when a turn action is attempted with nobody seated.
	ErrNoPlayers = errors.New("no players seated")
	// ErrDuplicatePlayer is returned when seating a player twice.
	ErrDuplicatePlayer = errors.New("player already seated")
	// ErrUnknownPlayer is returned when a player id is not seated.
	ErrUnknownPlayer = errors.New("player not seated")
)

// Direction is the order in which turns pass.
type Direction int

const (
	Forward  Direction = 1
	Backward Direction = -1
)

// String returns "forward" or "backward".
func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// TurnPhase distinguishes the two TurnState variants.
type TurnPhase int

const (
	// PlayOrDraw is the initial phase of every turn.
	PlayOrDraw TurnPhase = iota
	// PlayDrawn is entered after drawing a card that could be played.
	PlayDrawn
)

func (p TurnPhase) String() string {
	if p == PlayDrawn {
		return "play_drawn"
	}
	return "play_or_draw"
}

// TurnState governs which actions are legal for the current player.
//
// Invariant: HandIndex is only meaningful when Phase == PlayDrawn.
type TurnState struct {
	Phase     TurnPhase
	HandIndex int
}

// Game holds the piles, seating, and turn state of one Uno game.
//
// Invariant: drawPile.Len() + discardPile.Len() + sum(hand sizes) is
// constant after construction.
// Invariant: current is a valid index into players whenever players is non-empty.
type Game struct {
	drawPile    card.Deck
	discardPile card.Deck
	players     []*Player
	current     int
	direction   Direction
	turn        TurnState
}

// New builds a game for a lobby of up to lobbySize players: it constructs the
// dynamic deck, shuffles it once with src, and flips one card to seed the
// discard pile. Players are seated afterwards with AddPlayer.
//
// Precondition: src must be non-nil; lobbySize >= 0.
// Postcondition: DiscardCount() == 1; no players are seated.
func New(src random.Source, lobbySize int) *Game {
	drawPile := card.NewDynamicDeck(lobbySize)
	drawPile.Shuffle(src)

	g := &Game{
		drawPile:  drawPile,
		direction: Forward,
		turn:      TurnState{Phase: PlayOrDraw},
	}
	seed, _ := g.drawPile.Pop()
	g.discardPile.Push(seed)
	return g
}

// NewWithPlayers builds a game and seats each id in order.
//
// Precondition: ids must be unique.
// Postcondition: Returns a Game with every player dealt InitialHandSize cards,
// or a non-nil error if the deck cannot deal them.
func NewWithPlayers(src random.Source, ids []uuid.UUID) (*Game, error) {
	g := New(src, len(ids))
	for _, id := range ids {
		if err := g.AddPlayer(id); err != nil {
			return nil, fmt.Errorf("seating player %s: %w", id, err)
		}
	}
	return g, nil
}

// newFromPiles builds a game from explicit piles. Used by tests to set up
// deterministic positions.
func newFromPiles(drawPile, discardPile card.Deck, hands map[uuid.UUID][]card.Card, order []uuid.UUID) *Game {
	g := &Game{
		drawPile:    drawPile,
		discardPile: discardPile,
		direction:   Forward,
	}
	for _, id := range order {
		p := newPlayer(id)
		for _, c := range hands[id] {
			p.addCard(c)
		}
		g.players = append(g.players, p)
	}
	return g
}

// AddPlayer seats a new player at the end of the turn order and deals
// InitialHandSize cards one at a time from the draw pile.
//
// Postcondition: On error, the game is unchanged.
func (g *Game) AddPlayer(id uuid.UUID) error {
	if g.indexOf(id) >= 0 {
		return ErrDuplicatePlayer
	}
	if g.drawPile.Len() < InitialHandSize {
		return fmt.Errorf("dealing to %s: %w", id, ErrDrawPileExhausted)
	}

	p := newPlayer(id)
	for i := 0; i < InitialHandSize; i++ {
		c, _ := g.drawPile.Pop()
		p.addCard(c)
	}
	g.players = append(g.players, p)
	return nil
}

// RemovePlayer unseats a player and returns their hand to the bottom of the
// draw pile so no card leaves the game. The current player index keeps
// pointing at the same player; if the current player leaves, the turn passes
// to whoever now occupies that seat and the turn state resets.
func (g *Game) RemovePlayer(id uuid.UUID) error {
	idx := g.indexOf(id)
	if idx < 0 {
		return ErrUnknownPlayer
	}

	g.drawPile.PushBottom(g.players[idx].hand...)
	g.players = append(g.players[:idx], g.players[idx+1:]...)

	switch {
	case len(g.players) == 0:
		g.current = 0
		g.turn = TurnState{Phase: PlayOrDraw}
	case idx < g.current:
		g.current--
	case idx == g.current:
		if g.direction == Backward {
			g.current--
		}
		g.current = mod(g.current, len(g.players))
		g.turn = TurnState{Phase: PlayOrDraw}
	}
	return nil
}

// PlayCard plays the card at index from the current player's hand onto the
// discard pile and advances the turn.
//
// Precondition: TurnState is PlayOrDraw.
// Postcondition: On success the discard pile grows by one and the current
// player's hand shrinks by one. On error nothing changes.
func (g *Game) PlayCard(index int) error {
	if len(g.players) == 0 {
		return ErrNoPlayers
	}
	if g.turn.Phase != PlayOrDraw {
		return ErrWrongTurnState
	}

	player := g.players[g.current]
	if index < 0 || index >= player.HandSize() {
		return ErrHandIndex
	}
	if !player.hand[index].PlayableOn(g.top()) {
		return ErrUnplayable
	}

	c, _ := player.removeCard(index)
	g.discardPile.Push(c)
	g.advance()
	return nil
}

// DrawCard moves the top draw-pile card into the current player's hand. If
// the drawn card is playable the game enters PlayDrawn and waits for
// ResolveDrawnCard; otherwise the turn advances.
//
// Precondition: TurnState is PlayOrDraw.
// Postcondition: On success the draw pile shrinks by one and the current
// player's hand grows by one. On error nothing changes.
func (g *Game) DrawCard() error {
	if len(g.players) == 0 {
		return ErrNoPlayers
	}
	if g.turn.Phase != PlayOrDraw {
		return ErrWrongTurnState
	}

	c, ok := g.drawPile.Pop()
	if !ok {
		return ErrDrawPileExhausted
	}

	idx := g.players[g.current].addCard(c)
	if c.PlayableOn(g.top()) {
		g.turn = TurnState{Phase: PlayDrawn, HandIndex: idx}
		return nil
	}
	g.advance()
	return nil
}

// ResolveDrawnCard either plays the just-drawn card or keeps it, then
// advances the turn.
//
// Precondition: TurnState is PlayDrawn.
func (g *Game) ResolveDrawnCard(play bool) error {
	if len(g.players) == 0 {
		return ErrNoPlayers
	}
	if g.turn.Phase != PlayDrawn {
		return ErrWrongTurnState
	}

	if play {
		c, ok := g.players[g.current].removeCard(g.turn.HandIndex)
		if !ok {
			return ErrHandIndex
		}
		g.discardPile.Push(c)
	}
	g.advance()
	return nil
}

// advance passes the turn one seat in the current direction and resets the
// turn state. Card effects are not applied here.
func (g *Game) advance() {
	if len(g.players) > 0 {
		g.current = mod(g.current+int(g.direction), len(g.players))
	}
	g.turn = TurnState{Phase: PlayOrDraw}
}

func (g *Game) top() card.Card {
	c, _ := g.discardPile.Top()
	return c
}

func (g *Game) indexOf(id uuid.UUID) int {
	for i, p := range g.players {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func mod(a, n int) int {
	return ((a % n) + n) % n
}

// Current returns the id of the player whose turn it is.
//
// Postcondition: ok is false when no players are seated.
func (g *Game) Current() (id uuid.UUID, ok bool) {
	if len(g.players) == 0 {
		return uuid.Nil, false
	}
	return g.players[g.current].ID, true
}

// CurrentIndex returns the current player index.
func (g *Game) CurrentIndex() int { return g.current }

// Turn returns the current turn state.
func (g *Game) Turn() TurnState { return g.turn }

// Direction returns the direction of play.
func (g *Game) Direction() Direction { return g.direction }

// PlayerCount returns the number of seated players.
func (g *Game) PlayerCount() int { return len(g.players) }

// DrawCount returns the number of cards left in the draw pile.
func (g *Game) DrawCount() int { return g.drawPile.Len() }

// DiscardCount returns the number of cards in the discard pile.
func (g *Game) DiscardCount() int { return g.discardPile.Len() }

// TopCard returns the card currently on top of the discard pile.
func (g *Game) TopCard() card.Card { return g.top() }

// Hand returns a copy of the given player's hand.
//
// Postcondition: ok is false when the player is not seated.
func (g *Game) Hand(id uuid.UUID) (hand []card.Card, ok bool) {
	idx := g.indexOf(id)
	if idx < 0 {
		return nil, false
	}
	return g.players[idx].Hand(), true
}

// TotalCards returns the number of cards across both piles and every hand.
//
// Postcondition: constant for the lifetime of the game.
func (g *Game) TotalCards() int {
	total := g.drawPile.Len() + g.discardPile.Len()
	for _, p := range g.players {
		total += p.HandSize()
	}
	return total
}
