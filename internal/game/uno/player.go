package uno

import (
	"github.com/google/uuid"

	"github.com/cory-johannsen/uno/internal/game/card"
)

// Player is a seated participant with an ordered hand.
//
// Invariant: hand order is insertion order; indices address cards directly.
type Player struct {
	ID   uuid.UUID
	hand []card.Card
}

func newPlayer(id uuid.UUID) *Player {
	return &Player{ID: id, hand: make([]card.Card, 0, InitialHandSize)}
}

// addCard appends c to the hand and returns its index.
func (p *Player) addCard(c card.Card) int {
	p.hand = append(p.hand, c)
	return len(p.hand) - 1
}

// removeCard removes and returns the card at index, shifting later cards down.
//
// Postcondition: ok is false and the hand is unchanged when index is out of range.
func (p *Player) removeCard(index int) (c card.Card, ok bool) {
	if index < 0 || index >= len(p.hand) {
		return card.Card{}, false
	}
	c = p.hand[index]
	p.hand = append(p.hand[:index], p.hand[index+1:]...)
	return c, true
}

// HandSize returns the number of cards in the player's hand.
func (p *Player) HandSize() int {
	return len(p.hand)
}

// Hand returns a copy of the player's hand.
func (p *Player) Hand() []card.Card {
	out := make([]card.Card, len(p.hand))
	copy(out, p.hand)
	return out
}
