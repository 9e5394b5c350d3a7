package card

import "github.com/cory-johannsen/uno/internal/game/random"

// CanonicalDeckSize is the number of cards in one standard Uno deck.
const CanonicalDeckSize = 108

// CardsPerPlayer is the deck headroom reserved for each player in a lobby.
const CardsPerPlayer = 20

// Deck is an ordered pile of cards used as a stack; the top is the last element.
type Deck []Card

// Len returns the number of cards in the deck.
func (d Deck) Len() int { return len(d) }

// Top returns the top card without removing it.
//
// Postcondition: ok is false when the deck is empty.
func (d Deck) Top() (c Card, ok bool) {
	if len(d) == 0 {
		return Card{}, false
	}
	return d[len(d)-1], true
}

// Push places c on top of the deck.
func (d *Deck) Push(c Card) {
	*d = append(*d, c)
}

// PushBottom places cards underneath the existing deck, preserving their order.
func (d *Deck) PushBottom(cards ...Card) {
	if len(cards) == 0 {
		return
	}
	merged := make(Deck, 0, len(*d)+len(cards))
	merged = append(merged, cards...)
	merged = append(merged, *d...)
	*d = merged
}

// Pop removes and returns the top card.
//
// Postcondition: ok is false and the deck is unchanged when it is empty.
func (d *Deck) Pop() (c Card, ok bool) {
	n := len(*d)
	if n == 0 {
		return Card{}, false
	}
	c = (*d)[n-1]
	*d = (*d)[:n-1]
	return c, true
}

// Shuffle permutes the deck in place using src.
//
// Precondition: src must be non-nil.
func (d Deck) Shuffle(src random.Source) {
	random.Shuffle(src, len(d), func(i, j int) {
		d[i], d[j] = d[j], d[i]
	})
}

// NewCanonicalDeck returns the 108 card standard deck in a fixed order:
// four Wild and four WildDrawFour cards, then for each color one 0, and two
// each of 1-9, Skip, DrawTwo and Reverse.
//
// Postcondition: len(result) == CanonicalDeckSize.
func NewCanonicalDeck() Deck {
	deck := make(Deck, 0, CanonicalDeckSize)

	for i := 0; i < 4; i++ {
		deck = append(deck, NewWild(), NewWildDrawFour())
	}

	for _, color := range Colors {
		deck = append(deck, NewNumeric(color, 0))
		for i := 0; i < 2; i++ {
			for n := uint8(1); n <= 9; n++ {
				deck = append(deck, NewNumeric(color, n))
			}
			deck = append(deck, NewSkip(color), NewDrawTwo(color), NewReverse(color))
		}
	}

	return deck
}

// NewDynamicDeck cycles the canonical deck until it holds
// max(CanonicalDeckSize, players*CardsPerPlayer) cards, preserving the
// relative frequencies of the canonical sequence.
//
// Precondition: players >= 0.
func NewDynamicDeck(players int) Deck {
	canonical := NewCanonicalDeck()
	size := max(len(canonical), players*CardsPerPlayer)

	deck := make(Deck, size)
	for i := range deck {
		deck[i] = canonical[i%len(canonical)]
	}
	return deck
}
