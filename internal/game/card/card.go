// Package card models Uno cards, their playability rules, and deck construction.
package card

import (
	"fmt"
	"strings"
)

// Color is a card color. The zero value NoColor marks a wild card whose
// color has not been chosen.
type Color uint8

const (
	NoColor Color = iota
	Blue
	Green
	Red
	Yellow
)

// Colors lists every playable color in canonical deck order.
var Colors = []Color{Blue, Green, Red, Yellow}

var colorNames = map[Color]string{
	NoColor: "none",
	Blue:    "blue",
	Green:   "green",
	Red:     "red",
	Yellow:  "yellow",
}

// String returns the lowercase color name.
func (c Color) String() string {
	if name, ok := colorNames[c]; ok {
		return name
	}
	return fmt.Sprintf("color(%d)", uint8(c))
}

// MarshalText implements encoding.TextMarshaler.
func (c Color) MarshalText() ([]byte, error) {
	if _, ok := colorNames[c]; !ok {
		return nil, fmt.Errorf("invalid color %d", uint8(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Color) UnmarshalText(text []byte) error {
	parsed, err := ParseColor(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseColor resolves a color by name, case-insensitively.
func ParseColor(name string) (Color, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for c, n := range colorNames {
		if n == name {
			return c, nil
		}
	}
	return NoColor, fmt.Errorf("unknown color %q", name)
}

// Kind is the variant tag of a Card.
type Kind uint8

const (
	Numeric Kind = iota
	Skip
	Reverse
	DrawTwo
	Wild
	WildDrawFour
)

var kindNames = map[Kind]string{
	Numeric:      "numeric",
	Skip:         "skip",
	Reverse:      "reverse",
	DrawTwo:      "draw_two",
	Wild:         "wild",
	WildDrawFour: "wild_draw_four",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("invalid kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown card kind %q", string(text))
}

// Card is a tagged variant over the Uno card kinds.
//
// Invariant: Number is only meaningful when Kind == Numeric and is 0 otherwise.
// Invariant: Color is NoColor only for Wild and WildDrawFour cards without a chosen color.
type Card struct {
	Kind   Kind  `json:"kind"`
	Color  Color `json:"color"`
	Number uint8 `json:"number"`
}

// NewNumeric returns a numbered card.
//
// Precondition: color != NoColor; number <= 9.
func NewNumeric(color Color, number uint8) Card {
	return Card{Kind: Numeric, Color: color, Number: number}
}

// NewSkip returns a Skip card of the given color.
func NewSkip(color Color) Card { return Card{Kind: Skip, Color: color} }

// NewReverse returns a Reverse card of the given color.
func NewReverse(color Color) Card { return Card{Kind: Reverse, Color: color} }

// NewDrawTwo returns a DrawTwo card of the given color.
func NewDrawTwo(color Color) Card { return Card{Kind: DrawTwo, Color: color} }

// NewWild returns an uncolored Wild card.
func NewWild() Card { return Card{Kind: Wild} }

// NewWildDrawFour returns an uncolored WildDrawFour card.
func NewWildDrawFour() Card { return Card{Kind: WildDrawFour} }

// IsWild reports whether the card is a Wild or WildDrawFour.
func (c Card) IsWild() bool {
	return c.Kind == Wild || c.Kind == WildDrawFour
}

// HasColor reports whether the card currently carries a color.
func (c Card) HasColor() bool {
	return c.Color != NoColor
}

// WithColor returns a copy of a wild card with its color chosen.
//
// Precondition: c.IsWild().
func (c Card) WithColor(color Color) Card {
	c.Color = color
	return c
}

// Discriminant identifies what a card is irrespective of color. Two cards
// with equal discriminants may be stacked across colors.
type Discriminant struct {
	Kind   Kind
	Number uint8
}

// KindDiscriminant returns (kind, number) for numeric cards and (kind, 0)
// for everything else.
func (c Card) KindDiscriminant() Discriminant {
	if c.Kind == Numeric {
		return Discriminant{Kind: Numeric, Number: c.Number}
	}
	return Discriminant{Kind: c.Kind}
}

// PlayableOn reports whether c may be placed on top of other.
//
// Postcondition: true iff either card has no color, or the colors match, or
// the kind discriminants match.
func (c Card) PlayableOn(other Card) bool {
	if !c.HasColor() || !other.HasColor() {
		return true
	}
	if c.Color == other.Color {
		return true
	}
	return c.KindDiscriminant() == other.KindDiscriminant()
}

// String returns a short human-readable label, e.g. "red 7" or "wild draw four".
func (c Card) String() string {
	var label string
	switch c.Kind {
	case Numeric:
		label = fmt.Sprintf("%d", c.Number)
	case DrawTwo:
		label = "draw two"
	case WildDrawFour:
		label = "wild draw four"
	default:
		label = c.Kind.String()
	}
	if !c.HasColor() {
		return label
	}
	if c.IsWild() {
		return fmt.Sprintf("%s (%s)", label, c.Color)
	}
	return c.Color.String() + " " + label
}
