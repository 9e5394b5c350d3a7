package uno

import (
	"github.com/google/uuid"

	"github.com/cory-johannsen/uno/internal/game/card"
)

// SeatView is the public view of one seated player.
type SeatView struct {
	PlayerID uuid.UUID `json:"player_id"`
	HandSize int       `json:"hand_size"`
}

// PublicState is the view of a game every participant may see.
type PublicState struct {
	DiscardTop    card.Card  `json:"discard_top"`
	DiscardCount  int        `json:"discard_count"`
	DrawCount     int        `json:"draw_count"`
	Seats         []SeatView `json:"seats"`
	CurrentPlayer uuid.UUID  `json:"current_player"`
	Direction     string     `json:"direction"`
	Phase         string     `json:"phase"`
	// DrawnIndex is set only while Phase is play_drawn.
	DrawnIndex *int `json:"drawn_index,omitempty"`
}

// PublicState returns a snapshot of the public parts of the game.
//
// Postcondition: Seats is in turn order; CurrentPlayer is uuid.Nil when no
// players are seated.
func (g *Game) PublicState() PublicState {
	seats := make([]SeatView, len(g.players))
	for i, p := range g.players {
		seats[i] = SeatView{PlayerID: p.ID, HandSize: p.HandSize()}
	}
	current, _ := g.Current()

	state := PublicState{
		DiscardTop:    g.top(),
		DiscardCount:  g.discardPile.Len(),
		DrawCount:     g.drawPile.Len(),
		Seats:         seats,
		CurrentPlayer: current,
		Direction:     g.direction.String(),
		Phase:         g.turn.Phase.String(),
	}
	if g.turn.Phase == PlayDrawn {
		idx := g.turn.HandIndex
		state.DrawnIndex = &idx
	}
	return state
}
