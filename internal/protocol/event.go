package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/cory-johannsen/uno/internal/game/card"
	"github.com/cory-johannsen/uno/internal/game/uno"
)

// EventType names an outbound event.
type EventType string

const (
	EventWelcome EventType = "welcome"
	EventState   EventType = "state"
	EventError   EventType = "error"
	EventHelp    EventType = "help"
)

// ErrorCode is the stable, machine-readable reason carried by an error event.
type ErrorCode string

const (
	CodeWrongTurnState    ErrorCode = "wrong_turn_state"
	CodeHandIndex         ErrorCode = "hand_index"
	CodeUnplayable        ErrorCode = "unplayable"
	CodeDrawPileExhausted ErrorCode = "draw_pile_exhausted"
	CodeNotYourTurn       ErrorCode = "not_your_turn"
	CodeNoPlayers         ErrorCode = "no_players"
	CodeSessionNotFound   ErrorCode = "session_not_found"
	CodeSessionFull       ErrorCode = "session_full"
	CodeBadPassword       ErrorCode = "bad_password"
	CodeAlreadyJoined     ErrorCode = "already_joined"
	CodeBadRequest        ErrorCode = "bad_request"
	CodeInternal          ErrorCode = "internal"
)

// Event is one outbound message. Fields irrelevant to Type are omitted.
type Event struct {
	Type EventType `json:"type"`
	// Seq orders state events within a session.
	Seq       uint64           `json:"seq,omitempty"`
	SessionID *uuid.UUID       `json:"session_id,omitempty"`
	PlayerID  *uuid.UUID       `json:"player_id,omitempty"`
	GameID    string           `json:"game_id,omitempty"`
	State     *uno.PublicState `json:"state,omitempty"`
	Hand      []card.Card      `json:"hand,omitempty"`
	Code      ErrorCode        `json:"code,omitempty"`
	Message   string           `json:"message,omitempty"`
	Commands  []string         `json:"commands,omitempty"`
}

// Welcome builds the first event a player receives after joining.
func Welcome(sessionID, playerID uuid.UUID, gameID string) Event {
	return Event{Type: EventWelcome, SessionID: &sessionID, PlayerID: &playerID, GameID: gameID}
}

// State builds a state event carrying the public state and the recipient's hand.
func State(seq uint64, state uno.PublicState, hand []card.Card) Event {
	return Event{Type: EventState, Seq: seq, State: &state, Hand: hand}
}

// Error builds an error event.
func Error(code ErrorCode, message string) Event {
	return Event{Type: EventError, Code: code, Message: message}
}

// Help builds the command listing sent in reply to a help request.
func Help() Event {
	return Event{Type: EventHelp, Commands: HelpLines()}
}

// Encode serializes e as a JSON text frame.
func Encode(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", e.Type, err)
	}
	return data, nil
}

// DecodeEvent parses a JSON event frame.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decoding event: %w", err)
	}
	return e, nil
}
