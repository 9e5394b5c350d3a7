// Package protocol defines the messages exchanged with players over the
// websocket: inbound requests in JSON, command-line, or protobuf form, and
// outbound JSON events.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// RequestType names an inbound request.
type RequestType string

const (
	TypePlayCard         RequestType = "play_card"
	TypeDrawCard         RequestType = "draw_card"
	TypeResolveDrawnCard RequestType = "resolve_drawn_card"
	TypeState            RequestType = "state"
	TypeLeave            RequestType = "leave"
	TypeHelp             RequestType = "help"
)

var (
	// ErrMalformed is returned when a frame cannot be parsed at all.
	ErrMalformed = errors.New("malformed request")
	// ErrUnknownRequest is returned for a well-formed frame naming no known request.
	ErrUnknownRequest = errors.New("unknown request")
)

// Request is one decoded inbound message.
//
// Invariant: Index is only meaningful for TypePlayCard; Play only for
// TypeResolveDrawnCard.
type Request struct {
	Type  RequestType
	Index int
	Play  bool
}

// IsGameAction reports whether the request mutates the game.
func (r Request) IsGameAction() bool {
	switch r.Type {
	case TypePlayCard, TypeDrawCard, TypeResolveDrawnCard:
		return true
	}
	return false
}

func (r Request) String() string {
	switch r.Type {
	case TypePlayCard:
		return fmt.Sprintf("%s(%d)", r.Type, r.Index)
	case TypeResolveDrawnCard:
		return fmt.Sprintf("%s(%t)", r.Type, r.Play)
	default:
		return string(r.Type)
	}
}

// jsonRequest mirrors Request on the wire; pointer fields distinguish
// absent from zero.
type jsonRequest struct {
	Type  string `json:"type"`
	Index *int   `json:"index,omitempty"`
	Play  *bool  `json:"play,omitempty"`
}

// DecodeText decodes a text frame. Frames starting with '{' are JSON
// objects; anything else is a command line.
//
// Postcondition: Returns exactly one Request, or a non-nil error wrapping
// ErrMalformed or ErrUnknownRequest.
func DecodeText(data []byte) (Request, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Request{}, fmt.Errorf("empty frame: %w", ErrMalformed)
	}
	if trimmed[0] != '{' {
		return ParseCommand(string(trimmed))
	}

	var raw jsonRequest
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	// A frame carries exactly one request.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Request{}, fmt.Errorf("trailing data after request: %w", ErrMalformed)
	}
	return raw.toRequest()
}

func (r jsonRequest) toRequest() (Request, error) {
	req := Request{Type: RequestType(r.Type)}
	switch req.Type {
	case TypePlayCard:
		if r.Index == nil {
			return Request{}, fmt.Errorf("play_card requires index: %w", ErrMalformed)
		}
		req.Index = *r.Index
	case TypeResolveDrawnCard:
		if r.Play == nil {
			return Request{}, fmt.Errorf("resolve_drawn_card requires play: %w", ErrMalformed)
		}
		req.Play = *r.Play
	case TypeDrawCard, TypeState, TypeLeave, TypeHelp:
	default:
		return Request{}, fmt.Errorf("%q: %w", r.Type, ErrUnknownRequest)
	}
	return req, nil
}

// DecodeBinary decodes a binary frame holding a protobuf-encoded
// google.protobuf.Struct with the same fields as the JSON form.
func DecodeBinary(data []byte) (Request, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var raw jsonRequest
	for name, v := range st.GetFields() {
		switch name {
		case "type":
			s, ok := v.GetKind().(*structpb.Value_StringValue)
			if !ok {
				return Request{}, fmt.Errorf("type must be a string: %w", ErrMalformed)
			}
			raw.Type = s.StringValue
		case "index":
			n, ok := v.GetKind().(*structpb.Value_NumberValue)
			if !ok || n.NumberValue != math.Trunc(n.NumberValue) ||
				n.NumberValue > math.MaxInt32 || n.NumberValue < math.MinInt32 {
				return Request{}, fmt.Errorf("index must be an integer: %w", ErrMalformed)
			}
			idx := int(n.NumberValue)
			raw.Index = &idx
		case "play":
			b, ok := v.GetKind().(*structpb.Value_BoolValue)
			if !ok {
				return Request{}, fmt.Errorf("play must be a bool: %w", ErrMalformed)
			}
			play := b.BoolValue
			raw.Play = &play
		default:
			return Request{}, fmt.Errorf("unknown field %q: %w", name, ErrMalformed)
		}
	}
	return raw.toRequest()
}

// EncodeBinary encodes r as a protobuf Struct frame.
func EncodeBinary(r Request) ([]byte, error) {
	fields := map[string]any{"type": string(r.Type)}
	switch r.Type {
	case TypePlayCard:
		fields["index"] = r.Index
	case TypeResolveDrawnCard:
		fields["play"] = r.Play
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("building request struct: %w", err)
	}
	return proto.Marshal(st)
}

// EncodeText encodes r as a JSON text frame.
func EncodeText(r Request) ([]byte, error) {
	raw := jsonRequest{Type: string(r.Type)}
	switch r.Type {
	case TypePlayCard:
		raw.Index = &r.Index
	case TypeResolveDrawnCard:
		raw.Play = &r.Play
	}
	return json.Marshal(raw)
}
