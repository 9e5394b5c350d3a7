package gameserver

import (
	"errors"

	"github.com/cory-johannsen/uno/internal/game/uno"
	"github.com/cory-johannsen/uno/internal/protocol"
	"github.com/cory-johannsen/uno/internal/session"
)

var errorCodes = []struct {
	err  error
	code protocol.ErrorCode
}{
	{uno.ErrWrongTurnState, protocol.CodeWrongTurnState},
	{uno.ErrHandIndex, protocol.CodeHandIndex},
	{uno.ErrUnplayable, protocol.CodeUnplayable},
	{uno.ErrDrawPileExhausted, protocol.CodeDrawPileExhausted},
	{uno.ErrNoPlayers, protocol.CodeNoPlayers},
	{session.ErrNotYourTurn, protocol.CodeNotYourTurn},
	{session.ErrSessionNotFound, protocol.CodeSessionNotFound},
	{session.ErrNotMember, protocol.CodeSessionNotFound},
	{session.ErrSessionFull, protocol.CodeSessionFull},
	{session.ErrBadPassword, protocol.CodeBadPassword},
	{session.ErrAlreadyJoined, protocol.CodeAlreadyJoined},
	{session.ErrUnknownGame, protocol.CodeBadRequest},
	{session.ErrInvalidSettings, protocol.CodeBadRequest},
	{protocol.ErrMalformed, protocol.CodeBadRequest},
	{protocol.ErrUnknownRequest, protocol.CodeBadRequest},
}

// errorCode maps an error to the code reported to clients.
func errorCode(err error) protocol.ErrorCode {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return protocol.CodeInternal
}
