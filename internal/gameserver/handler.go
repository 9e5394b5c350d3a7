// Package gameserver binds websocket connections to sessions: one worker
// per connection translating inbound frames into game actions, plus the
// REST endpoints for creating and listing sessions.
package gameserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/uno/internal/protocol"
	"github.com/cory-johannsen/uno/internal/session"
	"github.com/cory-johannsen/uno/internal/transport/ws"
)

// maxBadFrames is the number of consecutive undecodable frames after which
// a connection is dropped.
const maxBadFrames = 3

var errTooManyBadFrames = errors.New("too many malformed frames")

// Handler runs one worker per accepted connection. It implements ws.Worker.
type Handler struct {
	registry *session.Registry
	logger   *zap.Logger
}

// NewHandler creates a connection handler backed by registry.
//
// Precondition: registry and logger must be non-nil.
func NewHandler(registry *session.Registry, logger *zap.Logger) *Handler {
	return &Handler{registry: registry, logger: logger}
}

// Serve joins the routed session and processes requests until the peer
// leaves, the connection ends, or ctx is cancelled.
// Flow:
//  1. Join the session named by the handshake route
//  2. Spawn goroutine to forward outbox events to the connection
//  3. Main loop: receive, decode, apply; failures go back as error events
//  4. On exit: leave the session
//
// Postcondition: The player is no longer a member of the session.
func (h *Handler) Serve(ctx context.Context, conn *ws.Conn) error {
	route := conn.Route()

	member, err := h.join(route)
	if err != nil {
		h.sendError(ctx, conn, err)
		return fmt.Errorf("joining session %s: %w", route.SessionID, err)
	}
	defer h.cleanupPlayer(member)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.forwardEvents(ctx, member, conn)
	}()

	err = h.commandLoop(ctx, member, conn)

	cancel()
	wg.Wait()

	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (h *Handler) join(route ws.Route) (*session.Member, error) {
	if route.Verified {
		return h.registry.JoinVerified(route.SessionID, route.PlayerID)
	}
	return h.registry.Join(route.SessionID, route.PlayerID, route.Password)
}

// commandLoop processes inbound frames until the stream ends or the player leaves.
func (h *Handler) commandLoop(ctx context.Context, member *session.Member, conn *ws.Conn) error {
	badFrames := 0
	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			return err
		}

		req, err := decode(msg)
		if err != nil {
			badFrames++
			h.sendError(ctx, conn, err)
			if badFrames >= maxBadFrames {
				return errTooManyBadFrames
			}
			continue
		}
		badFrames = 0

		if req.Type == protocol.TypeLeave {
			return io.EOF
		}
		if err := h.dispatch(member, req); err != nil {
			// A closed outbox means the member was dropped or the session closed.
			if errors.Is(err, session.ErrOutboxClosed) || errors.Is(err, session.ErrOutboxFull) {
				return io.EOF
			}
			h.sendError(ctx, conn, err)
		}
	}
}

func decode(msg ws.Message) (protocol.Request, error) {
	if msg.Kind == ws.Binary {
		return protocol.DecodeBinary(msg.Data)
	}
	return protocol.DecodeText(msg.Data)
}

// dispatch routes a request to the member's session. Successful game
// actions produce no direct reply; the resulting state arrives through the
// outbox like every other event, so replies never overtake broadcasts.
func (h *Handler) dispatch(member *session.Member, req protocol.Request) error {
	if req.IsGameAction() {
		return member.Apply(toAction(req))
	}
	switch req.Type {
	case protocol.TypeState:
		return member.Resend()
	case protocol.TypeHelp:
		return member.Send(protocol.Help())
	default:
		return fmt.Errorf("%w: %s", protocol.ErrUnknownRequest, req.Type)
	}
}

// toAction maps a game-action request onto a session action.
//
// Precondition: req.IsGameAction() is true.
func toAction(req protocol.Request) session.Action {
	switch req.Type {
	case protocol.TypePlayCard:
		return session.PlayCard(req.Index)
	case protocol.TypeResolveDrawnCard:
		return session.ResolveDrawnCard(req.Play)
	default:
		return session.DrawCard()
	}
}

// forwardEvents drains the member's outbox to the connection. When the
// outbox is closed (dropped, or session closed) the connection is closed so
// the command loop ends.
func (h *Handler) forwardEvents(ctx context.Context, member *session.Member, conn *ws.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-member.Events():
			if !ok {
				if ctx.Err() == nil {
					_ = conn.Close()
				}
				return
			}
			if err := conn.Send(ctx, ws.Message{Kind: ws.Text, Data: data}); err != nil {
				h.logger.Debug("forward event send failed",
					zap.Stringer("player_id", member.PlayerID()),
					zap.Error(err),
				)
				_ = conn.Close()
				return
			}
		}
	}
}

func (h *Handler) sendError(ctx context.Context, conn *ws.Conn, err error) {
	data, encErr := protocol.Encode(protocol.Error(errorCode(err), err.Error()))
	if encErr != nil {
		h.logger.Error("encoding error event", zap.Error(encErr))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if sendErr := conn.Send(ctx, ws.Message{Kind: ws.Text, Data: data}); sendErr != nil {
		h.logger.Debug("error event send failed", zap.Error(sendErr))
	}
}

// cleanupPlayer removes the member from its session. The session and game
// stay live for the remaining players.
func (h *Handler) cleanupPlayer(member *session.Member) {
	sid := member.Session().ID()
	err := h.registry.Leave(sid, member.PlayerID())
	switch {
	case err == nil:
		h.logger.Info("player disconnected",
			zap.Stringer("session_id", sid),
			zap.Stringer("player_id", member.PlayerID()),
		)
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrNotMember):
	default:
		h.logger.Warn("removing player on cleanup",
			zap.Stringer("session_id", sid),
			zap.Stringer("player_id", member.PlayerID()),
			zap.Error(err),
		)
	}
}
