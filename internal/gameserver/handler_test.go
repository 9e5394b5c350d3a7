package gameserver

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/uno/internal/config"
	"github.com/cory-johannsen/uno/internal/game/random"
	"github.com/cory-johannsen/uno/internal/game/uno"
	"github.com/cory-johannsen/uno/internal/protocol"
	"github.com/cory-johannsen/uno/internal/session"
	"github.com/cory-johannsen/uno/internal/transport/ws"
)

type testServer struct {
	srv      *httptest.Server
	registry *session.Registry
	tokens   *ws.TokenResolver
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	registry := session.NewRegistry(logger,
		session.WithRandomSource(func() random.Source { return random.NewSeededSource(7) }),
	)
	cfg := config.WebSocketConfig{
		Path:         "/ws",
		WriteTimeout: time.Second,
		CloseTimeout: 200 * time.Millisecond,
		DrainTimeout: time.Second,
		ReadLimit:    4096,
	}

	tokens := ws.NewTokenResolver("test-secret", time.Minute, registry)
	resolver := ws.ResolverFunc(func(info ws.RequestInfo) (ws.Route, *ws.Rejection) {
		if info.Query.Has("token") {
			return tokens.ResolveHandshake(info)
		}
		return ws.QueryResolver{Sessions: registry}.ResolveHandshake(info)
	})

	acc := ws.NewAcceptor(cfg, resolver, NewHandler(registry, logger), logger)
	for _, mw := range Middleware(logger) {
		acc.Use(mw)
	}
	NewAPI(registry, tokens, logger).Mount(acc)

	srv := httptest.NewServer(acc.Handler())
	t.Cleanup(func() {
		srv.Close()
		acc.Stop()
	})
	return &testServer{srv: srv, registry: registry, tokens: tokens}
}

func (ts *testServer) dial(t *testing.T, query url.Values) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws?" + query.Encode()
	client, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { client.Close() })
	return client
}

func (ts *testServer) join(t *testing.T, sid, pid uuid.UUID) *websocket.Conn {
	t.Helper()
	return ts.dial(t, url.Values{"session_id": {sid.String()}, "player_id": {pid.String()}})
}

func readEvent(t *testing.T, client *websocket.Conn) protocol.Event {
	t.Helper()
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	ev, err := protocol.DecodeEvent(data)
	require.NoError(t, err)
	return ev
}

// readUntil reads events until one of type typ arrives.
func readUntil(t *testing.T, client *websocket.Conn, typ protocol.EventType) protocol.Event {
	t.Helper()
	for {
		ev := readEvent(t, client)
		if ev.Type == typ {
			return ev
		}
	}
}

// readState reads events until a state event with at least seq arrives.
func readState(t *testing.T, client *websocket.Conn, seq uint64) protocol.Event {
	t.Helper()
	for {
		ev := readUntil(t, client, protocol.EventState)
		if ev.Seq >= seq {
			return ev
		}
	}
}

func send(t *testing.T, client *websocket.Conn, text string) {
	t.Helper()
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(text)))
}

func TestHandler_PlaySession(t *testing.T) {
	ts := newTestServer(t)
	s, err := ts.registry.Create("uno", session.Settings{})
	require.NoError(t, err)

	p1, p2 := uuid.New(), uuid.New()
	c1 := ts.join(t, s.ID(), p1)
	welcome := readEvent(t, c1)
	require.Equal(t, protocol.EventWelcome, welcome.Type)
	assert.Equal(t, p1, *welcome.PlayerID)
	assert.Equal(t, s.ID(), *welcome.SessionID)
	readState(t, c1, 1)

	c2 := ts.join(t, s.ID(), p2)
	assert.Equal(t, protocol.EventWelcome, readEvent(t, c2).Type)

	st1 := readState(t, c1, 2)
	st2 := readState(t, c2, 2)
	assert.Equal(t, st1.State, st2.State)
	require.Len(t, st1.State.Seats, 2)
	assert.Equal(t, p1, st1.State.CurrentPlayer)
	assert.Len(t, st1.Hand, uno.InitialHandSize)

	// Out of turn.
	send(t, c2, `{"type":"draw_card"}`)
	ev := readUntil(t, c2, protocol.EventError)
	assert.Equal(t, protocol.CodeNotYourTurn, ev.Code)

	// Wrong phase.
	send(t, c1, "resolve yes")
	ev = readUntil(t, c1, protocol.EventError)
	assert.Equal(t, protocol.CodeWrongTurnState, ev.Code)

	// Out of range.
	send(t, c1, "play 99")
	ev = readUntil(t, c1, protocol.EventError)
	assert.Equal(t, protocol.CodeHandIndex, ev.Code)

	send(t, c1, "draw")
	st1 = readState(t, c1, 3)
	st2 = readState(t, c2, 3)
	assert.Equal(t, st1.Seq, st2.Seq)
	assert.Len(t, st1.Hand, uno.InitialHandSize+1)

	if st1.State.Phase == uno.PlayDrawn.String() {
		send(t, c1, "keep")
		st1 = readState(t, c1, 4)
		readState(t, c2, 4)
	}
	assert.Equal(t, p2, st1.State.CurrentPlayer)
}

func TestHandler_BinaryFramesAndSnapshot(t *testing.T) {
	ts := newTestServer(t)
	s, err := ts.registry.Create("uno", session.Settings{})
	require.NoError(t, err)

	c1 := ts.join(t, s.ID(), uuid.New())
	readState(t, c1, 1)

	data, err := protocol.EncodeBinary(protocol.Request{Type: protocol.TypeState})
	require.NoError(t, err)
	require.NoError(t, c1.WriteMessage(websocket.BinaryMessage, data))

	snap := readState(t, c1, 1)
	assert.Equal(t, uint64(1), snap.Seq)
	assert.Len(t, snap.Hand, uno.InitialHandSize)
}

func TestHandler_LeaveKeepsSessionLive(t *testing.T) {
	ts := newTestServer(t)
	s, err := ts.registry.Create("uno", session.Settings{})
	require.NoError(t, err)

	p1, p2 := uuid.New(), uuid.New()
	c1 := ts.join(t, s.ID(), p1)
	readState(t, c1, 1)
	c2 := ts.join(t, s.ID(), p2)
	readState(t, c2, 2)

	send(t, c2, "leave")
	st := readState(t, c1, 3)
	require.Len(t, st.State.Seats, 1)
	assert.Equal(t, p1, st.State.Seats[0].PlayerID)

	require.NoError(t, c2.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = c2.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	assert.True(t, ts.registry.Exists(s.ID()))
	assert.Equal(t, 1, s.PlayerCount())
}

func TestHandler_DisconnectRemovesPlayer(t *testing.T) {
	ts := newTestServer(t)
	s, err := ts.registry.Create("uno", session.Settings{})
	require.NoError(t, err)

	c1 := ts.join(t, s.ID(), uuid.New())
	readState(t, c1, 1)
	c2 := ts.join(t, s.ID(), uuid.New())
	readState(t, c2, 2)

	require.NoError(t, c2.Close())
	st := readState(t, c1, 3)
	assert.Len(t, st.State.Seats, 1)
}

func TestHandler_JoinErrors(t *testing.T) {
	ts := newTestServer(t)
	s, err := ts.registry.Create("uno", session.Settings{MaxPlayers: 2, Password: "secret"})
	require.NoError(t, err)

	bad := ts.dial(t, url.Values{"session_id": {s.ID().String()}, "password": {"nope"}})
	ev := readEvent(t, bad)
	assert.Equal(t, protocol.EventError, ev.Type)
	assert.Equal(t, protocol.CodeBadPassword, ev.Code)
	_, _, err = bad.ReadMessage()
	assert.Error(t, err, "connection closes after a failed join")

	pid := uuid.New()
	first := ts.dial(t, url.Values{"session_id": {s.ID().String()}, "player_id": {pid.String()}, "password": {"secret"}})
	readState(t, first, 1)
	dup := ts.dial(t, url.Values{"session_id": {s.ID().String()}, "player_id": {pid.String()}, "password": {"secret"}})
	assert.Equal(t, protocol.CodeAlreadyJoined, readEvent(t, dup).Code)

	second := ts.dial(t, url.Values{"session_id": {s.ID().String()}, "password": {"secret"}})
	readState(t, second, 2)
	full := ts.dial(t, url.Values{"session_id": {s.ID().String()}, "password": {"secret"}})
	assert.Equal(t, protocol.CodeSessionFull, readEvent(t, full).Code)
}

func TestHandler_UnknownSessionRejectedBeforeUpgrade(t *testing.T) {
	ts := newTestServer(t)
	u := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws?session_id=" + uuid.NewString()
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_MalformedFrames(t *testing.T) {
	ts := newTestServer(t)
	s, err := ts.registry.Create("uno", session.Settings{})
	require.NoError(t, err)

	c := ts.join(t, s.ID(), uuid.New())
	readState(t, c, 1)

	for range maxBadFrames {
		send(t, c, "juggle")
		ev := readUntil(t, c, protocol.EventError)
		assert.Equal(t, protocol.CodeBadRequest, ev.Code)
	}

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = c.ReadMessage()
	assert.Error(t, err, "connection closes after repeated malformed frames")
	assert.Eventually(t, func() bool { return s.PlayerCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_SessionCloseEndsWorkers(t *testing.T) {
	ts := newTestServer(t)
	s, err := ts.registry.Create("uno", session.Settings{})
	require.NoError(t, err)

	c := ts.join(t, s.ID(), uuid.New())
	readState(t, c, 1)

	require.NoError(t, ts.registry.Close(s.ID()))
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = c.ReadMessage()
	assert.Error(t, err)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		code protocol.ErrorCode
	}{
		{uno.ErrWrongTurnState, protocol.CodeWrongTurnState},
		{uno.ErrHandIndex, protocol.CodeHandIndex},
		{uno.ErrUnplayable, protocol.CodeUnplayable},
		{uno.ErrDrawPileExhausted, protocol.CodeDrawPileExhausted},
		{uno.ErrNoPlayers, protocol.CodeNoPlayers},
		{session.ErrNotYourTurn, protocol.CodeNotYourTurn},
		{session.ErrSessionFull, protocol.CodeSessionFull},
		{protocol.ErrMalformed, protocol.CodeBadRequest},
		{assert.AnError, protocol.CodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, errorCode(tt.err), "%v", tt.err)
	}
}

func TestHandler_StateResendFollowsBroadcasts(t *testing.T) {
	ts := newTestServer(t)
	s, err := ts.registry.Create("uno", session.Settings{})
	require.NoError(t, err)

	p1 := uuid.New()
	c1 := ts.join(t, s.ID(), p1)
	readState(t, c1, 1)
	c2 := ts.join(t, s.ID(), uuid.New())
	readState(t, c2, 2)

	// The draw broadcast and the resend are both queued behind each other.
	send(t, c1, "draw")
	send(t, c1, "state")

	var seqs []uint64
	for len(seqs) < 3 {
		seqs = append(seqs, readUntil(t, c1, protocol.EventState).Seq)
	}
	assert.Equal(t, []uint64{2, 3, 3}, seqs)
}

func TestHandler_Help(t *testing.T) {
	ts := newTestServer(t)
	s, err := ts.registry.Create("uno", session.Settings{})
	require.NoError(t, err)

	c1 := ts.join(t, s.ID(), uuid.New())
	readState(t, c1, 1)

	send(t, c1, "?")
	ev := readUntil(t, c1, protocol.EventHelp)
	assert.Equal(t, protocol.HelpLines(), ev.Commands)
	assert.Contains(t, ev.Commands, "leave: leave the session")
}
