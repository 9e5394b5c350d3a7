package session

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/uno/internal/game/library"
	"github.com/cory-johannsen/uno/internal/game/random"
	"github.com/cory-johannsen/uno/internal/game/uno"
	"github.com/cory-johannsen/uno/internal/protocol"
)

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	opts = append([]Option{
		WithRandomSource(func() random.Source { return random.NewSeededSource(1) }),
		WithOutboxSize(1024),
	}, opts...)
	return NewRegistry(zaptest.NewLogger(t), opts...)
}

func testLibrary(t *testing.T) *library.Library {
	t.Helper()
	lib, err := library.New(&library.Definition{ID: "uno", Name: "Uno", MaxPlayers: 3})
	require.NoError(t, err)
	return lib
}

// drain reads every event buffered in ch. ch must be closed.
func drain(t *testing.T, ch <-chan []byte) []protocol.Event {
	t.Helper()
	var out []protocol.Event
	for data := range ch {
		ev, err := protocol.DecodeEvent(data)
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func stateSeqs(events []protocol.Event) []uint64 {
	var seqs []uint64
	for _, ev := range events {
		if ev.Type == protocol.EventState {
			seqs = append(seqs, ev.Seq)
		}
	}
	return seqs
}

func TestCreate_Settings(t *testing.T) {
	r := newTestRegistry(t, WithLibrary(testLibrary(t)))

	s, err := r.Create("uno", Settings{Public: true})
	require.NoError(t, err)
	assert.Equal(t, 3, s.MaxPlayers(), "library default")
	assert.Equal(t, "uno", s.GameID())
	assert.True(t, s.Public())
	assert.False(t, s.HasPassword())

	s, err = r.Create("uno", Settings{MaxPlayers: 10, Password: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, 10, s.MaxPlayers())
	assert.True(t, s.HasPassword())

	_, err = r.Create("chess", Settings{})
	assert.ErrorIs(t, err, ErrUnknownGame)
	_, err = r.Create("uno", Settings{MaxPlayers: 1})
	assert.ErrorIs(t, err, ErrInvalidSettings)
	_, err = r.Create("uno", Settings{MaxPlayers: 11})
	assert.ErrorIs(t, err, ErrInvalidSettings)

	assert.Equal(t, 2, r.Len())
}

func TestCreate_NoLibraryUsesDefault(t *testing.T) {
	r := newTestRegistry(t, WithDefaultMaxPlayers(5))
	s, err := r.Create("anything", Settings{})
	require.NoError(t, err)
	assert.Equal(t, 5, s.MaxPlayers())
}

func TestCreate_RegeneratesCollidingID(t *testing.T) {
	a := uuid.MustParse("aaaaaaaa-aaaa-4aaa-8aaa-aaaaaaaaaaaa")
	b := uuid.MustParse("bbbbbbbb-bbbb-4bbb-8bbb-bbbbbbbbbbbb")
	ids := []uuid.UUID{a, a, a, b}
	var next int
	r := newTestRegistry(t, WithIDGenerator(func() uuid.UUID {
		id := ids[next]
		next++
		return id
	}))

	first, err := r.Create("uno", Settings{})
	require.NoError(t, err)
	second, err := r.Create("uno", Settings{})
	require.NoError(t, err)

	assert.Equal(t, a, first.ID())
	assert.Equal(t, b, second.ID())
	assert.Equal(t, 2, r.Len())
}

func TestJoin_Errors(t *testing.T) {
	r := newTestRegistry(t)
	s, err := r.Create("uno", Settings{MaxPlayers: 2, Password: "secret"})
	require.NoError(t, err)

	_, err = r.Join(uuid.New(), uuid.New(), "secret")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = r.Join(s.ID(), uuid.New(), "wrong")
	assert.ErrorIs(t, err, ErrBadPassword)

	p1, p2 := uuid.New(), uuid.New()
	_, err = r.Join(s.ID(), p1, "secret")
	require.NoError(t, err)
	_, err = r.Join(s.ID(), p1, "secret")
	assert.ErrorIs(t, err, ErrAlreadyJoined)
	_, err = r.Join(s.ID(), p2, "secret")
	require.NoError(t, err)

	_, err = r.Join(s.ID(), uuid.New(), "secret")
	assert.ErrorIs(t, err, ErrSessionFull)
	assert.Equal(t, 2, s.PlayerCount())
}

func TestJoinVerified_SkipsPassword(t *testing.T) {
	r := newTestRegistry(t)
	s, err := r.Create("uno", Settings{MaxPlayers: 2, Password: "secret"})
	require.NoError(t, err)

	p := uuid.New()
	m, err := r.JoinVerified(s.ID(), p)
	require.NoError(t, err)
	assert.Equal(t, p, m.PlayerID())

	_, err = r.JoinVerified(s.ID(), p)
	assert.ErrorIs(t, err, ErrAlreadyJoined)
	_, err = r.JoinVerified(uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestJoin_WelcomeThenState(t *testing.T) {
	r := newTestRegistry(t)
	s, err := r.Create("uno", Settings{})
	require.NoError(t, err)

	p1, p2 := uuid.New(), uuid.New()
	m1, err := r.Join(s.ID(), p1, "")
	require.NoError(t, err)
	m2, err := r.Join(s.ID(), p2, "")
	require.NoError(t, err)
	require.NoError(t, r.Close(s.ID()))

	events1 := drain(t, m1.Events())
	require.Len(t, events1, 3)
	assert.Equal(t, protocol.EventWelcome, events1[0].Type)
	assert.Equal(t, p1, *events1[0].PlayerID)
	assert.Equal(t, []uint64{1, 2}, stateSeqs(events1))
	assert.Len(t, events1[2].State.Seats, 2)
	assert.Len(t, events1[2].Hand, uno.InitialHandSize)

	events2 := drain(t, m2.Events())
	require.Len(t, events2, 2)
	assert.Equal(t, protocol.EventWelcome, events2[0].Type)
	assert.Equal(t, []uint64{2}, stateSeqs(events2))
}

func TestApply_TurnEnforcement(t *testing.T) {
	r := newTestRegistry(t)
	s, err := r.Create("uno", Settings{})
	require.NoError(t, err)

	assert.ErrorIs(t, s.Apply(uuid.New(), DrawCard()), ErrNotMember)

	p1, p2 := uuid.New(), uuid.New()
	m1, err := r.Join(s.ID(), p1, "")
	require.NoError(t, err)
	m2, err := r.Join(s.ID(), p2, "")
	require.NoError(t, err)

	assert.ErrorIs(t, m2.Apply(DrawCard()), ErrNotYourTurn)
	assert.ErrorIs(t, m1.Apply(PlayCard(99)), uno.ErrHandIndex)
	assert.ErrorIs(t, m1.Apply(ResolveDrawnCard(true)), uno.ErrWrongTurnState)
	assert.Error(t, m1.Apply(Action{Kind: ActionKind(42)}))
}

func TestApply_BroadcastOrderMatchesMutationOrder(t *testing.T) {
	r := newTestRegistry(t)
	s, err := r.Create("uno", Settings{})
	require.NoError(t, err)

	var members []*Member
	for i := 0; i < 3; i++ {
		m, err := r.Join(s.ID(), uuid.New(), "")
		require.NoError(t, err)
		members = append(members, m)
	}

	const target = 40
	var successes atomic.Int64
	var wg sync.WaitGroup
	for _, m := range members {
		wg.Add(1)
		go func(m *Member) {
			defer wg.Done()
			for successes.Load() < target {
				err := m.Apply(DrawCard())
				if errors.Is(err, uno.ErrWrongTurnState) {
					err = m.Apply(ResolveDrawnCard(false))
				}
				switch {
				case err == nil:
					successes.Add(1)
				case errors.Is(err, ErrNotYourTurn):
				default:
					t.Errorf("unexpected apply error: %v", err)
					return
				}
				runtime.Gosched()
			}
		}(m)
	}
	wg.Wait()
	require.NoError(t, r.Close(s.ID()))

	// Joins produced seqs 1..3; every member observes everything from its join on.
	var reference []uint64
	for i, m := range members {
		seqs := stateSeqs(drain(t, m.Events()))
		require.NotEmpty(t, seqs)
		assert.Equal(t, uint64(i+1), seqs[0])
		for j := 1; j < len(seqs); j++ {
			require.Equal(t, seqs[j-1]+1, seqs[j], "member %d skipped or reordered an event", i)
		}
		if reference == nil {
			reference = seqs
		} else {
			assert.Equal(t, reference[len(reference)-1], seqs[len(seqs)-1])
		}
	}
	assert.GreaterOrEqual(t, len(reference), target+3)
}

func TestLeave_ReturnsHandAndNotifies(t *testing.T) {
	r := newTestRegistry(t)
	s, err := r.Create("uno", Settings{})
	require.NoError(t, err)

	p1, p2 := uuid.New(), uuid.New()
	m1, err := r.Join(s.ID(), p1, "")
	require.NoError(t, err)
	m2, err := r.Join(s.ID(), p2, "")
	require.NoError(t, err)

	require.NoError(t, r.Leave(s.ID(), p1))
	assert.ErrorIs(t, r.Leave(s.ID(), p1), ErrNotMember)
	assert.ErrorIs(t, r.Leave(uuid.New(), p1), ErrSessionNotFound)
	assert.Equal(t, 1, s.PlayerCount())
	assert.True(t, r.Exists(s.ID()), "session survives a departure")

	events1 := drain(t, m1.Events())
	assert.Equal(t, []uint64{1, 2}, stateSeqs(events1), "leaver's outbox is closed without further events")

	require.NoError(t, r.Close(s.ID()))
	events2 := drain(t, m2.Events())
	last := events2[len(events2)-1]
	require.NotNil(t, last.State)
	assert.Len(t, last.State.Seats, 1)
	assert.Equal(t, p2, last.State.CurrentPlayer)
	assert.Equal(t, card108Minus(1, 1), last.State.DrawCount)
}

func TestLeave_ThenRejoin(t *testing.T) {
	r := newTestRegistry(t)
	s, err := r.Create("uno", Settings{MaxPlayers: 2})
	require.NoError(t, err)

	p1 := uuid.New()
	_, err = r.Join(s.ID(), p1, "")
	require.NoError(t, err)
	require.NoError(t, r.Leave(s.ID(), p1))

	m, err := r.Join(s.ID(), p1, "")
	require.NoError(t, err)
	hand, err := m.Snapshot()
	require.NoError(t, err)
	ev, err := protocol.DecodeEvent(hand)
	require.NoError(t, err)
	assert.Len(t, ev.Hand, uno.InitialHandSize)
}

// card108Minus returns the draw count of a fresh canonical deck after seeding
// the discard and dealing to the given number of seated players.
func card108Minus(discards, seated int) int {
	return 108 - discards - seated*uno.InitialHandSize
}

func TestBroadcast_DropsSlowMember(t *testing.T) {
	r := newTestRegistry(t, WithOutboxSize(2))
	s, err := r.Create("uno", Settings{})
	require.NoError(t, err)

	slow, err := r.Join(s.ID(), uuid.New(), "")
	require.NoError(t, err)
	fast, err := r.Join(s.ID(), uuid.New(), "")
	require.NoError(t, err)

	// slow held welcome + state and had no room for the second join's state.
	events := drain(t, slow.Events())
	assert.Len(t, events, 2)

	require.NoError(t, r.Close(s.ID()))
	assert.Len(t, drain(t, fast.Events()), 2)
}

func TestPublicSessions(t *testing.T) {
	r := newTestRegistry(t)
	pub1, err := r.Create("uno", Settings{Public: true})
	require.NoError(t, err)
	_, err = r.Create("uno", Settings{Public: false})
	require.NoError(t, err)
	pub2, err := r.Create("uno", Settings{Public: true})
	require.NoError(t, err)

	var ids []uuid.UUID
	for s := range r.PublicSessions() {
		ids = append(ids, s.ID())
	}
	assert.ElementsMatch(t, []uuid.UUID{pub1.ID(), pub2.ID()}, ids)

	count := 0
	for range r.PublicSessions() {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func TestClose(t *testing.T) {
	r := newTestRegistry(t)
	s, err := r.Create("uno", Settings{})
	require.NoError(t, err)
	m, err := r.Join(s.ID(), uuid.New(), "")
	require.NoError(t, err)

	require.NoError(t, r.Close(s.ID()))
	assert.ErrorIs(t, r.Close(s.ID()), ErrSessionNotFound)
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Exists(s.ID()))

	_, err = r.Join(s.ID(), uuid.New(), "")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Len(t, drain(t, m.Events()), 2)
}

func TestSnapshot(t *testing.T) {
	r := newTestRegistry(t)
	s, err := r.Create("uno", Settings{})
	require.NoError(t, err)
	m, err := r.Join(s.ID(), uuid.New(), "")
	require.NoError(t, err)

	data, err := m.Snapshot()
	require.NoError(t, err)
	ev, err := protocol.DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, protocol.EventState, ev.Type)
	assert.Equal(t, uint64(1), ev.Seq)
	assert.Len(t, ev.Hand, uno.InitialHandSize)

	_, err = s.Snapshot(uuid.New())
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestResend_QueuedBehindBroadcasts(t *testing.T) {
	r := newTestRegistry(t)
	s, err := r.Create("uno", Settings{})
	require.NoError(t, err)
	p1, p2 := uuid.New(), uuid.New()
	m1, err := r.Join(s.ID(), p1, "")
	require.NoError(t, err)
	_, err = r.Join(s.ID(), p2, "")
	require.NoError(t, err)

	require.NoError(t, m1.Apply(DrawCard()))
	require.NoError(t, m1.Resend())
	require.NoError(t, m1.Send(protocol.Help()))
	require.NoError(t, r.Close(s.ID()))

	events := drain(t, m1.Events())
	require.Len(t, events, 6)
	assert.Equal(t, []uint64{1, 2, 3, 3}, stateSeqs(events), "resent state follows the last broadcast")
	assert.Equal(t, protocol.EventHelp, events[5].Type)

	_, err = s.Snapshot(uuid.New())
	assert.ErrorIs(t, err, ErrNotMember)
	assert.ErrorIs(t, s.Resend(uuid.New()), ErrNotMember)
}

func TestJoin_FailedSeatLeavesNoMember(t *testing.T) {
	r := newTestRegistry(t)
	s, err := r.Create("uno", Settings{})
	require.NoError(t, err)

	// Drain the draw pile below a full hand with a seat that is not a member.
	filler := uuid.New()
	require.NoError(t, s.game.AddPlayer(filler))
	for s.game.DrawCount() >= uno.InitialHandSize {
		require.NoError(t, s.game.DrawCard())
		if s.game.Turn().Phase == uno.PlayDrawn {
			require.NoError(t, s.game.ResolveDrawnCard(false))
		}
	}
	before := s.game.PlayerCount()

	p := uuid.New()
	_, err = r.Join(s.ID(), p, "")
	require.ErrorIs(t, err, uno.ErrDrawPileExhausted)
	assert.Equal(t, 0, s.PlayerCount())
	assert.Equal(t, before, s.game.PlayerCount())
	_, seated := s.game.Hand(p)
	assert.False(t, seated)
}
