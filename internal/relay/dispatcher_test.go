package relay

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/park285/cheese-relay/internal/archive"
	"github.com/park285/cheese-relay/internal/room"
	"github.com/park285/cheese-relay/internal/roomcode"
	"github.com/park285/cheese-relay/pkg/relaydto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	rooms *room.Registry
	hub   *Hub
	disp  *Dispatcher
	store *archive.MemoryStore
	code  string
	sid   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rooms := room.NewRegistry(room.WithCodeGenerator(roomcode.New(roomcode.WithSource(func(int) int { return 4821 }))))
	hub := NewHub(rooms, WithSendTimeout(time.Second))
	store := archive.NewMemoryStore()
	s := rooms.Create("alice")
	if _, _, err := rooms.Join(s.Code, "bob"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	return &fixture{
		rooms: rooms,
		hub:   hub,
		disp:  NewDispatcher(rooms, hub, WithRecorder(store)),
		store: store,
		code:  s.Code,
		sid:   s.ID,
	}
}

// serve runs Serve in the background and returns a channel with its result.
func (f *fixture) serve(pid string, ch Channel) <-chan error {
	done := make(chan error, 1)
	go func() { done <- f.disp.Serve(context.Background(), f.code, pid, ch) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return")
	}
	return nil
}

func (f *fixture) connectBoth(t *testing.T) (a, b *fakeChannel, da, db <-chan error) {
	t.Helper()
	a, b = newFakeChannel(), newFakeChannel()
	da = f.serve("alice", a)
	a.expect(t, relaydto.TypeConnected)
	db = f.serve("bob", b)
	b.expect(t, relaydto.TypeConnected)
	a.expect(t, relaydto.TypePlayerConnected)
	a.expect(t, relaydto.TypeGameStart)
	b.expect(t, relaydto.TypeGameStart)
	return a, b, da, db
}

func TestScenarioMoveAndResign(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, "4821", f.code)
	a, b, da, db := f.connectBoth(t)

	a.push(t, relaydto.TypeMove, relaydto.MovePayload{From: "e2", To: "e4", FEN: "after-e4"})
	mv := decodeData[relaydto.MoveEventPayload](t, b.expect(t, relaydto.TypeMove))
	assert.Equal(t, "white", mv.Player)
	assert.Equal(t, "after-e4", mv.FEN)
	a.expectNone(t)

	s, _ := f.rooms.Get(f.code)
	assert.Equal(t, []string{"e2e4"}, s.Game.Moves)
	assert.Equal(t, room.Black, s.Game.Turn)

	b.push(t, relaydto.TypeResign, nil)
	for _, ch := range []*fakeChannel{a, b} {
		over := decodeData[relaydto.GameOverEventPayload](t, ch.expect(t, relaydto.TypeGameOver))
		require.NotNil(t, over.Winner)
		assert.Equal(t, "white", *over.Winner)
		assert.Equal(t, "resignation", over.Reason)
		assert.Equal(t, "black", over.ResignedPlayer)
	}
	s, _ = f.rooms.Get(f.code)
	assert.Equal(t, room.StatusFinished, s.Status())

	f.disp.Wait()
	items, err := f.store.History(context.Background(), f.sid, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "white", items[0].Outcome())
	assert.Equal(t, "alice", items[0].WhiteID)

	_ = b.Close("")
	assert.NoError(t, waitDone(t, db))
	disc := decodeData[relaydto.PlayerPresencePayload](t, a.expect(t, relaydto.TypePlayerDisconnected))
	assert.Equal(t, "bob", disc.PlayerID)
	assert.Equal(t, "black", disc.Color)

	_ = a.Close("")
	assert.NoError(t, waitDone(t, da))
	assert.Equal(t, 0, f.hub.LiveCount(f.code))
}

func TestGameStartExactlyOnceEitherOrder(t *testing.T) {
	for _, order := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		t.Run(fmt.Sprintf("%s_first", order[0]), func(t *testing.T) {
			f := newFixture(t)
			first, second := newFakeChannel(), newFakeChannel()
			d1 := f.serve(order[0], first)
			conn := decodeData[relaydto.ConnectedPayload](t, first.expect(t, relaydto.TypeConnected))
			require.NotNil(t, conn.GameState)
			assert.Equal(t, "active", conn.GameState.Status)
			first.expectNone(t)

			d2 := f.serve(order[1], second)
			second.expect(t, relaydto.TypeConnected)
			first.expect(t, relaydto.TypePlayerConnected)
			first.expect(t, relaydto.TypeGameStart)
			second.expect(t, relaydto.TypeGameStart)
			first.expectNone(t)
			second.expectNone(t)

			_ = first.Close("")
			_ = second.Close("")
			waitDone(t, d1)
			waitDone(t, d2)
		})
	}
}

func TestRelayedEvents(t *testing.T) {
	f := newFixture(t)
	a, b, _, _ := f.connectBoth(t)

	a.push(t, relaydto.TypeChat, relaydto.ChatPayload{Message: "good luck"})
	chat := decodeData[relaydto.ChatEventPayload](t, b.expect(t, relaydto.TypeChat))
	assert.Equal(t, "white", chat.From)
	assert.Equal(t, "good luck", chat.Message)

	b.push(t, relaydto.TypeDrawOffer, nil)
	assert.Equal(t, "black", decodeData[relaydto.FromPayload](t, a.expect(t, relaydto.TypeDrawOffer)).From)

	a.push(t, relaydto.TypeDrawDecline, nil)
	assert.Equal(t, "white", decodeData[relaydto.FromPayload](t, b.expect(t, relaydto.TypeDrawDeclined)).From)

	b.push(t, relaydto.TypeDrawOffer, nil)
	a.expect(t, relaydto.TypeDrawOffer)
	a.push(t, relaydto.TypeDrawAccept, nil)
	for _, ch := range []*fakeChannel{a, b} {
		over := decodeData[relaydto.GameOverEventPayload](t, ch.expect(t, relaydto.TypeGameOver))
		assert.Nil(t, over.Winner)
		assert.Equal(t, ReasonDrawAgreement, over.Reason)
	}

	b.push(t, relaydto.TypeRestart, nil)
	for _, ch := range []*fakeChannel{a, b} {
		st := decodeData[relaydto.GameStatePayload](t, ch.expect(t, relaydto.TypeRestart))
		require.NotNil(t, st.GameState)
		assert.Equal(t, "active", st.GameState.Status)
		assert.Empty(t, st.GameState.MoveHistory)
	}

	a.push(t, relaydto.TypeSyncRequest, nil)
	sync := decodeData[relaydto.GameStatePayload](t, a.expect(t, relaydto.TypeSyncResponse))
	assert.Equal(t, room.StartFEN, sync.GameState.FEN)
	b.expectNone(t)
}

func TestGameOverFromClient(t *testing.T) {
	f := newFixture(t)
	a, b, _, _ := f.connectBoth(t)

	a.push(t, relaydto.TypeGameOver, map[string]any{"winner": "white", "reason": "checkmate"})
	for _, ch := range []*fakeChannel{a, b} {
		over := decodeData[relaydto.GameOverEventPayload](t, ch.expect(t, relaydto.TypeGameOver))
		require.NotNil(t, over.Winner)
		assert.Equal(t, "white", *over.Winner)
		assert.Equal(t, "checkmate", over.Reason)
	}
	// a second report overwrites the winner
	b.push(t, relaydto.TypeGameOver, map[string]any{"winner": nil})
	for _, ch := range []*fakeChannel{a, b} {
		over := decodeData[relaydto.GameOverEventPayload](t, ch.expect(t, relaydto.TypeGameOver))
		assert.Nil(t, over.Winner)
		assert.Equal(t, "unknown", over.Reason)
	}
	s, _ := f.rooms.Get(f.code)
	assert.Nil(t, s.Game.Winner)

	f.disp.Wait()
	items, _ := f.store.History(context.Background(), f.sid, 0)
	require.Len(t, items, 1, "same game archived once")
	assert.Equal(t, "draw", items[0].Outcome())
}

func TestMalformedKeepsLoopAlive(t *testing.T) {
	f := newFixture(t)
	a, b, _, _ := f.connectBoth(t)

	a.push(t, relaydto.TypeMove, map[string]any{"to": "e4"})
	a.expect(t, relaydto.TypeError)
	a.pushErr(fmt.Errorf("%w: not json", ErrMalformed))
	a.expect(t, relaydto.TypeError)
	a.push(t, "teleport", nil)
	b.expectNone(t)

	a.push(t, relaydto.TypeChat, relaydto.ChatPayload{Message: "still here"})
	b.expect(t, relaydto.TypeChat)
}

func TestTransportFailureReleasesWithoutBroadcast(t *testing.T) {
	f := newFixture(t)
	a, b, da, _ := f.connectBoth(t)

	a.pushErr(errors.New("connection reset"))
	err := waitDone(t, da)
	require.Error(t, err)
	assert.True(t, a.isClosed())
	assert.Equal(t, 1, f.hub.LiveCount(f.code))
	b.expectNone(t)
}

func TestReconnectDoesNotAnnounceStaleDisconnect(t *testing.T) {
	f := newFixture(t)
	a, b, da, _ := f.connectBoth(t)

	a2 := newFakeChannel()
	f.serve("alice", a2)
	a2.expect(t, relaydto.TypeConnected)
	b.expect(t, relaydto.TypePlayerConnected)

	// the replaced channel is closed by the hub; its Serve returns quietly
	assert.NoError(t, waitDone(t, da))
	assert.True(t, a.isClosed())
	b.expect(t, relaydto.TypeGameStart) // live count is still two after the swap
	b.expectNone(t)
	assert.Equal(t, 2, f.hub.LiveCount(f.code))
}

func TestServeRejectsUnknownRoomAndStranger(t *testing.T) {
	f := newFixture(t)
	ch := newFakeChannel()
	err := f.disp.Serve(context.Background(), "9999", "alice", ch)
	assert.ErrorIs(t, err, room.ErrNotFound)
	assert.True(t, ch.isClosed())

	ch = newFakeChannel()
	err = f.disp.Serve(context.Background(), f.code, "mallory", ch)
	assert.ErrorIs(t, err, ErrNotMember)
	assert.True(t, ch.isClosed())
}

func TestRestartWaitingRoomIsRejected(t *testing.T) {
	rooms := room.NewRegistry()
	hub := NewHub(rooms)
	d := NewDispatcher(rooms, hub)
	s := rooms.Create("solo")
	ch := newFakeChannel()
	done := make(chan error, 1)
	go func() { done <- d.Serve(context.Background(), s.Code, "solo", ch) }()

	conn := decodeData[relaydto.ConnectedPayload](t, ch.expect(t, relaydto.TypeConnected))
	assert.Nil(t, conn.GameState)
	ch.push(t, relaydto.TypeRestart, nil)
	ch.expect(t, relaydto.TypeError)
	ch.push(t, relaydto.TypeSyncRequest, nil)
	sync := decodeData[relaydto.GameStatePayload](t, ch.expect(t, relaydto.TypeSyncResponse))
	assert.Nil(t, sync.GameState)

	_ = ch.Close("")
	waitDone(t, done)
}

type panicChannel struct{ *fakeChannel }

func (p panicChannel) Receive(context.Context) (relaydto.Envelope, error) { panic("decoder exploded") }

func TestPanicIsContained(t *testing.T) {
	f := newFixture(t)
	ch := panicChannel{newFakeChannel()}
	err := f.disp.Serve(context.Background(), f.code, "alice", ch)
	require.Error(t, err)
	assert.True(t, ch.isClosed())
	assert.Equal(t, 0, f.hub.LiveCount(f.code))
}
