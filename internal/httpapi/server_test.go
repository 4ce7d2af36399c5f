package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/park285/cheese-relay/internal/archive"
	"github.com/park285/cheese-relay/internal/relay"
	"github.com/park285/cheese-relay/internal/room"
	"github.com/park285/cheese-relay/internal/roomcode"
	"github.com/park285/cheese-relay/pkg/relaydto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type testEnv struct {
	srv   *httptest.Server
	rooms *room.Registry
	disp  *relay.Dispatcher
	store *archive.MemoryStore
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	rooms := room.NewRegistry(room.WithCodeGenerator(roomcode.New(roomcode.WithSource(func(int) int { return 4821 }))))
	hub := relay.NewHub(rooms, relay.WithSendTimeout(time.Second))
	store := archive.NewMemoryStore()
	disp := relay.NewDispatcher(rooms, hub, relay.WithRecorder(store))
	n := 0
	base := []Option{WithPlayerIDs(func() string { n++; return "gen-" + string(rune('0'+n)) })}
	srv := httptest.NewServer(New(Deps{
		Rooms:      rooms,
		Hub:        hub,
		Dispatcher: disp,
		History:    store,
	}, append(base, opts...)...).Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, rooms: rooms, disp: disp, store: store}
}

func (e *testEnv) do(t *testing.T, method, path string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (e *testEnv) dial(t *testing.T, code, pid string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	u := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws/" + code
	if pid != "" {
		u += "?player_id=" + pid
	}
	c, _, err := websocket.Dial(ctx, u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func expectFrame(t *testing.T, c *websocket.Conn, typ string) relaydto.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var env relaydto.Envelope
	require.NoError(t, wsjson.Read(ctx, c, &env))
	require.Equal(t, typ, env.Type, "data=%s", env.Data)
	return env
}

func decodeFrame[T any](t *testing.T, env relaydto.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func closeStatus(t *testing.T, c *websocket.Conn) websocket.StatusCode {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := c.Read(ctx)
	require.Error(t, err)
	return websocket.CloseStatus(err)
}

func TestRootAndHealth(t *testing.T) {
	e := newTestEnv(t)

	var root relaydto.StatusResponse
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/", &root))
	assert.Equal(t, "online", root.Status)
	assert.NotEmpty(t, root.Message)

	e.rooms.Create("alice")
	var health relaydto.StatusResponse
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/health", &health))
	assert.Equal(t, "healthy", health.Status)
	require.NotNil(t, health.ActiveRooms)
	assert.Equal(t, 1, *health.ActiveRooms)

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/nope", nil))
}

func TestRoomLifecycleOverREST(t *testing.T) {
	e := newTestEnv(t)

	var created relaydto.CreateRoomResponse
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/room/create?player_id=alice", &created))
	assert.Equal(t, "4821", created.RoomID)
	assert.Equal(t, "alice", created.PlayerID)

	var info relaydto.RoomInfoResponse
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/room/4821", &info))
	assert.Equal(t, 1, info.PlayerCount)
	assert.Equal(t, "waiting", info.Status)
	assert.Nil(t, info.GameState)

	var joined relaydto.JoinRoomResponse
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/room/join/4821", &joined))
	assert.True(t, joined.Success)
	assert.Equal(t, "gen-1", joined.PlayerID)
	assert.Equal(t, "black", joined.Color)

	var again relaydto.JoinRoomResponse
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/room/join/4821?player_id=alice", &again))
	assert.Equal(t, "white", again.Color)
	assert.Equal(t, room.ReasonAlready, again.Message)

	var full relaydto.ErrorResponse
	assert.Equal(t, http.StatusConflict, e.do(t, http.MethodPost, "/room/join/4821?player_id=carol", &full))
	assert.Equal(t, relaydto.CodeFull, full.Code)

	var missing relaydto.ErrorResponse
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPost, "/room/join/9999?player_id=carol", &missing))
	assert.Equal(t, relaydto.CodeNotFound, missing.Code)

	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/room/4821", &info))
	assert.Equal(t, 2, info.PlayerCount)
	assert.Equal(t, "active", info.Status)
	require.NotNil(t, info.GameState)
	assert.Equal(t, room.StartFEN, info.GameState.FEN)
	assert.Equal(t, "white", info.GameState.CurrentTurn)

	var deleted relaydto.MessageResponse
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodDelete, "/room/4821", &deleted))
	assert.NotEmpty(t, deleted.Message)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, "/room/4821", nil))
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/room/4821", nil))
}

func TestWebSocketAdmissionCloseCodes(t *testing.T) {
	e := newTestEnv(t)
	e.rooms.Create("alice")

	assert.Equal(t, websocket.StatusCode(4000), closeStatus(t, e.dial(t, "4821", "")))
	assert.Equal(t, websocket.StatusCode(4004), closeStatus(t, e.dial(t, "9999", "alice")))
	assert.Equal(t, websocket.StatusCode(4003), closeStatus(t, e.dial(t, "4821", "mallory")))
}

func TestWebSocketGameEndToEnd(t *testing.T) {
	e := newTestEnv(t)
	s := e.rooms.Create("alice")
	_, _, err := e.rooms.Join(s.Code, "bob")
	require.NoError(t, err)

	a := e.dial(t, s.Code, "alice")
	hello := decodeFrame[relaydto.ConnectedPayload](t, expectFrame(t, a, relaydto.TypeConnected))
	assert.Equal(t, "white", hello.Color)
	assert.Equal(t, "4821", hello.RoomID)

	b := e.dial(t, s.Code, "bob")
	expectFrame(t, b, relaydto.TypeConnected)
	expectFrame(t, b, relaydto.TypeGameStart)
	joined := decodeFrame[relaydto.PlayerPresencePayload](t, expectFrame(t, a, relaydto.TypePlayerConnected))
	assert.Equal(t, "bob", joined.PlayerID)
	expectFrame(t, a, relaydto.TypeGameStart)

	ctx := context.Background()
	require.NoError(t, wsjson.Write(ctx, a, relaydto.Envelope{
		Type: relaydto.TypeMove,
		Data: json.RawMessage(`{"from":"e2","to":"e4","fen":"rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"}`),
	}))
	mv := decodeFrame[relaydto.MoveEventPayload](t, expectFrame(t, b, relaydto.TypeMove))
	assert.Equal(t, "e2", mv.From)
	assert.Equal(t, "white", mv.Player)

	require.NoError(t, wsjson.Write(ctx, b, relaydto.Envelope{Type: relaydto.TypeChat, Data: json.RawMessage(`{"message":"gl"}`)}))
	chat := decodeFrame[relaydto.ChatEventPayload](t, expectFrame(t, a, relaydto.TypeChat))
	assert.Equal(t, "black", chat.From)
	assert.Equal(t, "gl", chat.Message)

	require.NoError(t, wsjson.Write(ctx, b, relaydto.Envelope{Type: relaydto.TypeResign}))
	for _, c := range []*websocket.Conn{a, b} {
		over := decodeFrame[relaydto.GameOverEventPayload](t, expectFrame(t, c, relaydto.TypeGameOver))
		require.NotNil(t, over.Winner)
		assert.Equal(t, "white", *over.Winner)
	}

	e.disp.Wait()
	var hist relaydto.HistoryResponse
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/room/4821/history", &hist))
	require.Len(t, hist.Games, 1)
	assert.Equal(t, []string{"e2e4"}, hist.Games[0].Moves)
	assert.Contains(t, hist.Games[0].PGN, "1. e4 1-0")

	var bad relaydto.ErrorResponse
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/room/4821/history?limit=zero", &bad))
	assert.Equal(t, relaydto.CodeBadRequest, bad.Code)
}

func TestDeleteClosesLiveSockets(t *testing.T) {
	e := newTestEnv(t)
	e.rooms.Create("alice")
	a := e.dial(t, "4821", "alice")
	expectFrame(t, a, relaydto.TypeConnected)

	require.Equal(t, http.StatusOK, e.do(t, http.MethodDelete, "/room/4821", nil))
	assert.Equal(t, websocket.StatusNormalClosure, closeStatus(t, a))
}

func TestBoardImage(t *testing.T) {
	e := newTestEnv(t)
	s := e.rooms.Create("alice")

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/room/4821/board.png", nil))
	_, _, err := e.rooms.Join(s.Code, "bob")
	require.NoError(t, err)

	resp, err := http.Get(e.srv.URL + "/room/4821/board.png?perspective=black")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	_, err = png.Decode(&buf)
	assert.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/room/4821/board.png?perspective=green", nil))

	e.rooms.ApplyMove(s.Code, "not a fen", "e2e4")
	assert.Equal(t, http.StatusUnprocessableEntity, e.do(t, http.MethodGet, "/room/4821/board.png", nil))
}

func TestCORS(t *testing.T) {
	e := newTestEnv(t, WithAllowedOrigins([]string{"https://play.example.com"}))

	req, err := http.NewRequest(http.MethodOptions, e.srv.URL+"/room/create", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://play.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://play.example.com", resp.Header.Get("Access-Control-Allow-Origin"))

	req, err = http.NewRequest(http.MethodGet, e.srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example.com")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestOriginPatterns(t *testing.T) {
	assert.Equal(t, []string{"*"}, originPatterns([]string{"https://a.example", "*"}))
	assert.Equal(t, []string{"a.example:8080", "b.example"}, originPatterns([]string{"http://a.example:8080", " b.example ", ""}))
}

func (e *testEnv) rawGet(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestHistoryHidesPlayerIDsAndIsScopedToSession(t *testing.T) {
	e := newTestEnv(t)
	s := e.rooms.Create("alice-secret")
	_, _, err := e.rooms.Join(s.Code, "bob-secret")
	require.NoError(t, err)

	a := e.dial(t, s.Code, "alice-secret")
	expectFrame(t, a, relaydto.TypeConnected)
	b := e.dial(t, s.Code, "bob-secret")
	expectFrame(t, b, relaydto.TypeConnected)
	expectFrame(t, b, relaydto.TypeGameStart)
	expectFrame(t, a, relaydto.TypePlayerConnected)
	expectFrame(t, a, relaydto.TypeGameStart)

	ctx := context.Background()
	require.NoError(t, wsjson.Write(ctx, a, relaydto.Envelope{Type: relaydto.TypeDrawOffer}))
	expectFrame(t, b, relaydto.TypeDrawOffer)
	require.NoError(t, wsjson.Write(ctx, b, relaydto.Envelope{Type: relaydto.TypeDrawAccept}))
	expectFrame(t, a, relaydto.TypeGameOver)
	expectFrame(t, b, relaydto.TypeGameOver)
	e.disp.Wait()

	status, body := e.rawGet(t, "/room/4821/history")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"draw by agreement"`)
	assert.NotContains(t, body, "alice-secret")
	assert.NotContains(t, body, "bob-secret")

	require.Equal(t, http.StatusOK, e.do(t, http.MethodDelete, "/room/4821", nil))
	again := e.rooms.Create("carol")
	require.Equal(t, "4821", again.Code)
	require.NotEqual(t, s.ID, again.ID)

	var hist relaydto.HistoryResponse
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/room/4821/history", &hist))
	assert.Empty(t, hist.Games)

	// the earlier players hold no seat in the new room
	assert.Equal(t, websocket.StatusCode(4003), closeStatus(t, e.dial(t, "4821", "alice-secret")))
}

func TestMalformedCodesAreRejected(t *testing.T) {
	e := newTestEnv(t)
	e.rooms.Create("alice")

	for _, path := range []string{"/room/48", "/room/abcd", "/room/48210/history", "/room/x/board.png"} {
		var er relaydto.ErrorResponse
		assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, path, &er), path)
		assert.Equal(t, relaydto.CodeNotFound, er.Code, path)
	}
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPost, "/room/join/12345?player_id=bob", nil))
	assert.Equal(t, websocket.StatusCode(4004), closeStatus(t, e.dial(t, "48a1", "alice")))
}

func TestPlayerRoomLookup(t *testing.T) {
	e := newTestEnv(t)
	e.rooms.Create("alice")

	var info relaydto.RoomInfoResponse
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/player/alice/room", &info))
	assert.Equal(t, "4821", info.RoomID)
	assert.Equal(t, 1, info.PlayerCount)

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/player/nobody/room", nil))
}
