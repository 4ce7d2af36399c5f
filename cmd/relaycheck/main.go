package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/park285/cheese-relay/internal/relayclient"
	"github.com/park285/cheese-relay/pkg/relaydto"
)

// relaycheck plays a two-move game against a running relay and exits non-zero
// when any step misbehaves.
func main() {
	baseURL := os.Getenv("RELAY_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	keep := os.Getenv("RELAY_KEEP_ROOM") != ""

	client := relayclient.NewClient(baseURL, relayclient.WithTimeout(8*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	h, err := client.Health(ctx)
	if err != nil {
		log.Fatalf("/health error: %v", err)
	}
	active := 0
	if h.ActiveRooms != nil {
		active = *h.ActiveRooms
	}
	log.Printf("/health ok: status=%s rooms=%d", h.Status, active)

	created, err := client.CreateRoom(ctx, "")
	if err != nil {
		log.Fatalf("create error: %v", err)
	}
	joined, err := client.JoinRoom(ctx, created.RoomID, "")
	if err != nil {
		log.Fatalf("join error: %v", err)
	}
	log.Printf("room %s: white=%s black=%s", created.RoomID, created.PlayerID, joined.PlayerID)

	white, whiteIn := connect(ctx, client, created.RoomID, created.PlayerID, "white")
	defer closeQuietly(white)
	await(ctx, whiteIn, relaydto.TypeConnected)

	black, blackIn := connect(ctx, client, created.RoomID, joined.PlayerID, "black")
	defer closeQuietly(black)
	await(ctx, blackIn, relaydto.TypeConnected)
	await(ctx, blackIn, relaydto.TypeGameStart)
	await(ctx, whiteIn, relaydto.TypeGameStart)

	if err := white.Move(ctx, "e2", "e4", "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"); err != nil {
		log.Fatalf("move error: %v", err)
	}
	await(ctx, blackIn, relaydto.TypeMove)
	if err := black.Move(ctx, "e7", "e5", "rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w KQkq - 0 2"); err != nil {
		log.Fatalf("move error: %v", err)
	}
	await(ctx, whiteIn, relaydto.TypeMove)

	if err := black.Resign(ctx); err != nil {
		log.Fatalf("resign error: %v", err)
	}
	over := await(ctx, whiteIn, relaydto.TypeGameOver)
	fmt.Printf("game_over: %s\n", over.Data)

	info, err := client.RoomInfo(ctx, created.RoomID)
	if err != nil {
		log.Fatalf("info error: %v", err)
	}
	log.Printf("room %s status=%s players=%d", info.RoomID, info.Status, info.PlayerCount)

	// archive writes are asynchronous
	time.Sleep(500 * time.Millisecond)
	hist, err := client.History(ctx, created.RoomID, 1)
	if err != nil {
		log.Printf("history error: %v", err)
	} else if len(hist.Games) > 0 {
		fmt.Println(hist.Games[0].PGN)
	}

	if !keep {
		if err := client.DeleteRoom(ctx, created.RoomID); err != nil {
			log.Printf("delete error: %v", err)
		}
	}
	log.Println("relaycheck ok")
}

func connect(ctx context.Context, c *relayclient.Client, code, pid, label string) (*relayclient.Session, <-chan relaydto.Envelope) {
	in := make(chan relaydto.Envelope, 16)
	s, err := c.Connect(ctx, code, pid,
		relayclient.WithReconnect(0, 0),
		relayclient.WithMessageCallback(func(env relaydto.Envelope) { in <- env }),
		relayclient.WithStateCallback(func(st relayclient.State) { log.Printf("%s ws state: %s", label, st) }),
	)
	if err != nil {
		log.Fatalf("%s ws connect error: %v", label, err)
	}
	return s, in
}

// await skips unrelated frames until typ arrives.
func await(ctx context.Context, in <-chan relaydto.Envelope, typ string) relaydto.Envelope {
	for {
		select {
		case <-ctx.Done():
			log.Fatalf("timed out waiting for %s", typ)
		case env := <-in:
			if env.Type == typ {
				return env
			}
		}
	}
}

func closeQuietly(s *relayclient.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = s.Close(ctx)
}
