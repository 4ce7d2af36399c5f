package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/park285/cheese-relay/pkg/relaydto"
)

type frame struct {
	env relaydto.Envelope
	err error
}

// fakeChannel is an in-memory Channel. Outbound frames land in out.
type fakeChannel struct {
	in     chan frame
	out    chan relaydto.Envelope
	closed chan struct{}

	once    sync.Once
	mu      sync.Mutex
	reason  string
	sendErr error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		in:     make(chan frame, 16),
		out:    make(chan relaydto.Envelope, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeChannel) Send(ctx context.Context, env relaydto.Envelope) error {
	f.mu.Lock()
	err := f.sendErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case <-f.closed:
		return ErrChannelClosed
	default:
	}
	select {
	case f.out <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeChannel) Receive(ctx context.Context) (relaydto.Envelope, error) {
	select {
	case fr := <-f.in:
		return fr.env, fr.err
	case <-f.closed:
		return relaydto.Envelope{}, ErrChannelClosed
	case <-ctx.Done():
		return relaydto.Envelope{}, ctx.Err()
	}
}

func (f *fakeChannel) Close(reason string) error {
	f.once.Do(func() {
		f.mu.Lock()
		f.reason = reason
		f.mu.Unlock()
		close(f.closed)
	})
	return nil
}

func (f *fakeChannel) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeChannel) push(t *testing.T, typ string, data any) {
	t.Helper()
	env, err := relaydto.NewEnvelope(typ, data)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	f.in <- frame{env: env}
}

func (f *fakeChannel) pushErr(err error) { f.in <- frame{err: err} }

// expect reads the next outbound frame and checks its type.
func (f *fakeChannel) expect(t *testing.T, typ string) relaydto.Envelope {
	t.Helper()
	select {
	case env := <-f.out:
		if env.Type != typ {
			t.Fatalf("expected %q frame, got %q (%s)", typ, env.Type, env.Data)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q frame", typ)
	}
	return relaydto.Envelope{}
}

// expectNone asserts nothing else arrives within a short window.
func (f *fakeChannel) expectNone(t *testing.T) {
	t.Helper()
	select {
	case env := <-f.out:
		t.Fatalf("unexpected %q frame (%s)", env.Type, env.Data)
	case <-time.After(50 * time.Millisecond):
	}
}

func decodeData[T any](t *testing.T, env relaydto.Envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode %s data: %v", env.Type, err)
	}
	return v
}

type presenceLog struct {
	mu    sync.Mutex
	state map[string]bool
}

func (p *presenceLog) SetConnected(code, playerID string, live bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == nil {
		p.state = map[string]bool{}
	}
	p.state[code+"/"+playerID] = live
}

func (p *presenceLog) live(code, playerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state[code+"/"+playerID]
}
