package transport_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wirebus/wirebus-go/pkg/log"
	"github.com/wirebus/wirebus-go/pkg/transport"
)

func startHub(t *testing.T, capture log.Logger) *transport.Hub {
	t.Helper()
	hub := transport.NewHub(transport.HubConfig{Address: "127.0.0.1:0", ProtocolLogger: capture})
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	t.Cleanup(func() { hub.Stop() })
	return hub
}

func startClient(t *testing.T, hub *transport.Hub, onState func(old, new transport.ClientState)) *transport.Client {
	t.Helper()
	c := transport.NewClient(transport.ClientConfig{
		Address:       hub.Addr().String(),
		Backoff:       transport.BackoffConfig{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond},
		OnStateChange: onState,
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start client: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitConnected(ctx); err != nil {
		t.Fatalf("client did not connect: %v", err)
	}
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubRelaysBetweenClients(t *testing.T) {
	capture := log.NewMemoryLogger(0)
	hub := startHub(t, capture)
	a := startClient(t, hub, nil)
	b := startClient(t, hub, nil)
	c := startClient(t, hub, nil)
	waitFor(t, "three participants", func() bool { return hub.ConnectionCount() == 3 })

	var mu sync.Mutex
	got := map[string][][]byte{}
	record := func(name string) transport.Receiver {
		return func(frame []byte) {
			mu.Lock()
			got[name] = append(got[name], frame)
			mu.Unlock()
		}
	}
	a.SetReceiver(record("a"))
	b.SetReceiver(record("b"))
	c.SetReceiver(record("c"))

	if err := a.Send(context.Background(), []byte{0xca, 0xfe}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	waitFor(t, "relay to b and c", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got["b"]) == 1 && len(got["c"]) == 1
	})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got["a"]) != 0 {
		t.Errorf("sender received its own frame")
	}
	if string(got["b"][0]) != "\xca\xfe" {
		t.Errorf("b got %x", got["b"][0])
	}
	if hub.Relayed() != 1 {
		t.Errorf("Relayed() = %d, want 1", hub.Relayed())
	}

	entity := log.StateEntityConnection
	if n := len(capture.Events(log.Filter{Entity: &entity})); n != 3 {
		t.Errorf("captured %d connection events, want 3", n)
	}
}

func TestClientReconnectsAfterHubRestart(t *testing.T) {
	hub := transport.NewHub(transport.HubConfig{Address: "127.0.0.1:0"})
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	addr := hub.Addr().String()

	var mu sync.Mutex
	var states []transport.ClientState
	c := transport.NewClient(transport.ClientConfig{
		Address: addr,
		Backoff: transport.BackoffConfig{Initial: 10 * time.Millisecond, Max: 20 * time.Millisecond},
		OnStateChange: func(_, s transport.ClientState) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Close()
	waitFor(t, "first connect", c.Connected)

	hub.Stop()
	waitFor(t, "disconnect", func() bool { return !c.Connected() })
	if err := c.Send(context.Background(), []byte{1}); err != transport.ErrNotConnected {
		t.Errorf("Send while down = %v, want ErrNotConnected", err)
	}

	hub2 := transport.NewHub(transport.HubConfig{Address: addr})
	if err := hub2.Start(context.Background()); err != nil {
		t.Skipf("could not rebind %s: %v", addr, err)
	}
	defer hub2.Stop()
	waitFor(t, "reconnect", c.Connected)

	c.Close()
	if c.State() != transport.ClientClosed {
		t.Errorf("State() = %v, want CLOSED", c.State())
	}
	if err := c.Send(context.Background(), []byte{1}); err != transport.ErrClosed {
		t.Errorf("Send after close = %v, want ErrClosed", err)
	}

	mu.Lock()
	defer mu.Unlock()
	connects := 0
	for _, s := range states {
		if s == transport.ClientConnected {
			connects++
		}
	}
	if connects != 2 {
		t.Errorf("connected %d times, want 2 (states %v)", connects, states)
	}
}
