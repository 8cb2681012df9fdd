package transport

import (
	"context"
	"sync"
	"testing"
	"time"
)

type frameSink struct {
	mu     sync.Mutex
	frames [][]byte
	notify chan struct{}
}

func newFrameSink() *frameSink {
	return &frameSink{notify: make(chan struct{}, 64)}
}

func (s *frameSink) receive(frame []byte) {
	s.mu.Lock()
	s.frames = append(s.frames, frame)
	s.mu.Unlock()
	s.notify <- struct{}{}
}

func (s *frameSink) wait(t *testing.T, n int) [][]byte {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		s.mu.Lock()
		if len(s.frames) >= n {
			out := append([][]byte(nil), s.frames...)
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		select {
		case <-s.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d frames", n)
		}
	}
}

func (s *frameSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func TestMediumBroadcastsToOthers(t *testing.T) {
	m := NewMedium()
	a, b, c := m.Attach(), m.Attach(), m.Attach()
	defer a.Close()
	defer b.Close()
	defer c.Close()

	sa, sb, sc := newFrameSink(), newFrameSink(), newFrameSink()
	a.SetReceiver(sa.receive)
	b.SetReceiver(sb.receive)
	c.SetReceiver(sc.receive)

	ctx := context.Background()
	for i := byte(0); i < 5; i++ {
		if err := a.Send(ctx, []byte{i}); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	for _, sink := range []*frameSink{sb, sc} {
		frames := sink.wait(t, 5)
		for i, f := range frames {
			if f[0] != byte(i) {
				t.Errorf("frame %d = %x, order not preserved", i, f)
			}
		}
	}
	if sa.count() != 0 {
		t.Errorf("sender received %d of its own frames", sa.count())
	}
}

func TestMediumDropFunc(t *testing.T) {
	m := NewMedium()
	a, b := m.Attach(), m.Attach()
	defer a.Close()
	defer b.Close()

	sb := newFrameSink()
	b.SetReceiver(sb.receive)

	m.SetDrop(func(frame []byte, from, to int) bool { return frame[0] == 0xee })
	a.Send(context.Background(), []byte{0xee})
	a.Send(context.Background(), []byte{0x01})

	frames := sb.wait(t, 1)
	if len(frames) != 1 || frames[0][0] != 0x01 {
		t.Errorf("frames = %x, want only the undropped frame", frames)
	}
}

func TestEndpointClose(t *testing.T) {
	m := NewMedium()
	a, b := m.Attach(), m.Attach()
	defer a.Close()

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if b.Connected() {
		t.Error("closed endpoint reports connected")
	}
	if m.Len() != 1 {
		t.Errorf("medium has %d endpoints, want 1", m.Len())
	}
	if err := b.Send(context.Background(), []byte{1}); err != ErrClosed {
		t.Errorf("Send after close = %v, want ErrClosed", err)
	}
	if err := a.Send(context.Background(), []byte{1}); err != nil {
		t.Errorf("Send to detached peer = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestEndpointSendCancelled(t *testing.T) {
	m := NewMedium()
	a := m.Attach()
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Send(ctx, []byte{1}); err != context.Canceled {
		t.Errorf("Send() = %v, want context.Canceled", err)
	}
}
