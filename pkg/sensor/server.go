package sensor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wirebus/wirebus-go/pkg/bus"
	"github.com/wirebus/wirebus-go/pkg/event"
	"github.com/wirebus/wirebus-go/pkg/log"
	"github.com/wirebus/wirebus-go/pkg/task"
	"github.com/wirebus/wirebus-go/pkg/wire"
)

// ServerConfig configures a sensor service.
type ServerConfig struct {
	// Class is the announced service class.
	Class uint32

	// Serialize returns the current reading in wire form, or nil when no
	// reading is available. It is called from the streaming task and from
	// the bus receive goroutine.
	Serialize func() []byte

	// StreamingInterval is the initial push period. Zero uses
	// wire.DefaultStreamingInterval.
	StreamingInterval time.Duration

	// PreferredInterval is served read-only when nonzero.
	PreferredInterval time.Duration
}

// Server is a service whose reading can be streamed.
type Server struct {
	*bus.Server

	serialize func() []byte
	interval  *bus.Register

	mu        sync.Mutex
	remaining uint8
	stream    *task.Task
	gen       uint64

	started *event.Topic[uint8]
	stopped *event.Topic[struct{}]
}

// NewServer creates a sensor service. Add it to a bus with AddService.
func NewServer(cfg ServerConfig) *Server {
	interval := cfg.StreamingInterval
	if interval <= 0 {
		interval = time.Duration(wire.DefaultStreamingInterval) * time.Millisecond
	}

	s := &Server{
		Server:    bus.NewServer(cfg.Class),
		serialize: cfg.Serialize,
		started:   event.NewTopic[uint8](event.StreamingStart),
		stopped:   event.NewTopic[struct{}](event.StreamingStop),
	}
	s.HandleRegFunc(wire.RegReading, s.reading)
	s.HandleRegFunc(wire.RegStreamingSamples, func() []byte { return []byte{s.Remaining()} })
	s.interval = s.HandleRegU32(wire.RegStreamingInterval, uint32(interval/time.Millisecond))
	if cfg.PreferredInterval > 0 {
		ms := uint32(cfg.PreferredInterval / time.Millisecond)
		s.HandleRegFunc(wire.RegStreamingPreferredInterval, func() []byte {
			var w wire.PayloadWriter
			return w.U32(ms).Payload()
		})
	}
	return s
}

// OnStreamingStart fires with the sample count when a streaming task starts.
func (s *Server) OnStreamingStart() *event.Topic[uint8] { return s.started }

// OnStreamingStop fires when a streaming task has exited.
func (s *Server) OnStreamingStop() *event.Topic[struct{}] { return s.stopped }

// HandlePacket intercepts writes of StreamingSamples, which start and stop
// the streaming task, and passes everything else to the register layer.
func (s *Server) HandlePacket(pkt *wire.Packet) {
	if pkt.ServiceCommand == wire.CmdSetReg|wire.RegStreamingSamples {
		if len(pkt.Payload) >= 1 {
			s.SetStreaming(pkt.Payload[0])
		}
		return
	}
	s.Server.HandlePacket(pkt)
}

// Remaining returns the number of pushes left; wire.StreamingContinuous
// means unbounded.
func (s *Server) Remaining() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// Streaming reports whether a streaming task is running.
func (s *Server) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

// Interval returns the current push period.
func (s *Server) Interval() time.Duration {
	ms := s.interval.U32()
	if ms == 0 {
		ms = wire.DefaultStreamingInterval
	}
	return time.Duration(ms) * time.Millisecond
}

// SetInterval changes the push period. A running task picks it up after
// its current sleep.
func (s *Server) SetInterval(d time.Duration) {
	s.interval.SetU32(uint32(d / time.Millisecond))
}

// SetStreaming sets the number of pushes left. A nonzero value starts the
// streaming task, or updates the count of the running one; zero stops it.
func (s *Server) SetStreaming(samples uint8) {
	if samples == 0 {
		s.StopStreaming()
		return
	}

	s.mu.Lock()
	s.remaining = samples
	if s.stream != nil {
		s.mu.Unlock()
		return
	}
	b := s.Bus()
	if b == nil {
		s.remaining = 0
		s.mu.Unlock()
		return
	}
	s.gen++
	gen := s.gen
	s.stream = task.Go(b.Context(), func(ctx context.Context) error { return s.run(ctx, gen) })
	s.mu.Unlock()

	s.record("STREAMING", fmt.Sprintf("samples=%d interval=%s", samples, s.Interval()))
	s.started.Publish(samples)
}

// StopStreaming cancels the streaming task and returns once it has exited.
func (s *Server) StopStreaming() {
	s.mu.Lock()
	t := s.stream
	s.stream = nil
	s.remaining = 0
	s.gen++
	s.mu.Unlock()

	if t != nil {
		_ = t.Stop()
	}
}

func (s *Server) run(ctx context.Context, gen uint64) error {
	defer func() {
		s.record("STOPPED", "")
		s.stopped.Publish(struct{}{})
	}()

	for {
		s.mu.Lock()
		if s.gen != gen || s.remaining == 0 {
			if s.gen == gen {
				s.stream = nil
			}
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()

		s.push(ctx)
		if err := task.Sleep(ctx, s.Interval()); err != nil {
			s.mu.Lock()
			if s.gen == gen {
				s.stream = nil
				s.remaining = 0
			}
			s.mu.Unlock()
			return err
		}

		s.mu.Lock()
		if s.gen == gen && s.remaining != wire.StreamingContinuous && s.remaining > 0 {
			s.remaining--
		}
		s.mu.Unlock()
	}
}

func (s *Server) push(ctx context.Context) {
	b := s.Bus()
	if b == nil || !b.Connected() {
		return
	}
	v := s.reading()
	if v == nil {
		return
	}
	if err := s.SendReport(ctx, wire.CmdGetReg|wire.RegReading, v); err != nil {
		b.Logger().Debug("streaming push failed", "index", s.ServiceIndex(), "error", err)
	}
}

func (s *Server) reading() []byte {
	if s.serialize == nil {
		return nil
	}
	return s.serialize()
}

func (s *Server) record(state, reason string) {
	b := s.Bus()
	if b == nil {
		return
	}
	subject := fmt.Sprintf("%s/%d", wire.ServiceClassName(s.ServiceClass()), s.ServiceIndex())
	b.ProtocolLogger().Log(log.NewStateEvent(log.StateEntityStreaming, subject, "", state, reason))
}

var _ bus.Service = (*Server)(nil)
