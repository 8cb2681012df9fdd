package main

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/wirebus/wirebus-go/pkg/sensor"
	"github.com/wirebus/wirebus-go/pkg/task"
	"github.com/wirebus/wirebus-go/pkg/wire"
)

// SensorKind selects the simulated sensor.
type SensorKind string

const (
	KindThermometer SensorKind = "thermometer"
	KindHumidity    SensorKind = "humidity"
	KindButton      SensorKind = "button"
)

// simulator produces a slowly drifting reading for one sensor kind.
type simulator struct {
	kind  SensorKind
	class uint32
	base  float64
	swing float64

	mu    sync.Mutex
	value float64
	tick  int
}

func newSimulator(kind SensorKind) (*simulator, error) {
	switch kind {
	case KindThermometer:
		return &simulator{kind: kind, class: wire.ServiceClassThermometer, base: 21.5, swing: 2, value: 21.5}, nil
	case KindHumidity:
		return &simulator{kind: kind, class: wire.ServiceClassHumidity, base: 45, swing: 10, value: 45}, nil
	case KindButton:
		return &simulator{kind: kind, class: wire.ServiceClassButton}, nil
	}
	return nil, fmt.Errorf("unknown sensor type %q (thermometer, humidity, button)", kind)
}

// Serialize returns the current reading in the wire format of the kind:
// i22.10 for temperatures, u22.10 for humidity and a pressure byte for
// buttons.
func (s *simulator) Serialize() []byte {
	s.mu.Lock()
	v := s.value
	s.mu.Unlock()

	if s.kind == KindButton {
		return []byte{byte(v)}
	}
	return sensor.EncodeFixed(v, 10)
}

// Value returns the current simulated value.
func (s *simulator) Value() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

func (s *simulator) step() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick++

	if s.kind == KindButton {
		// Pressed for one step out of twenty.
		if s.tick%20 == 0 {
			s.value = 1
		} else {
			s.value = 0
		}
		return
	}
	wave := math.Sin(float64(s.tick) / 60 * math.Pi)
	noise := (rand.Float64() - 0.5) * s.swing / 10
	s.value = math.Round((s.base+wave*s.swing+noise)*100) / 100
}

// run advances the simulation until ctx is done.
func (s *simulator) run(ctx context.Context, period time.Duration) error {
	return task.Every(ctx, period, func(context.Context) error {
		s.step()
		return nil
	})
}
