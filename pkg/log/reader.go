package log

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter specifies criteria for selecting capture events.
// Zero-valued fields match every event.
type Filter struct {
	ConnectionID string
	Direction    *Direction
	Layer        *Layer
	Category     *Category
	TimeStart    *time.Time
	TimeEnd      *time.Time

	// DeviceID matches the frame or subject device.
	DeviceID string

	// LocalDevice matches the capturing endpoint.
	LocalDevice string

	// ServiceIndex matches packet events addressed to one service slot.
	ServiceIndex *uint8

	// Entity matches state change events of one kind.
	Entity *StateEntity
}

// Matches reports whether the event satisfies every criterion.
func (f *Filter) Matches(event Event) bool {
	if f.ConnectionID != "" && event.ConnectionID != f.ConnectionID {
		return false
	}
	if f.Direction != nil && event.Direction != *f.Direction {
		return false
	}
	if f.Layer != nil && event.Layer != *f.Layer {
		return false
	}
	if f.Category != nil && event.Category != *f.Category {
		return false
	}
	if f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart) {
		return false
	}
	if f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd) {
		return false
	}
	if f.DeviceID != "" && event.DeviceID != f.DeviceID {
		return false
	}
	if f.LocalDevice != "" && event.LocalDevice != f.LocalDevice {
		return false
	}
	if f.ServiceIndex != nil && (event.Packet == nil || event.Packet.ServiceIndex != *f.ServiceIndex) {
		return false
	}
	if f.Entity != nil && (event.StateChange == nil || event.StateChange.Entity != *f.Entity) {
		return false
	}
	return true
}

// Reader streams events from a capture file.
type Reader struct {
	file    *os.File
	decoder *cbor.Decoder
	filter  Filter

	header    Header
	hasHeader bool
	pending   *Event
}

// NewReader creates a Reader that returns every event of the file.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader creates a Reader that returns events matching filter.
// Files without a header are read as plain event sequences.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := &Reader{file: f, decoder: newDecoder(f), filter: filter}
	if err := r.readHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) readHeader() error {
	var raw cbor.RawMessage
	if err := r.decoder.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	h, ok, err := decodeHeader(raw)
	if err != nil {
		return err
	}
	if ok {
		r.header, r.hasHeader = h, true
		return nil
	}
	ev, err := DecodeEvent(raw)
	if err != nil {
		return err
	}
	r.pending = &ev
	return nil
}

// Header returns the capture header, if the file has one.
func (r *Reader) Header() (Header, bool) {
	return r.header, r.hasHeader
}

// Next returns the next matching event, or io.EOF at the end of the file.
func (r *Reader) Next() (Event, error) {
	if ev := r.pending; ev != nil {
		r.pending = nil
		if r.filter.Matches(*ev) {
			return *ev, nil
		}
	}
	for {
		var event Event
		if err := r.decoder.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				return Event{}, io.EOF
			}
			return Event{}, err
		}
		if r.filter.Matches(event) {
			return event, nil
		}
	}
}

// ReadAll returns every remaining matching event.
func (r *Reader) ReadAll() ([]Event, error) {
	var events []Event
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
