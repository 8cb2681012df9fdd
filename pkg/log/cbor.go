package log

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// A capture file is a CBOR sequence: one Header followed by Events. A file
// appended to by several runs keeps the header of the first run.
const (
	CaptureMagic   = "wirebus-capture"
	CaptureVersion = 1
)

// ErrCaptureVersion is returned for a capture written by a newer format.
var ErrCaptureVersion = errors.New("unsupported capture format version")

// Header is the first record of a capture file. Its keys do not overlap
// with those of Event, so either can be tried on a raw record.
type Header struct {
	Magic   string    `cbor:"0,keyasint"`
	Version uint8     `cbor:"20,keyasint"`
	Created time.Time `cbor:"21,keyasint"`
}

// NewHeader returns the header of a capture started now.
func NewHeader() Header {
	return Header{Magic: CaptureMagic, Version: CaptureVersion, Created: time.Now()}
}

var (
	logEncMode cbor.EncMode
	logDecMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	if logEncMode, err = encOpts.EncMode(); err != nil {
		panic(fmt.Sprintf("capture encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
		MaxMapPairs: 64,
	}
	if logDecMode, err = decOpts.DecMode(); err != nil {
		panic(fmt.Sprintf("capture decoder mode: %v", err))
	}
}

// EncodeEvent encodes one capture event.
func EncodeEvent(event Event) ([]byte, error) {
	return logEncMode.Marshal(event)
}

// DecodeEvent decodes one capture event.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := logDecMode.Unmarshal(data, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// decodeHeader reports whether raw is a capture header.
func decodeHeader(raw cbor.RawMessage) (Header, bool, error) {
	var h Header
	if err := logDecMode.Unmarshal(raw, &h); err != nil || h.Magic != CaptureMagic {
		return Header{}, false, nil
	}
	if h.Version > CaptureVersion {
		return h, true, fmt.Errorf("%w: %d", ErrCaptureVersion, h.Version)
	}
	return h, true, nil
}

func newEncoder(w io.Writer) *cbor.Encoder {
	return logEncMode.NewEncoder(w)
}

func newDecoder(r io.Reader) *cbor.Decoder {
	return logDecMode.NewDecoder(r)
}
