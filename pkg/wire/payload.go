package wire

import (
	"encoding/binary"
	"errors"
)

// ErrShortPayload is returned when a payload ends before a field.
var ErrShortPayload = errors.New("payload too short")

// PayloadWriter appends little-endian fields to a payload.
type PayloadWriter struct {
	buf []byte
}

// U8 appends a byte.
func (w *PayloadWriter) U8(v uint8) *PayloadWriter {
	w.buf = append(w.buf, v)
	return w
}

// U16 appends a little-endian uint16.
func (w *PayloadWriter) U16(v uint16) *PayloadWriter {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
	return w
}

// U32 appends a little-endian uint32.
func (w *PayloadWriter) U32(v uint32) *PayloadWriter {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
	return w
}

// I32 appends a little-endian int32.
func (w *PayloadWriter) I32(v int32) *PayloadWriter {
	return w.U32(uint32(v))
}

// DeviceID appends a device identifier.
func (w *PayloadWriter) DeviceID(id DeviceID) *PayloadWriter {
	w.buf = append(w.buf, id[:]...)
	return w
}

// Bytes appends raw bytes; used for a trailing string or blob.
func (w *PayloadWriter) Bytes(b []byte) *PayloadWriter {
	w.buf = append(w.buf, b...)
	return w
}

// Payload returns the accumulated payload.
func (w *PayloadWriter) Payload() []byte {
	return w.buf
}

// PayloadReader consumes little-endian fields from a payload. The first
// failed read sets Err; later reads return zero values.
type PayloadReader struct {
	buf []byte
	off int
	Err error
}

// NewPayloadReader returns a reader over b.
func NewPayloadReader(b []byte) *PayloadReader {
	return &PayloadReader{buf: b}
}

func (r *PayloadReader) take(n int) []byte {
	if r.Err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.Err = ErrShortPayload
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

// U8 reads a byte.
func (r *PayloadReader) U8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

// U16 reads a little-endian uint16.
func (r *PayloadReader) U16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

// U32 reads a little-endian uint32.
func (r *PayloadReader) U32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

// I32 reads a little-endian int32.
func (r *PayloadReader) I32() int32 {
	return int32(r.U32())
}

// DeviceID reads a device identifier.
func (r *PayloadReader) DeviceID() DeviceID {
	var id DeviceID
	if b := r.take(DeviceIDSize); b != nil {
		copy(id[:], b)
	}
	return id
}

// Rest returns the unread remainder.
func (r *PayloadReader) Rest() []byte {
	if r.Err != nil {
		return nil
	}
	b := r.buf[r.off:]
	r.off = len(r.buf)
	return b
}

// Remaining returns the number of unread bytes.
func (r *PayloadReader) Remaining() int {
	return len(r.buf) - r.off
}

// EncodeAnnounce builds the payload of an announce report: the flags word
// followed by one service class per non-control service.
func EncodeAnnounce(flags AnnounceFlags, classes []uint32) []byte {
	w := &PayloadWriter{buf: make([]byte, 0, 4+4*len(classes))}
	w.U32(uint32(flags))
	for _, c := range classes {
		w.U32(c)
	}
	return w.Payload()
}

// DecodeAnnounce splits an announce payload. Trailing bytes that do not
// form a whole word are ignored.
func DecodeAnnounce(payload []byte) (AnnounceFlags, []uint32) {
	if len(payload) < 4 {
		return 0, nil
	}
	flags := AnnounceFlags(binary.LittleEndian.Uint32(payload))
	n := (len(payload) - 4) / 4
	classes := make([]uint32, n)
	for i := range classes {
		classes[i] = binary.LittleEndian.Uint32(payload[4+4*i:])
	}
	return flags, classes
}
