package bus

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/wirebus/wirebus-go/pkg/wire"
)

// Register is one register of a hosted service. Values are stored in their
// wire encoding.
type Register struct {
	code uint16

	mu   sync.Mutex
	data []byte
	get  func() []byte
}

func newRegister(code uint16, initial []byte) *Register {
	return &Register{code: code, data: bytes.Clone(initial)}
}

// Code returns the register number.
func (r *Register) Code() uint16 { return r.code }

// Writable reports whether SET commands may change the register.
func (r *Register) Writable() bool {
	return r.get == nil && wire.RangeOf(r.code).Writable()
}

// Bytes returns the current encoded value.
func (r *Register) Bytes() []byte {
	if r.get != nil {
		return r.get()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return bytes.Clone(r.data)
}

// SetBytes stores v and reports whether the value changed.
func (r *Register) SetBytes(v []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bytes.Equal(r.data, v) {
		return false
	}
	r.data = bytes.Clone(v)
	return true
}

// U8 decodes the value as a byte; a short value reads as zero.
func (r *Register) U8() uint8 {
	b := r.Bytes()
	if len(b) < 1 {
		return 0
	}
	return b[0]
}

// SetU8 stores a byte value.
func (r *Register) SetU8(v uint8) bool {
	return r.SetBytes([]byte{v})
}

// U32 decodes the value as a little-endian uint32. Shorter values are
// zero-extended.
func (r *Register) U32() uint32 {
	var buf [4]byte
	copy(buf[:], r.Bytes())
	return binary.LittleEndian.Uint32(buf[:])
}

// SetU32 stores a little-endian uint32 value.
func (r *Register) SetU32(v uint32) bool {
	return r.SetBytes(binary.LittleEndian.AppendUint32(nil, v))
}

// Bool decodes the value as a boolean byte.
func (r *Register) Bool() bool {
	return r.U8() != 0
}

// SetBool stores a boolean as 0 or 1.
func (r *Register) SetBool(v bool) bool {
	if v {
		return r.SetU8(1)
	}
	return r.SetU8(0)
}
