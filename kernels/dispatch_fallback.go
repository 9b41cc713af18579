//go:build !amd64

package kernels

import (
	"encoding/binary"
	"math"

	"github.com/brindleforge/jitgraph/core"
)

// useFastPath is false on this build: portable byte-order decoding
// instead of unsafe pointer casts, for architectures that don't
// guarantee unaligned-access safety.
const useFastPath = false

func readElem(buf []byte, typ core.Type, i int) float64 {
	w := typ.ByteSize()
	off := i * w
	switch typ {
	case core.Int8:
		return float64(int8(buf[off]))
	case core.UInt8, core.Bool:
		return float64(buf[off])
	case core.Int16:
		return float64(int16(binary.LittleEndian.Uint16(buf[off:])))
	case core.UInt16:
		return float64(binary.LittleEndian.Uint16(buf[off:]))
	case core.Int32:
		return float64(int32(binary.LittleEndian.Uint32(buf[off:])))
	case core.UInt32:
		return float64(binary.LittleEndian.Uint32(buf[off:]))
	case core.Int64:
		return float64(int64(binary.LittleEndian.Uint64(buf[off:])))
	case core.UInt64, core.Ptr:
		return float64(binary.LittleEndian.Uint64(buf[off:]))
	case core.Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[off:])))
	case core.Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(buf[off:]))
	case core.Float16:
		return float16ToFloat64(binary.LittleEndian.Uint16(buf[off:]))
	default:
		return 0
	}
}

func writeElem(buf []byte, typ core.Type, i int, v float64) {
	w := typ.ByteSize()
	off := i * w
	switch typ {
	case core.Int8:
		buf[off] = byte(int8(v))
	case core.UInt8, core.Bool:
		buf[off] = byte(uint8(v))
	case core.Int16:
		binary.LittleEndian.PutUint16(buf[off:], uint16(int16(v)))
	case core.UInt16:
		binary.LittleEndian.PutUint16(buf[off:], uint16(v))
	case core.Int32:
		binary.LittleEndian.PutUint32(buf[off:], uint32(int32(v)))
	case core.UInt32:
		binary.LittleEndian.PutUint32(buf[off:], uint32(v))
	case core.Int64:
		binary.LittleEndian.PutUint64(buf[off:], uint64(int64(v)))
	case core.UInt64, core.Ptr:
		binary.LittleEndian.PutUint64(buf[off:], uint64(v))
	case core.Float32:
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(v)))
	case core.Float64:
		binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(v))
	case core.Float16:
		binary.LittleEndian.PutUint16(buf[off:], float64ToFloat16(v))
	}
}

func float16ToFloat64(h uint16) float64 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h) & 0x3ff
	var f32 uint32
	switch exp {
	case 0:
		f32 = sign << 31
	case 0x1f:
		f32 = sign<<31 | 0xff<<23 | frac<<13
	default:
		f32 = sign<<31 | (exp+112)<<23 | frac<<13
	}
	return float64(math.Float32frombits(f32))
}

func float64ToFloat16(v float64) uint16 {
	f32 := math.Float32bits(float32(v))
	sign := uint16(f32>>16) & 0x8000
	exp := int32(f32>>23&0xff) - 127 + 15
	frac := f32 & 0x7fffff
	switch {
	case exp <= 0:
		return sign
	case exp >= 0x1f:
		return sign | 0x7c00
	default:
		return sign | uint16(exp)<<10 | uint16(frac>>13)
	}
}
