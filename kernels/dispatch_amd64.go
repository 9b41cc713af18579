//go:build amd64

package kernels

import (
	"math"
	"unsafe"

	"github.com/brindleforge/jitgraph/core"
)

// useFastPath gives AMD64 direct unsafe-pointer element access instead
// of the portable encoding/binary path in dispatch_fallback.go.
const useFastPath = true

func readElem(buf []byte, typ core.Type, i int) float64 {
	switch typ {
	case core.Int8:
		return float64(*(*int8)(elemPtr(buf, i, 1)))
	case core.UInt8, core.Bool:
		return float64(*(*uint8)(elemPtr(buf, i, 1)))
	case core.Int16:
		return float64(*(*int16)(elemPtr(buf, i, 2)))
	case core.UInt16:
		return float64(*(*uint16)(elemPtr(buf, i, 2)))
	case core.Int32:
		return float64(*(*int32)(elemPtr(buf, i, 4)))
	case core.UInt32:
		return float64(*(*uint32)(elemPtr(buf, i, 4)))
	case core.Int64:
		return float64(*(*int64)(elemPtr(buf, i, 8)))
	case core.UInt64, core.Ptr:
		return float64(*(*uint64)(elemPtr(buf, i, 8)))
	case core.Float32:
		return float64(*(*float32)(elemPtr(buf, i, 4)))
	case core.Float64:
		return *(*float64)(elemPtr(buf, i, 8))
	case core.Float16:
		return float16ToFloat64(*(*uint16)(elemPtr(buf, i, 2)))
	default:
		return 0
	}
}

func writeElem(buf []byte, typ core.Type, i int, v float64) {
	switch typ {
	case core.Int8:
		*(*int8)(elemPtr(buf, i, 1)) = int8(v)
	case core.UInt8, core.Bool:
		*(*uint8)(elemPtr(buf, i, 1)) = uint8(v)
	case core.Int16:
		*(*int16)(elemPtr(buf, i, 2)) = int16(v)
	case core.UInt16:
		*(*uint16)(elemPtr(buf, i, 2)) = uint16(v)
	case core.Int32:
		*(*int32)(elemPtr(buf, i, 4)) = int32(v)
	case core.UInt32:
		*(*uint32)(elemPtr(buf, i, 4)) = uint32(v)
	case core.Int64:
		*(*int64)(elemPtr(buf, i, 8)) = int64(v)
	case core.UInt64, core.Ptr:
		*(*uint64)(elemPtr(buf, i, 8)) = uint64(v)
	case core.Float32:
		*(*float32)(elemPtr(buf, i, 4)) = float32(v)
	case core.Float64:
		*(*float64)(elemPtr(buf, i, 8)) = v
	case core.Float16:
		*(*uint16)(elemPtr(buf, i, 2)) = float64ToFloat16(v)
	}
}

func elemPtr(buf []byte, i, width int) unsafe.Pointer {
	return unsafe.Pointer(&buf[i*width])
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
