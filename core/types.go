// Package core provides the fundamental primitives shared by every layer of
// jitgraph: the scalar type system, the backend tag, IR template
// substitution, and the variable node that the trace and evaluation layers
// build on top of.
package core

// Backend identifies the codegen/execution strategy a Variable or Kernel
// artifact targets.
type Backend uint8

const (
	CUDA Backend = iota
	LLVM
)

// String renders a Backend for diagnostics and cache file names.
func (b Backend) String() string {
	switch b {
	case CUDA:
		return "cuda"
	case LLVM:
		return "llvm"
	default:
		return "invalid"
	}
}

// Type is the scalar element type carried by a Variable.
type Type uint8

const (
	Invalid Type = iota
	Int8
	UInt8
	Int16
	UInt16
	Int32
	UInt32
	Int64
	UInt64
	Float16
	Float32
	Float64
	Bool
	Ptr
)

// ByteSize returns the storage size of one element of t, or 0 for Invalid
// and any unknown type. Ptr reports 8, the uintptr width on 64-bit
// platforms, whatever the build platform.
func (t Type) ByteSize() int {
	switch t {
	case Int8, UInt8, Bool:
		return 1
	case Int16, UInt16, Float16:
		return 2
	case Int32, UInt32, Float32:
		return 4
	case Int64, UInt64, Float64, Ptr:
		return 8
	default:
		return 0
	}
}

// String renders a Type's IR-level textual name, used by the $tN template
// placeholder.
func (t Type) String() string {
	switch t {
	case Int8:
		return "i8"
	case UInt8:
		return "u8"
	case Int16:
		return "i16"
	case UInt16:
		return "u16"
	case Int32:
		return "i32"
	case UInt32:
		return "u32"
	case Int64:
		return "i64"
	case UInt64:
		return "u64"
	case Float16:
		return "f16"
	case Float32:
		return "f32"
	case Float64:
		return "f64"
	case Bool:
		return "bool"
	case Ptr:
		return "ptr"
	default:
		return "invalid"
	}
}

// SameWidthBinary returns the generic same-width integer type used for the
// $bN placeholder: the bitwise/binary counterpart of a floating type, or t
// itself if it is already an integer type.
func (t Type) SameWidthBinary() Type {
	switch t {
	case Float16:
		return UInt16
	case Float32:
		return UInt32
	case Float64:
		return UInt64
	default:
		return t
	}
}

// ID is a variable identifier. 0 is the reserved null id.
type ID uint32

// NullID is the reserved null ID sentinel.
const NullID ID = 0

// StreamKey identifies a logical (device, stream) execution lane, the
// unit of concurrency: one stream per thread. Device -1 means host.
type StreamKey struct {
	Device int
	Stream int
}
