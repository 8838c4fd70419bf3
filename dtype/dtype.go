// Package dtype enumerates the scalar element types a base array's buffer can hold.
package dtype

import "fmt"

// DType identifies the scalar type of a base array's buffer.
type DType int

const (
	Invalid DType = iota
	Bool
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	Complex64
	Complex128
)

//go:generate stringer -type=DType dtype.go

var names = [...]string{
	Invalid:    "invalid",
	Bool:       "bool",
	Int8:       "int8",
	Int16:      "int16",
	Int32:      "int32",
	Int64:      "int64",
	Uint8:      "uint8",
	Uint16:     "uint16",
	Uint32:     "uint32",
	Uint64:     "uint64",
	Float32:    "float32",
	Float64:    "float64",
	Complex64:  "complex64",
	Complex128: "complex128",
}

func (d DType) String() string {
	if d < 0 || int(d) >= len(names) {
		return fmt.Sprintf("DType(%d)", int(d))
	}
	return names[d]
}

var sizes = [...]int{
	Invalid:    0,
	Bool:       1,
	Int8:       1,
	Int16:      2,
	Int32:      4,
	Int64:      8,
	Uint8:      1,
	Uint16:     2,
	Uint32:     4,
	Uint64:     8,
	Float32:    4,
	Float64:    8,
	Complex64:  8,
	Complex128: 16,
}

// Sizeof returns the size in bytes of one element of the given type.
func Sizeof(d DType) int {
	if d < 0 || int(d) >= len(sizes) {
		return 0
	}
	return sizes[d]
}

// Ok reports whether d is one of the supported scalar types.
func (d DType) Ok() bool {
	return d > Invalid && int(d) < len(names)
}
