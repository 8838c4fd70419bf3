package engine

import (
	stderrors "errors"
	"fmt"
)

func as[T error](err error, target *T) bool {
	return stderrors.As(err, target)
}

// OutOfMemoryError reports that vcache could not satisfy a Malloc request. Category 1
// in spec §7: expected under memory pressure, never a programming bug.
type OutOfMemoryError struct {
	Bytes int
}

func (e *OutOfMemoryError) Error() string {
	return fmt.Sprintf("engine: out of memory allocating %d bytes", e.Bytes)
}

// AsOutOfMemory returns err's *OutOfMemoryError, or nil if err isn't one.
func AsOutOfMemory(err error) *OutOfMemoryError {
	var e *OutOfMemoryError
	if as(err, &e) {
		return e
	}
	return nil
}

// TypeNotSupportedError reports an operand dtype the naive fallback or specializer has
// no rendering for. Category 2.
type TypeNotSupportedError struct {
	Op    string
	DType string
}

func (e *TypeNotSupportedError) Error() string {
	return fmt.Sprintf("engine: %s: dtype %s not supported", e.Op, e.DType)
}

// AsTypeNotSupported returns err's *TypeNotSupportedError, or nil if err isn't one.
func AsTypeNotSupported(err error) *TypeNotSupportedError {
	var e *TypeNotSupportedError
	if as(err, &e) {
		return e
	}
	return nil
}

// UserFuncNotSupportedError reports an EXTENSION opcode with no registered handler.
// Category 2.
type UserFuncNotSupportedError struct {
	Opcode string
}

func (e *UserFuncNotSupportedError) Error() string {
	return fmt.Sprintf("engine: no extension registered for opcode %s", e.Opcode)
}

// AsUserFuncNotSupported returns err's *UserFuncNotSupportedError, or nil if err isn't one.
func AsUserFuncNotSupported(err error) *UserFuncNotSupportedError {
	var e *UserFuncNotSupportedError
	if as(err, &e) {
		return e
	}
	return nil
}
