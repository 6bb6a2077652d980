// Package classfile decodes and encodes JVM class files.
package classfile

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrInvalidMagic indicates the data does not start with 0xCAFEBABE.
	ErrInvalidMagic = errors.New("classfile: invalid magic number")

	// ErrUnsupportedVersion indicates a class file version outside 45..69.
	ErrUnsupportedVersion = errors.New("classfile: unsupported class file version")

	// ErrTruncated indicates the data ends in the middle of a structure.
	ErrTruncated = errors.New("classfile: truncated class file")

	// ErrTrailingData indicates bytes after the last attribute.
	ErrTrailingData = errors.New("classfile: trailing data after class file")

	// ErrBadConstantIndex indicates a reference to a missing pool entry.
	ErrBadConstantIndex = errors.New("classfile: constant pool index out of range")

	// ErrBadConstantTag indicates a pool entry of an unexpected kind.
	ErrBadConstantTag = errors.New("classfile: unexpected constant pool tag")

	// ErrBadCode indicates an undecodable Code attribute.
	ErrBadCode = errors.New("classfile: malformed code attribute")

	// ErrPoolOverflow indicates more than 65535 constant pool slots.
	ErrPoolOverflow = errors.New("classfile: constant pool overflow")
)

// MalformedInputError provides detailed information about decoding failures.
type MalformedInputError struct {
	Section string // Part of the class file being decoded
	Offset  int64  // Byte offset within the class file
	Message string // Description of the error
	Err     error  // Underlying error, if any
}

func (e *MalformedInputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("classfile: malformed input in %s at offset 0x%x: %s: %v",
			e.Section, e.Offset, e.Message, e.Err)
	}
	return fmt.Sprintf("classfile: malformed input in %s at offset 0x%x: %s",
		e.Section, e.Offset, e.Message)
}

func (e *MalformedInputError) Unwrap() error { return e.Err }
