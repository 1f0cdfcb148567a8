package wire

import (
	"errors"
	"fmt"
	"strings"
)

// ===== WIRE FORMAT ERRORS =====

// Sentinel errors for the decode and registration failure modes. Callers
// match them with errors.Is after unwrapping any *FieldError.
var (
	// ErrMalformedVarint - a varint ran past 10 bytes or overflowed 64 bits.
	ErrMalformedVarint = errors.New("malformed varint")
	// ErrInvalidTag - a tag with field number 0, a number beyond the 29-bit
	// range, or wire type 6 or 7.
	ErrInvalidTag = errors.New("invalid field tag")
	// ErrUnexpectedEOF - the buffer ended inside a value or a declared frame.
	ErrUnexpectedEOF = errors.New("unexpected EOF")
	// ErrPackedLengthMismatch - a packed frame ended in the middle of an
	// element.
	ErrPackedLengthMismatch = errors.New("packed field length mismatch")
	// ErrRecursionLimitExceeded - message or group nesting went deeper than
	// the configured limit.
	ErrRecursionLimitExceeded = errors.New("recursion limit exceeded")
	// ErrDuplicateExtension - two extensions registered for the same
	// (extended message, field number) pair.
	ErrDuplicateExtension = errors.New("duplicate extension registration")
	// ErrUnexpectedEndGroup - an end-group tag with no matching start-group.
	ErrUnexpectedEndGroup = errors.New("unexpected end-group tag")
	// ErrInvalidUTF8 - a string field failed UTF-8 validation under a schema
	// that enforces it.
	ErrInvalidUTF8 = errors.New("invalid UTF-8 in string field")
)

// FieldError represents an encoding/decoding error with a field path.
type FieldError struct {
	FieldPath []string // e.g., ["order", "items", "price"]
	Err       error    // underlying error
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	if len(e.FieldPath) == 0 {
		return e.Err.Error()
	}

	return fmt.Sprintf("error at proto path %s: %v", strings.Join(e.FieldPath, "."), e.Err)
}

// Unwrap returns the underlying error.
func (e *FieldError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for compatibility.
func (e *FieldError) Is(target error) bool {
	_, ok := target.(*FieldError)
	return ok
}

// wrapWithField wraps an error with a field name
func wrapWithField(err error, fieldName string) error {
	if err == nil {
		return nil
	}

	if fe, ok := err.(*FieldError); ok {
		return &FieldError{
			FieldPath: append([]string{fieldName}, fe.FieldPath...),
			Err:       fe.Err,
		}
	}

	return &FieldError{
		FieldPath: []string{fieldName},
		Err:       err,
	}
}
