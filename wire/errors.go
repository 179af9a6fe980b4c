package wire

import (
	"errors"
	"fmt"
)

// Error kinds. Every error produced while decoding wraps exactly one of these,
// so callers can classify failures with errors.Is.
var (
	// ErrTruncated means the input ended inside a field. While streaming this
	// is a resumption point, not a failure.
	ErrTruncated = errors.New("protostream: truncated input")

	// ErrMalformed covers over-long varints, invalid wire types and field number 0.
	ErrMalformed = errors.New("protostream: malformed input")

	// ErrTypeMismatch means the wire type cannot carry the resolved field type.
	ErrTypeMismatch = errors.New("protostream: wire type mismatch")

	// ErrStructure covers nesting violations: stack overflow, unmatched
	// end-group markers, and lengths that overrun an enclosing submessage.
	ErrStructure = errors.New("protostream: structural violation")
)

// Codec errors, all of kind ErrMalformed.
var (
	ErrVarintTooLong      = fmt.Errorf("%w: varint exceeds 10 bytes", ErrMalformed)
	ErrVarintOverflow     = fmt.Errorf("%w: varint overflows 64 bits", ErrMalformed)
	ErrInvalidFieldNumber = fmt.Errorf("%w: invalid field number", ErrMalformed)
	ErrInvalidWireType    = fmt.Errorf("%w: invalid wire type", ErrMalformed)
	ErrLengthOverflow     = fmt.Errorf("%w: length prefix too large", ErrMalformed)
)

// ParseError describes a fatal decoding failure at a specific input position.
type ParseError struct {
	Kind        error       // one of the kind sentinels above
	Offset      int64       // absolute byte offset where the failing field starts
	FieldNumber FieldNumber // 0 when the tag itself could not be decoded
	Msg         string
	Cause       error // underlying codec error, if any
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	msg := e.Msg
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.FieldNumber != 0 {
		return fmt.Sprintf("%v at offset %d (field %d): %s", e.Kind, e.Offset, e.FieldNumber, msg)
	}
	return fmt.Sprintf("%v at offset %d: %s", e.Kind, e.Offset, msg)
}

// Unwrap returns the error kind and the underlying cause.
func (e *ParseError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// NewParseError builds a ParseError. kind is inferred from cause when nil.
func NewParseError(kind error, offset int64, field FieldNumber, cause error, format string, args ...interface{}) *ParseError {
	if kind == nil {
		kind = KindOf(cause)
	}
	msg := ""
	if format != "" {
		msg = fmt.Sprintf(format, args...)
	}
	return &ParseError{Kind: kind, Offset: offset, FieldNumber: field, Msg: msg, Cause: cause}
}

// KindOf returns the kind sentinel err wraps, or nil.
func KindOf(err error) error {
	for _, k := range []error{ErrTruncated, ErrMalformed, ErrTypeMismatch, ErrStructure} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
