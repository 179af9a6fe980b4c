// Package stream connects protobuf producers and consumers without an
// in-memory message model.
//
// Data moves through two generic capabilities, Pull and Push, instantiated
// for bytes and for fields. A Decoder is a field Source reading from a
// ByteSource, an Encoder is a field Sink writing to a ByteSink, and Relay
// pumps any Source into any Sink.
package stream

import (
	"io"

	"github.com/anirudhraja/protostream/schema"
	"github.com/anirudhraja/protostream/wire"
)

// Status reports the outcome of the operations on a stream.
//
// EOF follows feof semantics: it becomes true only after an operation failed
// because the input was exhausted, and a later successful operation clears it.
// Err returns the first error other than end of input; it is sticky.
type Status interface {
	Err() error
	EOF() bool
}

// Pull yields items one at a time. Next returns false when no item is
// available, in which case EOF or Err tells why.
type Pull[T any] interface {
	Status
	Next() (T, bool)
}

// Push accepts items. The returned count may be smaller than the item for
// sinks that take partial input.
type Push[T any] interface {
	Status
	Put(T) (int, error)
}

// Source is a structured pull stream of fields.
//
// Next returns the next field of the current message. The caller then reads
// its payload with ReadValue, ReadString or EnterSubmessage, or leaves it and
// calls Next or SkipValue, which discard it. At the end of a submessage Next
// returns false with EOF set until ExitSubmessage moves back to the parent.
type Source interface {
	Pull[*schema.Field]
	ReadValue() (wire.Value, error)
	ReadString(dst []byte) ([]byte, error)
	SkipValue() error
	EnterSubmessage() error
	ExitSubmessage() error
}

// Sink is a structured push stream of fields. Put announces a field and is
// followed by exactly one WriteValue, WriteString or StartSubmessage; the
// latter is closed with EndSubmessage.
type Sink interface {
	Push[*schema.Field]
	WriteValue(v wire.Value) error
	WriteString(b []byte) error
	StartSubmessage() error
	EndSubmessage() error
}

// ByteSource is a pull stream of byte chunks.
//
// Get returns at least min bytes unless the stream ends first. Append reads
// at most n bytes onto the end of buf and returns the extended slice, so a
// caller can accumulate input without copying it again. Both return io.EOF
// once nothing is left.
type ByteSource interface {
	Pull[[]byte]
	Get(min int) ([]byte, error)
	Append(buf []byte, n int) ([]byte, error)
}

// ByteSink is a push stream of bytes. Put may accept fewer bytes than
// offered; the caller keeps the rest and offers it again later.
type ByteSink interface {
	Push[[]byte]
}

// status is embedded by every implementation in this package.
type status struct {
	err error
	eof bool
}

func (s *status) Err() error { return s.err }

func (s *status) EOF() bool { return s.eof }

// fail records err unless an earlier error is already recorded, and returns
// the recorded one.
func (s *status) fail(err error) error {
	if s.err == nil {
		s.err = err
	}
	return s.err
}

// exhausted marks the end of input.
func (s *status) exhausted() error {
	s.eof = true
	return io.EOF
}
