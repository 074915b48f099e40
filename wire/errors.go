package wire

import (
	"sync"

	"google.golang.org/protobuf/encoding/protowire"
)

// TypedError is an error that travels across the wire under a stable type tag, so the
// receiving side can reconstruct the precise kind.
type TypedError interface {
	error
	WireTypeName() string
}

// SerializeError reports malformed bytes, a wrong magic, or a non-canonical group
// element. Fatal per request; never retried.
type SerializeError struct {
	Description string
}

func (e *SerializeError) Error() string {
	return "wire: " + e.Description
}

// WireTypeName implements [TypedError].
func (e *SerializeError) WireTypeName() string { return "SerializeError" }

var (
	errorFactoriesMu sync.RWMutex
	errorFactories   = map[string]func(description string) error{}
)

// RegisterErrorType registers a factory reconstructing a typed error from its wire tag.
// Duplicate registration for a name panics.
func RegisterErrorType(name string, factory func(description string) error) {
	errorFactoriesMu.Lock()
	defer errorFactoriesMu.Unlock()
	if _, ok := errorFactories[name]; ok {
		panic("wire: duplicate error type " + name)
	}
	errorFactories[name] = factory
}

func init() {
	RegisterErrorType("SerializeError", func(description string) error {
		return &SerializeError{Description: description}
	})
}

// Error is the wire envelope of an error: the original type tag plus a description.
// Deserializing reconstructs the registered type where possible, so typed errors
// round-trip between processes.
type Error struct {
	OriginalTypeName string
	Description      string
}

// Envelope wraps any error for transmission. Typed errors keep their tag; everything
// else travels as a plain Error.
func Envelope(err error) *Error {
	if te, ok := err.(TypedError); ok {
		return &Error{OriginalTypeName: te.WireTypeName(), Description: te.Error()}
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return &Error{Description: err.Error()}
}

// Reconstruct returns the typed error for the envelope when its tag is registered, and
// the envelope itself otherwise.
func (e *Error) Reconstruct() error {
	errorFactoriesMu.RLock()
	factory, ok := errorFactories[e.OriginalTypeName]
	errorFactoriesMu.RUnlock()
	if ok {
		return factory(e.Description)
	}
	return e
}

func (e *Error) Error() string {
	return e.Description
}

// TypeName implements [Message].
func (e *Error) TypeName() string { return "Error" }

// AppendFields implements [Message].
func (e *Error) AppendFields(dst []byte) ([]byte, error) {
	dst = AppendString(dst, 1, e.Description)
	dst = AppendString(dst, 2, e.OriginalTypeName)
	return dst, nil
}

// ParseFields implements [Message].
func (e *Error) ParseFields(data []byte) error {
	*e = Error{}
	s := NewScanner(data)
	for s.Scan() {
		switch s.Number() {
		case protowire.Number(1):
			e.Description = s.Text()
		case protowire.Number(2):
			e.OriginalTypeName = s.Text()
		default:
			s.Skip()
		}
	}
	return s.Err()
}
