package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// Message is a protocol message with a stable cross-platform type name. The name
// determines the 4-byte magic that prefixes every serialized instance.
type Message interface {
	// TypeName returns the cross-platform type name, stable across releases.
	TypeName() string

	// AppendFields appends the message's protobuf-encoded fields to dst.
	AppendFields(dst []byte) ([]byte, error)

	// ParseFields decodes the message from its protobuf-encoded fields.
	ParseFields(data []byte) error
}

// Marshal serializes a message as magic ‖ fields.
func Marshal(m Message) ([]byte, error) {
	out := appendMagic(make([]byte, 0, 256), RegisterMessageName(m.TypeName()))
	out, err := m.AppendFields(out)
	if err != nil {
		return nil, fmt.Errorf("wire: marshaling %s: %w", m.TypeName(), err)
	}
	return out, nil
}

// Unmarshal deserializes a message, verifying its magic.
func Unmarshal(data []byte, m Message) error {
	body, err := skipMagic(data, RegisterMessageName(m.TypeName()))
	if err != nil {
		return err
	}
	if err := m.ParseFields(body); err != nil {
		return &SerializeError{Description: fmt.Sprintf("parsing %s: %v", m.TypeName(), err)}
	}
	return nil
}

// MaxFrameBytes bounds a single framed message. Larger payloads travel as tail streams
// of multiple frames.
const MaxFrameBytes = 16 << 20

// WriteFrame writes a length-prefixed serialized message.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrameBytes {
		return &SerializeError{Description: fmt.Sprintf("frame of %d bytes exceeds limit", len(data))}
	}
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(data)))
	if _, err := w.Write(n[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// ReadFrame reads one length-prefixed serialized message.
func ReadFrame(r io.Reader) ([]byte, error) {
	var n [4]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(n[:])
	if size > MaxFrameBytes {
		return nil, &SerializeError{Description: fmt.Sprintf("frame of %d bytes exceeds limit", size)}
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Field appenders. Zero values are still written: PEP messages distinguish "absent" by
// field presence, and deterministic encodings must not depend on value contents.

// AppendBytes appends a length-delimited field.
func AppendBytes(dst []byte, num protowire.Number, v []byte) []byte {
	dst = protowire.AppendTag(dst, num, protowire.BytesType)
	return protowire.AppendBytes(dst, v)
}

// AppendString appends a string field.
func AppendString(dst []byte, num protowire.Number, v string) []byte {
	dst = protowire.AppendTag(dst, num, protowire.BytesType)
	return protowire.AppendString(dst, v)
}

// AppendUint64 appends a varint field.
func AppendUint64(dst []byte, num protowire.Number, v uint64) []byte {
	dst = protowire.AppendTag(dst, num, protowire.VarintType)
	return protowire.AppendVarint(dst, v)
}

// AppendBool appends a bool field.
func AppendBool(dst []byte, num protowire.Number, v bool) []byte {
	var u uint64
	if v {
		u = 1
	}
	return AppendUint64(dst, num, u)
}

// fieldAppender is the encoding half of [Message], satisfied by embedded submessages
// that carry no magic of their own.
type fieldAppender interface {
	AppendFields(dst []byte) ([]byte, error)
}

// AppendMessage appends an embedded message's fields as a length-delimited field.
func AppendMessage(dst []byte, num protowire.Number, m fieldAppender) ([]byte, error) {
	fields, err := m.AppendFields(nil)
	if err != nil {
		return nil, err
	}
	return AppendBytes(dst, num, fields), nil
}

// Scanner iterates the fields of a protobuf-encoded message body. Accessors consume the
// current field's payload; mismatched wire types or truncated payloads put the scanner
// in an error state that stops iteration.
type Scanner struct {
	b   []byte
	num protowire.Number
	typ protowire.Type
	err error
}

// NewScanner creates a scanner over an encoded message body.
func NewScanner(data []byte) *Scanner {
	return &Scanner{b: data}
}

// Scan advances to the next field, returning false at the end of input or on error.
// The caller must consume the field via exactly one accessor (or Skip) before the next
// Scan.
func (s *Scanner) Scan() bool {
	if s.err != nil || len(s.b) == 0 {
		return false
	}
	num, typ, n := protowire.ConsumeTag(s.b)
	if n < 0 {
		s.err = &SerializeError{Description: "malformed field tag"}
		return false
	}
	s.b = s.b[n:]
	s.num, s.typ = num, typ
	return true
}

// Number returns the current field number.
func (s *Scanner) Number() protowire.Number {
	return s.num
}

// Bytes consumes the current field as a length-delimited payload.
func (s *Scanner) Bytes() []byte {
	if s.err != nil {
		return nil
	}
	if s.typ != protowire.BytesType {
		s.err = &SerializeError{Description: fmt.Sprintf("field %d: expected length-delimited", s.num)}
		return nil
	}
	v, n := protowire.ConsumeBytes(s.b)
	if n < 0 {
		s.err = &SerializeError{Description: fmt.Sprintf("field %d: truncated payload", s.num)}
		return nil
	}
	s.b = s.b[n:]
	return v
}

// Text consumes the current field as a string.
func (s *Scanner) Text() string {
	return string(s.Bytes())
}

// Uint64 consumes the current field as a varint.
func (s *Scanner) Uint64() uint64 {
	if s.err != nil {
		return 0
	}
	if s.typ != protowire.VarintType {
		s.err = &SerializeError{Description: fmt.Sprintf("field %d: expected varint", s.num)}
		return 0
	}
	v, n := protowire.ConsumeVarint(s.b)
	if n < 0 {
		s.err = &SerializeError{Description: fmt.Sprintf("field %d: truncated varint", s.num)}
		return 0
	}
	s.b = s.b[n:]
	return v
}

// Bool consumes the current field as a bool.
func (s *Scanner) Bool() bool {
	return s.Uint64() != 0
}

// Skip consumes and discards the current field's payload.
func (s *Scanner) Skip() {
	if s.err != nil {
		return
	}
	n := protowire.ConsumeFieldValue(s.num, s.typ, s.b)
	if n < 0 {
		s.err = &SerializeError{Description: fmt.Sprintf("field %d: malformed payload", s.num)}
		return
	}
	s.b = s.b[n:]
}

// Err returns the first error encountered while scanning.
func (s *Scanner) Err() error {
	return s.err
}
