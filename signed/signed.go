package signed

import (
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/pep-security/pepcore/wire"
)

// BodyPtr constrains a message type to its pointer form, which carries the
// [wire.Message] implementation.
type BodyPtr[T any] interface {
	*T
	wire.Message
}

// Message is a signed envelope around a message of type T: the serialized body plus a
// signature covering exactly those bytes. Its wire name is "Signed" + the body's name,
// which pins the envelope's magic independently of the body's.
type Message[T any, PT BodyPtr[T]] struct {
	Data      []byte
	Signature Signature
}

// Seal serializes a message and signs it under the given identity.
func Seal[T any, PT BodyPtr[T]](body PT, id *Identity) (*Message[T, PT], error) {
	return SealAt[T, PT](body, id, time.Now())
}

// SealAt is [Seal] with an explicit clock.
func SealAt[T any, PT BodyPtr[T]](body PT, id *Identity, now time.Time) (*Message[T, PT], error) {
	data, err := wire.Marshal(body)
	if err != nil {
		return nil, err
	}
	sig, err := SignAt(data, id, false, now)
	if err != nil {
		return nil, err
	}
	return &Message[T, PT]{Data: data, Signature: sig}, nil
}

// Open validates the signature and deserializes the body.
func (m *Message[T, PT]) Open(opts VerifyOptions) (PT, error) {
	if err := m.Signature.Verify(m.Data, opts); err != nil {
		return nil, err
	}
	return m.OpenWithoutCheckingSignature()
}

// OpenWithoutCheckingSignature deserializes the body without any validation. Only for
// inspecting a message whose signature has already been (or will separately be)
// validated.
func (m *Message[T, PT]) OpenWithoutCheckingSignature() (PT, error) {
	body := PT(new(T))
	if err := wire.Unmarshal(m.Data, body); err != nil {
		return nil, err
	}
	return body, nil
}

// CommonName returns the signer's common name.
func (m *Message[T, PT]) CommonName() string {
	return m.Signature.LeafCommonName()
}

// TypeName implements [wire.Message].
func (m *Message[T, PT]) TypeName() string {
	return "Signed" + PT(new(T)).TypeName()
}

// AppendFields implements [wire.Message].
func (m *Message[T, PT]) AppendFields(dst []byte) ([]byte, error) {
	dst = wire.AppendBytes(dst, 1, m.Data)
	return wire.AppendMessage(dst, 2, &m.Signature)
}

// ParseFields implements [wire.Message].
func (m *Message[T, PT]) ParseFields(data []byte) error {
	*m = Message[T, PT]{}
	sc := wire.NewScanner(data)
	for sc.Scan() {
		switch sc.Number() {
		case protowire.Number(1):
			m.Data = append([]byte(nil), sc.Bytes()...)
		case protowire.Number(2):
			if err := m.Signature.ParseFields(sc.Bytes()); err != nil {
				return err
			}
		default:
			sc.Skip()
		}
	}
	return sc.Err()
}
