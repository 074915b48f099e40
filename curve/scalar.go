// Package curve exposes the group algebra the PEP protocols are built on: scalars and
// points of the Ristretto255 prime-order group, with the packed 32-byte encodings that
// travel on the wire.
//
// Scalars are frequently secret (private keys, key factors, rerandomization randomness);
// all scalar comparisons are constant time. Points are public values (public keys,
// pseudonyms, ciphertext components); deserializers reject non-canonical encodings, and
// callers for whom the neutral element is meaningless must additionally reject it (see
// [Point.IsIdentity]).
package curve

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/gtank/ristretto255"
)

// PackedBytes is the length of a packed scalar or point encoding.
const PackedBytes = 32

// UniformBytes is the input length for derivation of scalars and points from hash output.
const UniformBytes = 64

var errNonCanonical = errors.New("curve: non-canonical encoding")

// Scalar is an element of the Ristretto255 scalar field. The zero value is the zero
// scalar. Scalars are immutable; operations return new values.
type Scalar struct {
	s *ristretto255.Scalar
}

func newScalar(s *ristretto255.Scalar) *Scalar {
	return &Scalar{s: s}
}

func (s *Scalar) inner() *ristretto255.Scalar {
	if s.s == nil {
		return ristretto255.NewScalar()
	}
	return s.s
}

// ZeroScalar returns the zero scalar.
func ZeroScalar() *Scalar {
	return newScalar(ristretto255.NewScalar())
}

// OneScalar returns the multiplicative identity.
func OneScalar() *Scalar {
	var b [PackedBytes]byte
	b[0] = 1
	one, err := ristretto255.NewScalar().SetCanonicalBytes(b[:])
	if err != nil {
		panic(fmt.Sprintf("curve: canonical one rejected: %v", err))
	}
	return newScalar(one)
}

// ParseScalar decodes a packed scalar, rejecting non-canonical encodings.
func ParseScalar(packed []byte) (*Scalar, error) {
	if len(packed) != PackedBytes {
		return nil, fmt.Errorf("curve: scalar encoding must be %d bytes, got %d", PackedBytes, len(packed))
	}
	s, err := ristretto255.NewScalar().SetCanonicalBytes(packed)
	if err != nil {
		return nil, errNonCanonical
	}
	return newScalar(s), nil
}

// ScalarFromUniform reduces 64 uniformly random bytes to a scalar.
func ScalarFromUniform(b []byte) (*Scalar, error) {
	if len(b) != UniformBytes {
		return nil, fmt.Errorf("curve: uniform scalar input must be %d bytes, got %d", UniformBytes, len(b))
	}
	s, err := ristretto255.NewScalar().SetUniformBytes(b)
	if err != nil {
		return nil, err
	}
	return newScalar(s), nil
}

// RandomScalar generates a scalar from the given source of randomness.
func RandomScalar(rand io.Reader) (*Scalar, error) {
	var b [UniformBytes]byte
	if _, err := io.ReadFull(rand, b[:]); err != nil {
		return nil, fmt.Errorf("curve: reading randomness: %w", err)
	}
	return ScalarFromUniform(b[:])
}

// Bytes returns the packed 32-byte encoding.
func (s *Scalar) Bytes() []byte {
	return s.inner().Bytes()
}

// Text returns the lowercase hex form of the packed encoding.
func (s *Scalar) Text() string {
	return hex.EncodeToString(s.Bytes())
}

// ScalarFromText parses the hex form produced by [Scalar.Text].
func ScalarFromText(text string) (*Scalar, error) {
	b, err := hex.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("curve: invalid scalar hex: %w", err)
	}
	return ParseScalar(b)
}

// Add returns s + t.
func (s *Scalar) Add(t *Scalar) *Scalar {
	return newScalar(ristretto255.NewScalar().Add(s.inner(), t.inner()))
}

// Sub returns s − t.
func (s *Scalar) Sub(t *Scalar) *Scalar {
	return newScalar(ristretto255.NewScalar().Subtract(s.inner(), t.inner()))
}

// Mul returns s · t.
func (s *Scalar) Mul(t *Scalar) *Scalar {
	return newScalar(ristretto255.NewScalar().Multiply(s.inner(), t.inner()))
}

// Neg returns −s.
func (s *Scalar) Neg() *Scalar {
	return newScalar(ristretto255.NewScalar().Negate(s.inner()))
}

// Invert returns s⁻¹. Inverting the zero scalar yields zero.
func (s *Scalar) Invert() *Scalar {
	return newScalar(ristretto255.NewScalar().Invert(s.inner()))
}

// Square returns s².
func (s *Scalar) Square() *Scalar {
	return s.Mul(s)
}

// Equal compares two scalars in constant time.
func (s *Scalar) Equal(t *Scalar) bool {
	return s.inner().Equal(t.inner()) == 1
}

// IsZero reports, in constant time, whether s is the zero scalar.
func (s *Scalar) IsZero() bool {
	return subtle.ConstantTimeCompare(s.Bytes(), make([]byte, PackedBytes)) == 1
}
