package curve

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/gtank/ristretto255"
)

// ErrIdentityPoint is returned by deserializers of values for which the neutral element
// is invalid (public keys, pseudonyms).
var ErrIdentityPoint = errors.New("curve: unexpected neutral element")

// Point is an element of the Ristretto255 group. The zero value is the neutral element.
// Points are immutable; operations return new values.
type Point struct {
	p *ristretto255.Element
}

func newPoint(p *ristretto255.Element) *Point {
	return &Point{p: p}
}

func (p *Point) inner() *ristretto255.Element {
	if p.p == nil {
		return ristretto255.NewIdentityElement()
	}
	return p.p
}

// IdentityPoint returns the neutral element.
func IdentityPoint() *Point {
	return newPoint(ristretto255.NewIdentityElement())
}

// Base returns the group's base point.
func Base() *Point {
	return newPoint(ristretto255.NewGeneratorElement())
}

// BaseMult returns s·G.
func BaseMult(s *Scalar) *Point {
	return newPoint(ristretto255.NewIdentityElement().ScalarBaseMult(s.inner()))
}

// ParsePoint decodes a packed point, rejecting non-canonical encodings. The neutral
// element is accepted; callers deserializing public keys or pseudonyms must reject it
// via [Point.IsIdentity].
func ParsePoint(packed []byte) (*Point, error) {
	if len(packed) != PackedBytes {
		return nil, fmt.Errorf("curve: point encoding must be %d bytes, got %d", PackedBytes, len(packed))
	}
	p, err := ristretto255.NewIdentityElement().SetCanonicalBytes(packed)
	if err != nil {
		return nil, errNonCanonical
	}
	return newPoint(p), nil
}

// ParseNonzeroPoint decodes a packed point, rejecting non-canonical encodings and the
// neutral element.
func ParseNonzeroPoint(packed []byte) (*Point, error) {
	p, err := ParsePoint(packed)
	if err != nil {
		return nil, err
	}
	if p.IsIdentity() {
		return nil, ErrIdentityPoint
	}
	return p, nil
}

// PointFromUniform maps 64 uniformly random bytes to a point (one-way).
func PointFromUniform(b []byte) (*Point, error) {
	if len(b) != UniformBytes {
		return nil, fmt.Errorf("curve: uniform point input must be %d bytes, got %d", UniformBytes, len(b))
	}
	p, err := ristretto255.NewIdentityElement().SetUniformBytes(b)
	if err != nil {
		return nil, err
	}
	return newPoint(p), nil
}

// RandomPoint generates a point from the given source of randomness.
func RandomPoint(rand io.Reader) (*Point, error) {
	var b [UniformBytes]byte
	if _, err := io.ReadFull(rand, b[:]); err != nil {
		return nil, fmt.Errorf("curve: reading randomness: %w", err)
	}
	return PointFromUniform(b[:])
}

// Bytes returns the packed 32-byte encoding.
func (p *Point) Bytes() []byte {
	return p.inner().Bytes()
}

// Fingerprint returns the packed encoding as an array, usable as a map key.
func (p *Point) Fingerprint() [PackedBytes]byte {
	var fp [PackedBytes]byte
	copy(fp[:], p.Bytes())
	return fp
}

// Text returns the lowercase hex form of the packed encoding.
func (p *Point) Text() string {
	return hex.EncodeToString(p.Bytes())
}

// PointFromText parses the hex form produced by [Point.Text].
func PointFromText(text string) (*Point, error) {
	b, err := hex.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("curve: invalid point hex: %w", err)
	}
	return ParsePoint(b)
}

// Add returns p + q.
func (p *Point) Add(q *Point) *Point {
	return newPoint(ristretto255.NewIdentityElement().Add(p.inner(), q.inner()))
}

// Sub returns p − q.
func (p *Point) Sub(q *Point) *Point {
	return newPoint(ristretto255.NewIdentityElement().Subtract(p.inner(), q.inner()))
}

// Neg returns −p.
func (p *Point) Neg() *Point {
	return newPoint(ristretto255.NewIdentityElement().Negate(p.inner()))
}

// Mul returns s·p.
func (p *Point) Mul(s *Scalar) *Point {
	return newPoint(ristretto255.NewIdentityElement().ScalarMult(s.inner(), p.inner()))
}

// Equal reports whether two points are the same group element.
func (p *Point) Equal(q *Point) bool {
	return p.inner().Equal(q.inner()) == 1
}

// IsIdentity reports whether p is the neutral element.
func (p *Point) IsIdentity() bool {
	return p.Equal(IdentityPoint())
}

// VarTimeDoubleBaseMult returns a·p + b·G in variable time. Intended for proof
// verification, where all inputs are public.
func (p *Point) VarTimeDoubleBaseMult(a, b *Scalar) *Point {
	return newPoint(ristretto255.NewIdentityElement().
		VarTimeDoubleScalarBaseMult(a.inner(), p.inner(), b.inner()))
}

// VarTimeMultiMult returns Σ scalars[i]·points[i] in variable time. Intended for proof
// verification, where all inputs are public.
func VarTimeMultiMult(scalars []*Scalar, points []*Point) *Point {
	ss := make([]*ristretto255.Scalar, len(scalars))
	for i, s := range scalars {
		ss[i] = s.inner()
	}
	ps := make([]*ristretto255.Element, len(points))
	for i, q := range points {
		ps[i] = q.inner()
	}
	return newPoint(ristretto255.NewIdentityElement().VarTimeMultiScalarMult(ss, ps))
}
