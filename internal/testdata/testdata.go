// Package testdata provides a deterministic random bit generator for testing.
package testdata

import (
	"crypto/sha3"
	"io"

	"github.com/pep-security/pepcore/curve"
)

// DRBG is a deterministic random bit generator based on SHAKE128.
type DRBG struct {
	h *sha3.SHAKE
}

// New returns a new DRBG instance initialized with the given customization string.
func New(customization string) *DRBG {
	h := sha3.NewSHAKE128()
	_, _ = h.Write([]byte(customization))
	return &DRBG{h}
}

// Data returns n bytes of deterministic data from the DRBG.
func (d *DRBG) Data(n int) []byte {
	b := make([]byte, n)
	_, _ = d.h.Read(b)
	return b
}

// Scalar returns a deterministic scalar from the DRBG.
func (d *DRBG) Scalar() *curve.Scalar {
	s, err := curve.ScalarFromUniform(d.Data(curve.UniformBytes))
	if err != nil {
		panic(err)
	}
	return s
}

// Point returns a deterministic point from the DRBG.
func (d *DRBG) Point() *curve.Point {
	p, err := curve.PointFromUniform(d.Data(curve.UniformBytes))
	if err != nil {
		panic(err)
	}
	return p
}

// KeyPair returns a deterministic key pair from the DRBG.
func (d *DRBG) KeyPair() (*curve.Scalar, *curve.Point) {
	sk := d.Scalar()
	return sk, curve.BaseMult(sk)
}

// Reader returns a pseudorandom reader seeded with a value from this DRBG.
func (d *DRBG) Reader() io.Reader {
	h := sha3.NewSHAKE128()
	_, _ = h.Write(d.Data(32))
	return h
}
