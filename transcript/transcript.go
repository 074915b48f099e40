// Package transcript implements domain-separated hashing for the PEP protocols: hashing
// identifiers to points and scalars, and deriving Fiat-Shamir challenges for the
// translation proofs.
//
// A transcript is a KT128 XOF instance whose customization string is the domain label.
// Inputs are absorbed as length-encoded (label, data) frames, so distinct sequences of
// operations can never produce colliding transcripts.
package transcript

import (
	"encoding/binary"

	"github.com/codahale/kt128"

	"github.com/pep-security/pepcore/curve"
)

// Transcript accumulates labeled protocol inputs under a domain label.
type Transcript struct {
	h *kt128.Hasher
}

// New creates a transcript for the given domain label. Two transcripts with different
// domains produce independent outputs for identical inputs.
func New(domain string) *Transcript {
	return &Transcript{h: kt128.NewCustom([]byte(domain))}
}

// Mix absorbs a labeled input into the transcript.
func (t *Transcript) Mix(label string, data []byte) {
	t.writeFrame([]byte(label))
	t.writeFrame(data)
}

// MixPoint absorbs a labeled point in packed form.
func (t *Transcript) MixPoint(label string, p *curve.Point) {
	t.Mix(label, p.Bytes())
}

// Derive produces n bytes of output bound to everything mixed so far. The transcript
// remains usable: further Mix calls and derivations see all prior inputs.
func (t *Transcript) Derive(label string, n int) []byte {
	h := t.h.Clone()
	frame := make([]byte, 0, len(label)+9)
	frame = appendFrame(frame, []byte(label))
	_, _ = h.Write(frame)
	out := make([]byte, n)
	_, _ = h.Read(out)
	return out
}

// DeriveScalar derives a scalar bound to the transcript contents.
func (t *Transcript) DeriveScalar(label string) *curve.Scalar {
	s, err := curve.ScalarFromUniform(t.Derive(label, curve.UniformBytes))
	if err != nil {
		panic(err)
	}
	return s
}

// DerivePoint derives a point bound to the transcript contents.
func (t *Transcript) DerivePoint(label string) *curve.Point {
	p, err := curve.PointFromUniform(t.Derive(label, curve.UniformBytes))
	if err != nil {
		panic(err)
	}
	return p
}

func (t *Transcript) writeFrame(data []byte) {
	_, _ = t.h.Write(appendFrame(nil, data))
}

func appendFrame(dst, data []byte) []byte {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(data)))
	dst = append(dst, n[:]...)
	return append(dst, data...)
}

// HashToPoint maps arbitrary bytes to a point under a domain label. Used to derive the
// base pseudonym point from a subject identifier.
func HashToPoint(domain string, data []byte) *curve.Point {
	t := New(domain)
	t.Mix("input", data)
	return t.DerivePoint("point")
}

// HashToScalar maps arbitrary bytes to a scalar under a domain label.
func HashToScalar(domain string, data []byte) *curve.Scalar {
	t := New(domain)
	t.Mix("input", data)
	return t.DeriveScalar("scalar")
}
