package transcript_test

import (
	"bytes"
	"testing"

	"github.com/pep-security/pepcore/transcript"
)

func TestDeriveIsDeterministic(t *testing.T) {
	a := transcript.New("test")
	a.Mix("input", []byte("hello"))
	b := transcript.New("test")
	b.Mix("input", []byte("hello"))

	if got, want := a.Derive("out", 32), b.Derive("out", 32); !bytes.Equal(got, want) {
		t.Error("identical transcripts should derive identical output")
	}
}

func TestDomainSeparation(t *testing.T) {
	a := transcript.New("domain-a")
	a.Mix("input", []byte("hello"))
	b := transcript.New("domain-b")
	b.Mix("input", []byte("hello"))

	if bytes.Equal(a.Derive("out", 32), b.Derive("out", 32)) {
		t.Error("different domains should derive independent output")
	}
}

func TestLabelsAreFramed(t *testing.T) {
	// An input boundary shift between label and data must change the transcript.
	a := transcript.New("test")
	a.Mix("ab", []byte("c"))
	b := transcript.New("test")
	b.Mix("a", []byte("bc"))

	if bytes.Equal(a.Derive("out", 32), b.Derive("out", 32)) {
		t.Error("shifting bytes across the label/data boundary should change the output")
	}
}

func TestDeriveDoesNotFinalize(t *testing.T) {
	a := transcript.New("test")
	a.Mix("one", []byte("1"))
	first := a.Derive("out", 32)
	a.Mix("two", []byte("2"))
	second := a.Derive("out", 32)

	if bytes.Equal(first, second) {
		t.Error("mixing after a derivation should change later derivations")
	}

	b := transcript.New("test")
	b.Mix("one", []byte("1"))
	b.Mix("two", []byte("2"))
	if got, want := b.Derive("out", 32), second; !bytes.Equal(got, want) {
		t.Error("a derivation must not perturb the transcript state")
	}
}

func TestHashToPointAndScalar(t *testing.T) {
	p1 := transcript.HashToPoint("test", []byte("PEP0001"))
	p2 := transcript.HashToPoint("test", []byte("PEP0001"))
	if !p1.Equal(p2) {
		t.Error("hash-to-point should be deterministic")
	}
	if p1.Equal(transcript.HashToPoint("test", []byte("PEP0002"))) {
		t.Error("different inputs should hash to different points")
	}
	if p1.IsIdentity() {
		t.Error("hash-to-point should not produce the neutral element")
	}

	s1 := transcript.HashToScalar("test", []byte("PEP0001"))
	s2 := transcript.HashToScalar("test", []byte("PEP0001"))
	if !s1.Equal(s2) {
		t.Error("hash-to-scalar should be deterministic")
	}
}
