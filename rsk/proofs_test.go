package rsk_test

import (
	"errors"
	"testing"

	"github.com/pep-security/pepcore/curve"
	"github.com/pep-security/pepcore/elgamal"
	"github.com/pep-security/pepcore/internal/testdata"
	"github.com/pep-security/pepcore/rsk"
)

func TestScalarMultProof(t *testing.T) {
	drbg := testdata.New("scalar mult proof")
	rand := drbg.Reader()

	for i := 0; i < 16; i++ {
		x := drbg.Scalar()
		a := curve.BaseMult(x)
		m := drbg.Point()
		n := m.Mul(x)

		proof, err := rsk.CreateScalarMultProof(a, m, n, x, rand)
		if err != nil {
			t.Fatal(err)
		}
		if err := proof.Verify(a, m, n); err != nil {
			t.Fatalf("round %d: valid proof rejected: %v", i, err)
		}

		if err := proof.Verify(m, a, n); err == nil {
			t.Error("swapped statement should not verify")
		}
		var invalid *rsk.InvalidProofError
		if err := proof.Verify(a, m, drbg.Point()); !errors.As(err, &invalid) {
			t.Errorf("wrong product point: got %v, want InvalidProofError", err)
		}
	}
}

func TestRSKProof(t *testing.T) {
	drbg := testdata.New("rsk proof")
	tr := newTranslator(drbg, rsk.PseudonymDomain, nil)
	_, pk := drbg.KeyPair()
	rand := drbg.Reader()

	for i := 0; i < 8; i++ {
		m := drbg.Point()
		pre, err := elgamal.Encrypt(pk, m, rand)
		if err != nil {
			t.Fatal(err)
		}
		factors, err := tr.Factors("Research Assessor")
		if err != nil {
			t.Fatal(err)
		}

		post, proof, err := tr.CertifiedRSK(pre, factors, rand)
		if err != nil {
			t.Fatal(err)
		}
		verifiers := tr.ProofVerifiers(factors, pre.Y)

		if err := proof.Verify(pre, post, verifiers); err != nil {
			t.Fatalf("round %d: honest proof rejected: %v", i, err)
		}

		t.Run("swapped ciphertexts", func(t *testing.T) {
			if err := proof.Verify(post, pre, verifiers); err == nil {
				t.Error("swapped pre/post should not verify")
			}
		})

		t.Run("wrong verifiers", func(t *testing.T) {
			other, err := tr.Factors("Data Administrator")
			if err != nil {
				t.Fatal(err)
			}
			if err := proof.Verify(pre, post, tr.ProofVerifiers(other, pre.Y)); err == nil {
				t.Error("another recipient's verifiers should not verify")
			}
		})

		t.Run("tampered output", func(t *testing.T) {
			tampered := post
			tampered.C = tampered.C.Add(curve.Base())
			var invalid *rsk.InvalidProofError
			if err := proof.Verify(pre, tampered, verifiers); !errors.As(err, &invalid) {
				t.Errorf("tampered output: got %v, want InvalidProofError", err)
			}
		})
	}
}

func TestVerifiersConsistency(t *testing.T) {
	drbg := testdata.New("rsk verifiers")
	tr := newTranslator(drbg, rsk.PseudonymDomain, nil)
	_, pk := drbg.KeyPair()

	factors, err := tr.Factors("Research Assessor")
	if err != nil {
		t.Fatal(err)
	}
	verifiers := tr.ProofVerifiers(factors, pk)

	if err := verifiers.Verify(pk); err != nil {
		t.Fatalf("honest verifiers rejected: %v", err)
	}

	_, otherPK := drbg.KeyPair()
	if err := verifiers.Verify(otherPK); err == nil {
		t.Error("verifiers for another key should not verify")
	}
}

func TestProofSerializationRoundTrip(t *testing.T) {
	drbg := testdata.New("rsk proof serialization")
	tr := newTranslator(drbg, rsk.PseudonymDomain, nil)
	_, pk := drbg.KeyPair()
	rand := drbg.Reader()

	pre, err := elgamal.Encrypt(pk, drbg.Point(), rand)
	if err != nil {
		t.Fatal(err)
	}
	factors, err := tr.Factors("Research Assessor")
	if err != nil {
		t.Fatal(err)
	}
	post, proof, err := tr.CertifiedRSK(pre, factors, rand)
	if err != nil {
		t.Fatal(err)
	}
	verifiers := tr.ProofVerifiers(factors, pre.Y)

	t.Run("proof", func(t *testing.T) {
		data, err := proof.AppendFields(nil)
		if err != nil {
			t.Fatal(err)
		}
		var back rsk.RSKProof
		if err := back.ParseFields(data); err != nil {
			t.Fatal(err)
		}
		if err := back.Verify(pre, post, verifiers); err != nil {
			t.Errorf("deserialized proof rejected: %v", err)
		}
	})

	t.Run("verifiers", func(t *testing.T) {
		data, err := verifiers.AppendFields(nil)
		if err != nil {
			t.Fatal(err)
		}
		var back rsk.RSKVerifiers
		if err := back.ParseFields(data); err != nil {
			t.Fatal(err)
		}
		if err := proof.Verify(pre, post, back); err != nil {
			t.Errorf("proof rejected against deserialized verifiers: %v", err)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		var back rsk.RSKProof
		if err := back.ParseFields([]byte{0x0a}); err == nil {
			t.Error("truncated proof should not parse")
		}
	})
}
