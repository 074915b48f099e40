package curve_test

import (
	"bytes"
	"testing"

	"github.com/pep-security/pepcore/curve"
	"github.com/pep-security/pepcore/internal/testdata"
)

func TestScalarArithmetic(t *testing.T) {
	drbg := testdata.New("curve scalar arithmetic")
	a := drbg.Scalar()
	b := drbg.Scalar()

	t.Run("add/sub", func(t *testing.T) {
		if got, want := a.Add(b).Sub(b), a; !got.Equal(want) {
			t.Errorf("(a+b)-b = %s, want %s", got.Text(), want.Text())
		}
	})

	t.Run("mul/invert", func(t *testing.T) {
		if got, want := a.Mul(b).Mul(b.Invert()), a; !got.Equal(want) {
			t.Errorf("(a*b)*b⁻¹ = %s, want %s", got.Text(), want.Text())
		}
	})

	t.Run("one", func(t *testing.T) {
		if got, want := a.Mul(curve.OneScalar()), a; !got.Equal(want) {
			t.Errorf("a*1 = %s, want %s", got.Text(), want.Text())
		}
	})

	t.Run("square", func(t *testing.T) {
		if got, want := a.Square(), a.Mul(a); !got.Equal(want) {
			t.Errorf("a² = %s, want %s", got.Text(), want.Text())
		}
	})

	t.Run("neg", func(t *testing.T) {
		if got, want := a.Add(a.Neg()), curve.ZeroScalar(); !got.Equal(want) {
			t.Errorf("a+(-a) = %s, want zero", got.Text())
		}
	})
}

func TestScalarRoundTrip(t *testing.T) {
	drbg := testdata.New("curve scalar round trip")
	a := drbg.Scalar()

	parsed, err := curve.ParseScalar(a.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if !parsed.Equal(a) {
		t.Errorf("ParseScalar(a.Bytes()) = %s, want %s", parsed.Text(), a.Text())
	}

	fromText, err := curve.ScalarFromText(a.Text())
	if err != nil {
		t.Fatal(err)
	}
	if !fromText.Equal(a) {
		t.Errorf("ScalarFromText(a.Text()) = %s, want %s", fromText.Text(), a.Text())
	}
}

func TestParseScalarRejectsNonCanonical(t *testing.T) {
	// The group order minus one is canonical; all-0xff exceeds the order.
	bad := bytes.Repeat([]byte{0xff}, curve.PackedBytes)
	if _, err := curve.ParseScalar(bad); err == nil {
		t.Error("should have rejected a non-canonical scalar")
	}
	if _, err := curve.ParseScalar([]byte{1, 2, 3}); err == nil {
		t.Error("should have rejected a short encoding")
	}
}

func TestPointArithmetic(t *testing.T) {
	drbg := testdata.New("curve point arithmetic")
	a := drbg.Scalar()
	b := drbg.Scalar()
	p := drbg.Point()

	t.Run("base mult distributes", func(t *testing.T) {
		if got, want := curve.BaseMult(a).Add(curve.BaseMult(b)), curve.BaseMult(a.Add(b)); !got.Equal(want) {
			t.Errorf("aG+bG = %s, want (a+b)G = %s", got.Text(), want.Text())
		}
	})

	t.Run("mul associates", func(t *testing.T) {
		if got, want := p.Mul(a).Mul(b), p.Mul(a.Mul(b)); !got.Equal(want) {
			t.Errorf("b(aP) = %s, want (ab)P = %s", got.Text(), want.Text())
		}
	})

	t.Run("neg", func(t *testing.T) {
		if got := p.Add(p.Neg()); !got.IsIdentity() {
			t.Errorf("P+(-P) = %s, want identity", got.Text())
		}
	})

	t.Run("sub", func(t *testing.T) {
		if got, want := p.Add(p).Sub(p), p; !got.Equal(want) {
			t.Errorf("(P+P)-P = %s, want %s", got.Text(), want.Text())
		}
	})
}

func TestPointParsing(t *testing.T) {
	drbg := testdata.New("curve point parsing")
	p := drbg.Point()

	t.Run("round trip", func(t *testing.T) {
		parsed, err := curve.ParsePoint(p.Bytes())
		if err != nil {
			t.Fatal(err)
		}
		if !parsed.Equal(p) {
			t.Errorf("ParsePoint(p.Bytes()) = %s, want %s", parsed.Text(), p.Text())
		}
	})

	t.Run("non-canonical rejected", func(t *testing.T) {
		if _, err := curve.ParsePoint(bytes.Repeat([]byte{0xff}, curve.PackedBytes)); err == nil {
			t.Error("should have rejected a non-canonical point")
		}
	})

	t.Run("identity rejected for nonzero roles", func(t *testing.T) {
		if _, err := curve.ParseNonzeroPoint(curve.IdentityPoint().Bytes()); err == nil {
			t.Error("should have rejected the neutral element")
		}
		if _, err := curve.ParseNonzeroPoint(p.Bytes()); err != nil {
			t.Errorf("rejected a valid nonzero point: %v", err)
		}
	})
}

func TestVarTimeDoubleBaseMult(t *testing.T) {
	drbg := testdata.New("curve double base mult")
	a := drbg.Scalar()
	b := drbg.Scalar()
	p := drbg.Point()

	if got, want := p.VarTimeDoubleBaseMult(a, b), p.Mul(a).Add(curve.BaseMult(b)); !got.Equal(want) {
		t.Errorf("aP+bG = %s, want %s", got.Text(), want.Text())
	}
}

func TestTable(t *testing.T) {
	drbg := testdata.New("curve table")
	p := drbg.Point()
	table := curve.NewTable(p)

	for i := 0; i < 8; i++ {
		s := drbg.Scalar()
		if got, want := table.VarTimeMul(s), p.Mul(s); !got.Equal(want) {
			t.Fatalf("table mult %d = %s, want %s", i, got.Text(), want.Text())
		}
	}

	t.Run("zero scalar", func(t *testing.T) {
		if got := table.VarTimeMul(curve.ZeroScalar()); !got.IsIdentity() {
			t.Errorf("0·P = %s, want identity", got.Text())
		}
	})

	t.Run("one scalar", func(t *testing.T) {
		if got := table.VarTimeMul(curve.OneScalar()); !got.Equal(p) {
			t.Errorf("1·P = %s, want %s", got.Text(), p.Text())
		}
	})
}
