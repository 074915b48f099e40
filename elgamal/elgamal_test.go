package elgamal_test

import (
	"testing"

	"github.com/pep-security/pepcore/curve"
	"github.com/pep-security/pepcore/elgamal"
	"github.com/pep-security/pepcore/internal/testdata"
)

func TestEncryptDecrypt(t *testing.T) {
	drbg := testdata.New("elgamal encrypt decrypt")
	sk, pk := drbg.KeyPair()
	m := drbg.Point()

	c, err := elgamal.Encrypt(pk, m, drbg.Reader())
	if err != nil {
		t.Fatal(err)
	}

	if got := c.Decrypt(sk); !got.Equal(m) {
		t.Errorf("Decrypt = %s, want %s", got.Text(), m.Text())
	}
}

func TestEncryptIsRandomized(t *testing.T) {
	drbg := testdata.New("elgamal randomized")
	_, pk := drbg.KeyPair()
	m := drbg.Point()
	rand := drbg.Reader()

	c1, err := elgamal.Encrypt(pk, m, rand)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := elgamal.Encrypt(pk, m, rand)
	if err != nil {
		t.Fatal(err)
	}

	if c1.Equal(c2) {
		t.Error("two encryptions of the same message should differ")
	}
}

func TestEncryptRejectsIdentityKey(t *testing.T) {
	drbg := testdata.New("elgamal identity key")
	m := drbg.Point()

	if _, err := elgamal.Encrypt(curve.IdentityPoint(), m, drbg.Reader()); err == nil {
		t.Error("should have rejected the neutral element as a public key")
	}
}

func TestRerandomize(t *testing.T) {
	drbg := testdata.New("elgamal rerandomize")
	sk, pk := drbg.KeyPair()
	m := drbg.Point()
	rand := drbg.Reader()

	c, err := elgamal.Encrypt(pk, m, rand)
	if err != nil {
		t.Fatal(err)
	}
	r, err := c.Rerandomize(rand)
	if err != nil {
		t.Fatal(err)
	}

	if r.Equal(c) {
		t.Error("rerandomization should change the triple")
	}
	if got := r.Decrypt(sk); !got.Equal(m) {
		t.Errorf("Decrypt(rerandomized) = %s, want %s", got.Text(), m.Text())
	}
}

func TestRekey(t *testing.T) {
	drbg := testdata.New("elgamal rekey")
	sk, pk := drbg.KeyPair()
	m := drbg.Point()
	k := drbg.Scalar()

	c, err := elgamal.Encrypt(pk, m, drbg.Reader())
	if err != nil {
		t.Fatal(err)
	}
	rk := c.Rekey(k)

	if got, want := rk.Y, pk.Mul(k); !got.Equal(want) {
		t.Errorf("rekeyed Y = %s, want %s", got.Text(), want.Text())
	}
	if got := rk.Decrypt(sk.Mul(k)); !got.Equal(m) {
		t.Errorf("Decrypt under k·sk = %s, want %s", got.Text(), m.Text())
	}
}

func TestReshuffle(t *testing.T) {
	drbg := testdata.New("elgamal reshuffle")
	sk, pk := drbg.KeyPair()
	m := drbg.Point()
	s := drbg.Scalar()

	c, err := elgamal.Encrypt(pk, m, drbg.Reader())
	if err != nil {
		t.Fatal(err)
	}

	if got, want := c.Reshuffle(s).Decrypt(sk), m.Mul(s); !got.Equal(want) {
		t.Errorf("Decrypt(reshuffled) = %s, want s·m = %s", got.Text(), want.Text())
	}
}

func TestRSKMatchesComposition(t *testing.T) {
	drbg := testdata.New("elgamal rsk composition")
	sk, pk := drbg.KeyPair()
	m := drbg.Point()
	s := drbg.Scalar()
	k := drbg.Scalar()
	rand := drbg.Reader()

	c, err := elgamal.Encrypt(pk, m, rand)
	if err != nil {
		t.Fatal(err)
	}

	out, err := c.RSK(s, k, rand)
	if err != nil {
		t.Fatal(err)
	}

	// The composed form: reshuffle(rerandomize(rekey(c, k)), s). RSK draws different
	// randomness, so compare decryptions rather than triples.
	composed, err := c.Rekey(k).Rerandomize(rand)
	if err != nil {
		t.Fatal(err)
	}
	composed = composed.Reshuffle(s)

	skk := sk.Mul(k)
	if got, want := out.Decrypt(skk), composed.Decrypt(skk); !got.Equal(want) {
		t.Errorf("RSK decrypts to %s, composition to %s", got.Text(), want.Text())
	}
	if got, want := out.Decrypt(skk), m.Mul(s); !got.Equal(want) {
		t.Errorf("RSK decrypts to %s, want s·m = %s", got.Text(), want.Text())
	}
	if got, want := out.Y, composed.Y; !got.Equal(want) {
		t.Errorf("RSK Y = %s, want %s", got.Text(), want.Text())
	}
}

func TestPackRoundTrip(t *testing.T) {
	drbg := testdata.New("elgamal pack")
	_, pk := drbg.KeyPair()
	m := drbg.Point()

	c, err := elgamal.Encrypt(pk, m, drbg.Reader())
	if err != nil {
		t.Fatal(err)
	}

	t.Run("packed", func(t *testing.T) {
		back, err := elgamal.FromPacked(c.Pack())
		if err != nil {
			t.Fatal(err)
		}
		if !back.Equal(c) {
			t.Error("FromPacked(Pack()) differs from original")
		}
	})

	t.Run("text", func(t *testing.T) {
		back, err := elgamal.FromText(c.Text())
		if err != nil {
			t.Fatal(err)
		}
		if !back.Equal(c) {
			t.Error("FromText(Text()) differs from original")
		}
	})

	t.Run("zero public key rejected", func(t *testing.T) {
		bad := append(append(c.B.Bytes(), c.C.Bytes()...), curve.IdentityPoint().Bytes()...)
		if _, err := elgamal.FromPacked(bad); err == nil {
			t.Error("should have rejected a packed triple with identity Y")
		}
	})
}
