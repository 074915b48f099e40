package enrollment_test

import (
	"testing"
	"time"

	"github.com/pep-security/pepcore/auth"
	"github.com/pep-security/pepcore/curve"
	"github.com/pep-security/pepcore/enrollment"
	"github.com/pep-security/pepcore/internal/testdata"
	"github.com/pep-security/pepcore/internal/testpki"
	"github.com/pep-security/pepcore/rsk"
	"github.com/pep-security/pepcore/rskpep"
	"github.com/pep-security/pepcore/signed"
	"github.com/pep-security/pepcore/wire"
)

func translators(drbg *testdata.DRBG) (*rskpep.PseudonymTranslator, *rskpep.DataTranslator) {
	var pk rskpep.PseudonymTranslationKeys
	copy(pk.EncryptionKeyFactorSecret[:], drbg.Data(rsk.KeyFactorSecretBytes))
	copy(pk.PseudonymizationKeyFactorSecret[:], drbg.Data(rsk.KeyFactorSecretBytes))
	copy(pk.MasterPrivateKeyShare[:], drbg.Scalar().Bytes())

	var dk rskpep.DataTranslationKeys
	copy(dk.EncryptionKeyFactorSecret[:], drbg.Data(rsk.KeyFactorSecretBytes))
	copy(dk.MasterPrivateKeyShare[:], drbg.Scalar().Bytes())

	return rskpep.NewPseudonymTranslator(pk, nil), rskpep.NewDataTranslator(dk, nil)
}

func TestHandleKeyComponentRequest(t *testing.T) {
	drbg := testdata.New("enrollment handle")
	pt, dt := translators(drbg)
	ca := testpki.NewCA("PEP Test Root CA")
	now := time.Now()

	user := ca.Issue("assessor@study.example", auth.ResearchAssessor)
	req, err := signed.SealAt[enrollment.KeyComponentRequest](&enrollment.KeyComponentRequest{}, user, now)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := enrollment.HandleKeyComponentRequest(req, pt, dt, ca.Roots(), 0, now)
	if err != nil {
		t.Fatal(err)
	}

	// Components are the recipient's factor times this server's share, and stable.
	again, err := enrollment.HandleKeyComponentRequest(req, pt, dt, ca.Roots(), 0, now)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.PseudonymKeyComponent.Equal(again.PseudonymKeyComponent) ||
		!resp.DataKeyComponent.Equal(again.DataKeyComponent) {
		t.Error("key components must be stable per recipient")
	}

	wanted, err := pt.KeyComponent(auth.ResearchAssessor)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.PseudonymKeyComponent.Equal(wanted) {
		t.Error("component must be derived for the certificate's organizational unit")
	}

	t.Run("untrusted requester", func(t *testing.T) {
		rogue := testpki.NewCA("Rogue CA").Issue("intruder", auth.ResearchAssessor)
		req, err := signed.SealAt[enrollment.KeyComponentRequest](&enrollment.KeyComponentRequest{}, rogue, now)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := enrollment.HandleKeyComponentRequest(req, pt, dt, ca.Roots(), 0, now); err == nil {
			t.Error("untrusted chain must not be issued key components")
		}
	})
}

func TestAssembleKey(t *testing.T) {
	drbg := testdata.New("enrollment assemble")
	a := drbg.Scalar()
	b := drbg.Scalar()
	c := drbg.Scalar()

	if got, want := enrollment.AssembleKey(a, b, c), a.Mul(b).Mul(c); !got.Equal(want) {
		t.Error("assembled key must be the product of all components")
	}
	if got := enrollment.AssembleKey(); !got.Equal(curve.OneScalar()) {
		t.Error("empty assembly must be the multiplicative identity")
	}
}

func TestKeyComponentResponseRoundTrip(t *testing.T) {
	drbg := testdata.New("enrollment serialization")
	in := &enrollment.KeyComponentResponse{
		PseudonymKeyComponent: drbg.Scalar(),
		DataKeyComponent:      drbg.Scalar(),
	}
	data, err := wire.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}

	var out enrollment.KeyComponentResponse
	if err := wire.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if !out.PseudonymKeyComponent.Equal(in.PseudonymKeyComponent) ||
		!out.DataKeyComponent.Equal(in.DataKeyComponent) {
		t.Error("round trip changed the components")
	}
}
