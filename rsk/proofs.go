package rsk

import (
	"io"

	"github.com/pep-security/pepcore/curve"
	"github.com/pep-security/pepcore/elgamal"
	"github.com/pep-security/pepcore/transcript"
	"github.com/pep-security/pepcore/wire"
)

const (
	scalarMultProofDomain = "pep.rsk.scalar-mult-proof"
	verifiersDomain       = "pep.rsk.verifiers"
)

// InvalidProofError reports a translation proof that failed verification. It indicates
// a malicious or buggy peer; callers must not retry.
type InvalidProofError struct {
	Description string
}

func (e *InvalidProofError) Error() string {
	return "rsk: invalid proof: " + e.Description
}

// WireTypeName implements [wire.TypedError].
func (e *InvalidProofError) WireTypeName() string { return "InvalidProof" }

func init() {
	wire.RegisterErrorType("InvalidProof", func(description string) error {
		return &InvalidProofError{Description: description}
	})
}

func invalidProof(description string) error {
	return &InvalidProofError{Description: description}
}

// ScalarMultProof is a Chaum-Pedersen proof of knowledge of a scalar x with A = x·G and
// N = x·M, without revealing x.
type ScalarMultProof struct {
	// TG and TM are the prover's commitments w·G and w·M.
	TG, TM *curve.Point
	// Z is the response w + c·x for the challenge c.
	Z *curve.Scalar
}

// CreateScalarMultProof proves A = x·G ∧ N = x·M for a known x.
func CreateScalarMultProof(a, m, n *curve.Point, x *curve.Scalar, rand io.Reader) (ScalarMultProof, error) {
	w, err := curve.RandomScalar(rand)
	if err != nil {
		return ScalarMultProof{}, err
	}
	tg := curve.BaseMult(w)
	tm := m.Mul(w)
	c := scalarMultChallenge(a, m, n, tg, tm)
	return ScalarMultProof{TG: tg, TM: tm, Z: w.Add(c.Mul(x))}, nil
}

// Verify checks the proof against the public points. Returns an [InvalidProofError] on
// failure.
func (p ScalarMultProof) Verify(a, m, n *curve.Point) error {
	c := scalarMultChallenge(a, m, n, p.TG, p.TM)
	// z·G = TG + c·A and z·M = TM + c·N.
	if !curve.BaseMult(p.Z).Equal(p.TG.Add(a.Mul(c))) {
		return invalidProof("base commitment mismatch")
	}
	if !m.Mul(p.Z).Equal(p.TM.Add(n.Mul(c))) {
		return invalidProof("point commitment mismatch")
	}
	return nil
}

func scalarMultChallenge(a, m, n, tg, tm *curve.Point) *curve.Scalar {
	t := transcript.New(scalarMultProofDomain)
	t.MixPoint("a", a)
	t.MixPoint("m", m)
	t.MixPoint("n", n)
	t.MixPoint("tg", tg)
	t.MixPoint("tm", tm)
	return t.DeriveScalar("challenge")
}

// RSKVerifiers are the public per-recipient points a proof is checked against:
// S = s·G, K = k·G, and KInvY = k⁻¹·Y for the public key Y of the pipeline stage the
// recipient's translations start from. They are computed once by the translating server
// and reused for every translation by the same recipient.
type RSKVerifiers struct {
	S, K, KInvY *curve.Point

	// Consistency proves that K and KInvY were derived from the same rekey factor,
	// letting holders of Y check the announced verifiers before trusting them.
	Consistency ScalarMultProof
}

func computeVerifiers(f KeyFactors, y *curve.Point) RSKVerifiers {
	kInvY := y.Mul(f.Rekey.Invert())
	// The consistency proof is deterministic on purpose: verifiers for a recipient are
	// stable across requests, so the commitment randomness is derived from the factors.
	t := transcript.New(verifiersDomain)
	t.Mix("k", f.Rekey.Bytes())
	t.MixPoint("y", y)
	w := t.DeriveScalar("commitment")
	tg := curve.BaseMult(w)
	tm := kInvY.Mul(w)
	k := curve.BaseMult(f.Rekey)
	c := scalarMultChallenge(k, kInvY, y, tg, tm)
	return RSKVerifiers{
		S:           curve.BaseMult(f.Reshuffle),
		K:           k,
		KInvY:       kInvY,
		Consistency: ScalarMultProof{TG: tg, TM: tm, Z: w.Add(c.Mul(f.Rekey))},
	}
}

// Verify checks that the verifier points are internally consistent for translations of
// ciphertexts under the public key y: K = k·G and KInvY = k⁻¹·y for one and the same k.
func (v RSKVerifiers) Verify(y *elgamal.PublicKey) error {
	// K = k·G ∧ y = k·KInvY.
	if err := v.Consistency.Verify(v.K, v.KInvY, y); err != nil {
		return invalidProof("verifier points inconsistent")
	}
	return nil
}

// RSKProof proves that a ciphertext pair (pre, post) is related by the reshuffle-rekey
// transform with the factors behind a set of [RSKVerifiers], without revealing the
// factors or the rerandomization.
//
// The transform B' = k⁻¹·(s·B + r·G), C' = s·C + r·Y, Y' = k·Y is decomposed around the
// published intermediates SB = s·B, SC = s·C, and RG = r·G; each arrow is a
// [ScalarMultProof].
type RSKProof struct {
	SB, SC, RG *curve.Point

	ReshuffleB ScalarMultProof // S = s·G ∧ SB = s·B
	ReshuffleC ScalarMultProof // S = s·G ∧ SC = s·C
	Rerand     ScalarMultProof // RG = r·G ∧ C' − SC = r·Y
	RekeyB     ScalarMultProof // K = k·G ∧ SB + RG = k·B'
	RekeyY     ScalarMultProof // K = k·G ∧ Y' = k·Y
}

func proveRSK(pre, post elgamal.Ciphertext, f KeyFactors, r *curve.Scalar, rand io.Reader) (*RSKProof, error) {
	sb := pre.B.Mul(f.Reshuffle)
	sc := pre.C.Mul(f.Reshuffle)
	rg := curve.BaseMult(r)

	reshuffleB, err := CreateScalarMultProof(curve.BaseMult(f.Reshuffle), pre.B, sb, f.Reshuffle, rand)
	if err != nil {
		return nil, err
	}
	reshuffleC, err := CreateScalarMultProof(curve.BaseMult(f.Reshuffle), pre.C, sc, f.Reshuffle, rand)
	if err != nil {
		return nil, err
	}
	rerand, err := CreateScalarMultProof(rg, pre.Y, post.C.Sub(sc), r, rand)
	if err != nil {
		return nil, err
	}
	rekeyB, err := CreateScalarMultProof(curve.BaseMult(f.Rekey), post.B, sb.Add(rg), f.Rekey, rand)
	if err != nil {
		return nil, err
	}
	rekeyY, err := CreateScalarMultProof(curve.BaseMult(f.Rekey), pre.Y, post.Y, f.Rekey, rand)
	if err != nil {
		return nil, err
	}

	return &RSKProof{
		SB:         sb,
		SC:         sc,
		RG:         rg,
		ReshuffleB: reshuffleB,
		ReshuffleC: reshuffleC,
		Rerand:     rerand,
		RekeyB:     rekeyB,
		RekeyY:     rekeyY,
	}, nil
}

// Verify checks the proof for the ciphertext pair against the recipient's verifiers.
// Returns an [InvalidProofError] on failure.
func (p *RSKProof) Verify(pre, post elgamal.Ciphertext, v RSKVerifiers) error {
	if err := p.ReshuffleB.Verify(v.S, pre.B, p.SB); err != nil {
		return invalidProof("reshuffle of b")
	}
	if err := p.ReshuffleC.Verify(v.S, pre.C, p.SC); err != nil {
		return invalidProof("reshuffle of c")
	}
	if err := p.Rerand.Verify(p.RG, pre.Y, post.C.Sub(p.SC)); err != nil {
		return invalidProof("rerandomization")
	}
	if err := p.RekeyB.Verify(v.K, post.B, p.SB.Add(p.RG)); err != nil {
		return invalidProof("rekey of b")
	}
	if err := p.RekeyY.Verify(v.K, pre.Y, post.Y); err != nil {
		return invalidProof("rekey of y")
	}
	return nil
}
