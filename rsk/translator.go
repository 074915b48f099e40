// Package rsk implements the Reshuffle-Rekey transform family that rewrites ElGamal
// ciphertexts per recipient, the HMAC-based derivation of per-recipient key factors, the
// zero-knowledge proofs that a translation step was performed honestly, and the bounded
// cache of precomputed multiplication tables that speeds up translation batches.
//
// A translating server constructs one [Translator] per key domain at startup and keeps
// it for the process lifetime. All methods are safe for concurrent use; the key material
// is never mutated after construction.
package rsk

import (
	"crypto/hmac"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"

	"github.com/pep-security/pepcore/curve"
	"github.com/pep-security/pepcore/elgamal"
)

// KeyFactorSecretBytes is the length of a key-factor secret.
const KeyFactorSecretBytes = 64

// MasterKeyShareBytes is the length of a master private key share.
const MasterKeyShareBytes = 32

// KeyDomain separates the pseudonym and data key universes. The tag byte enters every
// factor derivation, so a recipient's pseudonym factors and data factors are unrelated.
type KeyDomain byte

const (
	// PseudonymDomain is the key domain of the pseudonym pipeline.
	PseudonymDomain KeyDomain = 0
	// DataDomain is the key domain of the data-key pipeline.
	DataDomain KeyDomain = 1
)

// KeyFactorSecret is a server-held secret from which per-recipient factors are derived.
type KeyFactorSecret [KeyFactorSecretBytes]byte

// MasterKeyShare is one server's share of a domain's master private key. The master
// private key is the product of all shares.
type MasterKeyShare [MasterKeyShareBytes]byte

// Scalar parses the share as a packed scalar.
func (s MasterKeyShare) Scalar() (*curve.Scalar, error) {
	return curve.ParseScalar(s[:])
}

// KeyFactors holds the two per-recipient factors of a translation step.
type KeyFactors struct {
	Reshuffle *curve.Scalar
	Rekey     *curve.Scalar
}

// Keys is the key material of one translator.
type Keys struct {
	Domain KeyDomain

	// Reshuffle is the secret behind reshuffle factors (pseudonym domain) or blinding
	// keys (data domain). Nil when the server performs no reshuffling.
	Reshuffle *KeyFactorSecret

	// Rekey is the secret behind rekey factors.
	Rekey KeyFactorSecret
}

// ErrNoReshuffleSecret is returned when a reshuffle or blinding operation is requested
// from a translator that was not configured with a reshuffle secret.
var ErrNoReshuffleSecret = errors.New("rsk: reshuffle secret not configured")

// Translator applies recipient-keyed transforms to ElGamal ciphertexts.
type Translator struct {
	keys  Keys
	cache *Cache
}

// NewTranslator creates a translator over the given keys. The cache is optional; when
// non-nil it is consulted for per-public-key multiplication tables.
func NewTranslator(keys Keys, cache *Cache) *Translator {
	return &Translator{keys: keys, cache: cache}
}

// Domain returns the translator's key domain.
func (t *Translator) Domain() KeyDomain {
	return t.keys.Domain
}

// deriveFactor computes reduce(HMAC-SHA512(secret, domain ‖ recipient)). The secret
// selects the factor kind; the domain tag keeps pseudonym and data factors unrelated
// even if the same secret were configured for both.
func (t *Translator) deriveFactor(secret *KeyFactorSecret, recipient string) *curve.Scalar {
	mac := hmac.New(sha512.New, secret[:])
	mac.Write([]byte{byte(t.keys.Domain)})
	mac.Write([]byte(recipient))
	s, err := curve.ScalarFromUniform(mac.Sum(nil))
	if err != nil {
		panic(fmt.Sprintf("rsk: HMAC output rejected: %v", err))
	}
	return s
}

// RekeyFactor derives the recipient's rekey factor.
func (t *Translator) RekeyFactor(recipient string) *curve.Scalar {
	return t.deriveFactor(&t.keys.Rekey, recipient)
}

// ReshuffleFactor derives the recipient's reshuffle factor.
func (t *Translator) ReshuffleFactor(recipient string) (*curve.Scalar, error) {
	if t.keys.Reshuffle == nil {
		return nil, ErrNoReshuffleSecret
	}
	return t.deriveFactor(t.keys.Reshuffle, recipient), nil
}

// Factors derives both factors for a full translation step.
func (t *Translator) Factors(recipient string) (KeyFactors, error) {
	s, err := t.ReshuffleFactor(recipient)
	if err != nil {
		return KeyFactors{}, err
	}
	return KeyFactors{Reshuffle: s, Rekey: t.RekeyFactor(recipient)}, nil
}

// BlindingKey derives a data-domain blinding factor from per-object additional data.
// Which of the blinding and unblinding keys is inverted is a per-object choice recorded
// in the object's metadata (the legacy encoding inverts the unblinding key).
func (t *Translator) BlindingKey(blind bool, addData []byte, invertBlindKey bool) (*curve.Scalar, error) {
	if t.keys.Reshuffle == nil {
		return nil, ErrNoReshuffleSecret
	}
	mac := hmac.New(sha512.New, t.keys.Reshuffle[:])
	mac.Write(addData)
	key, err := curve.ScalarFromUniform(mac.Sum(nil))
	if err != nil {
		panic(fmt.Sprintf("rsk: HMAC output rejected: %v", err))
	}
	if invertBlindKey == blind {
		key = key.Invert()
	}
	return key, nil
}

// mulY multiplies the given public key by a scalar, through the table cache when one is
// configured.
func (t *Translator) mulY(y *curve.Point, s *curve.Scalar) *curve.Point {
	if t.cache == nil {
		return y.Mul(s)
	}
	return t.cache.Table(y).VarTimeMul(s)
}

// rskWith is the shared transform core: B' = k⁻¹·(s·B + r·G), C' = s·C + r·Y, Y' = k·Y.
func (t *Translator) rskWith(c elgamal.Ciphertext, f KeyFactors, r *curve.Scalar) elgamal.Ciphertext {
	if t.cache != nil {
		t.cache.countTransform()
	}
	return elgamal.Ciphertext{
		B: c.B.Mul(f.Reshuffle).Add(curve.BaseMult(r)).Mul(f.Rekey.Invert()),
		C: c.C.Mul(f.Reshuffle).Add(t.mulY(c.Y, r)),
		Y: c.Y.Mul(f.Rekey),
	}
}

// RSK applies the full reshuffle-rekey transform with fresh rerandomization.
func (t *Translator) RSK(c elgamal.Ciphertext, f KeyFactors, rand io.Reader) (elgamal.Ciphertext, error) {
	r, err := curve.RandomScalar(rand)
	if err != nil {
		return elgamal.Ciphertext{}, err
	}
	return t.rskWith(c, f, r), nil
}

// CertifiedRSK applies the full transform and proves it against the verifiers for the
// same factors.
func (t *Translator) CertifiedRSK(c elgamal.Ciphertext, f KeyFactors, rand io.Reader) (elgamal.Ciphertext, *RSKProof, error) {
	r, err := curve.RandomScalar(rand)
	if err != nil {
		return elgamal.Ciphertext{}, nil, err
	}
	out := t.rskWith(c, f, r)
	proof, err := proveRSK(c, out, f, r, rand)
	if err != nil {
		return elgamal.Ciphertext{}, nil, err
	}
	return out, proof, nil
}

// RK applies rerandomize-and-rekey without reshuffling (the data translation step).
func (t *Translator) RK(c elgamal.Ciphertext, k *curve.Scalar, rand io.Reader) (elgamal.Ciphertext, error) {
	r, err := curve.RandomScalar(rand)
	if err != nil {
		return elgamal.Ciphertext{}, err
	}
	return t.rskWith(c, KeyFactors{Reshuffle: curve.OneScalar(), Rekey: k}, r), nil
}

// RS reshuffles without rekeying or rerandomizing (key blinding).
func (t *Translator) RS(c elgamal.Ciphertext, s *curve.Scalar) elgamal.Ciphertext {
	return c.Reshuffle(s)
}

// Rerandomize refreshes a ciphertext through the table cache.
func (t *Translator) Rerandomize(c elgamal.Ciphertext, rand io.Reader) (elgamal.Ciphertext, error) {
	r, err := curve.RandomScalar(rand)
	if err != nil {
		return elgamal.Ciphertext{}, err
	}
	return elgamal.Ciphertext{
		B: c.B.Add(curve.BaseMult(r)),
		C: c.C.Add(t.mulY(c.Y, r)),
		Y: c.Y,
	}, nil
}

// KeyComponent computes this server's contribution share·factor to the recipient's
// private key. The client multiplies the components of all servers to assemble the key.
func (t *Translator) KeyComponent(factor *curve.Scalar, share MasterKeyShare) (*curve.Scalar, error) {
	s, err := share.Scalar()
	if err != nil {
		return nil, fmt.Errorf("rsk: master key share: %w", err)
	}
	return s.Mul(factor), nil
}

// ProofVerifiers computes the public verifier points for translations by the recipient
// whose factors these are, relative to the public key the inputs are encrypted against.
func (t *Translator) ProofVerifiers(f KeyFactors, y *elgamal.PublicKey) RSKVerifiers {
	return computeVerifiers(f, y)
}
