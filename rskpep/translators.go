package rskpep

import (
	"io"

	"github.com/pep-security/pepcore/curve"
	"github.com/pep-security/pepcore/elgamal"
	"github.com/pep-security/pepcore/rsk"
)

// PseudonymTranslationKeys is the pseudonym-domain key material a translating server
// loads at startup. Secrets are never logged.
type PseudonymTranslationKeys struct {
	// EncryptionKeyFactorSecret derives per-recipient rekey factors
	// (PseudonymsRekeyLocal).
	EncryptionKeyFactorSecret rsk.KeyFactorSecret

	// PseudonymizationKeyFactorSecret derives per-recipient reshuffle factors
	// (PseudonymsReshuffleLocal).
	PseudonymizationKeyFactorSecret rsk.KeyFactorSecret

	// MasterPrivateKeyShare is this server's share of the pseudonym-domain master
	// private key (MasterPrivateKeySharePseudonyms).
	MasterPrivateKeyShare rsk.MasterKeyShare
}

// DataTranslationKeys is the data-domain equivalent.
type DataTranslationKeys struct {
	// EncryptionKeyFactorSecret derives per-recipient rekey factors (DataRekeyLocal).
	EncryptionKeyFactorSecret rsk.KeyFactorSecret

	// BlindingKeySecret derives per-object blinding keys (DataBlinding). Only the
	// Access Manager holds one.
	BlindingKeySecret *rsk.KeyFactorSecret

	// MasterPrivateKeyShare is this server's share of the data-domain master private
	// key (MasterPrivateKeyShareData).
	MasterPrivateKeyShare rsk.MasterKeyShare
}

// PseudonymTranslator applies one server's reshuffle-rekey step to encrypted
// pseudonyms and issues this server's pseudonym key components.
type PseudonymTranslator struct {
	rsk   *rsk.Translator
	share rsk.MasterKeyShare
}

// NewPseudonymTranslator creates the translator for this server's pseudonym-domain
// keys. The cache is optional.
func NewPseudonymTranslator(keys PseudonymTranslationKeys, cache *rsk.Cache) *PseudonymTranslator {
	reshuffle := keys.PseudonymizationKeyFactorSecret
	return &PseudonymTranslator{
		rsk: rsk.NewTranslator(rsk.Keys{
			Domain:    rsk.PseudonymDomain,
			Reshuffle: &reshuffle,
			Rekey:     keys.EncryptionKeyFactorSecret,
		}, cache),
		share: keys.MasterPrivateKeyShare,
	}
}

// TranslateStep applies this server's translation step without a proof.
func (t *PseudonymTranslator) TranslateStep(pseudonym EncryptedPseudonym, recipient string, rand io.Reader) (EncryptedLocalPseudonym, error) {
	factors, err := t.rsk.Factors(recipient)
	if err != nil {
		return EncryptedLocalPseudonym{}, err
	}
	out, err := t.rsk.RSK(pseudonym.Ciphertext(), factors, rand)
	if err != nil {
		return EncryptedLocalPseudonym{}, err
	}
	return EncryptedLocalPseudonym{c: out}, nil
}

// CertifiedTranslateStep applies this server's translation step and proves it.
func (t *PseudonymTranslator) CertifiedTranslateStep(pseudonym EncryptedPseudonym, recipient string, rand io.Reader) (EncryptedLocalPseudonym, *rsk.RSKProof, error) {
	factors, err := t.rsk.Factors(recipient)
	if err != nil {
		return EncryptedLocalPseudonym{}, nil, err
	}
	out, proof, err := t.rsk.CertifiedRSK(pseudonym.Ciphertext(), factors, rand)
	if err != nil {
		return EncryptedLocalPseudonym{}, nil, err
	}
	return EncryptedLocalPseudonym{c: out}, proof, nil
}

// TranslationProofVerifiers computes the public data for verifying this server's
// translation proofs for the given recipient. Valid for translations whose input is
// encrypted under y; for the first pipeline step that is the master public key.
func (t *PseudonymTranslator) TranslationProofVerifiers(recipient string, y *elgamal.PublicKey) (rsk.RSKVerifiers, error) {
	factors, err := t.rsk.Factors(recipient)
	if err != nil {
		return rsk.RSKVerifiers{}, err
	}
	return t.rsk.ProofVerifiers(factors, y), nil
}

// CheckTranslationProof verifies another party's translation proof.
func (t *PseudonymTranslator) CheckTranslationProof(pre EncryptedPseudonym, post EncryptedLocalPseudonym, proof *rsk.RSKProof, verifiers rsk.RSKVerifiers) error {
	return proof.Verify(pre.Ciphertext(), post.Ciphertext(), verifiers)
}

// KeyComponent issues this server's pseudonym key component for the recipient.
func (t *PseudonymTranslator) KeyComponent(recipient string) (*curve.Scalar, error) {
	return t.rsk.KeyComponent(t.rsk.RekeyFactor(recipient), t.share)
}

// DataTranslator applies one server's rekey step to encrypted data keys, blinds and
// unblinds them, and issues this server's data key components. Data keys are never
// reshuffled: the plaintext is a symmetric key, and scaling it would destroy it.
type DataTranslator struct {
	rsk   *rsk.Translator
	share rsk.MasterKeyShare
}

// NewDataTranslator creates the translator for this server's data-domain keys. The
// cache is optional.
func NewDataTranslator(keys DataTranslationKeys, cache *rsk.Cache) *DataTranslator {
	return &DataTranslator{
		rsk: rsk.NewTranslator(rsk.Keys{
			Domain:    rsk.DataDomain,
			Reshuffle: keys.BlindingKeySecret,
			Rekey:     keys.EncryptionKeyFactorSecret,
		}, cache),
		share: keys.MasterPrivateKeyShare,
	}
}

// Blind scales an encrypted data key by the blinding key for the object's additional
// data. Only the Access Manager, which holds the blinding secret, can blind.
// invertBlindKey selects which of the blinding and unblinding keys is the inverse; the
// choice is recorded per object and must be read back from the object's metadata, not
// assumed.
func (t *DataTranslator) Blind(unblinded elgamal.Ciphertext, addData []byte, invertBlindKey bool) (elgamal.Ciphertext, error) {
	key, err := t.rsk.BlindingKey(true, addData, invertBlindKey)
	if err != nil {
		return elgamal.Ciphertext{}, err
	}
	return t.rsk.RS(unblinded, key), nil
}

// UnblindAndTranslate removes the blinding for the object's additional data and applies
// this server's rekey step in one pass.
func (t *DataTranslator) UnblindAndTranslate(blinded elgamal.Ciphertext, addData []byte, invertBlindKey bool, recipient string, rand io.Reader) (elgamal.Ciphertext, error) {
	key, err := t.rsk.BlindingKey(false, addData, invertBlindKey)
	if err != nil {
		return elgamal.Ciphertext{}, err
	}
	return t.rsk.RSK(blinded, rsk.KeyFactors{
		Reshuffle: key,
		Rekey:     t.rsk.RekeyFactor(recipient),
	}, rand)
}

// TranslateStep applies this server's rekey step without unblinding.
func (t *DataTranslator) TranslateStep(encrypted elgamal.Ciphertext, recipient string, rand io.Reader) (elgamal.Ciphertext, error) {
	return t.rsk.RK(encrypted, t.rsk.RekeyFactor(recipient), rand)
}

// KeyComponent issues this server's data key component for the recipient.
func (t *DataTranslator) KeyComponent(recipient string) (*curve.Scalar, error) {
	return t.rsk.KeyComponent(t.rsk.RekeyFactor(recipient), t.share)
}
