// Package rskpep binds the generic reshuffle-rekey machinery to the PEP key domains:
// pseudonym translation (reshuffle + rekey, with proofs) and data-key translation
// (rekey with optional blinding). It also defines the pseudonym value types that flow
// through the ticketing protocol.
package rskpep

import (
	"io"

	"github.com/pep-security/pepcore/curve"
	"github.com/pep-security/pepcore/elgamal"
	"github.com/pep-security/pepcore/transcript"
)

// identifierDomain separates hashing of subject identifiers from every other use of
// hash-to-point.
const identifierDomain = "pep.rskpep.identifier"

// LocalPseudonym is the per-party pseudonym point a recipient sees after decryption.
// Never the neutral element.
type LocalPseudonym struct {
	p *curve.Point
}

// RandomLocalPseudonym generates a fresh local pseudonym.
func RandomLocalPseudonym(rand io.Reader) (LocalPseudonym, error) {
	p, err := curve.RandomPoint(rand)
	if err != nil {
		return LocalPseudonym{}, err
	}
	return LocalPseudonym{p: p}, nil
}

// LocalPseudonymFromPacked decodes a packed local pseudonym, rejecting non-canonical
// encodings and the neutral element.
func LocalPseudonymFromPacked(packed []byte) (LocalPseudonym, error) {
	p, err := curve.ParseNonzeroPoint(packed)
	if err != nil {
		return LocalPseudonym{}, err
	}
	return LocalPseudonym{p: p}, nil
}

// Pack returns the packed 32-byte encoding.
func (lp LocalPseudonym) Pack() []byte {
	return lp.p.Bytes()
}

// Text returns the hex form used in exports and operator tooling.
func (lp LocalPseudonym) Text() string {
	return lp.p.Text()
}

// LocalPseudonymFromText parses the hex form produced by [LocalPseudonym.Text].
func LocalPseudonymFromText(text string) (LocalPseudonym, error) {
	p, err := curve.PointFromText(text)
	if err != nil {
		return LocalPseudonym{}, err
	}
	if p.IsIdentity() {
		return LocalPseudonym{}, curve.ErrIdentityPoint
	}
	return LocalPseudonym{p: p}, nil
}

// Encrypt encrypts the pseudonym under a recipient public key.
func (lp LocalPseudonym) Encrypt(pk *elgamal.PublicKey, rand io.Reader) (EncryptedLocalPseudonym, error) {
	c, err := elgamal.Encrypt(pk, lp.p, rand)
	if err != nil {
		return EncryptedLocalPseudonym{}, err
	}
	return EncryptedLocalPseudonym{c: c}, nil
}

// Equal reports whether two local pseudonyms denote the same subject for the same
// party.
func (lp LocalPseudonym) Equal(other LocalPseudonym) bool {
	return lp.p.Equal(other.p)
}

// Point returns the underlying point.
func (lp LocalPseudonym) Point() *curve.Point {
	return lp.p
}

// EncryptedPseudonym is any ElGamal-encrypted pseudonym form: polymorphic, partially
// translated, or fully localized.
type EncryptedPseudonym interface {
	Ciphertext() elgamal.Ciphertext
}

// EncryptedLocalPseudonym is a recipient-specific encrypted pseudonym, produced by the
// translation pipeline. Not reversible across recipients.
type EncryptedLocalPseudonym struct {
	c elgamal.Ciphertext
}

// EncryptedLocalPseudonymFromPacked decodes the packed 96-byte form.
func EncryptedLocalPseudonymFromPacked(packed []byte) (EncryptedLocalPseudonym, error) {
	c, err := elgamal.FromPacked(packed)
	if err != nil {
		return EncryptedLocalPseudonym{}, err
	}
	return EncryptedLocalPseudonym{c: c}, nil
}

// EncryptedLocalPseudonymFromCiphertext wraps a translated ciphertext.
func EncryptedLocalPseudonymFromCiphertext(c elgamal.Ciphertext) EncryptedLocalPseudonym {
	return EncryptedLocalPseudonym{c: c}
}

// Ciphertext implements [EncryptedPseudonym].
func (ep EncryptedLocalPseudonym) Ciphertext() elgamal.Ciphertext {
	return ep.c
}

// Pack returns the packed 96-byte encoding.
func (ep EncryptedLocalPseudonym) Pack() []byte {
	return ep.c.Pack()
}

// Text returns the 192-character hex form.
func (ep EncryptedLocalPseudonym) Text() string {
	return ep.c.Text()
}

// Decrypt recovers the local pseudonym under the recipient's assembled key.
func (ep EncryptedLocalPseudonym) Decrypt(sk *elgamal.PrivateKey) LocalPseudonym {
	return LocalPseudonym{p: ep.c.Decrypt(sk)}
}

// Equal reports component-wise equality of the triples.
func (ep EncryptedLocalPseudonym) Equal(other EncryptedLocalPseudonym) bool {
	return ep.c.Equal(other.c)
}

// PolymorphicPseudonym is an encryption of the subject's base pseudonym point under the
// master public key. It looks different on every issuance and decrypts to the same
// point.
type PolymorphicPseudonym struct {
	c elgamal.Ciphertext
}

// NewPolymorphicPseudonym derives the polymorphic pseudonym for a subject identifier.
// Non-deterministic: every call yields an unlinkable triple.
func NewPolymorphicPseudonym(masterPK *elgamal.PublicKey, identifier string, rand io.Reader) (PolymorphicPseudonym, error) {
	c, err := elgamal.Encrypt(masterPK, HashIdentifier(identifier), rand)
	if err != nil {
		return PolymorphicPseudonym{}, err
	}
	return PolymorphicPseudonym{c: c}, nil
}

// HashIdentifier maps a subject identifier to its base pseudonym point.
func HashIdentifier(identifier string) *curve.Point {
	return transcript.HashToPoint(identifierDomain, []byte(identifier))
}

// PolymorphicPseudonymFromPacked decodes the packed 96-byte form.
func PolymorphicPseudonymFromPacked(packed []byte) (PolymorphicPseudonym, error) {
	c, err := elgamal.FromPacked(packed)
	if err != nil {
		return PolymorphicPseudonym{}, err
	}
	return PolymorphicPseudonym{c: c}, nil
}

// Ciphertext implements [EncryptedPseudonym].
func (pp PolymorphicPseudonym) Ciphertext() elgamal.Ciphertext {
	return pp.c
}

// Pack returns the packed 96-byte encoding.
func (pp PolymorphicPseudonym) Pack() []byte {
	return pp.c.Pack()
}

// Text returns the 192-character hex form.
func (pp PolymorphicPseudonym) Text() string {
	return pp.c.Text()
}

// Equal reports component-wise equality of the triples. Two polymorphic pseudonyms of
// the same subject are almost never equal; equality is only meaningful for detecting
// verbatim copies.
func (pp PolymorphicPseudonym) Equal(other PolymorphicPseudonym) bool {
	return pp.c.Equal(other.c)
}
