// Package elgamal implements the ElGamal triple encryption the PEP pseudonym and
// data-key pipelines operate on, together with the homomorphic transforms the servers
// apply: rerandomization, rekeying, reshuffling, and the combined RSK.
package elgamal

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/pep-security/pepcore/curve"
)

// PackedBytes is the length of a packed ciphertext: three packed points.
const PackedBytes = 3 * curve.PackedBytes

// TextLength is the length of the hex form produced by [Ciphertext.Text].
const TextLength = 2 * PackedBytes

var errBadLength = errors.New("elgamal: packed ciphertext must be 96 bytes")

// PrivateKey is an ElGamal decryption key.
type PrivateKey = curve.Scalar

// PublicKey is an ElGamal encryption key: sk·G. Never the neutral element.
type PublicKey = curve.Point

// TranslationKey is a rekeying factor: rekeying a ciphertext by k moves it from key sk
// to key k·sk.
type TranslationKey = curve.Scalar

// Ciphertext is an ElGamal encryption triple (B, C, Y): B the ephemeral component,
// C the message-bearing component, Y the public key the triple is encrypted against.
type Ciphertext struct {
	B, C, Y *curve.Point
}

// GenerateKeyPair generates an ElGamal key pair from the given source of randomness.
func GenerateKeyPair(rand io.Reader) (*PrivateKey, *PublicKey, error) {
	sk, err := curve.RandomScalar(rand)
	if err != nil {
		return nil, nil, err
	}
	return sk, curve.BaseMult(sk), nil
}

// Encrypt encrypts the message point under pk.
func Encrypt(pk *PublicKey, m *curve.Point, rand io.Reader) (Ciphertext, error) {
	if pk.IsIdentity() {
		return Ciphertext{}, curve.ErrIdentityPoint
	}
	r, err := curve.RandomScalar(rand)
	if err != nil {
		return Ciphertext{}, err
	}
	return Ciphertext{
		B: curve.BaseMult(r),
		C: m.Add(pk.Mul(r)),
		Y: pk,
	}, nil
}

// Decrypt returns the message point, assuming Y = sk·G.
func (c Ciphertext) Decrypt(sk *PrivateKey) *curve.Point {
	return c.C.Sub(c.B.Mul(sk))
}

// Rerandomize refreshes the encryption randomness without changing the plaintext or the
// key. The result is unlinkable to the input for anyone not holding the key.
func (c Ciphertext) Rerandomize(rand io.Reader) (Ciphertext, error) {
	r, err := curve.RandomScalar(rand)
	if err != nil {
		return Ciphertext{}, err
	}
	return Ciphertext{
		B: c.B.Add(curve.BaseMult(r)),
		C: c.C.Add(c.Y.Mul(r)),
		Y: c.Y,
	}, nil
}

// Rekey moves the ciphertext to the key k·sk: (k⁻¹·B, C, k·Y).
func (c Ciphertext) Rekey(k *TranslationKey) Ciphertext {
	return Ciphertext{
		B: c.B.Mul(k.Invert()),
		C: c.C,
		Y: c.Y.Mul(k),
	}
}

// Reshuffle scales the plaintext by s: (s·B, s·C, Y).
func (c Ciphertext) Reshuffle(s *curve.Scalar) Ciphertext {
	return Ciphertext{
		B: c.B.Mul(s),
		C: c.C.Mul(s),
		Y: c.Y,
	}
}

// RSK applies the combined rerandomize-reshuffle-rekey transform. This is the form the
// protocol uses; the rerandomization is absorbed so the output is unlinkable to the
// input even for s = k = 1.
func (c Ciphertext) RSK(s *curve.Scalar, k *TranslationKey, rand io.Reader) (Ciphertext, error) {
	r, err := curve.RandomScalar(rand)
	if err != nil {
		return Ciphertext{}, err
	}
	return c.RSKWith(s, k, r), nil
}

// RSKWith is RSK with caller-supplied rerandomization, for callers that must prove the
// transform afterwards. The effective randomness r replaces s·r' of the sequential
// composition, which is uniform whenever r is. Use [Ciphertext.RSK] unless the value of
// r is needed.
func (c Ciphertext) RSKWith(s *curve.Scalar, k *TranslationKey, r *curve.Scalar) Ciphertext {
	kInv := k.Invert()
	return Ciphertext{
		B: c.B.Mul(s).Add(curve.BaseMult(r)).Mul(kInv),
		C: c.C.Mul(s).Add(c.Y.Mul(r)),
		Y: c.Y.Mul(k),
	}
}

// Pack returns the packed 96-byte encoding B ‖ C ‖ Y.
func (c Ciphertext) Pack() []byte {
	out := make([]byte, 0, PackedBytes)
	out = append(out, c.B.Bytes()...)
	out = append(out, c.C.Bytes()...)
	return append(out, c.Y.Bytes()...)
}

// FromPacked decodes a packed ciphertext. The public key component must not be the
// neutral element.
func FromPacked(packed []byte) (Ciphertext, error) {
	if len(packed) != PackedBytes {
		return Ciphertext{}, errBadLength
	}
	b, err := curve.ParsePoint(packed[:curve.PackedBytes])
	if err != nil {
		return Ciphertext{}, fmt.Errorf("elgamal: component b: %w", err)
	}
	cc, err := curve.ParsePoint(packed[curve.PackedBytes : 2*curve.PackedBytes])
	if err != nil {
		return Ciphertext{}, fmt.Errorf("elgamal: component c: %w", err)
	}
	y, err := curve.ParseNonzeroPoint(packed[2*curve.PackedBytes:])
	if err != nil {
		return Ciphertext{}, fmt.Errorf("elgamal: component y: %w", err)
	}
	return Ciphertext{B: b, C: cc, Y: y}, nil
}

// Text returns the hex form of the packed encoding.
func (c Ciphertext) Text() string {
	return fmt.Sprintf("%x", c.Pack())
}

// FromText parses the hex form produced by [Ciphertext.Text].
func FromText(text string) (Ciphertext, error) {
	if len(text) != TextLength {
		return Ciphertext{}, errBadLength
	}
	packed, err := hex.DecodeString(text)
	if err != nil {
		return Ciphertext{}, fmt.Errorf("elgamal: invalid hex: %w", err)
	}
	return FromPacked(packed)
}

// Equal reports whether two ciphertexts are component-wise equal.
func (c Ciphertext) Equal(other Ciphertext) bool {
	return c.B.Equal(other.B) && c.C.Equal(other.C) && c.Y.Equal(other.Y)
}

// PublicKey returns the key component Y.
func (c Ciphertext) PublicKey() *PublicKey {
	return c.Y
}
