// Package payload seals stored payloads under a data key from the data-domain
// pipeline. The ElGamal pipeline transports the key as a curve point; the payload
// itself is encrypted symmetrically with TreeWrap, keyed by a one-way derivation of
// that point. Retrieval reverses the pipeline, re-derives the key, and opens the
// payload.
package payload

import (
	"crypto/subtle"
	"errors"

	"github.com/codahale/treewrap"

	"github.com/pep-security/pepcore/curve"
	"github.com/pep-security/pepcore/transcript"
)

// TagSize is the length of the authentication tag appended by Seal.
const TagSize = treewrap.TagSize

const keyDomain = "pep.payload.key"

// ErrInvalidPayload is returned by Open when authentication fails.
var ErrInvalidPayload = errors.New("payload: authentication failed")

// DeriveKey maps a data-key point to the symmetric payload key. Data keys are unique
// per object, which satisfies TreeWrap's key-uniqueness requirement.
func DeriveKey(dataKey *curve.Point) [treewrap.KeySize]byte {
	t := transcript.New(keyDomain)
	t.MixPoint("data-key", dataKey)
	var key [treewrap.KeySize]byte
	copy(key[:], t.Derive("payload-key", treewrap.KeySize))
	return key
}

// Seal encrypts the plaintext under the data key and appends the authentication tag.
func Seal(dataKey *curve.Point, plaintext []byte) []byte {
	key := DeriveKey(dataKey)
	ciphertext, tag := treewrap.EncryptAndMAC(nil, &key, plaintext)
	return append(ciphertext, tag[:]...)
}

// Open decrypts a sealed payload, verifying the tag in constant time.
func Open(dataKey *curve.Point, sealed []byte) ([]byte, error) {
	if len(sealed) < TagSize {
		return nil, ErrInvalidPayload
	}
	key := DeriveKey(dataKey)
	ciphertext, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]
	plaintext, expected := treewrap.DecryptAndMAC(nil, &key, ciphertext)
	if subtle.ConstantTimeCompare(tag, expected[:]) != 1 {
		return nil, ErrInvalidPayload
	}
	return plaintext, nil
}
