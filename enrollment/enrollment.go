// Package enrollment implements key-component issuance and assembly: each server
// holding a master-key share contributes one scalar per domain, and the client
// multiplies the components to obtain its recipient private keys. The assembled key
// exists only on the client.
package enrollment

import (
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/pep-security/pepcore/curve"
	"github.com/pep-security/pepcore/elgamal"
	"github.com/pep-security/pepcore/rskpep"
	"github.com/pep-security/pepcore/signed"
	"github.com/pep-security/pepcore/wire"
)

// Scheme identifies the enrollment scheme version.
type Scheme uint32

const (
	// SchemeV1 derived keys from the protobuf serialization of the user's
	// certificate, which was never guaranteed to be stable. Deprecated.
	SchemeV1 Scheme = 0
	// SchemeV2 derives keys from the certificate's subject, and is current.
	SchemeV2 Scheme = 1
)

// KeyComponentRequest asks a server for its key components. The recipient is implied
// by the requester's certificate; the request body carries nothing else.
type KeyComponentRequest struct{}

// TypeName implements [wire.Message].
func (r *KeyComponentRequest) TypeName() string { return "KeyComponentRequest" }

// AppendFields implements [wire.Message].
func (r *KeyComponentRequest) AppendFields(dst []byte) ([]byte, error) {
	return dst, nil
}

// ParseFields implements [wire.Message].
func (r *KeyComponentRequest) ParseFields(data []byte) error {
	sc := wire.NewScanner(data)
	for sc.Scan() {
		sc.Skip()
	}
	return sc.Err()
}

// SignedKeyComponentRequest must be pre-signed by the enrolling party.
type SignedKeyComponentRequest = signed.Message[KeyComponentRequest, *KeyComponentRequest]

// KeyComponentResponse carries one server's components for both key domains.
type KeyComponentResponse struct {
	PseudonymKeyComponent *curve.Scalar
	DataKeyComponent      *curve.Scalar
}

// TypeName implements [wire.Message].
func (r *KeyComponentResponse) TypeName() string { return "KeyComponentResponse" }

// AppendFields implements [wire.Message].
func (r *KeyComponentResponse) AppendFields(dst []byte) ([]byte, error) {
	dst = wire.AppendBytes(dst, 1, r.PseudonymKeyComponent.Bytes())
	dst = wire.AppendBytes(dst, 2, r.DataKeyComponent.Bytes())
	return dst, nil
}

// ParseFields implements [wire.Message].
func (r *KeyComponentResponse) ParseFields(data []byte) error {
	*r = KeyComponentResponse{}
	sc := wire.NewScanner(data)
	var err error
	for sc.Scan() {
		switch sc.Number() {
		case protowire.Number(1):
			if r.PseudonymKeyComponent, err = curve.ParseScalar(sc.Bytes()); err != nil {
				return &wire.SerializeError{Description: "pseudonym key component: " + err.Error()}
			}
		case protowire.Number(2):
			if r.DataKeyComponent, err = curve.ParseScalar(sc.Bytes()); err != nil {
				return &wire.SerializeError{Description: "data key component: " + err.Error()}
			}
		default:
			sc.Skip()
		}
	}
	if sc.Err() != nil {
		return sc.Err()
	}
	if r.PseudonymKeyComponent == nil || r.DataKeyComponent == nil {
		return &wire.SerializeError{Description: "key component response missing components"}
	}
	return nil
}

// HandleKeyComponentRequest validates the requester and derives this server's
// components for the requester's recipient identity: its certificate's organizational
// unit.
func HandleKeyComponentRequest(
	req *SignedKeyComponentRequest,
	pseudonyms *rskpep.PseudonymTranslator,
	data *rskpep.DataTranslator,
	roots *signed.RootCAs,
	leeway time.Duration,
	now time.Time,
) (*KeyComponentResponse, error) {
	if _, err := req.Open(signed.VerifyOptions{Roots: roots, Leeway: leeway, Now: now}); err != nil {
		return nil, err
	}
	recipient := req.Signature.LeafOrganizationalUnit()
	if recipient == "" {
		return nil, &signed.Error{Description: "enrolling certificate lacks an organizational unit"}
	}

	pc, err := pseudonyms.KeyComponent(recipient)
	if err != nil {
		return nil, err
	}
	dc, err := data.KeyComponent(recipient)
	if err != nil {
		return nil, err
	}
	return &KeyComponentResponse{PseudonymKeyComponent: pc, DataKeyComponent: dc}, nil
}

// AssembleKey multiplies key components into a recipient private key. With every
// share-holding server contributing share·factor, the product is
// master_private_key · factor(recipient).
func AssembleKey(components ...*curve.Scalar) *elgamal.PrivateKey {
	key := curve.OneScalar()
	for _, c := range components {
		key = key.Mul(c)
	}
	return key
}
