// Package transcryptor implements the Transcryptor: the second translation step of the
// ticketing protocol, verification of the Access Manager's proofs, countersigning of
// tickets, batch rekeying of data keys, key-component issuance, and the audit store
// whose checksum chains make issued tickets externally verifiable.
package transcryptor

import (
	"crypto/x509"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/pep-security/pepcore/elgamal"
	"github.com/pep-security/pepcore/rsk"
	"github.com/pep-security/pepcore/rskpep"
	"github.com/pep-security/pepcore/signed"
	"github.com/pep-security/pepcore/ticketing"
	"github.com/pep-security/pepcore/wire"
)

// RequestEntry is one subject's worth of the Access Manager's first-step outputs: the
// original polymorphic pseudonym, the four partially translated views, and the proofs
// of each step.
type RequestEntry struct {
	Polymorphic rskpep.PolymorphicPseudonym

	AccessManager   rskpep.EncryptedLocalPseudonym
	StorageFacility rskpep.EncryptedLocalPseudonym
	Transcryptor    rskpep.EncryptedLocalPseudonym
	AccessGroup     *rskpep.EncryptedLocalPseudonym

	AccessManagerProof   rsk.RSKProof
	StorageFacilityProof rsk.RSKProof
	TranscryptorProof    rsk.RSKProof
	AccessGroupProof     *rsk.RSKProof
}

// AppendFields encodes the entry as an embedded message.
func (e *RequestEntry) AppendFields(dst []byte) ([]byte, error) {
	dst = wire.AppendBytes(dst, 1, e.Polymorphic.Pack())
	dst = wire.AppendBytes(dst, 2, e.AccessManager.Pack())
	dst = wire.AppendBytes(dst, 3, e.StorageFacility.Pack())
	dst = wire.AppendBytes(dst, 4, e.Transcryptor.Pack())
	if e.AccessGroup != nil {
		dst = wire.AppendBytes(dst, 5, e.AccessGroup.Pack())
	}
	var err error
	if dst, err = wire.AppendMessage(dst, 6, &e.AccessManagerProof); err != nil {
		return nil, err
	}
	if dst, err = wire.AppendMessage(dst, 7, &e.StorageFacilityProof); err != nil {
		return nil, err
	}
	if dst, err = wire.AppendMessage(dst, 8, &e.TranscryptorProof); err != nil {
		return nil, err
	}
	if e.AccessGroupProof != nil {
		if dst, err = wire.AppendMessage(dst, 9, e.AccessGroupProof); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// ParseFields decodes the entry from an embedded message.
func (e *RequestEntry) ParseFields(data []byte) error {
	*e = RequestEntry{}
	sc := wire.NewScanner(data)
	var err error
	for sc.Scan() {
		switch sc.Number() {
		case protowire.Number(1):
			if e.Polymorphic, err = rskpep.PolymorphicPseudonymFromPacked(sc.Bytes()); err != nil {
				return &wire.SerializeError{Description: "polymorphic pseudonym: " + err.Error()}
			}
		case protowire.Number(2):
			if e.AccessManager, err = rskpep.EncryptedLocalPseudonymFromPacked(sc.Bytes()); err != nil {
				return &wire.SerializeError{Description: "access manager view: " + err.Error()}
			}
		case protowire.Number(3):
			if e.StorageFacility, err = rskpep.EncryptedLocalPseudonymFromPacked(sc.Bytes()); err != nil {
				return &wire.SerializeError{Description: "storage facility view: " + err.Error()}
			}
		case protowire.Number(4):
			if e.Transcryptor, err = rskpep.EncryptedLocalPseudonymFromPacked(sc.Bytes()); err != nil {
				return &wire.SerializeError{Description: "transcryptor view: " + err.Error()}
			}
		case protowire.Number(5):
			ag, err := rskpep.EncryptedLocalPseudonymFromPacked(sc.Bytes())
			if err != nil {
				return &wire.SerializeError{Description: "access group view: " + err.Error()}
			}
			e.AccessGroup = &ag
		case protowire.Number(6):
			if err = e.AccessManagerProof.ParseFields(sc.Bytes()); err != nil {
				return err
			}
		case protowire.Number(7):
			if err = e.StorageFacilityProof.ParseFields(sc.Bytes()); err != nil {
				return err
			}
		case protowire.Number(8):
			if err = e.TranscryptorProof.ParseFields(sc.Bytes()); err != nil {
				return err
			}
		case protowire.Number(9):
			var p rsk.RSKProof
			if err = p.ParseFields(sc.Bytes()); err != nil {
				return err
			}
			e.AccessGroupProof = &p
		default:
			sc.Skip()
		}
	}
	return sc.Err()
}

// Request wraps the client's original signed ticket request for forwarding to the
// Transcryptor. The entries travel as the request's tail stream.
type Request struct {
	Request *ticketing.SignedTicketRequest2
}

// TypeName implements [wire.Message].
func (r *Request) TypeName() string { return "TranscryptorRequest" }

// AppendFields implements [wire.Message].
func (r *Request) AppendFields(dst []byte) ([]byte, error) {
	return wire.AppendMessage(dst, 1, r.Request)
}

// ParseFields implements [wire.Message].
func (r *Request) ParseFields(data []byte) error {
	*r = Request{}
	sc := wire.NewScanner(data)
	for sc.Scan() {
		switch sc.Number() {
		case protowire.Number(1):
			var sr ticketing.SignedTicketRequest2
			if err := sr.ParseFields(sc.Bytes()); err != nil {
				return err
			}
			r.Request = &sr
		default:
			sc.Skip()
		}
	}
	return sc.Err()
}

// RequestEntries is one tail batch of first-step outputs, in ticket order.
type RequestEntries struct {
	Entries []RequestEntry
}

// TypeName implements [wire.Message].
func (r *RequestEntries) TypeName() string { return "TranscryptorRequestEntries" }

// AppendFields implements [wire.Message].
func (r *RequestEntries) AppendFields(dst []byte) ([]byte, error) {
	var err error
	for i := range r.Entries {
		if dst, err = wire.AppendMessage(dst, 1, &r.Entries[i]); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// ParseFields implements [wire.Message].
func (r *RequestEntries) ParseFields(data []byte) error {
	*r = RequestEntries{}
	sc := wire.NewScanner(data)
	for sc.Scan() {
		switch sc.Number() {
		case protowire.Number(1):
			var e RequestEntry
			if err := e.ParseFields(sc.Bytes()); err != nil {
				return err
			}
			r.Entries = append(r.Entries, e)
		default:
			sc.Skip()
		}
	}
	return sc.Err()
}

// ViewVerifiers carries the Transcryptor's per-view proof verifiers for one request.
type ViewVerifiers struct {
	AccessManager   rsk.RSKVerifiers
	StorageFacility rsk.RSKVerifiers
	Transcryptor    rsk.RSKVerifiers
	AccessGroup     *rsk.RSKVerifiers
}

// AppendFields encodes the verifiers as an embedded message.
func (v *ViewVerifiers) AppendFields(dst []byte) ([]byte, error) {
	dst, err := wire.AppendMessage(dst, 1, v.AccessManager)
	if err != nil {
		return nil, err
	}
	if dst, err = wire.AppendMessage(dst, 2, v.StorageFacility); err != nil {
		return nil, err
	}
	if dst, err = wire.AppendMessage(dst, 3, v.Transcryptor); err != nil {
		return nil, err
	}
	if v.AccessGroup != nil {
		if dst, err = wire.AppendMessage(dst, 4, *v.AccessGroup); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// ParseFields decodes the verifiers from an embedded message.
func (v *ViewVerifiers) ParseFields(data []byte) error {
	*v = ViewVerifiers{}
	sc := wire.NewScanner(data)
	for sc.Scan() {
		switch sc.Number() {
		case protowire.Number(1):
			if err := v.AccessManager.ParseFields(sc.Bytes()); err != nil {
				return err
			}
		case protowire.Number(2):
			if err := v.StorageFacility.ParseFields(sc.Bytes()); err != nil {
				return err
			}
		case protowire.Number(3):
			if err := v.Transcryptor.ParseFields(sc.Bytes()); err != nil {
				return err
			}
		case protowire.Number(4):
			var rv rsk.RSKVerifiers
			if err := rv.ParseFields(sc.Bytes()); err != nil {
				return err
			}
			v.AccessGroup = &rv
		default:
			sc.Skip()
		}
	}
	return sc.Err()
}

// Response is the Transcryptor's answer: the fully translated pseudonym bundles in
// ticket order, the audit identifier the ticket will be logged under, the
// Transcryptor's step proofs, and its proof verifiers.
type Response struct {
	Entries []ticketing.LocalPseudonyms
	ID      string

	Proofs    []ticketing.EntryProofs
	Verifiers ViewVerifiers
}

// TypeName implements [wire.Message].
func (r *Response) TypeName() string { return "TranscryptorResponse" }

// AppendFields implements [wire.Message].
func (r *Response) AppendFields(dst []byte) ([]byte, error) {
	var err error
	for i := range r.Entries {
		if dst, err = wire.AppendMessage(dst, 1, &r.Entries[i]); err != nil {
			return nil, err
		}
	}
	dst = wire.AppendString(dst, 2, r.ID)
	for i := range r.Proofs {
		if dst, err = wire.AppendMessage(dst, 3, &r.Proofs[i]); err != nil {
			return nil, err
		}
	}
	return wire.AppendMessage(dst, 4, &r.Verifiers)
}

// ParseFields implements [wire.Message].
func (r *Response) ParseFields(data []byte) error {
	*r = Response{}
	sc := wire.NewScanner(data)
	for sc.Scan() {
		switch sc.Number() {
		case protowire.Number(1):
			var lp ticketing.LocalPseudonyms
			if err := lp.ParseFields(sc.Bytes()); err != nil {
				return err
			}
			r.Entries = append(r.Entries, lp)
		case protowire.Number(2):
			r.ID = sc.Text()
		case protowire.Number(3):
			var ep ticketing.EntryProofs
			if err := ep.ParseFields(sc.Bytes()); err != nil {
				return err
			}
			r.Proofs = append(r.Proofs, ep)
		case protowire.Number(4):
			if err := r.Verifiers.ParseFields(sc.Bytes()); err != nil {
				return err
			}
		default:
			sc.Skip()
		}
	}
	return sc.Err()
}

// RekeyRequest asks the Transcryptor to move a batch of encrypted data keys towards the
// client identified by the certificate chain. List order is preserved in the response.
type RekeyRequest struct {
	Keys                   []elgamal.Ciphertext
	ClientCertificateChain []*x509.Certificate
}

// TypeName implements [wire.Message].
func (r *RekeyRequest) TypeName() string { return "RekeyRequest" }

// AppendFields implements [wire.Message].
func (r *RekeyRequest) AppendFields(dst []byte) ([]byte, error) {
	for _, k := range r.Keys {
		dst = wire.AppendBytes(dst, 1, k.Pack())
	}
	for _, c := range r.ClientCertificateChain {
		dst = wire.AppendBytes(dst, 2, c.Raw)
	}
	return dst, nil
}

// ParseFields implements [wire.Message].
func (r *RekeyRequest) ParseFields(data []byte) error {
	*r = RekeyRequest{}
	sc := wire.NewScanner(data)
	for sc.Scan() {
		switch sc.Number() {
		case protowire.Number(1):
			k, err := elgamal.FromPacked(sc.Bytes())
			if err != nil {
				return &wire.SerializeError{Description: "encrypted key: " + err.Error()}
			}
			r.Keys = append(r.Keys, k)
		case protowire.Number(2):
			cert, err := x509.ParseCertificate(sc.Bytes())
			if err != nil {
				return &wire.SerializeError{Description: "client certificate: " + err.Error()}
			}
			r.ClientCertificateChain = append(r.ClientCertificateChain, cert)
		default:
			sc.Skip()
		}
	}
	return sc.Err()
}

// RekeyResponse returns the rekeyed data keys in request order.
type RekeyResponse struct {
	Keys []elgamal.Ciphertext
}

// TypeName implements [wire.Message].
func (r *RekeyResponse) TypeName() string { return "RekeyResponse" }

// AppendFields implements [wire.Message].
func (r *RekeyResponse) AppendFields(dst []byte) ([]byte, error) {
	for _, k := range r.Keys {
		dst = wire.AppendBytes(dst, 1, k.Pack())
	}
	return dst, nil
}

// ParseFields implements [wire.Message].
func (r *RekeyResponse) ParseFields(data []byte) error {
	*r = RekeyResponse{}
	sc := wire.NewScanner(data)
	for sc.Scan() {
		switch sc.Number() {
		case protowire.Number(1):
			k, err := elgamal.FromPacked(sc.Bytes())
			if err != nil {
				return &wire.SerializeError{Description: "encrypted key: " + err.Error()}
			}
			r.Keys = append(r.Keys, k)
		default:
			sc.Skip()
		}
	}
	return sc.Err()
}

// LogIssuedTicketRequest asks the Transcryptor to bind a finished ticket to the audit
// identifier it reserved for the request.
type LogIssuedTicketRequest struct {
	Ticket *ticketing.SignedTicket2
	ID     string
}

// TypeName implements [wire.Message].
func (r *LogIssuedTicketRequest) TypeName() string { return "LogIssuedTicketRequest" }

// AppendFields implements [wire.Message].
func (r *LogIssuedTicketRequest) AppendFields(dst []byte) ([]byte, error) {
	dst, err := wire.AppendMessage(dst, 1, r.Ticket)
	if err != nil {
		return nil, err
	}
	return wire.AppendString(dst, 2, r.ID), nil
}

// ParseFields implements [wire.Message].
func (r *LogIssuedTicketRequest) ParseFields(data []byte) error {
	*r = LogIssuedTicketRequest{}
	sc := wire.NewScanner(data)
	for sc.Scan() {
		switch sc.Number() {
		case protowire.Number(1):
			var st ticketing.SignedTicket2
			if err := st.ParseFields(sc.Bytes()); err != nil {
				return err
			}
			r.Ticket = &st
		case protowire.Number(2):
			r.ID = sc.Text()
		default:
			sc.Skip()
		}
	}
	return sc.Err()
}

// LogIssuedTicketResponse acknowledges an audit write with the Transcryptor's
// signature over the logged ticket.
type LogIssuedTicketResponse struct {
	Signature signed.Signature
}

// TypeName implements [wire.Message].
func (r *LogIssuedTicketResponse) TypeName() string { return "LogIssuedTicketResponse" }

// AppendFields implements [wire.Message].
func (r *LogIssuedTicketResponse) AppendFields(dst []byte) ([]byte, error) {
	return wire.AppendMessage(dst, 1, &r.Signature)
}

// ParseFields implements [wire.Message].
func (r *LogIssuedTicketResponse) ParseFields(data []byte) error {
	*r = LogIssuedTicketResponse{}
	sc := wire.NewScanner(data)
	for sc.Scan() {
		switch sc.Number() {
		case protowire.Number(1):
			if err := r.Signature.ParseFields(sc.Bytes()); err != nil {
				return err
			}
		default:
			sc.Skip()
		}
	}
	return sc.Err()
}
