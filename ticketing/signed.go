package ticketing

import (
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/pep-security/pepcore/auth"
	"github.com/pep-security/pepcore/signed"
	"github.com/pep-security/pepcore/wire"
)

// SignedTicket2 and SignedTicketRequest2 predate the generic signed envelope and carry
// two signatures each, so they keep their own message shapes. Their magics are pinned
// by persisted data; see the serialization test.

// SignedTicket2 is a ticket body with the Access Manager's signature and the
// Transcryptor's countersignature. Neither party alone can issue a valid ticket.
type SignedTicket2 struct {
	Data                  []byte
	Signature             *signed.Signature // Access Manager
	TranscryptorSignature *signed.Signature
}

// TypeName implements [wire.Message].
func (st *SignedTicket2) TypeName() string { return "SignedTicket2" }

// AppendFields implements [wire.Message].
func (st *SignedTicket2) AppendFields(dst []byte) ([]byte, error) {
	dst = wire.AppendBytes(dst, 1, st.Data)
	var err error
	if st.Signature != nil {
		if dst, err = wire.AppendMessage(dst, 2, st.Signature); err != nil {
			return nil, err
		}
	}
	if st.TranscryptorSignature != nil {
		if dst, err = wire.AppendMessage(dst, 3, st.TranscryptorSignature); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// ParseFields implements [wire.Message].
func (st *SignedTicket2) ParseFields(data []byte) error {
	*st = SignedTicket2{}
	sc := wire.NewScanner(data)
	for sc.Scan() {
		switch sc.Number() {
		case protowire.Number(1):
			st.Data = append([]byte(nil), sc.Bytes()...)
		case protowire.Number(2):
			var sig signed.Signature
			if err := sig.ParseFields(sc.Bytes()); err != nil {
				return err
			}
			st.Signature = &sig
		case protowire.Number(3):
			var sig signed.Signature
			if err := sig.ParseFields(sc.Bytes()); err != nil {
				return err
			}
			st.TranscryptorSignature = &sig
		default:
			sc.Skip()
		}
	}
	return sc.Err()
}

// OpenWithoutCheckingSignature deserializes the ticket body without validation.
func (st *SignedTicket2) OpenWithoutCheckingSignature() (*Ticket2, error) {
	var t Ticket2
	if err := wire.Unmarshal(st.Data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// TicketVerifyOptions parameterize ticket validation.
type TicketVerifyOptions struct {
	Roots *signed.RootCAs

	// AccessGroup, when non-empty, must equal the ticket's user group.
	AccessGroup string

	// AccessMode, when non-empty, must be granted by the ticket.
	AccessMode string

	// Leeway bounds both signature timestamps and the ticket's own timestamp; zero
	// means [signed.DefaultLeeway].
	Leeway time.Duration

	// Now overrides the validation clock; zero means time.Now().
	Now time.Time
}

// Open validates both signatures and the ticket's own freshness, checks the access
// group and mode, and returns the ticket body.
func (st *SignedTicket2) Open(opts TicketVerifyOptions) (*Ticket2, error) {
	if st.Signature == nil || st.TranscryptorSignature == nil {
		return nil, &signed.Error{Description: "ticket lacks a required signature"}
	}
	if err := st.Signature.Verify(st.Data, signed.VerifyOptions{
		Roots:           opts.Roots,
		ExpectedSubject: auth.SubjectAccessManager,
		Leeway:          opts.Leeway,
		Now:             opts.Now,
	}); err != nil {
		return nil, err
	}
	if err := st.TranscryptorSignature.Verify(st.Data, signed.VerifyOptions{
		Roots:           opts.Roots,
		ExpectedSubject: auth.SubjectTranscryptor,
		Leeway:          opts.Leeway,
		Now:             opts.Now,
	}); err != nil {
		return nil, err
	}

	t, err := st.OpenWithoutCheckingSignature()
	if err != nil {
		return nil, err
	}

	leeway := opts.Leeway
	if leeway == 0 {
		leeway = signed.DefaultLeeway
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	if age := now.Sub(t.Timestamp.Time()); age > leeway || age < -leeway {
		return nil, &signed.ValidityPeriodError{Description: "ticket timestamp outside leeway"}
	}

	if opts.AccessGroup != "" && t.UserGroup != opts.AccessGroup {
		return nil, &auth.AccessDeniedError{Description: "ticket was issued to user group " + t.UserGroup}
	}
	if opts.AccessMode != "" && !t.HasMode(opts.AccessMode) {
		return nil, &auth.AccessDeniedError{Description: "ticket does not grant mode " + opts.AccessMode}
	}
	return t, nil
}

// SignedTicketRequest2 is a ticket request signed twice by the client: once over the
// body for processing, once as a log copy for audit. Both signatures must validate at
// the Access Manager; the Transcryptor re-validates the processing signature itself
// rather than trusting the Access Manager's word for it.
type SignedTicketRequest2 struct {
	Data         []byte
	Signature    *signed.Signature
	LogSignature *signed.Signature
}

// SignTicketRequest2 serializes and dual-signs a ticket request.
func SignTicketRequest2(r *TicketRequest2, id *signed.Identity, now time.Time) (*SignedTicketRequest2, error) {
	data, err := wire.Marshal(r)
	if err != nil {
		return nil, err
	}
	sig, err := signed.SignAt(data, id, false, now)
	if err != nil {
		return nil, err
	}
	logSig, err := signed.SignAt(data, id, true, now)
	if err != nil {
		return nil, err
	}
	return &SignedTicketRequest2{Data: data, Signature: &sig, LogSignature: &logSig}, nil
}

// TypeName implements [wire.Message].
func (sr *SignedTicketRequest2) TypeName() string { return "SignedTicketRequest2" }

// AppendFields implements [wire.Message].
func (sr *SignedTicketRequest2) AppendFields(dst []byte) ([]byte, error) {
	dst = wire.AppendBytes(dst, 1, sr.Data)
	var err error
	if sr.Signature != nil {
		if dst, err = wire.AppendMessage(dst, 2, sr.Signature); err != nil {
			return nil, err
		}
	}
	if sr.LogSignature != nil {
		if dst, err = wire.AppendMessage(dst, 3, sr.LogSignature); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// ParseFields implements [wire.Message].
func (sr *SignedTicketRequest2) ParseFields(data []byte) error {
	*sr = SignedTicketRequest2{}
	sc := wire.NewScanner(data)
	for sc.Scan() {
		switch sc.Number() {
		case protowire.Number(1):
			sr.Data = append([]byte(nil), sc.Bytes()...)
		case protowire.Number(2):
			var sig signed.Signature
			if err := sig.ParseFields(sc.Bytes()); err != nil {
				return err
			}
			sr.Signature = &sig
		case protowire.Number(3):
			var sig signed.Signature
			if err := sig.ParseFields(sc.Bytes()); err != nil {
				return err
			}
			sr.LogSignature = &sig
		default:
			sc.Skip()
		}
	}
	return sc.Err()
}

// OpenAsAccessManager validates both client signatures and returns the request. The
// requester's user group is its certificate's organizational unit.
func (sr *SignedTicketRequest2) OpenAsAccessManager(roots *signed.RootCAs, leeway time.Duration, now time.Time) (*TicketRequest2, string, error) {
	if sr.Signature == nil || sr.LogSignature == nil {
		return nil, "", &signed.Error{Description: "ticket request lacks a required signature"}
	}
	if err := sr.Signature.Verify(sr.Data, signed.VerifyOptions{
		Roots: roots, Leeway: leeway, Now: now,
	}); err != nil {
		return nil, "", err
	}
	if err := sr.LogSignature.Verify(sr.Data, signed.VerifyOptions{
		Roots: roots, Leeway: leeway, Now: now, ExpectLogCopy: true,
	}); err != nil {
		return nil, "", err
	}
	return sr.open()
}

// OpenAsTranscryptor validates the client's processing signature and returns the
// request. The log signature stays with the Access Manager's audit trail.
func (sr *SignedTicketRequest2) OpenAsTranscryptor(roots *signed.RootCAs, leeway time.Duration, now time.Time) (*TicketRequest2, string, error) {
	if sr.Signature == nil {
		return nil, "", &signed.Error{Description: "ticket request lacks the client signature"}
	}
	if err := sr.Signature.Verify(sr.Data, signed.VerifyOptions{
		Roots: roots, Leeway: leeway, Now: now,
	}); err != nil {
		return nil, "", err
	}
	return sr.open()
}

func (sr *SignedTicketRequest2) open() (*TicketRequest2, string, error) {
	var r TicketRequest2
	if err := wire.Unmarshal(sr.Data, &r); err != nil {
		return nil, "", err
	}
	return &r, sr.Signature.LeafOrganizationalUnit(), nil
}
