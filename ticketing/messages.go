// Package ticketing defines the messages of the three-party ticket-issuance protocol:
// the client's dual-signed request, the ticket countersigned by Access Manager and
// Transcryptor, and the per-subject bundles of encrypted local pseudonyms the parties
// exchange.
package ticketing

import (
	"crypto/sha256"
	"slices"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/pep-security/pepcore/rskpep"
	"github.com/pep-security/pepcore/signed"
	"github.com/pep-security/pepcore/wire"
)

// Access modes. ModeReadMeta grants metadata listing only and implies no ModeRead.
const (
	ModeRead      = "read"
	ModeReadMeta  = "read-meta"
	ModeWrite     = "write"
	ModeWriteMeta = "write-meta"
)

// LocalPseudonyms bundles the per-party encrypted views of one subject. Every view
// encrypts the same underlying subject; the optional access-group view is present when
// the requester asked for its own pseudonyms.
type LocalPseudonyms struct {
	AccessManager   rskpep.EncryptedLocalPseudonym
	StorageFacility rskpep.EncryptedLocalPseudonym
	Polymorphic     rskpep.PolymorphicPseudonym
	AccessGroup     *rskpep.EncryptedLocalPseudonym
}

// AppendFields encodes the bundle as an embedded message.
func (lp *LocalPseudonyms) AppendFields(dst []byte) ([]byte, error) {
	dst = wire.AppendBytes(dst, 1, lp.AccessManager.Pack())
	dst = wire.AppendBytes(dst, 2, lp.StorageFacility.Pack())
	dst = wire.AppendBytes(dst, 3, lp.Polymorphic.Pack())
	if lp.AccessGroup != nil {
		dst = wire.AppendBytes(dst, 4, lp.AccessGroup.Pack())
	}
	return dst, nil
}

// ParseFields decodes the bundle from an embedded message.
func (lp *LocalPseudonyms) ParseFields(data []byte) error {
	*lp = LocalPseudonyms{}
	sc := wire.NewScanner(data)
	var err error
	for sc.Scan() {
		switch sc.Number() {
		case protowire.Number(1):
			if lp.AccessManager, err = rskpep.EncryptedLocalPseudonymFromPacked(sc.Bytes()); err != nil {
				return &wire.SerializeError{Description: "access manager pseudonym: " + err.Error()}
			}
		case protowire.Number(2):
			if lp.StorageFacility, err = rskpep.EncryptedLocalPseudonymFromPacked(sc.Bytes()); err != nil {
				return &wire.SerializeError{Description: "storage facility pseudonym: " + err.Error()}
			}
		case protowire.Number(3):
			if lp.Polymorphic, err = rskpep.PolymorphicPseudonymFromPacked(sc.Bytes()); err != nil {
				return &wire.SerializeError{Description: "polymorphic pseudonym: " + err.Error()}
			}
		case protowire.Number(4):
			ag, err := rskpep.EncryptedLocalPseudonymFromPacked(sc.Bytes())
			if err != nil {
				return &wire.SerializeError{Description: "access group pseudonym: " + err.Error()}
			}
			lp.AccessGroup = &ag
		default:
			sc.Skip()
		}
	}
	return sc.Err()
}

// Ticket2 is the access ticket countersigned by Access Manager and Transcryptor. The
// order of Pseudonyms is established by the Access Manager and preserved by every later
// party.
type Ticket2 struct {
	Timestamp  signed.Timestamp
	Modes      []string
	Pseudonyms []LocalPseudonyms
	Columns    []string
	UserGroup  string
}

// TypeName implements [wire.Message].
func (t *Ticket2) TypeName() string { return "Ticket2" }

// AppendFields implements [wire.Message].
func (t *Ticket2) AppendFields(dst []byte) ([]byte, error) {
	dst = wire.AppendUint64(dst, 1, uint64(t.Timestamp))
	for _, m := range t.Modes {
		dst = wire.AppendString(dst, 2, m)
	}
	var err error
	for i := range t.Pseudonyms {
		if dst, err = wire.AppendMessage(dst, 3, &t.Pseudonyms[i]); err != nil {
			return nil, err
		}
	}
	for _, c := range t.Columns {
		dst = wire.AppendString(dst, 4, c)
	}
	dst = wire.AppendString(dst, 5, t.UserGroup)
	return dst, nil
}

// ParseFields implements [wire.Message].
func (t *Ticket2) ParseFields(data []byte) error {
	*t = Ticket2{}
	sc := wire.NewScanner(data)
	for sc.Scan() {
		switch sc.Number() {
		case protowire.Number(1):
			t.Timestamp = signed.Timestamp(sc.Uint64())
		case protowire.Number(2):
			t.Modes = append(t.Modes, sc.Text())
		case protowire.Number(3):
			var lp LocalPseudonyms
			if err := lp.ParseFields(sc.Bytes()); err != nil {
				return err
			}
			t.Pseudonyms = append(t.Pseudonyms, lp)
		case protowire.Number(4):
			t.Columns = append(t.Columns, sc.Text())
		case protowire.Number(5):
			t.UserGroup = sc.Text()
		default:
			sc.Skip()
		}
	}
	return sc.Err()
}

// HasMode reports whether the ticket grants the given access mode.
func (t *Ticket2) HasMode(mode string) bool {
	return slices.Contains(t.Modes, mode)
}

// PolymorphicPseudonyms returns the ticket's polymorphic pseudonyms in ticket order.
func (t *Ticket2) PolymorphicPseudonyms() []rskpep.PolymorphicPseudonym {
	pps := make([]rskpep.PolymorphicPseudonym, len(t.Pseudonyms))
	for i := range t.Pseudonyms {
		pps[i] = t.Pseudonyms[i].Polymorphic
	}
	return pps
}

// HashPseudonyms computes the audit hash of an ordered list of local pseudonyms:
// SHA-256 over the concatenated packed point encodings. Stable for a given subject set
// and order, which is what makes the checksum chains comparable across requests.
func HashPseudonyms(pseudonyms []rskpep.LocalPseudonym) []byte {
	h := sha256.New()
	for _, p := range pseudonyms {
		h.Write(p.Pack())
	}
	return h.Sum(nil)
}

// TicketRequest2 is the client's request for a ticket. ParticipantGroups and
// ColumnGroups are resolved by the Access Manager's policy store; the expansion is
// appended to the explicit lists deterministically (sorted, de-duplicated).
type TicketRequest2 struct {
	Modes                 []string
	ParticipantGroups     []string
	PolymorphicPseudonyms []rskpep.PolymorphicPseudonym
	ColumnGroups          []string
	Columns               []string

	// IncludeUserGroupPseudonyms asks for a fourth encrypted-local view per subject,
	// translated for the requesting user group itself.
	IncludeUserGroupPseudonyms bool

	// RequestIndexedTicket asks for the response that carries the translation proofs
	// alongside the ticket.
	RequestIndexedTicket bool
}

// TypeName implements [wire.Message].
func (r *TicketRequest2) TypeName() string { return "TicketRequest2" }

// AppendFields implements [wire.Message].
func (r *TicketRequest2) AppendFields(dst []byte) ([]byte, error) {
	for _, m := range r.Modes {
		dst = wire.AppendString(dst, 1, m)
	}
	for _, g := range r.ParticipantGroups {
		dst = wire.AppendString(dst, 2, g)
	}
	for _, pp := range r.PolymorphicPseudonyms {
		dst = wire.AppendBytes(dst, 3, pp.Pack())
	}
	for _, g := range r.ColumnGroups {
		dst = wire.AppendString(dst, 4, g)
	}
	for _, c := range r.Columns {
		dst = wire.AppendString(dst, 5, c)
	}
	dst = wire.AppendBool(dst, 6, r.IncludeUserGroupPseudonyms)
	dst = wire.AppendBool(dst, 7, r.RequestIndexedTicket)
	return dst, nil
}

// ParseFields implements [wire.Message].
func (r *TicketRequest2) ParseFields(data []byte) error {
	*r = TicketRequest2{}
	sc := wire.NewScanner(data)
	for sc.Scan() {
		switch sc.Number() {
		case protowire.Number(1):
			r.Modes = append(r.Modes, sc.Text())
		case protowire.Number(2):
			r.ParticipantGroups = append(r.ParticipantGroups, sc.Text())
		case protowire.Number(3):
			pp, err := rskpep.PolymorphicPseudonymFromPacked(sc.Bytes())
			if err != nil {
				return &wire.SerializeError{Description: "polymorphic pseudonym: " + err.Error()}
			}
			r.PolymorphicPseudonyms = append(r.PolymorphicPseudonyms, pp)
		case protowire.Number(4):
			r.ColumnGroups = append(r.ColumnGroups, sc.Text())
		case protowire.Number(5):
			r.Columns = append(r.Columns, sc.Text())
		case protowire.Number(6):
			r.IncludeUserGroupPseudonyms = sc.Bool()
		case protowire.Number(7):
			r.RequestIndexedTicket = sc.Bool()
		default:
			sc.Skip()
		}
	}
	return sc.Err()
}
