package ticketing

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/pep-security/pepcore/elgamal"
	"github.com/pep-security/pepcore/rsk"
	"github.com/pep-security/pepcore/wire"
)

// ViewProof is the certified translation chain of one subject towards one receiving
// party: the Access Manager's step from the polymorphic pseudonym to Intermediate, and
// the Transcryptor's step from Intermediate to Final.
type ViewProof struct {
	Intermediate elgamal.Ciphertext
	Final        elgamal.Ciphertext

	AccessManagerProof rsk.RSKProof
	TranscryptorProof  rsk.RSKProof
}

// AppendFields encodes the view proof as an embedded message.
func (vp *ViewProof) AppendFields(dst []byte) ([]byte, error) {
	dst = wire.AppendBytes(dst, 1, vp.Intermediate.Pack())
	dst = wire.AppendBytes(dst, 2, vp.Final.Pack())
	dst, err := wire.AppendMessage(dst, 3, &vp.AccessManagerProof)
	if err != nil {
		return nil, err
	}
	return wire.AppendMessage(dst, 4, &vp.TranscryptorProof)
}

// ParseFields decodes the view proof from an embedded message.
func (vp *ViewProof) ParseFields(data []byte) error {
	*vp = ViewProof{}
	sc := wire.NewScanner(data)
	var err error
	for sc.Scan() {
		switch sc.Number() {
		case protowire.Number(1):
			if vp.Intermediate, err = elgamal.FromPacked(sc.Bytes()); err != nil {
				return &wire.SerializeError{Description: "intermediate ciphertext: " + err.Error()}
			}
		case protowire.Number(2):
			if vp.Final, err = elgamal.FromPacked(sc.Bytes()); err != nil {
				return &wire.SerializeError{Description: "final ciphertext: " + err.Error()}
			}
		case protowire.Number(3):
			if err = vp.AccessManagerProof.ParseFields(sc.Bytes()); err != nil {
				return err
			}
		case protowire.Number(4):
			if err = vp.TranscryptorProof.ParseFields(sc.Bytes()); err != nil {
				return err
			}
		default:
			sc.Skip()
		}
	}
	return sc.Err()
}

// EntryProofs bundles the view proofs of one subject, in the fixed view order.
type EntryProofs struct {
	AccessManager   ViewProof
	StorageFacility ViewProof
	Transcryptor    ViewProof
	AccessGroup     *ViewProof
}

// AppendFields encodes the bundle as an embedded message.
func (ep *EntryProofs) AppendFields(dst []byte) ([]byte, error) {
	dst, err := wire.AppendMessage(dst, 1, &ep.AccessManager)
	if err != nil {
		return nil, err
	}
	if dst, err = wire.AppendMessage(dst, 2, &ep.StorageFacility); err != nil {
		return nil, err
	}
	if dst, err = wire.AppendMessage(dst, 3, &ep.Transcryptor); err != nil {
		return nil, err
	}
	if ep.AccessGroup != nil {
		if dst, err = wire.AppendMessage(dst, 4, ep.AccessGroup); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// ParseFields decodes the bundle from an embedded message.
func (ep *EntryProofs) ParseFields(data []byte) error {
	*ep = EntryProofs{}
	sc := wire.NewScanner(data)
	for sc.Scan() {
		switch sc.Number() {
		case protowire.Number(1):
			if err := ep.AccessManager.ParseFields(sc.Bytes()); err != nil {
				return err
			}
		case protowire.Number(2):
			if err := ep.StorageFacility.ParseFields(sc.Bytes()); err != nil {
				return err
			}
		case protowire.Number(3):
			if err := ep.Transcryptor.ParseFields(sc.Bytes()); err != nil {
				return err
			}
		case protowire.Number(4):
			var vp ViewProof
			if err := vp.ParseFields(sc.Bytes()); err != nil {
				return err
			}
			ep.AccessGroup = &vp
		default:
			sc.Skip()
		}
	}
	return sc.Err()
}

// ViewContext carries the verifier points a client needs to check the proofs of one
// view: the Access Manager's verifiers relative to the master public key and the
// Transcryptor's verifiers relative to the intermediate stage's key.
type ViewContext struct {
	AccessManagerVerifiers rsk.RSKVerifiers
	TranscryptorVerifiers  rsk.RSKVerifiers
}

// AppendFields encodes the context as an embedded message.
func (vc *ViewContext) AppendFields(dst []byte) ([]byte, error) {
	dst, err := wire.AppendMessage(dst, 1, vc.AccessManagerVerifiers)
	if err != nil {
		return nil, err
	}
	return wire.AppendMessage(dst, 2, vc.TranscryptorVerifiers)
}

// ParseFields decodes the context from an embedded message.
func (vc *ViewContext) ParseFields(data []byte) error {
	*vc = ViewContext{}
	sc := wire.NewScanner(data)
	for sc.Scan() {
		switch sc.Number() {
		case protowire.Number(1):
			if err := vc.AccessManagerVerifiers.ParseFields(sc.Bytes()); err != nil {
				return err
			}
		case protowire.Number(2):
			if err := vc.TranscryptorVerifiers.ParseFields(sc.Bytes()); err != nil {
				return err
			}
		default:
			sc.Skip()
		}
	}
	return sc.Err()
}

// ViewContexts holds the per-view verifier contexts of one issued ticket.
type ViewContexts struct {
	AccessManager   ViewContext
	StorageFacility ViewContext
	Transcryptor    ViewContext
	AccessGroup     *ViewContext
}

// AppendFields encodes the contexts as an embedded message.
func (vcs *ViewContexts) AppendFields(dst []byte) ([]byte, error) {
	dst, err := wire.AppendMessage(dst, 1, &vcs.AccessManager)
	if err != nil {
		return nil, err
	}
	if dst, err = wire.AppendMessage(dst, 2, &vcs.StorageFacility); err != nil {
		return nil, err
	}
	if dst, err = wire.AppendMessage(dst, 3, &vcs.Transcryptor); err != nil {
		return nil, err
	}
	if vcs.AccessGroup != nil {
		if dst, err = wire.AppendMessage(dst, 4, vcs.AccessGroup); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// ParseFields decodes the contexts from an embedded message.
func (vcs *ViewContexts) ParseFields(data []byte) error {
	*vcs = ViewContexts{}
	sc := wire.NewScanner(data)
	for sc.Scan() {
		switch sc.Number() {
		case protowire.Number(1):
			if err := vcs.AccessManager.ParseFields(sc.Bytes()); err != nil {
				return err
			}
		case protowire.Number(2):
			if err := vcs.StorageFacility.ParseFields(sc.Bytes()); err != nil {
				return err
			}
		case protowire.Number(3):
			if err := vcs.Transcryptor.ParseFields(sc.Bytes()); err != nil {
				return err
			}
		case protowire.Number(4):
			var vc ViewContext
			if err := vc.ParseFields(sc.Bytes()); err != nil {
				return err
			}
			vcs.AccessGroup = &vc
		default:
			sc.Skip()
		}
	}
	return sc.Err()
}

// IndexedTicket2 is the proof-carrying form of an issued ticket: the countersigned
// ticket plus, per pseudonym in ticket order, the certified translation chains, and the
// per-view verifier contexts to check them against.
type IndexedTicket2 struct {
	Ticket   *SignedTicket2
	Proofs   []EntryProofs
	Contexts ViewContexts
}

// TypeName implements [wire.Message].
func (it *IndexedTicket2) TypeName() string { return "IndexedTicket2" }

// AppendFields implements [wire.Message].
func (it *IndexedTicket2) AppendFields(dst []byte) ([]byte, error) {
	dst, err := wire.AppendMessage(dst, 1, it.Ticket)
	if err != nil {
		return nil, err
	}
	for i := range it.Proofs {
		if dst, err = wire.AppendMessage(dst, 2, &it.Proofs[i]); err != nil {
			return nil, err
		}
	}
	return wire.AppendMessage(dst, 3, &it.Contexts)
}

// ParseFields implements [wire.Message].
func (it *IndexedTicket2) ParseFields(data []byte) error {
	*it = IndexedTicket2{}
	sc := wire.NewScanner(data)
	for sc.Scan() {
		switch sc.Number() {
		case protowire.Number(1):
			var st SignedTicket2
			if err := st.ParseFields(sc.Bytes()); err != nil {
				return err
			}
			it.Ticket = &st
		case protowire.Number(2):
			var ep EntryProofs
			if err := ep.ParseFields(sc.Bytes()); err != nil {
				return err
			}
			it.Proofs = append(it.Proofs, ep)
		case protowire.Number(3):
			if err := it.Contexts.ParseFields(sc.Bytes()); err != nil {
				return err
			}
		default:
			sc.Skip()
		}
	}
	return sc.Err()
}
