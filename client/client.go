// Package client implements the client side of the protocols: dual-signing ticket
// requests, validating the issued ticket and its translation proofs, and assembling
// recipient private keys from the servers' key components.
package client

import (
	"crypto/rand"
	"io"
	"slices"
	"time"

	"github.com/pep-security/pepcore/auth"
	"github.com/pep-security/pepcore/elgamal"
	"github.com/pep-security/pepcore/enrollment"
	"github.com/pep-security/pepcore/rsk"
	"github.com/pep-security/pepcore/signed"
	"github.com/pep-security/pepcore/ticketing"
)

// AccessManagerAPI is the client's view of the Access Manager.
type AccessManagerAPI interface {
	HandleTicketRequest(req *ticketing.SignedTicketRequest2) (*ticketing.IndexedTicket2, error)
}

// KeyComponentServerAPI is any server that issues key components.
type KeyComponentServerAPI interface {
	HandleKeyComponent(req *enrollment.SignedKeyComponentRequest) (*enrollment.KeyComponentResponse, error)
}

// Config assembles a client.
type Config struct {
	Identity *signed.Identity
	Roots    *signed.RootCAs

	// MasterPublicKey is the pseudonym-domain master public key the proof verifiers
	// are checked against.
	MasterPublicKey *elgamal.PublicKey

	AccessManager AccessManagerAPI

	// Leeway bounds signature timestamps; zero means [signed.DefaultLeeway].
	Leeway time.Duration

	// Rand overrides the randomness source; nil means crypto/rand.
	Rand io.Reader

	// Clock overrides the validation clock; nil means time.Now.
	Clock func() time.Time
}

// Client is a PEP protocol client.
type Client struct {
	cfg Config
}

// New creates a client.
func New(cfg Config) *Client {
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Client{cfg: cfg}
}

// UserGroup returns the group the client's certificate places it in.
func (c *Client) UserGroup() string {
	if len(c.cfg.Identity.Chain) == 0 || len(c.cfg.Identity.Chain[0].Subject.OrganizationalUnit) == 0 {
		return ""
	}
	return c.cfg.Identity.Chain[0].Subject.OrganizationalUnit[0]
}

// RequestTicket signs and submits a ticket request, then validates everything the
// Access Manager may not be trusted with alone: both signatures, that the grant was
// narrowed and never broadened, and every translation proof.
func (c *Client) RequestTicket(request *ticketing.TicketRequest2) (*ticketing.IndexedTicket2, *ticketing.Ticket2, error) {
	now := c.cfg.Clock()
	request.RequestIndexedTicket = true
	signedReq, err := ticketing.SignTicketRequest2(request, c.cfg.Identity, now)
	if err != nil {
		return nil, nil, err
	}

	indexed, err := c.cfg.AccessManager.HandleTicketRequest(signedReq)
	if err != nil {
		return nil, nil, err
	}

	ticket, err := indexed.Ticket.Open(ticketing.TicketVerifyOptions{
		Roots:       c.cfg.Roots,
		AccessGroup: c.UserGroup(),
		Leeway:      c.cfg.Leeway,
		Now:         now,
	})
	if err != nil {
		return nil, nil, err
	}

	if err := c.checkNarrowing(request, ticket); err != nil {
		return nil, nil, err
	}
	if err := c.checkProofs(request, indexed, ticket); err != nil {
		return nil, nil, err
	}
	return indexed, ticket, nil
}

// checkNarrowing verifies the ticket grants no more than the request asked for.
func (c *Client) checkNarrowing(request *ticketing.TicketRequest2, ticket *ticketing.Ticket2) error {
	for _, m := range ticket.Modes {
		if !slices.Contains(request.Modes, m) {
			return &auth.AccessDeniedError{Description: "ticket grants unrequested mode " + m}
		}
	}
	// Columns may come from the explicit list or from any requested column group; with
	// no groups requested, the explicit list is exhaustive.
	if len(request.ColumnGroups) == 0 {
		for _, col := range ticket.Columns {
			if !slices.Contains(request.Columns, col) {
				return &auth.AccessDeniedError{Description: "ticket grants unrequested column " + col}
			}
		}
	}
	if len(request.ParticipantGroups) == 0 && len(ticket.Pseudonyms) > len(request.PolymorphicPseudonyms) {
		return &auth.AccessDeniedError{Description: "ticket names more subjects than requested"}
	}
	// Explicitly requested pseudonyms lead the ticket order unchanged.
	for i, pp := range request.PolymorphicPseudonyms {
		if i >= len(ticket.Pseudonyms) || !ticket.Pseudonyms[i].Polymorphic.Equal(pp) {
			return &auth.AccessDeniedError{Description: "ticket reorders the requested subjects"}
		}
	}
	return nil
}

// checkProofs verifies both servers' translation proofs for every pseudonym and view.
func (c *Client) checkProofs(request *ticketing.TicketRequest2, indexed *ticketing.IndexedTicket2, ticket *ticketing.Ticket2) error {
	if len(indexed.Proofs) != len(ticket.Pseudonyms) {
		return &rsk.InvalidProofError{Description: "proof bundle does not cover every pseudonym"}
	}

	type view struct {
		name    string
		context ticketing.ViewContext
		proof   func(*ticketing.EntryProofs) *ticketing.ViewProof
		final   func(*ticketing.LocalPseudonyms) *elgamal.Ciphertext
	}
	views := []view{
		{
			name:    "access manager",
			context: indexed.Contexts.AccessManager,
			proof:   func(ep *ticketing.EntryProofs) *ticketing.ViewProof { return &ep.AccessManager },
			final: func(lp *ticketing.LocalPseudonyms) *elgamal.Ciphertext {
				ct := lp.AccessManager.Ciphertext()
				return &ct
			},
		},
		{
			name:    "storage facility",
			context: indexed.Contexts.StorageFacility,
			proof:   func(ep *ticketing.EntryProofs) *ticketing.ViewProof { return &ep.StorageFacility },
			final: func(lp *ticketing.LocalPseudonyms) *elgamal.Ciphertext {
				ct := lp.StorageFacility.Ciphertext()
				return &ct
			},
		},
		{
			name:    "transcryptor",
			context: indexed.Contexts.Transcryptor,
			proof:   func(ep *ticketing.EntryProofs) *ticketing.ViewProof { return &ep.Transcryptor },
			// The transcryptor's view stays out of the ticket; its chain is checked
			// against the proof's own final ciphertext.
			final: func(*ticketing.LocalPseudonyms) *elgamal.Ciphertext { return nil },
		},
	}
	if request.IncludeUserGroupPseudonyms {
		if indexed.Contexts.AccessGroup == nil {
			return &rsk.InvalidProofError{Description: "missing access group verifiers"}
		}
		views = append(views, view{
			name:    "access group",
			context: *indexed.Contexts.AccessGroup,
			proof:   func(ep *ticketing.EntryProofs) *ticketing.ViewProof { return ep.AccessGroup },
			final: func(lp *ticketing.LocalPseudonyms) *elgamal.Ciphertext {
				if lp.AccessGroup == nil {
					return nil
				}
				ct := lp.AccessGroup.Ciphertext()
				return &ct
			},
		})
	}

	for _, v := range views {
		if err := v.context.AccessManagerVerifiers.Verify(c.cfg.MasterPublicKey); err != nil {
			return err
		}
	}

	for i := range ticket.Pseudonyms {
		entry := &ticket.Pseudonyms[i]
		proofs := &indexed.Proofs[i]
		pp := entry.Polymorphic.Ciphertext()

		for _, v := range views {
			vp := v.proof(proofs)
			if vp == nil {
				return &rsk.InvalidProofError{Description: "missing " + v.name + " proof"}
			}
			if err := vp.AccessManagerProof.Verify(pp, vp.Intermediate, v.context.AccessManagerVerifiers); err != nil {
				return err
			}
			if err := v.context.TranscryptorVerifiers.Verify(vp.Intermediate.Y); err != nil {
				return err
			}
			if err := vp.TranscryptorProof.Verify(vp.Intermediate, vp.Final, v.context.TranscryptorVerifiers); err != nil {
				return err
			}
			if want := v.final(entry); want != nil && !vp.Final.Equal(*want) {
				return &rsk.InvalidProofError{Description: v.name + " proof does not cover the ticket's pseudonym"}
			}
		}
	}
	return nil
}

// EnrolledKeys are the client's assembled recipient private keys.
type EnrolledKeys struct {
	PseudonymKey *elgamal.PrivateKey
	DataKey      *elgamal.PrivateKey
}

// Enroll sends one signed key-component request to every share-holding server and
// multiplies the returned components into this client's private keys. The responses
// carry no signature and are not authenticated here. The assembled keys never leave
// the client.
func (c *Client) Enroll(servers ...KeyComponentServerAPI) (*EnrolledKeys, error) {
	now := c.cfg.Clock()
	req, err := signed.SealAt[enrollment.KeyComponentRequest](&enrollment.KeyComponentRequest{}, c.cfg.Identity, now)
	if err != nil {
		return nil, err
	}

	pseudonymComponents := make([]*elgamal.PrivateKey, 0, len(servers))
	dataComponents := make([]*elgamal.PrivateKey, 0, len(servers))
	for _, server := range servers {
		resp, err := server.HandleKeyComponent(req)
		if err != nil {
			return nil, err
		}
		pseudonymComponents = append(pseudonymComponents, resp.PseudonymKeyComponent)
		dataComponents = append(dataComponents, resp.DataKeyComponent)
	}
	return &EnrolledKeys{
		PseudonymKey: enrollment.AssembleKey(pseudonymComponents...),
		DataKey:      enrollment.AssembleKey(dataComponents...),
	}, nil
}
