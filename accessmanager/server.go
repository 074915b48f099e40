package accessmanager

import (
	"crypto/rand"
	"io"
	"slices"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/pep-security/pepcore/auth"
	"github.com/pep-security/pepcore/elgamal"
	"github.com/pep-security/pepcore/enrollment"
	"github.com/pep-security/pepcore/rsk"
	"github.com/pep-security/pepcore/rskpep"
	"github.com/pep-security/pepcore/signed"
	"github.com/pep-security/pepcore/ticketing"
	"github.com/pep-security/pepcore/transcryptor"
	"github.com/pep-security/pepcore/wire"
)

// TranscryptorAPI is the Access Manager's view of the Transcryptor. In production it is
// a connection proxy; in tests the Transcryptor itself.
type TranscryptorAPI interface {
	HandleTranscryption(req *signed.Message[transcryptor.Request, *transcryptor.Request], entries *transcryptor.RequestEntries) (*transcryptor.Response, error)
	HandleLogIssuedTicket(req *signed.Message[transcryptor.LogIssuedTicketRequest, *transcryptor.LogIssuedTicketRequest]) (*transcryptor.LogIssuedTicketResponse, error)
}

// Config assembles an Access Manager.
type Config struct {
	Identity *signed.Identity
	Roots    *signed.RootCAs

	PseudonymKeys rskpep.PseudonymTranslationKeys
	DataKeys      rskpep.DataTranslationKeys

	// MasterPublicKey is the pseudonym-domain master public key.
	MasterPublicKey *elgamal.PublicKey

	Policy *Policy

	Transcryptor TranscryptorAPI

	// Leeway bounds signature timestamps; zero means [signed.DefaultLeeway].
	Leeway time.Duration

	Logger zerolog.Logger

	// Rand overrides the randomness source; nil means crypto/rand.
	Rand io.Reader

	// Clock overrides the validation clock; nil means time.Now.
	Clock func() time.Time
}

// Server is the Access Manager.
type Server struct {
	cfg        Config
	pseudonyms *rskpep.PseudonymTranslator
	data       *rskpep.DataTranslator
	log        zerolog.Logger
}

// NewServer creates an Access Manager over its startup key material.
func NewServer(cfg Config) (*Server, error) {
	cache, err := rsk.NewCache(rsk.DefaultCacheSize)
	if err != nil {
		return nil, err
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Policy == nil {
		cfg.Policy = NewPolicy()
	}
	return &Server{
		cfg:        cfg,
		pseudonyms: rskpep.NewPseudonymTranslator(cfg.PseudonymKeys, cache),
		data:       rskpep.NewDataTranslator(cfg.DataKeys, cache),
		log:        cfg.Logger.With().Str("component", "accessmanager").Logger(),
	}, nil
}

// PseudonymTranslator exposes the pseudonym translator for enrollment handling.
func (s *Server) PseudonymTranslator() *rskpep.PseudonymTranslator {
	return s.pseudonyms
}

// DataTranslator exposes the data translator for enrollment and key blinding.
func (s *Server) DataTranslator() *rskpep.DataTranslator {
	return s.data
}

// HandleKeyComponent issues this server's key components to an enrolling party.
func (s *Server) HandleKeyComponent(req *enrollment.SignedKeyComponentRequest) (*enrollment.KeyComponentResponse, error) {
	return enrollment.HandleKeyComponentRequest(req, s.pseudonyms, s.data, s.cfg.Roots, s.cfg.Leeway, s.cfg.Clock())
}

// PseudonymVerifiers implements [transcryptor.VerifiersSource] for this server's
// translation steps.
func (s *Server) PseudonymVerifiers(recipient string, y *elgamal.PublicKey) (rsk.RSKVerifiers, error) {
	return s.pseudonyms.TranslationProofVerifiers(recipient, y)
}

// HandleTicketRequest drives the ticket-issuance protocol: it validates the client's
// dual signature, applies policy, performs the first translation step for every
// pseudonym and view, obtains the Transcryptor's countersigned second step, and
// assembles the dual-signed ticket with its proof bundle.
func (s *Server) HandleTicketRequest(req *ticketing.SignedTicketRequest2) (*ticketing.IndexedTicket2, error) {
	now := s.cfg.Clock()
	request, userGroup, err := req.OpenAsAccessManager(s.cfg.Roots, s.cfg.Leeway, now)
	if err != nil {
		return nil, err
	}

	if err := s.cfg.Policy.checkModes(userGroup, request.Modes); err != nil {
		s.log.Info().Str("user_group", userGroup).Err(err).Msg("denying ticket request")
		return nil, err
	}
	columns, err := s.cfg.Policy.resolveColumns(userGroup, request.ColumnGroups, request.Columns)
	if err != nil {
		s.log.Info().Str("user_group", userGroup).Err(err).Msg("denying ticket request")
		return nil, err
	}
	pseudonyms, err := s.cfg.Policy.resolvePseudonyms(request.PolymorphicPseudonyms, request.ParticipantGroups)
	if err != nil {
		s.log.Info().Str("user_group", userGroup).Err(err).Msg("denying ticket request")
		return nil, err
	}

	// First translation step, in the order fixed here and preserved by every later
	// party.
	entries := &transcryptor.RequestEntries{}
	for _, pp := range pseudonyms {
		entry, err := s.firstStep(pp, userGroup, request.IncludeUserGroupPseudonyms)
		if err != nil {
			return nil, err
		}
		entries.Entries = append(entries.Entries, entry)
	}

	wrapped, err := signed.SealAt[transcryptor.Request](&transcryptor.Request{Request: req}, s.cfg.Identity, now)
	if err != nil {
		return nil, err
	}
	response, err := s.cfg.Transcryptor.HandleTranscryption(wrapped, entries)
	if err != nil {
		return nil, err
	}

	ticket := &ticketing.Ticket2{
		Timestamp:  signed.TimestampOf(now),
		Modes:      sortedModes(request.Modes),
		Pseudonyms: response.Entries,
		Columns:    columns,
		UserGroup:  userGroup,
	}
	signedTicket, err := s.signAndLogTicket(ticket, response.ID, now)
	if err != nil {
		return nil, err
	}

	contexts, err := s.proofContexts(userGroup, response, entries)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("ticket_id", response.ID).
		Str("user_group", userGroup).
		Int("pseudonyms", len(ticket.Pseudonyms)).
		Strs("modes", ticket.Modes).
		Msg("ticket issued")
	return &ticketing.IndexedTicket2{
		Ticket:   signedTicket,
		Proofs:   response.Proofs,
		Contexts: contexts,
	}, nil
}

// firstStep computes this server's certified translation of one polymorphic pseudonym
// towards every receiving party.
func (s *Server) firstStep(pp rskpep.PolymorphicPseudonym, userGroup string, includeUserGroup bool) (transcryptor.RequestEntry, error) {
	entry := transcryptor.RequestEntry{Polymorphic: pp}

	step := func(recipient string) (rskpep.EncryptedLocalPseudonym, rsk.RSKProof, error) {
		out, proof, err := s.pseudonyms.CertifiedTranslateStep(pp, recipient, s.cfg.Rand)
		if err != nil {
			return rskpep.EncryptedLocalPseudonym{}, rsk.RSKProof{}, err
		}
		return out, *proof, nil
	}

	var err error
	if entry.AccessManager, entry.AccessManagerProof, err = step(auth.SubjectAccessManager); err != nil {
		return entry, err
	}
	if entry.StorageFacility, entry.StorageFacilityProof, err = step(auth.SubjectStorageFacility); err != nil {
		return entry, err
	}
	if entry.Transcryptor, entry.TranscryptorProof, err = step(auth.SubjectTranscryptor); err != nil {
		return entry, err
	}
	if includeUserGroup {
		out, proof, err := step(userGroup)
		if err != nil {
			return entry, err
		}
		entry.AccessGroup = &out
		entry.AccessGroupProof = &proof
	}
	return entry, nil
}

// signAndLogTicket signs the ticket body, has the Transcryptor log and countersign it,
// and returns the dual-signed ticket.
func (s *Server) signAndLogTicket(ticket *ticketing.Ticket2, id string, now time.Time) (*ticketing.SignedTicket2, error) {
	data, err := wire.Marshal(ticket)
	if err != nil {
		return nil, err
	}
	amSig, err := signed.SignAt(data, s.cfg.Identity, false, now)
	if err != nil {
		return nil, err
	}
	st := &ticketing.SignedTicket2{Data: data, Signature: &amSig}

	logReq, err := signed.SealAt[transcryptor.LogIssuedTicketRequest](
		&transcryptor.LogIssuedTicketRequest{Ticket: st, ID: id}, s.cfg.Identity, now)
	if err != nil {
		return nil, err
	}
	logResp, err := s.cfg.Transcryptor.HandleLogIssuedTicket(logReq)
	if err != nil {
		return nil, err
	}
	tsSig := logResp.Signature
	st.TranscryptorSignature = &tsSig
	return st, nil
}

// proofContexts pairs this server's verifiers with the Transcryptor's per view.
func (s *Server) proofContexts(userGroup string, response *transcryptor.Response, entries *transcryptor.RequestEntries) (ticketing.ViewContexts, error) {
	var contexts ticketing.ViewContexts
	y := s.cfg.MasterPublicKey

	pair := func(recipient string, tsVerifiers rsk.RSKVerifiers) (ticketing.ViewContext, error) {
		amVerifiers, err := s.pseudonyms.TranslationProofVerifiers(recipient, y)
		if err != nil {
			return ticketing.ViewContext{}, err
		}
		return ticketing.ViewContext{
			AccessManagerVerifiers: amVerifiers,
			TranscryptorVerifiers:  tsVerifiers,
		}, nil
	}

	var err error
	if contexts.AccessManager, err = pair(auth.SubjectAccessManager, response.Verifiers.AccessManager); err != nil {
		return contexts, err
	}
	if contexts.StorageFacility, err = pair(auth.SubjectStorageFacility, response.Verifiers.StorageFacility); err != nil {
		return contexts, err
	}
	if contexts.Transcryptor, err = pair(auth.SubjectTranscryptor, response.Verifiers.Transcryptor); err != nil {
		return contexts, err
	}
	if len(entries.Entries) > 0 && entries.Entries[0].AccessGroup != nil && response.Verifiers.AccessGroup != nil {
		vc, err := pair(userGroup, *response.Verifiers.AccessGroup)
		if err != nil {
			return contexts, err
		}
		contexts.AccessGroup = &vc
	}
	return contexts, nil
}

func sortedModes(modes []string) []string {
	out := append([]string(nil), modes...)
	sort.Strings(out)
	return slices.Compact(out)
}
