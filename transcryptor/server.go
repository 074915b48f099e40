package transcryptor

import (
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pep-security/pepcore/auth"
	"github.com/pep-security/pepcore/elgamal"
	"github.com/pep-security/pepcore/enrollment"
	"github.com/pep-security/pepcore/rsk"
	"github.com/pep-security/pepcore/rskpep"
	"github.com/pep-security/pepcore/signed"
	"github.com/pep-security/pepcore/ticketing"
)

// VerifiersSource yields another server's pseudonym-translation proof verifiers for a
// recipient, relative to the public key its translation inputs are encrypted under.
type VerifiersSource interface {
	PseudonymVerifiers(recipient string, y *elgamal.PublicKey) (rsk.RSKVerifiers, error)
}

// Config assembles a Transcryptor.
type Config struct {
	Identity *signed.Identity
	Roots    *signed.RootCAs

	PseudonymKeys rskpep.PseudonymTranslationKeys
	DataKeys      rskpep.DataTranslationKeys

	// MasterPublicKey is the pseudonym-domain master public key, the start of every
	// translation pipeline.
	MasterPublicKey *elgamal.PublicKey

	// PseudonymPrivateKey is this server's enrolled decryption key for its own
	// pseudonym view, assembled from the key components of all servers. It indexes the
	// audit rows.
	PseudonymPrivateKey *elgamal.PrivateKey

	// AccessManagerVerifiers yields the Access Manager's proof verifiers, used to
	// check the first-step proofs before performing the second step.
	AccessManagerVerifiers VerifiersSource

	// StoragePath locates the audit store; empty means in-memory.
	StoragePath string

	// Leeway bounds signature timestamps; zero means [signed.DefaultLeeway].
	Leeway time.Duration

	Logger zerolog.Logger

	// Rand overrides the randomness source; nil means crypto/rand.
	Rand io.Reader

	// Clock overrides the validation clock; nil means time.Now.
	Clock func() time.Time
}

type pendingTicket struct {
	entries        []ticketing.LocalPseudonyms
	ownPseudonyms  []rskpep.LocalPseudonym
	userGroup      string
	modes          []string
}

// Server is the Transcryptor.
type Server struct {
	cfg        Config
	pseudonyms *rskpep.PseudonymTranslator
	data       *rskpep.DataTranslator
	storage    *Storage
	log        zerolog.Logger

	mu      sync.Mutex
	pending map[string]pendingTicket
}

// NewServer creates a Transcryptor over its startup key material.
func NewServer(cfg Config) (*Server, error) {
	cache, err := rsk.NewCache(rsk.DefaultCacheSize)
	if err != nil {
		return nil, err
	}
	storage, err := OpenStorage(cfg.StoragePath)
	if err != nil {
		return nil, err
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Server{
		cfg:        cfg,
		pseudonyms: rskpep.NewPseudonymTranslator(cfg.PseudonymKeys, cache),
		data:       rskpep.NewDataTranslator(cfg.DataKeys, cache),
		storage:    storage,
		log:        cfg.Logger.With().Str("component", "transcryptor").Logger(),
		pending:    map[string]pendingTicket{},
	}, nil
}

// Close releases the audit store.
func (s *Server) Close() error {
	return s.storage.Close()
}

// Storage exposes the audit store for watchdog queries.
func (s *Server) Storage() *Storage {
	return s.storage
}

// PseudonymTranslator exposes the pseudonym translator for enrollment handling.
func (s *Server) PseudonymTranslator() *rskpep.PseudonymTranslator {
	return s.pseudonyms
}

// DataTranslator exposes the data translator for enrollment handling.
func (s *Server) DataTranslator() *rskpep.DataTranslator {
	return s.data
}

// HandleKeyComponent issues this server's key components to an enrolling party.
func (s *Server) HandleKeyComponent(req *enrollment.SignedKeyComponentRequest) (*enrollment.KeyComponentResponse, error) {
	return enrollment.HandleKeyComponentRequest(req, s.pseudonyms, s.data, s.cfg.Roots, s.cfg.Leeway, s.cfg.Clock())
}

// PseudonymVerifiers implements [VerifiersSource] for this server's own steps.
func (s *Server) PseudonymVerifiers(recipient string, y *elgamal.PublicKey) (rsk.RSKVerifiers, error) {
	return s.pseudonyms.TranslationProofVerifiers(recipient, y)
}

// HandleTranscryption performs the Transcryptor's step of the ticketing protocol: it
// re-validates the client's original signature, validates the Access Manager's wrapper
// signature and every first-step proof, applies its own certified step to every view,
// and reserves an audit identifier the finished ticket must be logged under.
func (s *Server) HandleTranscryption(req *signed.Message[Request, *Request], entries *RequestEntries) (*Response, error) {
	now := s.cfg.Clock()
	body, err := req.Open(signed.VerifyOptions{
		Roots:           s.cfg.Roots,
		ExpectedSubject: auth.SubjectAccessManager,
		Leeway:          s.cfg.Leeway,
		Now:             now,
	})
	if err != nil {
		return nil, err
	}
	if body.Request == nil {
		return nil, &signed.Error{Description: "transcryptor request lacks the client request"}
	}
	request, userGroup, err := body.Request.OpenAsTranscryptor(s.cfg.Roots, s.cfg.Leeway, now)
	if err != nil {
		return nil, err
	}
	if len(request.Modes) == 0 {
		return nil, &auth.AccessDeniedError{Description: "ticket request names no access modes"}
	}
	if len(entries.Entries) == 0 {
		return nil, &auth.AccessDeniedError{Description: "ticket request names no pseudonyms"}
	}

	// The Access Manager's steps all start from the master public key.
	amVerifiers, err := s.accessManagerVerifiers(userGroup, request.IncludeUserGroupPseudonyms)
	if err != nil {
		return nil, err
	}

	response := &Response{ID: newTicketID(s.cfg.Rand)}
	pending := pendingTicket{
		userGroup:      userGroup,
		modes:          request.Modes,
	}

	for i := range entries.Entries {
		entry := &entries.Entries[i]
		if (entry.AccessGroup != nil) != request.IncludeUserGroupPseudonyms {
			return nil, &auth.AccessDeniedError{Description: "entry views do not match the requested pseudonym set"}
		}
		if !entry.Polymorphic.Ciphertext().Y.Equal(s.cfg.MasterPublicKey) {
			return nil, &rsk.InvalidProofError{Description: "polymorphic pseudonym is not encrypted under the master public key"}
		}

		bundle, proofs, own, err := s.transcryptEntry(entry, userGroup, amVerifiers)
		if err != nil {
			s.log.Warn().Int("entry", i).Err(err).Msg("rejecting transcryption request")
			return nil, err
		}
		response.Entries = append(response.Entries, bundle)
		response.Proofs = append(response.Proofs, proofs)
		pending.ownPseudonyms = append(pending.ownPseudonyms, own)
	}
	pending.entries = response.Entries

	response.Verifiers, err = s.ownVerifiers(userGroup, response.Proofs[0])
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.pending[response.ID] = pending
	s.mu.Unlock()

	s.log.Info().
		Str("ticket_id", response.ID).
		Str("user_group", userGroup).
		Int("pseudonyms", len(response.Entries)).
		Msg("transcryption step complete")
	return response, nil
}

type amVerifierSet struct {
	accessManager   rsk.RSKVerifiers
	storageFacility rsk.RSKVerifiers
	transcryptor    rsk.RSKVerifiers
	accessGroup     *rsk.RSKVerifiers
}

func (s *Server) accessManagerVerifiers(userGroup string, includeAccessGroup bool) (amVerifierSet, error) {
	src := s.cfg.AccessManagerVerifiers
	y := s.cfg.MasterPublicKey

	var set amVerifierSet
	var err error
	if set.accessManager, err = src.PseudonymVerifiers(auth.SubjectAccessManager, y); err != nil {
		return set, err
	}
	if set.storageFacility, err = src.PseudonymVerifiers(auth.SubjectStorageFacility, y); err != nil {
		return set, err
	}
	if set.transcryptor, err = src.PseudonymVerifiers(auth.SubjectTranscryptor, y); err != nil {
		return set, err
	}
	if includeAccessGroup {
		v, err := src.PseudonymVerifiers(userGroup, y)
		if err != nil {
			return set, err
		}
		set.accessGroup = &v
	}
	return set, nil
}

// transcryptEntry checks one entry's first-step proofs and applies this server's
// certified step to every view.
func (s *Server) transcryptEntry(entry *RequestEntry, userGroup string, amv amVerifierSet) (ticketing.LocalPseudonyms, ticketing.EntryProofs, rskpep.LocalPseudonym, error) {
	var none rskpep.LocalPseudonym

	step := func(pre rskpep.PolymorphicPseudonym, intermediate rskpep.EncryptedLocalPseudonym, amProof rsk.RSKProof, amVerifiers rsk.RSKVerifiers, recipient string) (rskpep.EncryptedLocalPseudonym, ticketing.ViewProof, error) {
		if err := s.pseudonyms.CheckTranslationProof(pre, intermediate, &amProof, amVerifiers); err != nil {
			return rskpep.EncryptedLocalPseudonym{}, ticketing.ViewProof{}, err
		}
		final, proof, err := s.pseudonyms.CertifiedTranslateStep(intermediate, recipient, s.cfg.Rand)
		if err != nil {
			return rskpep.EncryptedLocalPseudonym{}, ticketing.ViewProof{}, err
		}
		return final, ticketing.ViewProof{
			Intermediate:       intermediate.Ciphertext(),
			Final:              final.Ciphertext(),
			AccessManagerProof: amProof,
			TranscryptorProof:  *proof,
		}, nil
	}

	amFinal, amView, err := step(entry.Polymorphic, entry.AccessManager, entry.AccessManagerProof, amv.accessManager, auth.SubjectAccessManager)
	if err != nil {
		return ticketing.LocalPseudonyms{}, ticketing.EntryProofs{}, none, err
	}
	sfFinal, sfView, err := step(entry.Polymorphic, entry.StorageFacility, entry.StorageFacilityProof, amv.storageFacility, auth.SubjectStorageFacility)
	if err != nil {
		return ticketing.LocalPseudonyms{}, ticketing.EntryProofs{}, none, err
	}
	tsFinal, tsView, err := step(entry.Polymorphic, entry.Transcryptor, entry.TranscryptorProof, amv.transcryptor, auth.SubjectTranscryptor)
	if err != nil {
		return ticketing.LocalPseudonyms{}, ticketing.EntryProofs{}, none, err
	}

	bundle := ticketing.LocalPseudonyms{
		AccessManager:   amFinal,
		StorageFacility: sfFinal,
		Polymorphic:     entry.Polymorphic,
	}
	proofs := ticketing.EntryProofs{
		AccessManager:   amView,
		StorageFacility: sfView,
		Transcryptor:    tsView,
	}

	if entry.AccessGroup != nil {
		if entry.AccessGroupProof == nil || amv.accessGroup == nil {
			return ticketing.LocalPseudonyms{}, ticketing.EntryProofs{}, none, &rsk.InvalidProofError{Description: "access group view lacks a proof"}
		}
		agFinal, agView, err := step(entry.Polymorphic, *entry.AccessGroup, *entry.AccessGroupProof, *amv.accessGroup, userGroup)
		if err != nil {
			return ticketing.LocalPseudonyms{}, ticketing.EntryProofs{}, none, err
		}
		bundle.AccessGroup = &agFinal
		proofs.AccessGroup = &agView
	}

	own := tsFinal.Decrypt(s.cfg.PseudonymPrivateKey)
	return bundle, proofs, own, nil
}

// ownVerifiers computes this server's per-view proof verifiers. Its steps start from
// the intermediate stage, whose public key k_AM(view)·masterPK is observed as the Y
// component of the first entry's intermediate ciphertexts; the proof checks above
// already established that every entry shares those stage keys.
func (s *Server) ownVerifiers(userGroup string, first ticketing.EntryProofs) (ViewVerifiers, error) {
	var out ViewVerifiers
	var err error
	if out.AccessManager, err = s.pseudonyms.TranslationProofVerifiers(auth.SubjectAccessManager, first.AccessManager.Intermediate.Y); err != nil {
		return out, err
	}
	if out.StorageFacility, err = s.pseudonyms.TranslationProofVerifiers(auth.SubjectStorageFacility, first.StorageFacility.Intermediate.Y); err != nil {
		return out, err
	}
	if out.Transcryptor, err = s.pseudonyms.TranslationProofVerifiers(auth.SubjectTranscryptor, first.Transcryptor.Intermediate.Y); err != nil {
		return out, err
	}
	if first.AccessGroup != nil {
		v, err := s.pseudonyms.TranslationProofVerifiers(userGroup, first.AccessGroup.Intermediate.Y)
		if err != nil {
			return out, err
		}
		out.AccessGroup = &v
	}
	return out, nil
}

// HandleLogIssuedTicket validates the finished ticket against the reserved request,
// appends the audit row, and returns this server's countersignature over the ticket
// body.
func (s *Server) HandleLogIssuedTicket(req *signed.Message[LogIssuedTicketRequest, *LogIssuedTicketRequest]) (*LogIssuedTicketResponse, error) {
	now := s.cfg.Clock()
	body, err := req.Open(signed.VerifyOptions{
		Roots:           s.cfg.Roots,
		ExpectedSubject: auth.SubjectAccessManager,
		Leeway:          s.cfg.Leeway,
		Now:             now,
	})
	if err != nil {
		return nil, err
	}
	if body.Ticket == nil || body.Ticket.Signature == nil {
		return nil, &signed.Error{Description: "issued ticket lacks the access manager signature"}
	}
	if err := body.Ticket.Signature.Verify(body.Ticket.Data, signed.VerifyOptions{
		Roots:           s.cfg.Roots,
		ExpectedSubject: auth.SubjectAccessManager,
		Leeway:          s.cfg.Leeway,
		Now:             now,
	}); err != nil {
		return nil, err
	}
	ticket, err := body.Ticket.OpenWithoutCheckingSignature()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	pending, ok := s.pending[body.ID]
	if ok {
		delete(s.pending, body.ID)
	}
	s.mu.Unlock()
	if !ok {
		return nil, &auth.AccessDeniedError{Description: "unknown ticket id " + body.ID}
	}

	if err := matchesPending(ticket, pending); err != nil {
		return nil, err
	}

	record := IssuedTicketRecord{
		ID:            body.ID,
		Timestamp:     ticket.Timestamp,
		PseudonymHash: ticketing.HashPseudonyms(pending.ownPseudonyms),
		Columns:       ticket.Columns,
		Modes:         ticket.Modes,
		UserGroup:     ticket.UserGroup,
	}
	seq, err := s.storage.LogIssuedTicket(record)
	if err != nil {
		return nil, err
	}

	sig, err := signed.SignAt(body.Ticket.Data, s.cfg.Identity, false, now)
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("ticket_id", body.ID).
		Uint64("seq", seq).
		Str("user_group", ticket.UserGroup).
		Msg("issued ticket logged")
	return &LogIssuedTicketResponse{Signature: sig}, nil
}

func matchesPending(ticket *ticketing.Ticket2, pending pendingTicket) error {
	if ticket.UserGroup != pending.userGroup {
		return &auth.AccessDeniedError{Description: "ticket user group does not match the transcrypted request"}
	}
	for _, mode := range ticket.Modes {
		if !slices.Contains(pending.modes, mode) {
			return &auth.AccessDeniedError{Description: "ticket grants mode " + mode + " beyond the transcrypted request"}
		}
	}
	if len(ticket.Pseudonyms) != len(pending.entries) {
		return &auth.AccessDeniedError{Description: "ticket pseudonym count does not match the transcrypted request"}
	}
	for i := range ticket.Pseudonyms {
		got, want := &ticket.Pseudonyms[i], &pending.entries[i]
		if !got.AccessManager.Equal(want.AccessManager) ||
			!got.StorageFacility.Equal(want.StorageFacility) ||
			!got.Polymorphic.Equal(want.Polymorphic) ||
			(got.AccessGroup == nil) != (want.AccessGroup == nil) ||
			(got.AccessGroup != nil && !got.AccessGroup.Equal(*want.AccessGroup)) {
			return &auth.AccessDeniedError{Description: "ticket pseudonyms do not match the transcrypted request"}
		}
	}
	return nil
}

// HandleRekey moves a batch of encrypted data keys towards the client named by the
// request's certificate chain. Only the Storage Facility may ask.
func (s *Server) HandleRekey(req *signed.Message[RekeyRequest, *RekeyRequest]) (*RekeyResponse, error) {
	now := s.cfg.Clock()
	body, err := req.Open(signed.VerifyOptions{
		Roots:           s.cfg.Roots,
		ExpectedSubject: auth.SubjectStorageFacility,
		Leeway:          s.cfg.Leeway,
		Now:             now,
	})
	if err != nil {
		return nil, err
	}
	if err := signed.VerifyChain(body.ClientCertificateChain, s.cfg.Roots, now); err != nil {
		return nil, err
	}
	recipient, err := clientRecipient(body.ClientCertificateChain)
	if err != nil {
		return nil, err
	}

	response := &RekeyResponse{Keys: make([]elgamal.Ciphertext, len(body.Keys))}
	for i, key := range body.Keys {
		if response.Keys[i], err = s.data.TranslateStep(key, recipient, s.cfg.Rand); err != nil {
			return nil, err
		}
	}
	return response, nil
}

// clientRecipient returns the recipient name key material is derived for: the leaf's
// organizational unit (the user's access group, or the facility name for servers).
func clientRecipient(chain []*x509.Certificate) (string, error) {
	if len(chain) == 0 {
		return "", &signed.Error{Description: "rekey request lacks the client certificate chain"}
	}
	if len(chain[0].Subject.OrganizationalUnit) == 0 {
		return "", &signed.Error{Description: "client certificate lacks an organizational unit"}
	}
	return chain[0].Subject.OrganizationalUnit[0], nil
}

func newTicketID(rand io.Reader) string {
	var b [16]byte
	if _, err := io.ReadFull(rand, b[:]); err != nil {
		panic(fmt.Sprintf("transcryptor: reading randomness for ticket id: %v", err))
	}
	return hex.EncodeToString(b[:])
}
