package client_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/pep-security/pepcore/accessmanager"
	"github.com/pep-security/pepcore/auth"
	"github.com/pep-security/pepcore/client"
	"github.com/pep-security/pepcore/curve"
	"github.com/pep-security/pepcore/elgamal"
	"github.com/pep-security/pepcore/internal/testdata"
	"github.com/pep-security/pepcore/internal/testpki"
	"github.com/pep-security/pepcore/rsk"
	"github.com/pep-security/pepcore/rskpep"
	"github.com/pep-security/pepcore/signed"
	"github.com/pep-security/pepcore/ticketing"
	"github.com/pep-security/pepcore/transcryptor"
)

// transcryptorProxy stands in for the Access Manager's connection to the Transcryptor.
// It late-binds the target and lets tests intercept traffic.
type transcryptorProxy struct {
	target *transcryptor.Server
	calls  int

	// tamper, when set, mutates the outgoing entries before they reach the target.
	tamper func(*transcryptor.RequestEntries)
}

func (p *transcryptorProxy) HandleTranscryption(req *signed.Message[transcryptor.Request, *transcryptor.Request], entries *transcryptor.RequestEntries) (*transcryptor.Response, error) {
	p.calls++
	if p.tamper != nil {
		p.tamper(entries)
	}
	return p.target.HandleTranscryption(req, entries)
}

func (p *transcryptorProxy) HandleLogIssuedTicket(req *signed.Message[transcryptor.LogIssuedTicketRequest, *transcryptor.LogIssuedTicketRequest]) (*transcryptor.LogIssuedTicketResponse, error) {
	return p.target.HandleLogIssuedTicket(req)
}

// fixture is a complete in-process deployment: one Access Manager, one Transcryptor,
// one research user, and a small research-study policy.
type fixture struct {
	ca    *testpki.CA
	am    *accessmanager.Server
	ts    *transcryptor.Server
	proxy *transcryptorProxy
	user  *signed.Identity

	masterPK *elgamal.PublicKey
	policy   *accessmanager.Policy

	tsDataKeys rskpep.DataTranslationKeys

	subjects map[string]rskpep.PolymorphicPseudonym
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	drbg := testdata.New("client e2e fixture")
	rand := drbg.Reader()
	ca := testpki.NewCA("PEP Test Root CA")

	amKeys := rskpep.PseudonymTranslationKeys{}
	copy(amKeys.EncryptionKeyFactorSecret[:], drbg.Data(rsk.KeyFactorSecretBytes))
	copy(amKeys.PseudonymizationKeyFactorSecret[:], drbg.Data(rsk.KeyFactorSecretBytes))
	copy(amKeys.MasterPrivateKeyShare[:], drbg.Scalar().Bytes())
	tsKeys := rskpep.PseudonymTranslationKeys{}
	copy(tsKeys.EncryptionKeyFactorSecret[:], drbg.Data(rsk.KeyFactorSecretBytes))
	copy(tsKeys.PseudonymizationKeyFactorSecret[:], drbg.Data(rsk.KeyFactorSecretBytes))
	copy(tsKeys.MasterPrivateKeyShare[:], drbg.Scalar().Bytes())

	amData := rskpep.DataTranslationKeys{}
	copy(amData.EncryptionKeyFactorSecret[:], drbg.Data(rsk.KeyFactorSecretBytes))
	copy(amData.MasterPrivateKeyShare[:], drbg.Scalar().Bytes())
	var blinding rsk.KeyFactorSecret
	copy(blinding[:], drbg.Data(len(blinding)))
	amData.BlindingKeySecret = &blinding
	tsData := rskpep.DataTranslationKeys{}
	copy(tsData.EncryptionKeyFactorSecret[:], drbg.Data(rsk.KeyFactorSecretBytes))
	copy(tsData.MasterPrivateKeyShare[:], drbg.Scalar().Bytes())

	amShare, err := amKeys.MasterPrivateKeyShare.Scalar()
	require.NoError(t, err)
	tsShare, err := tsKeys.MasterPrivateKeyShare.Scalar()
	require.NoError(t, err)
	masterPK := curve.BaseMult(amShare.Mul(tsShare))

	// The Transcryptor's own pseudonym key, as enrollment would assemble it.
	amTranslator := rskpep.NewPseudonymTranslator(amKeys, nil)
	tsTranslator := rskpep.NewPseudonymTranslator(tsKeys, nil)
	amComponent, err := amTranslator.KeyComponent(auth.SubjectTranscryptor)
	require.NoError(t, err)
	tsComponent, err := tsTranslator.KeyComponent(auth.SubjectTranscryptor)
	require.NoError(t, err)
	tsPseudonymKey := amComponent.Mul(tsComponent)

	policy := accessmanager.NewPolicy()
	policy.GrantModes(auth.ResearchAssessor, ticketing.ModeRead)
	policy.GrantColumns(auth.ResearchAssessor, "WeightKg", "HeightCm")
	policy.DefineColumnGroup("Vitals", "WeightKg", "HeightCm")

	subjects := map[string]rskpep.PolymorphicPseudonym{}
	for _, id := range []string{"PEP0001", "PEP0002"} {
		pp, err := rskpep.NewPolymorphicPseudonym(masterPK, id, rand)
		require.NoError(t, err)
		subjects[id] = pp
		policy.RegisterParticipant("TestGroup", pp)
	}

	proxy := &transcryptorProxy{}
	am, err := accessmanager.NewServer(accessmanager.Config{
		Identity:        ca.Server(auth.SubjectAccessManager),
		Roots:           ca.Roots(),
		PseudonymKeys:   amKeys,
		DataKeys:        amData,
		MasterPublicKey: masterPK,
		Policy:          policy,
		Transcryptor:    proxy,
		Logger:          zerolog.Nop(),
	})
	require.NoError(t, err)

	ts, err := transcryptor.NewServer(transcryptor.Config{
		Identity:               ca.Server(auth.SubjectTranscryptor),
		Roots:                  ca.Roots(),
		PseudonymKeys:          tsKeys,
		DataKeys:               tsData,
		MasterPublicKey:        masterPK,
		PseudonymPrivateKey:    tsPseudonymKey,
		AccessManagerVerifiers: am,
		Logger:                 zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { ts.Close() })
	proxy.target = ts

	return &fixture{
		ca:         ca,
		am:         am,
		ts:         ts,
		proxy:      proxy,
		user:       ca.Issue("assessor@study.example", auth.ResearchAssessor),
		masterPK:   masterPK,
		policy:     policy,
		tsDataKeys: tsData,
		subjects:   subjects,
	}
}

func (f *fixture) client() *client.Client {
	return client.New(client.Config{
		Identity:        f.user,
		Roots:           f.ca.Roots(),
		MasterPublicKey: f.masterPK,
		AccessManager:   f.am,
	})
}

func (f *fixture) auditRows(t *testing.T) []transcryptor.IssuedTicketRecord {
	t.Helper()
	rows, err := f.ts.Storage().IssuedTickets()
	require.NoError(t, err)
	return rows
}

func baseRequest() *ticketing.TicketRequest2 {
	return &ticketing.TicketRequest2{
		Modes:             []string{ticketing.ModeRead},
		ParticipantGroups: []string{"TestGroup"},
		Columns:           []string{"WeightKg"},
	}
}

func TestTicketIssuance(t *testing.T) {
	f := newFixture(t)
	c := f.client()

	indexed, ticket, err := c.RequestTicket(baseRequest())
	require.NoError(t, err)

	require.Len(t, ticket.Pseudonyms, 2)
	require.Equal(t, []string{"WeightKg"}, ticket.Columns)
	require.Equal(t, []string{ticketing.ModeRead}, ticket.Modes)
	require.Equal(t, auth.ResearchAssessor, ticket.UserGroup)
	require.NotNil(t, indexed.Ticket.Signature)
	require.NotNil(t, indexed.Ticket.TranscryptorSignature)
	require.Len(t, indexed.Proofs, 2)
	for _, entry := range ticket.Pseudonyms {
		require.Nil(t, entry.AccessGroup)
	}

	rows := f.auditRows(t)
	require.Len(t, rows, 1)
	require.Equal(t, auth.ResearchAssessor, rows[0].UserGroup)
	require.Equal(t, []string{ticketing.ModeRead}, rows[0].Modes)
	require.Equal(t, []string{"WeightKg"}, rows[0].Columns)
	require.NotEmpty(t, rows[0].PseudonymHash)
}

func TestTicketRequestDeniedForMissingMode(t *testing.T) {
	f := newFixture(t)
	c := f.client()

	req := baseRequest()
	req.Modes = []string{ticketing.ModeWrite}

	_, _, err := c.RequestTicket(req)
	var denied *auth.AccessDeniedError
	require.ErrorAs(t, err, &denied)
	require.Zero(t, f.proxy.calls, "the transcryptor must not see a denied request")
	require.Empty(t, f.auditRows(t), "no audit row may be written for a denied request")
}

func TestTicketWithUserGroupPseudonyms(t *testing.T) {
	f := newFixture(t)
	c := f.client()

	req := baseRequest()
	req.IncludeUserGroupPseudonyms = true

	indexed, ticket, err := c.RequestTicket(req)
	require.NoError(t, err)

	require.Len(t, ticket.Pseudonyms, 2)
	for i := range ticket.Pseudonyms {
		require.NotNil(t, ticket.Pseudonyms[i].AccessGroup, "entry %d lacks the user group view", i)
		require.NotNil(t, indexed.Proofs[i].AccessGroup, "entry %d lacks the user group proof", i)
	}

	// Enrollment: the assembled user-group key decrypts the fourth view, and both
	// subjects resolve to distinct, stable local pseudonyms.
	keys, err := c.Enroll(f.am, f.ts)
	require.NoError(t, err)

	first := ticket.Pseudonyms[0].AccessGroup.Decrypt(keys.PseudonymKey)
	second := ticket.Pseudonyms[1].AccessGroup.Decrypt(keys.PseudonymKey)
	require.False(t, first.Equal(second), "different subjects must localize differently")

	_, ticket2, err := c.RequestTicket(req)
	require.NoError(t, err)
	again := ticket2.Pseudonyms[0].AccessGroup.Decrypt(keys.PseudonymKey)
	require.True(t, first.Equal(again), "the same subject must localize stably per recipient")
}

func TestTicketReplayPastLeeway(t *testing.T) {
	f := newFixture(t)
	c := f.client()

	indexed, _, err := c.RequestTicket(baseRequest())
	require.NoError(t, err)

	_, err = indexed.Ticket.Open(ticketing.TicketVerifyOptions{
		Roots:       f.ca.Roots(),
		AccessGroup: auth.ResearchAssessor,
		Now:         time.Now().Add(61 * time.Minute),
	})
	var vpe *signed.ValidityPeriodError
	require.ErrorAs(t, err, &vpe)
}

func TestTamperedProofAbortsAtTranscryptor(t *testing.T) {
	f := newFixture(t)
	c := f.client()

	f.proxy.tamper = func(entries *transcryptor.RequestEntries) {
		entries.Entries[0].AccessManagerProof.SB = curve.Base()
	}

	_, _, err := c.RequestTicket(baseRequest())
	var invalid *rsk.InvalidProofError
	require.ErrorAs(t, err, &invalid)
	require.Empty(t, f.auditRows(t), "no audit row may be committed for a tampered request")
}

func TestConcurrentIdenticalRequests(t *testing.T) {
	f := newFixture(t)

	type result struct {
		ticket *ticketing.Ticket2
		err    error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, ticket, err := f.client().RequestTicket(baseRequest())
			results <- result{ticket, err}
		}()
	}
	for i := 0; i < 2; i++ {
		r := <-results
		require.NoError(t, r.err)
		require.Len(t, r.ticket.Pseudonyms, 2)
	}

	rows := f.auditRows(t)
	require.Len(t, rows, 2)
	require.NotEqual(t, rows[0].ID, rows[1].ID, "each issuance gets its own ticket id")
	require.True(t, bytes.Equal(rows[0].PseudonymHash, rows[1].PseudonymHash),
		"identical subject sets may share a pseudonym hash")
}

func TestUnknownParticipantGroupDenied(t *testing.T) {
	f := newFixture(t)
	c := f.client()

	req := baseRequest()
	req.ParticipantGroups = []string{"NoSuchGroup"}

	_, _, err := c.RequestTicket(req)
	var denied *auth.AccessDeniedError
	require.ErrorAs(t, err, &denied)
}

func TestColumnGroupResolution(t *testing.T) {
	f := newFixture(t)
	c := f.client()

	req := baseRequest()
	req.Columns = nil
	req.ColumnGroups = []string{"Vitals"}

	_, ticket, err := c.RequestTicket(req)
	require.NoError(t, err)
	require.Equal(t, []string{"HeightCm", "WeightKg"}, ticket.Columns, "columns are sorted and de-duplicated")
}

func TestRekeyThroughTranscryptor(t *testing.T) {
	f := newFixture(t)
	drbg := testdata.New("client rekey")
	rand := drbg.Reader()

	// The storage facility asks the transcryptor to move a data key towards the user.
	sf := f.ca.Server(auth.SubjectStorageFacility)
	keyPoint := drbg.Point()

	tsDataShare, err := f.tsDataKeys.MasterPrivateKeyShare.Scalar()
	require.NoError(t, err)
	encrypted, err := elgamal.Encrypt(curve.BaseMult(tsDataShare), keyPoint, rand)
	require.NoError(t, err)

	body := &transcryptor.RekeyRequest{
		Keys:                   []elgamal.Ciphertext{encrypted},
		ClientCertificateChain: f.user.Chain,
	}
	req, err := signed.SealAt[transcryptor.RekeyRequest](body, sf, time.Now())
	require.NoError(t, err)

	resp, err := f.ts.HandleRekey(req)
	require.NoError(t, err)
	require.Len(t, resp.Keys, 1)

	component, err := f.ts.DataTranslator().KeyComponent(auth.ResearchAssessor)
	require.NoError(t, err)
	got := resp.Keys[0].Decrypt(component)
	require.True(t, got.Equal(keyPoint), "rekeyed data key must decrypt under the recipient's component")

	// Only the storage facility may request rekeying.
	fromUser, err := signed.SealAt[transcryptor.RekeyRequest](body, f.user, time.Now())
	require.NoError(t, err)
	_, err = f.ts.HandleRekey(fromUser)
	var sigErr *signed.Error
	require.ErrorAs(t, err, &sigErr)
}
