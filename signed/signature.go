// Package signed implements the signed-message envelope: every protocol message is
// serialized, timestamped, and signed under an X.509-certified identity. Validation
// walks the certificate chain to a trusted root, matches the leaf subject against the
// expected role, enforces freshness within a configured leeway, and only then checks
// the signature bytes.
//
// The message-signing identity is distinct from a server's TLS identity; both are
// issued from the same root but the private keys never cross purposes.
package signed

import (
	"crypto/ed25519"
	"crypto/sha512"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/pep-security/pepcore/wire"
)

// Scheme identifies a signature scheme version. See the protocol description for the
// history; V4 is current.
type Scheme uint32

const (
	// SchemeV3 is the previous scheme identifier, retained so persisted signatures
	// keep their meaning on the wire.
	SchemeV3 Scheme = 2
	// SchemeV4 is the scheme produced for all outbound messages.
	SchemeV4 Scheme = 3
)

// DefaultLeeway is the maximum accepted distance between a signature's timestamp and
// the verifier's clock. It doubles as the effective protocol timeout: a retry beyond
// the leeway must re-sign with a fresh timestamp.
const DefaultLeeway = time.Hour

// Timestamp is a moment in milliseconds since the Unix epoch, the protocol's wire
// representation of time.
type Timestamp int64

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return TimestampOf(time.Now())
}

// TimestampOf converts a time.Time.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp(t.UnixMilli())
}

// Time converts back to a time.Time.
func (t Timestamp) Time() time.Time {
	return time.UnixMilli(int64(t))
}

// Error reports a signature that failed validation: broken chain, wrong subject, or
// tampered bytes. Fatal per request.
type Error struct {
	Description string
}

func (e *Error) Error() string {
	return "signed: " + e.Description
}

// WireTypeName implements [wire.TypedError].
func (e *Error) WireTypeName() string { return "SignatureError" }

// ValidityPeriodError reports a signature whose timestamp is outside the accepted
// leeway. It is distinguishable from [Error] so clients can re-sign and retry
// idempotently.
type ValidityPeriodError struct {
	Description string
}

func (e *ValidityPeriodError) Error() string {
	return "signed: " + e.Description
}

// WireTypeName implements [wire.TypedError].
func (e *ValidityPeriodError) WireTypeName() string { return "SignatureValidityPeriodError" }

func init() {
	wire.RegisterErrorType("SignatureError", func(description string) error {
		return &Error{Description: description}
	})
	wire.RegisterErrorType("SignatureValidityPeriodError", func(description string) error {
		return &ValidityPeriodError{Description: description}
	})
}

// Identity is a message-signing identity: an Ed25519 private key and its certificate
// chain, leaf first.
type Identity struct {
	PrivateKey ed25519.PrivateKey
	Chain      []*x509.Certificate
}

// CommonName returns the leaf certificate's common name.
func (id *Identity) CommonName() string {
	if len(id.Chain) == 0 {
		return ""
	}
	return id.Chain[0].Subject.CommonName
}

// RootCAs is the set of trusted root certificates signatures must chain to.
type RootCAs struct {
	pool *x509.CertPool
}

// NewRootCAs builds a trust set from root certificates.
func NewRootCAs(roots ...*x509.Certificate) *RootCAs {
	pool := x509.NewCertPool()
	for _, c := range roots {
		pool.AddCert(c)
	}
	return &RootCAs{pool: pool}
}

// RootCAsFromPEM builds a trust set from a PEM bundle, as loaded from the
// CACertificateFile configuration entry.
func RootCAsFromPEM(bundle []byte) (*RootCAs, error) {
	pool := x509.NewCertPool()
	var found bool
	for {
		var block *pem.Block
		block, bundle = pem.Decode(bundle)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("signed: parsing root certificate: %w", err)
		}
		pool.AddCert(cert)
		found = true
	}
	if !found {
		return nil, errors.New("signed: no certificates in PEM bundle")
	}
	return &RootCAs{pool: pool}, nil
}

// VerifyChain validates a certificate chain (leaf first) against the trust set,
// without reference to any signature.
func VerifyChain(chain []*x509.Certificate, roots *RootCAs, now time.Time) error {
	if len(chain) == 0 {
		return &Error{Description: "empty certificate chain"}
	}
	intermediates := x509.NewCertPool()
	for _, c := range chain[1:] {
		intermediates.AddCert(c)
	}
	if _, err := chain[0].Verify(x509.VerifyOptions{
		Roots:         roots.pool,
		Intermediates: intermediates,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		return &Error{Description: fmt.Sprintf("certificate chain: %v", err)}
	}
	return nil
}

// Signature binds a message body to an X.509-certified sender at a moment in time.
type Signature struct {
	Raw       []byte
	Chain     []*x509.Certificate // leaf first
	Scheme    Scheme
	Timestamp Timestamp
	IsLogCopy bool
}

// digest computes the signed digest: H(body ‖ timestamp ‖ scheme ‖ log-copy flag).
func digest(data []byte, ts Timestamp, scheme Scheme, isLogCopy bool) []byte {
	h := sha512.New()
	h.Write(data)
	var tail [10]byte
	binary.BigEndian.PutUint64(tail[:8], uint64(ts))
	tail[8] = byte(scheme)
	if isLogCopy {
		tail[9] = 1
	}
	h.Write(tail[:])
	return h.Sum(nil)
}

// Sign produces a scheme-V4 signature over data by the given identity.
func Sign(data []byte, id *Identity, isLogCopy bool) (Signature, error) {
	return SignAt(data, id, isLogCopy, time.Now())
}

// SignAt is [Sign] with an explicit clock, for deterministic tests and for re-signing
// at controlled moments.
func SignAt(data []byte, id *Identity, isLogCopy bool, now time.Time) (Signature, error) {
	if len(id.Chain) == 0 {
		return Signature{}, errors.New("signed: identity has no certificate chain")
	}
	ts := TimestampOf(now)
	raw := ed25519.Sign(id.PrivateKey, digest(data, ts, SchemeV4, isLogCopy))
	return Signature{
		Raw:       raw,
		Chain:     id.Chain,
		Scheme:    SchemeV4,
		Timestamp: ts,
		IsLogCopy: isLogCopy,
	}, nil
}

// VerifyOptions parameterize signature validation.
type VerifyOptions struct {
	Roots *RootCAs

	// ExpectedSubject, when non-empty, must equal the leaf certificate's common name.
	ExpectedSubject string

	// Leeway bounds |now − timestamp|; zero means [DefaultLeeway].
	Leeway time.Duration

	// ExpectLogCopy must match the signature's log-copy flag.
	ExpectLogCopy bool

	// Now overrides the verification clock; zero means time.Now().
	Now time.Time
}

// Verify validates the signature over data. Checks run in a fixed order: chain to a
// trusted root, leaf subject, freshness, then the signature bytes.
func (s *Signature) Verify(data []byte, opts VerifyOptions) error {
	if len(s.Chain) == 0 {
		return &Error{Description: "signature carries no certificate chain"}
	}
	leaf := s.Chain[0]

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	if err := VerifyChain(s.Chain, opts.Roots, now); err != nil {
		return err
	}

	if opts.ExpectedSubject != "" && leaf.Subject.CommonName != opts.ExpectedSubject {
		return &Error{Description: fmt.Sprintf(
			"signed by %q, expected %q", leaf.Subject.CommonName, opts.ExpectedSubject)}
	}

	leeway := opts.Leeway
	if leeway == 0 {
		leeway = DefaultLeeway
	}
	if age := now.Sub(s.Timestamp.Time()); age > leeway || age < -leeway {
		return &ValidityPeriodError{Description: fmt.Sprintf(
			"signature timestamp %s outside leeway %s", s.Timestamp.Time().UTC().Format(time.RFC3339), leeway)}
	}

	if s.IsLogCopy != opts.ExpectLogCopy {
		return &Error{Description: "log-copy flag mismatch"}
	}

	pub, ok := leaf.PublicKey.(ed25519.PublicKey)
	if !ok {
		return &Error{Description: "leaf certificate does not carry an Ed25519 key"}
	}
	if !ed25519.Verify(pub, digest(data, s.Timestamp, s.Scheme, s.IsLogCopy), s.Raw) {
		return &Error{Description: "signature does not match message bytes"}
	}
	return nil
}

// LeafCommonName returns the signer's common name.
func (s *Signature) LeafCommonName() string {
	if len(s.Chain) == 0 {
		return ""
	}
	return s.Chain[0].Subject.CommonName
}

// LeafOrganizationalUnit returns the signer's organizational unit.
func (s *Signature) LeafOrganizationalUnit() string {
	if len(s.Chain) == 0 || len(s.Chain[0].Subject.OrganizationalUnit) == 0 {
		return ""
	}
	return s.Chain[0].Subject.OrganizationalUnit[0]
}

// AppendFields encodes the signature as an embedded message.
func (s *Signature) AppendFields(dst []byte) ([]byte, error) {
	dst = wire.AppendBytes(dst, 1, s.Raw)
	for _, c := range s.Chain {
		dst = wire.AppendBytes(dst, 2, c.Raw)
	}
	dst = wire.AppendUint64(dst, 3, uint64(s.Scheme))
	dst = wire.AppendUint64(dst, 4, uint64(s.Timestamp))
	dst = wire.AppendBool(dst, 5, s.IsLogCopy)
	return dst, nil
}

// ParseFields decodes the signature from an embedded message.
func (s *Signature) ParseFields(data []byte) error {
	*s = Signature{}
	sc := wire.NewScanner(data)
	for sc.Scan() {
		switch sc.Number() {
		case protowire.Number(1):
			s.Raw = append([]byte(nil), sc.Bytes()...)
		case protowire.Number(2):
			cert, err := x509.ParseCertificate(sc.Bytes())
			if err != nil {
				return &wire.SerializeError{Description: fmt.Sprintf("certificate in chain: %v", err)}
			}
			s.Chain = append(s.Chain, cert)
		case protowire.Number(3):
			s.Scheme = Scheme(sc.Uint64())
		case protowire.Number(4):
			s.Timestamp = Timestamp(sc.Uint64())
		case protowire.Number(5):
			s.IsLogCopy = sc.Bool()
		default:
			sc.Skip()
		}
	}
	return sc.Err()
}
