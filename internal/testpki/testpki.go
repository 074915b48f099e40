// Package testpki mints throwaway X.509 hierarchies for tests: one root CA and leaf
// identities for the server roles and users.
package testpki

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"github.com/pep-security/pepcore/signed"
)

// CA is a test certificate authority.
type CA struct {
	Cert *x509.Certificate
	key  ed25519.PrivateKey

	serial int64
}

// NewCA creates a self-signed root CA.
func NewCA(name string) *CA {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: name},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, priv)
	if err != nil {
		panic(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		panic(err)
	}
	return &CA{Cert: cert, key: priv, serial: 1}
}

// Roots returns the trust set containing only this CA.
func (ca *CA) Roots() *signed.RootCAs {
	return signed.NewRootCAs(ca.Cert)
}

// Issue creates a leaf identity with the given common name and organizational unit.
// Server roles are enrolled with CN equal to OU.
func (ca *CA) Issue(commonName, organizationalUnit string) *signed.Identity {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}
	ca.serial++
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(ca.serial),
		Subject: pkix.Name{
			CommonName:         commonName,
			OrganizationalUnit: []string{organizationalUnit},
		},
		NotBefore:   time.Now().Add(-time.Hour),
		NotAfter:    time.Now().Add(24 * time.Hour),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.Cert, pub, ca.key)
	if err != nil {
		panic(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		panic(fmt.Sprintf("testpki: parsing issued certificate: %v", err))
	}
	return &signed.Identity{
		PrivateKey: priv,
		Chain:      []*x509.Certificate{cert, ca.Cert},
	}
}

// Server issues a server identity for the given facility role (CN == OU).
func (ca *CA) Server(role string) *signed.Identity {
	return ca.Issue(role, role)
}
