// Package auth maps X.509 certificate subjects to protocol roles and defines the
// well-known user groups and the access-denied error the policy checks produce.
package auth

import (
	"crypto/x509"

	"github.com/pep-security/pepcore/wire"
)

// FacilityType is the protocol role behind a certificate.
type FacilityType int

const (
	UnknownFacility FacilityType = iota
	UserFacility
	StorageFacility
	AccessManagerFacility
	TranscryptorFacility
	RegistrationServerFacility
)

// Certificate subjects of the server roles. Servers are enrolled with CN equal to OU.
const (
	SubjectStorageFacility    = "StorageFacility"
	SubjectAccessManager      = "AccessManager"
	SubjectTranscryptor       = "Transcryptor"
	SubjectRegistrationServer = "RegistrationServer"
)

var subjectFacilities = map[string]FacilityType{
	SubjectStorageFacility:    StorageFacility,
	SubjectAccessManager:      AccessManagerFacility,
	SubjectTranscryptor:       TranscryptorFacility,
	SubjectRegistrationServer: RegistrationServerFacility,
}

// FacilityTypeOf determines the role behind a leaf certificate. Server facilities
// require CN == OU; anything else is a user (or unknown).
func FacilityTypeOf(cert *x509.Certificate) FacilityType {
	cn := cert.Subject.CommonName
	ou := ""
	if len(cert.Subject.OrganizationalUnit) > 0 {
		ou = cert.Subject.OrganizationalUnit[0]
	}
	if cn == ou {
		if ft, ok := subjectFacilities[ou]; ok {
			return ft
		}
	}
	if cn != "" {
		return UserFacility
	}
	return UnknownFacility
}

// Subject returns the certificate subject for a server facility, or "" for user and
// unknown facilities.
func (ft FacilityType) Subject() string {
	for subject, t := range subjectFacilities {
		if t == ft {
			return subject
		}
	}
	return ""
}

// Well-known user groups checked in code.
const (
	AccessAdministrator = "Access Administrator"
	DataAdministrator   = "Data Administrator"
	SystemAdministrator = "System Administrator"
	ResearchAssessor    = "Research Assessor"
	Watchdog            = "Watchdog"
	Monitor             = "Monitor"
)

// AccessDeniedError reports a policy-level denial: wrong group, missing mode, or an
// unknown column or participant group. Not retryable by the same requester without a
// policy change.
type AccessDeniedError struct {
	Description string
}

func (e *AccessDeniedError) Error() string {
	return "auth: access denied: " + e.Description
}

// WireTypeName implements [wire.TypedError].
func (e *AccessDeniedError) WireTypeName() string { return "AccessDenied" }

func init() {
	wire.RegisterErrorType("AccessDenied", func(description string) error {
		return &AccessDeniedError{Description: description}
	})
}

// EnsureAccess checks that the current user group is among the allowed ones.
func EnsureAccess(allowed map[string]struct{}, userGroup string) error {
	if _, ok := allowed[userGroup]; !ok {
		return &AccessDeniedError{Description: "user group " + userGroup + " may not perform this action"}
	}
	return nil
}
