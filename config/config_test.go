package config_test

import (
	"bytes"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pep-security/pepcore/auth"
	"github.com/pep-security/pepcore/config"
	"github.com/pep-security/pepcore/internal/testdata"
	"github.com/pep-security/pepcore/internal/testpki"
)

func writeTestConfig(t *testing.T, drbg *testdata.DRBG, extra string) string {
	t.Helper()
	dir := t.TempDir()

	ca := testpki.NewCA("PEP Test Root CA")
	id := ca.Server(auth.SubjectTranscryptor)

	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.Cert.Raw})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rootCA.cert"), caPEM, 0o600))

	keyDER, err := x509.MarshalPKCS8PrivateKey(id.PrivateKey)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pep.key"), keyPEM, 0o600))

	var chainPEM []byte
	for _, cert := range id.Chain {
		chainPEM = append(chainPEM, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})...)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pep.chain"), chainPEM, 0o600))

	secret := func() string { return hex.EncodeToString(drbg.Data(64)) }
	share := func() string { return drbg.Scalar().Text() }

	content := fmt.Sprintf(`PseudonymsRekeyLocal: %s
PseudonymsReshuffleLocal: %s
MasterPrivateKeySharePseudonyms: %s
DataRekeyLocal: %s
MasterPrivateKeyShareData: %s
CACertificateFile: %s
PEPPrivateKey: %s
PEPCertificateChain: %s
TimestampLeeway: 1800
%s`,
		secret(), secret(), share(), secret(), share(),
		filepath.Join(dir, "rootCA.cert"),
		filepath.Join(dir, "pep.key"),
		filepath.Join(dir, "pep.chain"),
		extra)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	drbg := testdata.New("config load")
	path := writeTestConfig(t, drbg, "")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	require.NotNil(t, cfg.Roots)
	require.NotNil(t, cfg.Identity)
	require.Equal(t, auth.SubjectTranscryptor, cfg.Identity.CommonName())
	require.Equal(t, 30*time.Minute, cfg.Leeway)
	require.Nil(t, cfg.DataKeys.BlindingKeySecret, "blinding secret is optional")

	var zero [64]byte
	require.NotEqual(t, zero[:], cfg.PseudonymKeys.EncryptionKeyFactorSecret[:])
	require.NotEqual(t, cfg.PseudonymKeys.EncryptionKeyFactorSecret,
		cfg.PseudonymKeys.PseudonymizationKeyFactorSecret)
}

func TestLoadWithBlinding(t *testing.T) {
	drbg := testdata.New("config blinding")
	path := writeTestConfig(t, drbg, "DataBlinding: "+hex.EncodeToString(drbg.Data(64)))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.DataKeys.BlindingKeySecret)
}

func TestLoadRejectsBadKeys(t *testing.T) {
	drbg := testdata.New("config bad keys")

	t.Run("wrong length", func(t *testing.T) {
		path := writeTestConfig(t, drbg, "")
		content, err := os.ReadFile(path)
		require.NoError(t, err)
		// Replace the generated key line rather than adding a second one, which the YAML
		// parser would reject as a duplicate key before any length check runs.
		rest := bytes.SplitN(content, []byte("\n"), 2)[1]
		require.NoError(t, os.WriteFile(path, append([]byte("PseudonymsRekeyLocal: abcd\n"), rest...), 0o600))

		_, err = config.Load(path)
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
	})
}
