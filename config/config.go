// Package config loads the core-relevant configuration of a translating server: the
// hex-encoded translation secrets, the trusted root bundle, the message-signing
// identity, and the signature leeway.
package config

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/pep-security/pepcore/rsk"
	"github.com/pep-security/pepcore/rskpep"
	"github.com/pep-security/pepcore/signed"
)

// File keys, stable across releases.
const (
	KeyPseudonymsRekeyLocal            = "PseudonymsRekeyLocal"
	KeyPseudonymsReshuffleLocal        = "PseudonymsReshuffleLocal"
	KeyMasterPrivateKeySharePseudonyms = "MasterPrivateKeySharePseudonyms"
	KeyDataRekeyLocal                  = "DataRekeyLocal"
	KeyDataBlinding                    = "DataBlinding"
	KeyMasterPrivateKeyShareData       = "MasterPrivateKeyShareData"
	KeyCACertificateFile               = "CACertificateFile"
	KeyPEPPrivateKey                   = "PEPPrivateKey"
	KeyPEPCertificateChain             = "PEPCertificateChain"
	KeyTimestampLeeway                 = "TimestampLeeway"
)

// Config is a server's loaded core configuration.
type Config struct {
	PseudonymKeys rskpep.PseudonymTranslationKeys
	DataKeys      rskpep.DataTranslationKeys

	Roots    *signed.RootCAs
	Identity *signed.Identity

	// Leeway for signature timestamps; defaults to [signed.DefaultLeeway].
	Leeway time.Duration
}

// Load reads a configuration file. The format is anything Viper understands; paths in
// the file are resolved relative to the process working directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{Leeway: signed.DefaultLeeway}

	var err error
	if cfg.PseudonymKeys, err = pseudonymKeys(v); err != nil {
		return nil, err
	}
	if cfg.DataKeys, err = dataKeys(v); err != nil {
		return nil, err
	}

	if caFile := v.GetString(KeyCACertificateFile); caFile != "" {
		bundle, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("config: reading root CA bundle: %w", err)
		}
		if cfg.Roots, err = signed.RootCAsFromPEM(bundle); err != nil {
			return nil, err
		}
	}

	keyFile, chainFile := v.GetString(KeyPEPPrivateKey), v.GetString(KeyPEPCertificateChain)
	if keyFile != "" && chainFile != "" {
		if cfg.Identity, err = loadIdentity(keyFile, chainFile); err != nil {
			return nil, err
		}
	}

	if leeway := v.GetInt64(KeyTimestampLeeway); leeway > 0 {
		cfg.Leeway = time.Duration(leeway) * time.Second
	}
	return cfg, nil
}

func pseudonymKeys(v *viper.Viper) (rskpep.PseudonymTranslationKeys, error) {
	var keys rskpep.PseudonymTranslationKeys
	if err := parseSecret(v, KeyPseudonymsRekeyLocal, keys.EncryptionKeyFactorSecret[:]); err != nil {
		return keys, err
	}
	if err := parseSecret(v, KeyPseudonymsReshuffleLocal, keys.PseudonymizationKeyFactorSecret[:]); err != nil {
		return keys, err
	}
	if err := parseSecret(v, KeyMasterPrivateKeySharePseudonyms, keys.MasterPrivateKeyShare[:]); err != nil {
		return keys, err
	}
	return keys, nil
}

func dataKeys(v *viper.Viper) (rskpep.DataTranslationKeys, error) {
	var keys rskpep.DataTranslationKeys
	if err := parseSecret(v, KeyDataRekeyLocal, keys.EncryptionKeyFactorSecret[:]); err != nil {
		return keys, err
	}
	if v.IsSet(KeyDataBlinding) {
		var blinding rsk.KeyFactorSecret
		if err := parseSecret(v, KeyDataBlinding, blinding[:]); err != nil {
			return keys, err
		}
		keys.BlindingKeySecret = &blinding
	}
	if err := parseSecret(v, KeyMasterPrivateKeyShareData, keys.MasterPrivateKeyShare[:]); err != nil {
		return keys, err
	}
	return keys, nil
}

// parseSecret decodes a hex-encoded key of exactly len(dst) bytes.
func parseSecret(v *viper.Viper, key string, dst []byte) error {
	value := v.GetString(key)
	if value == "" {
		return fmt.Errorf("config: missing %s", key)
	}
	raw, err := hex.DecodeString(value)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("config: %s: unexpected key length %d, want %d", key, len(raw), len(dst))
	}
	copy(dst, raw)
	return nil
}

// loadIdentity reads a PKCS#8 Ed25519 private key and its certificate chain, leaf
// first, from PEM files.
func loadIdentity(keyFile, chainFile string) (*signed.Identity, error) {
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("config: reading signing key: %w", err)
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("config: signing key file contains no PEM block")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("config: parsing signing key: %w", err)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("config: signing key is not an Ed25519 key")
	}

	chainPEM, err := os.ReadFile(chainFile)
	if err != nil {
		return nil, fmt.Errorf("config: reading certificate chain: %w", err)
	}
	var chain []*x509.Certificate
	for {
		var block *pem.Block
		block, chainPEM = pem.Decode(chainPEM)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("config: parsing certificate chain: %w", err)
		}
		chain = append(chain, cert)
	}
	if len(chain) == 0 {
		return nil, errors.New("config: certificate chain file contains no certificates")
	}
	return &signed.Identity{PrivateKey: key, Chain: chain}, nil
}
