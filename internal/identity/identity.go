// Package identity handles loading, generating, and persisting wallet
// cryptographic identities. Ed25519 keys are stored as PEM PKCS8; Dilithium3
// keys are stored as a PEM block holding the packed private key. Both are
// written with 0600 permissions. The public key of an identity is the
// wallet identity used throughout the ledger.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/cloudflare/circl/sign/dilithium/mode3"

	"coinfolio.mini/cfm/internal/types"
)

const (
	pemTypeEd25519    = "PRIVATE KEY"
	pemTypeDilithium3 = "DILITHIUM3 PRIVATE KEY"
)

// LoadOrCreateIdentity loads an existing identity or creates a new ed25519
// one at keyPath. An empty key file is treated as missing.
func LoadOrCreateIdentity(keyPath string) (*Identity, error) {
	return loadOrCreate(keyPath, types.SchemeEd25519)
}

// LoadOrCreateDilithium3 is LoadOrCreateIdentity for post-quantum keys.
func LoadOrCreateDilithium3(keyPath string) (*Identity, error) {
	return loadOrCreate(keyPath, types.SchemeDilithium3)
}

func loadOrCreate(keyPath string, scheme types.Scheme) (*Identity, error) {
	info, err := os.Stat(keyPath)
	if os.IsNotExist(err) || (err == nil && info.Size() == 0) {
		return generateAndSave(keyPath, scheme)
	}
	if err != nil {
		return nil, err
	}
	return LoadIdentity(keyPath)
}

// LoadIdentity reads a key file written by this package, whatever its scheme.
func LoadIdentity(keyPath string) (*Identity, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	pemBlock, _ := pem.Decode(keyData)
	if pemBlock == nil {
		return nil, errors.New("failed to decode PEM block from key file")
	}

	switch pemBlock.Type {
	case pemTypeEd25519:
		genericKey, err := x509.ParsePKCS8PrivateKey(pemBlock.Bytes)
		if err != nil {
			return nil, err
		}
		privKey, ok := genericKey.(ed25519.PrivateKey)
		if !ok {
			return nil, errors.New("key is not an ed25519 private key")
		}
		return NewIdentity(privKey), nil
	case pemTypeDilithium3:
		var sk mode3.PrivateKey
		if err := sk.UnmarshalBinary(pemBlock.Bytes); err != nil {
			return nil, fmt.Errorf("dilithium3 key: %w", err)
		}
		return NewDilithium3Identity(&sk), nil
	default:
		return nil, fmt.Errorf("unsupported key block %q", pemBlock.Type)
	}
}

func generateAndSave(keyPath string, scheme types.Scheme) (*Identity, error) {
	var (
		id    *Identity
		block *pem.Block
	)
	switch scheme {
	case types.SchemeEd25519:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		der, err := x509.MarshalPKCS8PrivateKey(priv)
		if err != nil {
			return nil, err
		}
		id = NewIdentity(priv)
		block = &pem.Block{Type: pemTypeEd25519, Bytes: der}
	case types.SchemeDilithium3:
		_, sk, err := mode3.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		id = NewDilithium3Identity(sk)
		block = &pem.Block{Type: pemTypeDilithium3, Bytes: sk.Bytes()}
	default:
		return nil, fmt.Errorf("unsupported scheme %q", scheme)
	}

	file, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if err := pem.Encode(file, block); err != nil {
		return nil, err
	}
	return id, nil
}
