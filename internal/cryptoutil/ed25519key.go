package cryptoutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
)

var ErrInvalidPrivateKey = errors.New("invalid ed25519 private key")

// GenerateEd25519Key creates a fresh Ed25519 keypair for the relay
// capability minter.
func GenerateEd25519Key() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return priv, nil
}

// ParseEd25519PrivateKey decodes a configured private key. Two encodings
// are accepted: a PEM-wrapped PKCS8 key, or the base64 standard encoding
// of a raw 32-byte seed.
func ParseEd25519PrivateKey(encoded string) (ed25519.PrivateKey, error) {
	if block, _ := pem.Decode([]byte(encoded)); block != nil {
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
		}
		priv, ok := key.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an ed25519 key", ErrInvalidPrivateKey)
		}
		return priv, nil
	}

	seed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes, got %d", ErrInvalidPrivateKey, ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// EncodeEd25519PrivateKey renders a private key as the base64 seed form
// ParseEd25519PrivateKey accepts, for persisting a generated key.
func EncodeEd25519PrivateKey(priv ed25519.PrivateKey) string {
	seed := priv.Seed()
	return base64.StdEncoding.EncodeToString(seed)
}

// KeyID derives the stable "relay_cp_<hex>" identifier for a public key.
func KeyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return "relay_cp_" + hex.EncodeToString(sum[:8])
}
