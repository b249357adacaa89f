package httpserver

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
)

// AdminKeysFile is the on-disk admin whitelist.
type AdminKeysFile struct {
	Admins []AdminKeyEntry `json:"admins"`
}

type AdminKeyEntry struct {
	ID     string `json:"id"`
	PubKey string `json:"pubkey"`
}

func parseECDSAPublicKey(pubKeyPEM []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(pubKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode public key PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("not an ECDSA key")
	}
	return pub, nil
}

// LoadAdminKeys reads an AdminKeysFile and returns admin id to public key PEM.
// Keys must parse and ids must be unique.
func LoadAdminKeys(r io.Reader) (map[string][]byte, error) {
	var file AdminKeysFile
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode admin keys JSON: %w", err)
	}

	keys := make(map[string][]byte, len(file.Admins))
	for _, entry := range file.Admins {
		if _, dup := keys[entry.ID]; dup {
			return nil, fmt.Errorf("duplicate admin id %s", entry.ID)
		}
		if _, err := parseECDSAPublicKey([]byte(entry.PubKey)); err != nil {
			return nil, fmt.Errorf("invalid public key for admin %s: %w", entry.ID, err)
		}
		keys[entry.ID] = []byte(entry.PubKey)
	}
	return keys, nil
}

// GenerateAdminKeyPair returns a fresh P-256 key pair as (private, public) PEM.
func GenerateAdminKeyPair() (string, string, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate ECDSA key: %w", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return string(privPEM), string(pubPEM), nil
}

// ParsePrivateKey parses an ECDSA private key from PEM.
func ParsePrivateKey(privateKeyPEM []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode PEM block containing private key")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ECDSA private key: %w", err)
	}
	return key, nil
}

// ComputeFingerprint returns the hex sha256 of a PEM public key, used as the
// admin id.
func ComputeFingerprint(publicKeyPEM []byte) string {
	sum := sha256.Sum256(publicKeyPEM)
	return hex.EncodeToString(sum[:])
}
