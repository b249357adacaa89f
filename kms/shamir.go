package kms

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/shamir"
)

// MinMasterSecretLen is the minimum deployment secret length accepted for
// Shamir custody.
const MinMasterSecretLen = 32

// ShamirKMS keeps the deployment master secret under Shamir custody of the
// administrators. The secret is never persisted: it is split once, handed out
// as shares, and reconstructed in memory when a threshold of admins submit
// signed shares.
type ShamirKMS struct {
	mu             sync.RWMutex
	masterSecret   []byte
	isUnlocked     bool
	threshold      int
	receivedShares map[int][]byte

	adminPubKeys map[string][]byte
}

// SplitMasterSecret splits secret into total shares, any threshold of which
// recover it.
func SplitMasterSecret(secret []byte, threshold, total int) ([][]byte, error) {
	if len(secret) < MinMasterSecretLen {
		return nil, fmt.Errorf("master secret must be at least %d bytes", MinMasterSecretLen)
	}
	if threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}
	if total < threshold {
		return nil, errors.New("total shares must be at least equal to threshold")
	}
	shares, err := shamir.Split(secret, total, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split master secret: %w", err)
	}
	return shares, nil
}

// RecoverMasterSecret combines shares produced by SplitMasterSecret.
func RecoverMasterSecret(shares [][]byte, threshold int) ([]byte, error) {
	if len(shares) < threshold {
		return nil, fmt.Errorf("need %d shares, got %d", threshold, len(shares))
	}
	secret, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct master secret: %w", err)
	}
	return secret, nil
}

// NewShamirKMS splits masterSecret and returns an unlocked instance together
// with the shares to distribute.
func NewShamirKMS(masterSecret []byte, threshold, total int) (*ShamirKMS, [][]byte, error) {
	shares, err := SplitMasterSecret(masterSecret, threshold, total)
	if err != nil {
		return nil, nil, err
	}

	k := &ShamirKMS{
		masterSecret:   bytes.Clone(masterSecret),
		isUnlocked:     true,
		threshold:      threshold,
		receivedShares: make(map[int][]byte),
		adminPubKeys:   make(map[string][]byte),
	}
	return k, shares, nil
}

// NewShamirKMSRecovery returns a locked instance waiting for threshold shares.
func NewShamirKMSRecovery(threshold int) *ShamirKMS {
	return &ShamirKMS{
		threshold:      threshold,
		receivedShares: make(map[int][]byte),
		adminPubKeys:   make(map[string][]byte),
	}
}

// RegisterAdmin authorizes an ECDSA or Ed25519 public key (PKIX PEM) to submit shares.
func (k *ShamirKMS) RegisterAdmin(pubKeyPEM []byte) error {
	if _, err := parseAdminKey(pubKeyPEM); err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.adminPubKeys[fingerprint(pubKeyPEM)] = bytes.Clone(pubKeyPEM)
	return nil
}

// SubmitShare records a share signed by a registered admin. The signature
// covers sha256(share) for ECDSA keys and the share itself for Ed25519 keys.
// Reaching the threshold reconstructs the master secret and wipes the shares.
func (k *ShamirKMS) SubmitShare(shareIndex int, share, signature, adminPubKeyPEM []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.isUnlocked {
		return errors.New("KMS is already unlocked")
	}

	registered, found := k.adminPubKeys[fingerprint(adminPubKeyPEM)]
	if !found {
		return errors.New("unregistered admin public key")
	}
	if !bytes.Equal(registered, adminPubKeyPEM) {
		return errors.New("invalid pubkey passed for a matching fingerprint")
	}

	pubKey, err := parseAdminKey(adminPubKeyPEM)
	if err != nil {
		return err
	}

	switch key := pubKey.(type) {
	case *ecdsa.PublicKey:
		digest := sha256.Sum256(share)
		if !ecdsa.VerifyASN1(key, digest[:], signature) {
			return errors.New("invalid signature")
		}
	case ed25519.PublicKey:
		if !ed25519.Verify(key, share, signature) {
			return errors.New("invalid signature")
		}
	}

	k.receivedShares[shareIndex] = bytes.Clone(share)
	return k.tryReconstruct()
}

func (k *ShamirKMS) tryReconstruct() error {
	if len(k.receivedShares) < k.threshold {
		return nil
	}

	shares := make([][]byte, 0, len(k.receivedShares))
	for _, share := range k.receivedShares {
		shares = append(shares, share)
	}

	secret, err := shamir.Combine(shares)
	if err != nil {
		return fmt.Errorf("failed to reconstruct master secret: %w", err)
	}

	k.masterSecret = secret
	k.isUnlocked = true

	for i := range k.receivedShares {
		wipeBytes(k.receivedShares[i])
	}
	k.receivedShares = make(map[int][]byte)
	return nil
}

// IsUnlocked reports whether the master secret is available.
func (k *ShamirKMS) IsUnlocked() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.isUnlocked
}

// Progress returns the number of shares received and the threshold.
func (k *ShamirKMS) Progress() (received, threshold int) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.receivedShares), k.threshold
}

// MasterSecret returns a copy of the reconstructed master secret.
func (k *ShamirKMS) MasterSecret() ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if !k.isUnlocked {
		return nil, errors.New("KMS is locked - need more shares to unlock")
	}
	return bytes.Clone(k.masterSecret), nil
}

// Provider derives the at-rest provider from the unlocked master secret.
// cfg.MasterSecret is overwritten.
func (k *ShamirKMS) Provider(cfg Config) (*Provider, error) {
	secret, err := k.MasterSecret()
	if err != nil {
		return nil, err
	}
	defer wipeBytes(secret)
	cfg.MasterSecret = secret
	return NewProvider(cfg)
}

// SignShare signs a share for submission with an admin's ECDSA key.
func SignShare(share []byte, privateKey *ecdsa.PrivateKey) ([]byte, error) {
	digest := sha256.Sum256(share)
	return ecdsa.SignASN1(rand.Reader, privateKey, digest[:])
}

func parseAdminKey(pubKeyPEM []byte) (any, error) {
	block, _ := pem.Decode(pubKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode admin public key PEM")
	}
	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse admin public key: %w", err)
	}
	switch pubKey.(type) {
	case *ecdsa.PublicKey, ed25519.PublicKey:
		return pubKey, nil
	default:
		return nil, errors.New("admin public key is neither ECDSA nor ED25519 key")
	}
}

func fingerprint(pubKeyPEM []byte) string {
	sum := sha256.Sum256(pubKeyPEM)
	return hex.EncodeToString(sum[:])
}

// Securely wipe data from memory
func wipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
