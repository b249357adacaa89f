package kms

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/ruteri/mpc-custody/interfaces"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// KDF selects how the at-rest key is derived from the master secret.
type KDF string

const (
	KDFPBKDF2   KDF = "pbkdf2"
	KDFArgon2id KDF = "argon2id"
)

const (
	// DefaultIterations is the PBKDF2-HMAC-SHA256 iteration count.
	DefaultIterations = 65536

	keyLen = 32
)

// Config describes the at-rest key derivation.
type Config struct {
	// MasterSecret is the deployment secret. It is not retained by the provider.
	MasterSecret []byte
	// Salt is required and should be unique per deployment.
	Salt []byte
	// KDF defaults to PBKDF2.
	KDF KDF
	// Iterations applies to PBKDF2 only; zero means DefaultIterations.
	Iterations int
}

// Provider seals share material with AES-256-GCM under a key derived once
// from the deployment secret. It implements interfaces.Encryptor and is safe
// for concurrent use.
type Provider struct {
	aead cipher.AEAD
	kdf  KDF
}

// NewProvider derives the at-rest key described by cfg.
func NewProvider(cfg Config) (*Provider, error) {
	if len(cfg.MasterSecret) == 0 {
		return nil, errors.New("master secret must not be empty")
	}
	if len(cfg.Salt) == 0 {
		return nil, errors.New("key derivation salt must not be empty")
	}

	kdf := cfg.KDF
	if kdf == "" {
		kdf = KDFPBKDF2
	}

	var key []byte
	switch kdf {
	case KDFPBKDF2:
		iterations := cfg.Iterations
		if iterations == 0 {
			iterations = DefaultIterations
		}
		if iterations < 0 {
			return nil, fmt.Errorf("invalid iteration count %d", iterations)
		}
		key = pbkdf2.Key(cfg.MasterSecret, cfg.Salt, iterations, keyLen, sha256.New)
	case KDFArgon2id:
		key = argon2.IDKey(cfg.MasterSecret, cfg.Salt, 1, 64*1024, 4, keyLen)
	default:
		return nil, fmt.Errorf("unsupported key derivation function %q", kdf)
	}
	defer wipeBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Provider{aead: aead, kdf: kdf}, nil
}

// KDF reports the derivation in use.
func (p *Provider) KDF() KDF {
	return p.kdf
}

// Seal encrypts plaintext under a fresh random IV and returns iv || ciphertext.
func (p *Provider) Seal(plaintext []byte) ([]byte, error) {
	iv := make([]byte, p.aead.NonceSize(), p.aead.NonceSize()+len(plaintext)+p.aead.Overhead())
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("%w: generating iv: %v", interfaces.ErrCrypto, err)
	}
	return p.aead.Seal(iv, iv, plaintext, nil), nil
}

// Open reverses Seal. Truncated, tampered or foreign ciphertexts fail with ErrCrypto.
func (p *Provider) Open(sealed []byte) ([]byte, error) {
	ns := p.aead.NonceSize()
	if len(sealed) < ns+p.aead.Overhead() {
		return nil, interfaces.Cryptof("ciphertext too short")
	}
	plaintext, err := p.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, interfaces.Cryptof("decryption failed")
	}
	return plaintext, nil
}

var (
	initOnce    sync.Once
	initialized *Provider
	initErr     error
)

// Init builds the process-wide provider on first call. Later calls return the
// same provider (or the same error) and ignore their argument.
func Init(cfg Config) (*Provider, error) {
	initOnce.Do(func() {
		initialized, initErr = NewProvider(cfg)
	})
	return initialized, initErr
}
