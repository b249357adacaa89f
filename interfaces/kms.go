package interfaces

import "context"

// Encryptor seals and opens share material at rest.
// Seal output is iv || ciphertext and differs on every call.
type Encryptor interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// ShareVault encrypts, persists, retrieves and revokes key shares.
type ShareVault interface {
	Store(ctx context.Context, walletID string, participantIndex int, share SecretShare, metadata map[string]string) (string, error)
	Retrieve(ctx context.Context, walletID string, participantIndex int) (SecretShare, error)
	Revoke(ctx context.Context, walletID string, participantIndex int) (bool, error)
}

// CompletionGuard grants at most one completion claim per key.
type CompletionGuard interface {
	// Claim returns ErrConflict if key was already claimed.
	Claim(ctx context.Context, key string) error
	// Release drops a claim so the artifact may be completed again.
	Release(ctx context.Context, key string) error
}
