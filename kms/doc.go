// Package kms holds the deployment master secret and the at-rest encryption
// derived from it.
//
// # Provider
//
// Provider derives a 256-bit key from the master secret once, with
// PBKDF2-HMAC-SHA256 or Argon2id, and seals share material with AES-256-GCM.
// Sealed values are iv || ciphertext with a fresh 12-byte IV per call.
// Init builds the process-wide provider exactly once; NewProvider builds
// independent instances for tests and tools.
//
// # ShamirKMS
//
// The master secret can be kept under Shamir custody of administrators
// (github.com/hashicorp/vault/shamir). It is split once, distributed, and
// reconstructed in memory when a threshold of registered admins submit signed
// shares:
//
//	k := kms.NewShamirKMSRecovery(3)
//	_ = k.RegisterAdmin(adminPEM)
//	_ = k.SubmitShare(idx, share, signature, adminPEM)
//	if k.IsUnlocked() {
//		provider, _ := k.Provider(kms.Config{Salt: salt})
//	}
package kms
