// Package interfaces defines the contracts, data model and error taxonomy
// shared by the custody packages, separating definitions from implementations.
//
// # Data model
//
//   - SecretShare: one (x, y) point of a sharing polynomial
//   - WalletCredential: public record of a wallet (address, public key, threshold)
//   - EncryptedShareRecord: persisted, encrypted form of a share
//
// # Contracts
//
//   - StorageBackend: key-value blob store (file, S3, Vault KV, Redis, memory)
//   - CredentialStore, ShareStore: persistence collaborator of the wallet service
//   - Encryptor, ShareVault: at-rest protection of shares
//   - ChainGateway: fee, nonce/UTXO lookups, broadcast and status on a chain node
//   - CompletionGuard: optional single-use claim on a co-signing artifact
//
// # Errors
//
// Every operation returns errors wrapping exactly one of ErrValidation,
// ErrNotFound, ErrCrypto, ErrTransmission, ErrInternal or ErrConflict.
// KindOf classifies an error for transport layers.
package interfaces
