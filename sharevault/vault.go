// Package sharevault keeps secret shares encrypted at rest.
//
// The y value of every share is sealed by an interfaces.Encryptor before it
// reaches the ShareStore; x stays in clear so records can be inspected
// without the deployment secret.
package sharevault

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ruteri/mpc-custody/field"
	"github.com/ruteri/mpc-custody/interfaces"
)

// Vault implements interfaces.ShareVault.
type Vault struct {
	store interfaces.ShareStore
	enc   interfaces.Encryptor
	field *field.Field
	log   *slog.Logger
}

// New returns a vault over store sealing with enc. Share values must belong to
// the secp256k1 scalar field.
func New(store interfaces.ShareStore, enc interfaces.Encryptor, log *slog.Logger) *Vault {
	return NewWithField(store, enc, field.Secp256k1, log)
}

// NewWithField is New for shares over an arbitrary prime field.
func NewWithField(store interfaces.ShareStore, enc interfaces.Encryptor, f *field.Field, log *slog.Logger) *Vault {
	if log == nil {
		log = slog.Default()
	}
	return &Vault{store: store, enc: enc, field: f, log: log}
}

// MetaPublicKey is the metadata key whose value Store records as the public
// key the share belongs to.
const MetaPublicKey = "public_key"

// Store seals share and persists it as the active record of the slot. A slot
// that already holds an active share is rejected with ErrValidation.
func (v *Vault) Store(ctx context.Context, walletID string, participantIndex int, share interfaces.SecretShare, metadata map[string]string) (string, error) {
	if participantIndex < 0 {
		return "", interfaces.Validationf("negative participant index %d", participantIndex)
	}
	if share.X <= 0 {
		return "", interfaces.Validationf("share x must be positive, got %d", share.X)
	}
	if share.Y == nil || !v.field.Contains(share.Y) {
		return "", interfaces.Validationf("share y outside the field")
	}

	plaintext := make([]byte, v.field.ByteLen())
	share.Y.FillBytes(plaintext)
	defer wipe(plaintext)

	sealed, err := v.enc.Seal(plaintext)
	if err != nil {
		return "", err
	}

	id, err := v.store.PutShare(ctx, &interfaces.EncryptedShareRecord{
		WalletID:         walletID,
		ParticipantIndex: participantIndex,
		ShareX:           share.X,
		Ciphertext:       sealed,
		PublicKey:        metadata[MetaPublicKey],
		Metadata:         metadata,
	})
	if err != nil {
		return "", err
	}

	v.log.Debug("Share stored",
		slog.String("wallet_id", walletID),
		slog.Int("participant_index", participantIndex),
		slog.String("record_id", id))
	return id, nil
}

// Retrieve opens the active share of a slot. Revoked and missing slots report
// ErrNotFound; a ciphertext that fails authentication reports ErrCrypto.
func (v *Vault) Retrieve(ctx context.Context, walletID string, participantIndex int) (interfaces.SecretShare, error) {
	rec, err := v.store.GetShare(ctx, walletID, participantIndex)
	if err != nil {
		return interfaces.SecretShare{}, err
	}

	plaintext, err := v.enc.Open(rec.Ciphertext)
	if err != nil {
		v.log.Warn("Share decryption failed",
			slog.String("wallet_id", walletID),
			slog.Int("participant_index", participantIndex),
			slog.String("record_id", rec.ID))
		return interfaces.SecretShare{}, err
	}
	defer wipe(plaintext)

	if len(plaintext) != v.field.ByteLen() || rec.ShareX <= 0 {
		return interfaces.SecretShare{}, interfaces.Cryptof("malformed share record %s", rec.ID)
	}
	y := new(big.Int).SetBytes(plaintext)
	if !v.field.Contains(y) {
		return interfaces.SecretShare{}, interfaces.Cryptof("malformed share record %s", rec.ID)
	}

	return interfaces.SecretShare{X: rec.ShareX, Y: y}, nil
}

// RetrieveMany returns the shares of participants in order. On any failure the
// shares already opened are wiped.
func (v *Vault) RetrieveMany(ctx context.Context, walletID string, participants []int) ([]interfaces.SecretShare, error) {
	shares := make([]interfaces.SecretShare, 0, len(participants))
	for _, idx := range participants {
		share, err := v.Retrieve(ctx, walletID, idx)
		if err != nil {
			for i := range shares {
				shares[i].Wipe()
			}
			return nil, err
		}
		shares = append(shares, share)
	}
	return shares, nil
}

// Revoke retires the active share of a slot. The record is retained.
func (v *Vault) Revoke(ctx context.Context, walletID string, participantIndex int) (bool, error) {
	revoked, err := v.store.MarkShareInactive(ctx, walletID, participantIndex)
	if err != nil {
		return false, err
	}
	if revoked {
		v.log.Info("Share revoked",
			slog.String("wallet_id", walletID),
			slog.Int("participant_index", participantIndex))
	}
	return revoked, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
