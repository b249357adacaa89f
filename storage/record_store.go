package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/mpc-custody/interfaces"
)

// RecordStore implements interfaces.WalletStore on top of any key-value
// StorageBackend, serializing credentials and share records as JSON.
//
// Layout:
//
//	wallets/<wallet_id>
//	shares/<wallet_id>/<participant_index>
//	revoked/<wallet_id>/<participant_index>/<record_id>
//
// Check-then-write sequences are serialized within the process only.
type RecordStore struct {
	backend interfaces.StorageBackend
	log     *slog.Logger
	mu      sync.Mutex
	now     func() time.Time
}

// NewRecordStore wraps backend.
func NewRecordStore(backend interfaces.StorageBackend, log *slog.Logger) *RecordStore {
	if log == nil {
		log = slog.Default()
	}
	return &RecordStore{backend: backend, log: log, now: time.Now}
}

// Backend returns the underlying blob store.
func (s *RecordStore) Backend() interfaces.StorageBackend {
	return s.backend
}

var walletIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

func checkWalletID(walletID string) error {
	if !walletIDPattern.MatchString(walletID) {
		return interfaces.Validationf("malformed wallet id %q", walletID)
	}
	return nil
}

func credentialKey(walletID string) string {
	return path.Join("wallets", walletID)
}

func shareKey(walletID string, participantIndex int) string {
	return path.Join("shares", walletID, strconv.Itoa(participantIndex))
}

func revokedShareKey(walletID string, participantIndex int, recordID string) string {
	return path.Join("revoked", walletID, strconv.Itoa(participantIndex), recordID)
}

func (s *RecordStore) PutCredential(ctx context.Context, cred *interfaces.WalletCredential) error {
	if cred == nil {
		return interfaces.Validationf("nil credential")
	}
	if err := checkWalletID(cred.WalletID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := credentialKey(cred.WalletID)
	if _, err := s.backend.Fetch(ctx, key); err == nil {
		return interfaces.Validationf("wallet %s already exists", cred.WalletID)
	} else if !errors.Is(err, interfaces.ErrContentNotFound) {
		return interfaces.Internal("checking wallet", err)
	}

	data, err := json.Marshal(cred)
	if err != nil {
		return interfaces.Internal("encoding credential", err)
	}
	if err := s.backend.Store(ctx, key, data); err != nil {
		return interfaces.Internal("storing credential", err)
	}
	return nil
}

func (s *RecordStore) GetCredential(ctx context.Context, walletID string) (*interfaces.WalletCredential, error) {
	if err := checkWalletID(walletID); err != nil {
		return nil, err
	}
	data, err := s.backend.Fetch(ctx, credentialKey(walletID))
	if errors.Is(err, interfaces.ErrContentNotFound) {
		return nil, interfaces.NotFoundf("wallet %s", walletID)
	}
	if err != nil {
		return nil, interfaces.Internal("fetching credential", err)
	}

	var cred interfaces.WalletCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, interfaces.Internal("decoding credential", err)
	}
	return &cred, nil
}

func (s *RecordStore) fetchShare(ctx context.Context, walletID string, participantIndex int) (*interfaces.EncryptedShareRecord, error) {
	data, err := s.backend.Fetch(ctx, shareKey(walletID, participantIndex))
	if err != nil {
		return nil, err
	}
	var rec interfaces.EncryptedShareRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding share record: %w", err)
	}
	return &rec, nil
}

func (s *RecordStore) writeShare(ctx context.Context, key string, rec *interfaces.EncryptedShareRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.backend.Store(ctx, key, data)
}

func (s *RecordStore) PutShare(ctx context.Context, rec *interfaces.EncryptedShareRecord) (string, error) {
	if rec == nil {
		return "", interfaces.Validationf("nil share record")
	}
	if err := checkWalletID(rec.WalletID); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.fetchShare(ctx, rec.WalletID, rec.ParticipantIndex)
	switch {
	case err == nil && existing.Active():
		return "", interfaces.Validationf("active share already stored for wallet %s participant %d", rec.WalletID, rec.ParticipantIndex)
	case err != nil && !errors.Is(err, interfaces.ErrContentNotFound):
		return "", interfaces.Internal("checking share", err)
	}

	stored := *rec
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	now := s.now().UTC()
	stored.Status = interfaces.StatusActive
	stored.CreatedAt = now
	stored.UpdatedAt = now

	if err := s.writeShare(ctx, shareKey(stored.WalletID, stored.ParticipantIndex), &stored); err != nil {
		return "", interfaces.Internal("storing share", err)
	}

	s.log.Debug("Stored share record",
		slog.String("wallet_id", stored.WalletID),
		slog.Int("participant_index", stored.ParticipantIndex),
		slog.String("backend", s.backend.Name()))
	return stored.ID, nil
}

func (s *RecordStore) GetShare(ctx context.Context, walletID string, participantIndex int) (*interfaces.EncryptedShareRecord, error) {
	if err := checkWalletID(walletID); err != nil {
		return nil, err
	}
	rec, err := s.fetchShare(ctx, walletID, participantIndex)
	if errors.Is(err, interfaces.ErrContentNotFound) {
		return nil, interfaces.NotFoundf("share for wallet %s participant %d", walletID, participantIndex)
	}
	if err != nil {
		return nil, interfaces.Internal("fetching share", err)
	}
	if !rec.Active() {
		return nil, interfaces.NotFoundf("share for wallet %s participant %d is revoked", walletID, participantIndex)
	}
	return rec, nil
}

func (s *RecordStore) MarkShareInactive(ctx context.Context, walletID string, participantIndex int) (bool, error) {
	if err := checkWalletID(walletID); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.fetchShare(ctx, walletID, participantIndex)
	if errors.Is(err, interfaces.ErrContentNotFound) {
		return false, nil
	}
	if err != nil {
		return false, interfaces.Internal("fetching share", err)
	}
	if !rec.Active() {
		return false, nil
	}

	rec.Status = interfaces.StatusRevoked
	rec.UpdatedAt = s.now().UTC()

	// Archive first so the record survives a later PutShare on the same slot.
	if err := s.writeShare(ctx, revokedShareKey(walletID, participantIndex, rec.ID), rec); err != nil {
		return false, interfaces.Internal("archiving share", err)
	}
	if err := s.writeShare(ctx, shareKey(walletID, participantIndex), rec); err != nil {
		return false, interfaces.Internal("revoking share", err)
	}
	return true, nil
}
