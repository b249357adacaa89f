package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/mpc-custody/interfaces"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// WalletModel is the relational row of a wallet credential.
type WalletModel struct {
	WalletID        string            `gorm:"primaryKey;size:128"`
	Chain           string            `gorm:"size:32;not null"`
	Protocol        string            `gorm:"size:32;not null"`
	PublicKey       string            `gorm:"type:text;not null"`
	Address         string            `gorm:"size:128;index;not null"`
	Threshold       int               `gorm:"not null"`
	TotalShares     int               `gorm:"not null"`
	ParticipantKeys []string          `gorm:"serializer:json"`
	RedeemScript    string            `gorm:"type:text"`
	Status          string            `gorm:"size:16;not null"`
	Metadata        map[string]string `gorm:"serializer:json"`
	CreatedAt       time.Time
}

func (WalletModel) TableName() string { return "wallets" }

// KeyShareModel is the relational row of an encrypted share. Revoked rows are
// kept with Active = false.
type KeyShareModel struct {
	ID               string            `gorm:"primaryKey;size:64"`
	WalletID         string            `gorm:"size:128;index:idx_share_slot;not null"`
	ParticipantIndex int               `gorm:"index:idx_share_slot;not null"`
	ShareX           int               `gorm:"not null"`
	Ciphertext       []byte            `gorm:"not null"`
	PublicKey        string            `gorm:"type:text"`
	Active           bool              `gorm:"index:idx_share_slot;not null"`
	Metadata         map[string]string `gorm:"serializer:json"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (KeyShareModel) TableName() string { return "key_shares" }

// GormStore implements interfaces.WalletStore over a relational database.
type GormStore struct {
	db  *gorm.DB
	log *slog.Logger
}

// OpenPostgres connects to dsn (URL or key=value form) and migrates the schema.
func OpenPostgres(dsn string, log *slog.Logger) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to database: %v", interfaces.ErrBackendUnavailable, err)
	}
	return NewGormStore(db, log)
}

// NewGormStore migrates the schema on db.
func NewGormStore(db *gorm.DB, log *slog.Logger) (*GormStore, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(&WalletModel{}, &KeyShareModel{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	log.Info("Database schema migrated")
	return &GormStore{db: db, log: log}, nil
}

func (s *GormStore) PutCredential(ctx context.Context, cred *interfaces.WalletCredential) error {
	if cred == nil {
		return interfaces.Validationf("nil credential")
	}
	if err := checkWalletID(cred.WalletID); err != nil {
		return err
	}

	row := WalletModel{
		WalletID:        cred.WalletID,
		Chain:           string(cred.Chain),
		Protocol:        string(cred.Protocol),
		PublicKey:       cred.PublicKey,
		Address:         cred.Address,
		Threshold:       cred.Threshold,
		TotalShares:     cred.TotalShares,
		ParticipantKeys: cred.ParticipantKeys,
		RedeemScript:    cred.RedeemScript,
		Status:          string(cred.Status),
		Metadata:        cred.Metadata,
		CreatedAt:       cred.CreatedAt,
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&WalletModel{}).Where("wallet_id = ?", cred.WalletID).Count(&count).Error; err != nil {
			return interfaces.Internal("checking wallet", err)
		}
		if count > 0 {
			return interfaces.Validationf("wallet %s already exists", cred.WalletID)
		}
		if err := tx.Create(&row).Error; err != nil {
			return interfaces.Internal("storing credential", err)
		}
		return nil
	})
}

func (s *GormStore) GetCredential(ctx context.Context, walletID string) (*interfaces.WalletCredential, error) {
	var row WalletModel
	err := s.db.WithContext(ctx).Where("wallet_id = ?", walletID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, interfaces.NotFoundf("wallet %s", walletID)
	}
	if err != nil {
		return nil, interfaces.Internal("fetching credential", err)
	}

	return &interfaces.WalletCredential{
		WalletID:        row.WalletID,
		Chain:           interfaces.Chain(row.Chain),
		Protocol:        interfaces.Protocol(row.Protocol),
		PublicKey:       row.PublicKey,
		Address:         row.Address,
		Threshold:       row.Threshold,
		TotalShares:     row.TotalShares,
		ParticipantKeys: row.ParticipantKeys,
		RedeemScript:    row.RedeemScript,
		Status:          interfaces.Status(row.Status),
		Metadata:        row.Metadata,
		CreatedAt:       row.CreatedAt,
	}, nil
}

func (s *GormStore) PutShare(ctx context.Context, rec *interfaces.EncryptedShareRecord) (string, error) {
	if rec == nil {
		return "", interfaces.Validationf("nil share record")
	}
	if err := checkWalletID(rec.WalletID); err != nil {
		return "", err
	}

	row := KeyShareModel{
		ID:               rec.ID,
		WalletID:         rec.WalletID,
		ParticipantIndex: rec.ParticipantIndex,
		ShareX:           rec.ShareX,
		Ciphertext:       rec.Ciphertext,
		PublicKey:        rec.PublicKey,
		Active:           true,
		Metadata:         rec.Metadata,
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&KeyShareModel{}).
			Where("wallet_id = ? AND participant_index = ? AND active = ?", rec.WalletID, rec.ParticipantIndex, true).
			Count(&count).Error
		if err != nil {
			return interfaces.Internal("checking share", err)
		}
		if count > 0 {
			return interfaces.Validationf("active share already stored for wallet %s participant %d", rec.WalletID, rec.ParticipantIndex)
		}
		if err := tx.Create(&row).Error; err != nil {
			return interfaces.Internal("storing share", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return row.ID, nil
}

func (s *GormStore) GetShare(ctx context.Context, walletID string, participantIndex int) (*interfaces.EncryptedShareRecord, error) {
	var row KeyShareModel
	err := s.db.WithContext(ctx).
		Where("wallet_id = ? AND participant_index = ? AND active = ?", walletID, participantIndex, true).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, interfaces.NotFoundf("share for wallet %s participant %d", walletID, participantIndex)
	}
	if err != nil {
		return nil, interfaces.Internal("fetching share", err)
	}

	return &interfaces.EncryptedShareRecord{
		ID:               row.ID,
		WalletID:         row.WalletID,
		ParticipantIndex: row.ParticipantIndex,
		ShareX:           row.ShareX,
		Ciphertext:       row.Ciphertext,
		PublicKey:        row.PublicKey,
		Status:           interfaces.StatusActive,
		Metadata:         row.Metadata,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}, nil
}

func (s *GormStore) MarkShareInactive(ctx context.Context, walletID string, participantIndex int) (bool, error) {
	res := s.db.WithContext(ctx).Model(&KeyShareModel{}).
		Where("wallet_id = ? AND participant_index = ? AND active = ?", walletID, participantIndex, true).
		Updates(map[string]interface{}{"active": false, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, interfaces.Internal("revoking share", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// CountShares returns the number of rows, active or not, for a wallet slot.
func (s *GormStore) CountShares(ctx context.Context, walletID string, participantIndex int) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&KeyShareModel{}).
		Where("wallet_id = ? AND participant_index = ?", walletID, participantIndex).
		Count(&count).Error
	return count, err
}
