// Package wallet exposes the custody operations: wallet creation, the two
// transfer phases and public lookups. It composes key generation, secret
// sharing, the share vault and the co-signing protocol.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/mpc-custody/cosign"
	"github.com/ruteri/mpc-custody/field"
	"github.com/ruteri/mpc-custody/interfaces"
	"github.com/ruteri/mpc-custody/keys"
	"github.com/ruteri/mpc-custody/metrics"
	"github.com/ruteri/mpc-custody/shamir"
	"github.com/ruteri/mpc-custody/sharevault"
)

const (
	// MinThreshold is the smallest signing threshold a wallet may have.
	MinThreshold = 2
	// MaxMultisigKeys bounds a P2SH multisig redeem script to the 520 byte
	// push limit with compressed keys.
	MaxMultisigKeys = 15
	// MaxThresholdShares bounds Shamir wallets.
	MaxThresholdShares = 255

	// Metadata keys recorded on credentials.
	MetaDerivationPath = "derivation_path"
	MetaProtocol       = "protocol"

	// bitcoinDerivationPath is the BIP-45 multisig purpose path.
	bitcoinDerivationPath = "m/45'/0"
)

// Config wires a Service.
type Config struct {
	Store    interfaces.WalletStore
	Vault    interfaces.ShareVault
	Protocol *cosign.Protocol
	Deriver  *keys.Deriver
	// Metrics is optional.
	Metrics *metrics.Metrics
	Log     *slog.Logger
}

// Service implements the exposed custody operations. It is safe for
// concurrent use.
type Service struct {
	store    interfaces.WalletStore
	vault    interfaces.ShareVault
	protocol *cosign.Protocol
	deriver  *keys.Deriver
	metrics  *metrics.Metrics
	log      *slog.Logger

	newID func() string
	now   func() time.Time
}

func New(cfg Config) (*Service, error) {
	if cfg.Store == nil || cfg.Vault == nil || cfg.Protocol == nil {
		return nil, errors.New("wallet: store, vault and protocol are required")
	}
	if cfg.Deriver == nil {
		cfg.Deriver = keys.NewDeriver(nil)
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Service{
		store:    cfg.Store,
		vault:    cfg.Vault,
		protocol: cfg.Protocol,
		deriver:  cfg.Deriver,
		metrics:  cfg.Metrics,
		log:      cfg.Log,
		newID:    uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return interfaces.KindOf(err).String()
}

// CreateWallet issues a wallet on chain whose signing authority is split
// among totalShares participants, any threshold of which can sign.
//
// Shares are persisted before the credential. If any step fails, every share
// attempted is revoked and no credential is written.
func (s *Service) CreateWallet(ctx context.Context, threshold, totalShares int, chain interfaces.Chain) (cred *interfaces.WalletCredential, err error) {
	start := time.Now()
	defer func() {
		s.metrics.WalletCreated(string(chain), outcome(err))
		s.metrics.ObserveDuration("create_wallet", start)
	}()

	if threshold < MinThreshold {
		return nil, interfaces.Validationf("threshold must be at least %d, got %d", MinThreshold, threshold)
	}
	if totalShares < threshold {
		return nil, interfaces.Validationf("total shares %d below threshold %d", totalShares, threshold)
	}

	walletID := s.newID()
	switch chain {
	case interfaces.ChainEthereum:
		cred, err = s.createThresholdWallet(ctx, walletID, threshold, totalShares)
	case interfaces.ChainBitcoin:
		cred, err = s.createMultisigWallet(ctx, walletID, threshold, totalShares)
	default:
		return nil, interfaces.Validationf("unsupported chain %q", chain)
	}
	if err != nil {
		s.log.Error("Wallet creation failed",
			slog.String("wallet_id", walletID),
			slog.String("chain", string(chain)),
			"err", err)
		return nil, err
	}

	s.log.Info("Wallet created",
		slog.String("wallet_id", cred.WalletID),
		slog.String("chain", string(cred.Chain)),
		slog.String("address", cred.Address),
		slog.Int("threshold", cred.Threshold),
		slog.Int("total_shares", cred.TotalShares))
	return cred, nil
}

func (s *Service) createThresholdWallet(ctx context.Context, walletID string, threshold, totalShares int) (*interfaces.WalletCredential, error) {
	if totalShares > MaxThresholdShares {
		return nil, interfaces.Validationf("at most %d shares supported, got %d", MaxThresholdShares, totalShares)
	}

	key, err := keys.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	defer keys.Wipe(key)

	address, err := s.deriver.DeriveAddress(&key.PublicKey, interfaces.ChainEthereum)
	if err != nil {
		return nil, err
	}

	scalar := keys.Scalar(key)
	shares, err := shamir.Split(field.Secp256k1, scalar, totalShares, threshold)
	scalar.SetInt64(0)
	if err != nil {
		return nil, err
	}
	defer func() {
		for i := range shares {
			shares[i].Wipe()
		}
	}()

	publicKey := keys.UncompressedHex(&key.PublicKey)
	cred := &interfaces.WalletCredential{
		WalletID:    walletID,
		Chain:       interfaces.ChainEthereum,
		Protocol:    interfaces.ProtocolThreshold,
		PublicKey:   publicKey,
		Address:     address,
		Threshold:   threshold,
		TotalShares: totalShares,
		Status:      interfaces.StatusActive,
		CreatedAt:   s.now(),
		Metadata: map[string]string{
			MetaDerivationPath: keys.EthereumDerivationPath,
			MetaProtocol:       string(interfaces.ProtocolThreshold),
		},
	}
	meta := map[string]string{sharevault.MetaPublicKey: publicKey}
	return cred, s.persist(ctx, cred, shares, func(int) map[string]string { return meta })
}

func (s *Service) createMultisigWallet(ctx context.Context, walletID string, threshold, totalShares int) (*interfaces.WalletCredential, error) {
	if totalShares > MaxMultisigKeys {
		return nil, interfaces.Validationf("at most %d multisig keys supported, got %d", MaxMultisigKeys, totalShares)
	}

	privs := make([]*ecdsa.PrivateKey, 0, totalShares)
	defer func() {
		for _, k := range privs {
			keys.Wipe(k)
		}
	}()
	pubs := make([]*ecdsa.PublicKey, totalShares)
	participantKeys := make([]string, totalShares)
	shares := make([]interfaces.SecretShare, totalShares)
	for i := 0; i < totalShares; i++ {
		k, err := keys.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		privs = append(privs, k)
		pubs[i] = &k.PublicKey
		participantKeys[i] = keys.CompressedHex(&k.PublicKey)
		shares[i] = interfaces.SecretShare{X: i + 1, Y: keys.Scalar(k)}
	}
	defer func() {
		for i := range shares {
			shares[i].Wipe()
		}
	}()

	redeemScript, err := s.deriver.MultisigScript(pubs, threshold)
	if err != nil {
		return nil, err
	}
	address, err := s.deriver.MultisigAddress(redeemScript)
	if err != nil {
		return nil, err
	}

	cred := &interfaces.WalletCredential{
		WalletID:        walletID,
		Chain:           interfaces.ChainBitcoin,
		Protocol:        interfaces.ProtocolMultisig,
		PublicKey:       hex.EncodeToString(redeemScript),
		Address:         address,
		Threshold:       threshold,
		TotalShares:     totalShares,
		ParticipantKeys: participantKeys,
		RedeemScript:    hex.EncodeToString(redeemScript),
		Status:          interfaces.StatusActive,
		CreatedAt:       s.now(),
		Metadata: map[string]string{
			MetaDerivationPath: bitcoinDerivationPath,
			MetaProtocol:       string(interfaces.ProtocolMultisig),
		},
	}
	return cred, s.persist(ctx, cred, shares, func(i int) map[string]string {
		return map[string]string{sharevault.MetaPublicKey: participantKeys[i]}
	})
}

// persist stores every share, then the credential, revoking every attempted
// share on any failure. A failed Store may still have written some replicas.
func (s *Service) persist(ctx context.Context, cred *interfaces.WalletCredential, shares []interfaces.SecretShare, meta func(int) map[string]string) error {
	attempted := make([]int, 0, len(shares))
	rollback := func() {
		// The caller's context may already be cancelled.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		for _, idx := range attempted {
			if _, err := s.vault.Revoke(rctx, cred.WalletID, idx); err != nil {
				s.log.Error("Failed to revoke share during rollback",
					slog.String("wallet_id", cred.WalletID),
					slog.Int("participant", idx),
					"err", err)
			}
		}
	}

	for i, share := range shares {
		attempted = append(attempted, i)
		if _, err := s.vault.Store(ctx, cred.WalletID, i, share, meta(i)); err != nil {
			rollback()
			return err
		}
	}

	if err := s.store.PutCredential(ctx, cred); err != nil {
		rollback()
		return err
	}
	return nil
}

// InitiateTransaction builds an unsigned transfer of amount base units from
// the wallet to to, authorized by participant.
func (s *Service) InitiateTransaction(ctx context.Context, walletID, from, to string, amount *big.Int, participant int) (art *cosign.Artifact, err error) {
	start := time.Now()
	var chain string
	defer func() {
		s.metrics.TransferInitiated(chain, outcome(err))
		s.metrics.ObserveDuration("initiate_transaction", start)
	}()

	art, err = s.protocol.Initiate(ctx, cosign.TransferRequest{
		WalletID:    walletID,
		From:        from,
		To:          to,
		Amount:      amount,
		Participant: participant,
	})
	if art != nil {
		chain = string(art.Chain)
	}
	return art, err
}

// CompleteTransaction adds the second participant's authority (plus any
// additional participants a higher threshold needs), signs and broadcasts.
//
// On a transmission failure the returned artifact is Finalized and holds the
// signed transaction for RebroadcastTransaction.
func (s *Service) CompleteTransaction(ctx context.Context, art *cosign.Artifact, secondParticipant int, additional ...int) (txID interfaces.TransactionID, out *cosign.Artifact, err error) {
	start := time.Now()
	defer func() {
		var chain string
		if art != nil {
			chain = string(art.Chain)
		}
		s.metrics.TransferCompleted(chain, outcome(err))
		s.metrics.ObserveDuration("complete_transaction", start)
	}()

	out, err = s.protocol.Complete(ctx, art, secondParticipant, additional...)
	if out != nil {
		txID = out.TxID
	}
	if err != nil && !errors.Is(err, interfaces.ErrTransmission) {
		txID = ""
	}
	return txID, out, err
}

// RebroadcastTransaction resubmits a Finalized artifact.
func (s *Service) RebroadcastTransaction(ctx context.Context, art *cosign.Artifact) (txID interfaces.TransactionID, out *cosign.Artifact, err error) {
	defer func() {
		var chain string
		if art != nil {
			chain = string(art.Chain)
		}
		s.metrics.TransferCompleted(chain, outcome(err))
	}()

	out, err = s.protocol.Rebroadcast(ctx, art)
	if out != nil {
		txID = out.TxID
	}
	return txID, out, err
}

// TransactionStatus asks the chain about a broadcast transaction.
func (s *Service) TransactionStatus(ctx context.Context, chain interfaces.Chain, txID interfaces.TransactionID) (interfaces.TxStatus, error) {
	if txID == "" {
		return interfaces.TxStatusUnknown, interfaces.Validationf("empty transaction id")
	}
	return s.protocol.Status(ctx, chain, txID)
}

// GetPublicInfo returns the public part of a wallet. No share or key material
// is ever included.
func (s *Service) GetPublicInfo(ctx context.Context, walletID string) (*interfaces.PublicInfo, error) {
	cred, err := s.store.GetCredential(ctx, walletID)
	if err != nil {
		return nil, err
	}
	return &interfaces.PublicInfo{
		WalletID:       cred.WalletID,
		Chain:          cred.Chain,
		Address:        cred.Address,
		PublicKey:      cred.PublicKey,
		DerivationPath: cred.Metadata[MetaDerivationPath],
		Threshold:      cred.Threshold,
		TotalShares:    cred.TotalShares,
	}, nil
}

// RevokeShare deactivates the share of participant. It reports false when no
// active share existed.
func (s *Service) RevokeShare(ctx context.Context, walletID string, participant int) (bool, error) {
	cred, err := s.store.GetCredential(ctx, walletID)
	if err != nil {
		return false, err
	}
	if !cred.ValidParticipant(participant) {
		return false, interfaces.NotFoundf("participant %d of wallet %s", participant, walletID)
	}

	revoked, err := s.vault.Revoke(ctx, walletID, participant)
	if err != nil {
		return false, err
	}
	if revoked {
		s.metrics.ShareRevoked(string(cred.Chain))
		s.log.Warn("Share revoked",
			slog.String("wallet_id", walletID),
			slog.Int("participant", participant))
	}
	return revoked, nil
}
