package interfaces

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Chain identifies the chain family a wallet operates on.
type Chain string

const (
	// ChainEthereum wallets hold a single secp256k1 key split into Shamir shares.
	ChainEthereum Chain = "ethereum"
	// ChainBitcoin wallets hold independent keys behind a P2SH multisig script.
	ChainBitcoin Chain = "bitcoin"
)

// ParseChain normalizes a chain name.
func ParseChain(s string) (Chain, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ethereum", "eth":
		return ChainEthereum, nil
	case "bitcoin", "btc":
		return ChainBitcoin, nil
	default:
		return "", Validationf("unsupported chain %q", s)
	}
}

// Protocol is the signing scheme backing a wallet.
type Protocol string

const (
	ProtocolThreshold Protocol = "threshold"
	ProtocolMultisig  Protocol = "multisig"
)

// Status of a credential or share record.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// SecretShare is one point (X, Y) of a sharing polynomial. X is never zero.
type SecretShare struct {
	X int
	Y *big.Int
}

// String never prints Y.
func (s SecretShare) String() string {
	return fmt.Sprintf("share(x=%d)", s.X)
}

// Wipe zeroes the share value in place.
func (s *SecretShare) Wipe() {
	if s.Y != nil {
		s.Y.SetInt64(0)
	}
}

// WalletCredential is the public record of a wallet.
type WalletCredential struct {
	WalletID    string   `json:"wallet_id"`
	Chain       Chain    `json:"chain"`
	Protocol    Protocol `json:"protocol"`
	PublicKey   string   `json:"public_key"`
	Address     string   `json:"address"`
	Threshold   int      `json:"threshold"`
	TotalShares int      `json:"total_shares"`

	// ParticipantKeys holds the compressed public key of each participant,
	// ordered by participant index. Set for multisig wallets only.
	ParticipantKeys []string `json:"participant_keys,omitempty"`
	// RedeemScript is the hex multisig redeem script. Set for multisig wallets only.
	RedeemScript string `json:"redeem_script,omitempty"`

	Status    Status            `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ValidParticipant reports whether idx addresses one of the wallet's shares.
func (c *WalletCredential) ValidParticipant(idx int) bool {
	return idx >= 0 && idx < c.TotalShares
}

// PublicInfo is what GetPublicInfo exposes about a wallet.
type PublicInfo struct {
	WalletID       string `json:"wallet_id"`
	Chain          Chain  `json:"chain"`
	Address        string `json:"address"`
	PublicKey      string `json:"public_key"`
	DerivationPath string `json:"derivation_path,omitempty"`
	Threshold      int    `json:"threshold"`
	TotalShares    int    `json:"total_shares"`
}

// EncryptedShareRecord is the persisted, encrypted form of a SecretShare.
// Ciphertext is iv || ciphertext; ShareX is kept in clear.
type EncryptedShareRecord struct {
	ID               string            `json:"id"`
	WalletID         string            `json:"wallet_id"`
	ParticipantIndex int               `json:"participant_index"`
	ShareX           int               `json:"share_x"`
	Ciphertext       []byte            `json:"ciphertext"`
	PublicKey        string            `json:"public_key,omitempty"`
	Status           Status            `json:"status"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Active reports whether the record may still be retrieved.
func (r *EncryptedShareRecord) Active() bool {
	return r.Status == StatusActive
}
