package api

import (
	"time"

	"github.com/ruteri/mpc-custody/cosign"
	"github.com/ruteri/mpc-custody/interfaces"
)

type CreateWalletRequest struct {
	Threshold   int    `json:"threshold"`
	TotalShares int    `json:"total_shares"`
	Chain       string `json:"chain"`
}

// WalletResponse is the public view of a created wallet.
type WalletResponse struct {
	WalletID        string   `json:"wallet_id"`
	Chain           string   `json:"chain"`
	Address         string   `json:"address"`
	PublicKey       string   `json:"public_key"`
	Threshold       int      `json:"threshold"`
	TotalShares     int      `json:"total_shares"`
	ParticipantKeys []string `json:"participant_keys,omitempty"`
	RedeemScript    string   `json:"redeem_script,omitempty"`
	CreatedAt       string   `json:"created_at"`
}

func NewWalletResponse(cred *interfaces.WalletCredential) *WalletResponse {
	return &WalletResponse{
		WalletID:        cred.WalletID,
		Chain:           string(cred.Chain),
		Address:         cred.Address,
		PublicKey:       cred.PublicKey,
		Threshold:       cred.Threshold,
		TotalShares:     cred.TotalShares,
		ParticipantKeys: cred.ParticipantKeys,
		RedeemScript:    cred.RedeemScript,
		CreatedAt:       cred.CreatedAt.Format(time.RFC3339),
	}
}

type InitiateTransactionRequest struct {
	From        string `json:"from,omitempty"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
	Participant int    `json:"participant"`
}

type CompleteTransactionRequest struct {
	Artifact          *cosign.Artifact `json:"artifact"`
	SecondParticipant int              `json:"second_participant"`
	// AdditionalParticipants are needed when the wallet threshold exceeds two.
	AdditionalParticipants []int `json:"additional_participants,omitempty"`
}

type RebroadcastRequest struct {
	Artifact *cosign.Artifact `json:"artifact"`
}

// TransactionResponse is returned by both completion endpoints.
type TransactionResponse struct {
	TxID     interfaces.TransactionID `json:"tx_id"`
	Artifact *cosign.Artifact         `json:"artifact"`
}

type TransactionStatusResponse struct {
	Chain  string                   `json:"chain"`
	TxID   interfaces.TransactionID `json:"tx_id"`
	Status interfaces.TxStatus      `json:"status"`
}

type RevokeShareResponse struct {
	WalletID    string `json:"wallet_id"`
	Participant int    `json:"participant"`
	Revoked     bool   `json:"revoked"`
}

// ErrorResponse is the body of every wallet API error. Artifact is set when a
// completion fails after the artifact changed state: Failed on a crypto error,
// Finalized on a transmission error.
type ErrorResponse struct {
	Error    string           `json:"error"`
	Kind     string           `json:"kind"`
	Artifact *cosign.Artifact `json:"artifact,omitempty"`
}

type AdminStatusResponse struct {
	State     string `json:"state"`
	Received  int    `json:"received"`
	Threshold int    `json:"threshold"`
}

type AdminShareSubmission struct {
	ShareIndex int    `json:"share_index"`
	Share      string `json:"share"`     // base64 encoded
	Signature  string `json:"signature"` // base64 encoded
}
