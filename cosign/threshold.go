package cosign

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/mpc-custody/field"
	"github.com/ruteri/mpc-custody/interfaces"
	"github.com/ruteri/mpc-custody/keys"
	"github.com/ruteri/mpc-custody/shamir"
)

// TransferGas is the gas limit of a plain value transfer.
const TransferGas = 21000

// thresholdSigner authorizes Ethereum transfers from one key split into Shamir
// shares. Phase two reconstructs the scalar for the duration of one signature.
type thresholdSigner struct {
	shares  interfaces.ShareVault
	chainID *big.Int
	log     *slog.Logger
}

func (s *thresholdSigner) signer() types.Signer {
	return types.NewEIP155Signer(s.chainID)
}

func (s *thresholdSigner) initiate(ctx context.Context, cred *interfaces.WalletCredential, req TransferRequest, gw interfaces.ChainGateway) (*Artifact, error) {
	share, err := s.shares.Retrieve(ctx, cred.WalletID, req.Participant)
	if err != nil {
		return nil, err
	}
	defer share.Wipe()

	gasPrice, err := gw.EstimateFee(ctx)
	if err != nil {
		return nil, interfaces.Transmission(err)
	}
	inputs, err := gw.GetInputs(ctx, cred.Address)
	if err != nil {
		return nil, interfaces.Transmission(err)
	}

	to := common.HexToAddress(req.To)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    inputs.Nonce,
		GasPrice: gasPrice,
		Gas:      TransferGas,
		To:       &to,
		Value:    new(big.Int).Set(req.Amount),
	})
	unsigned, err := tx.MarshalBinary()
	if err != nil {
		return nil, interfaces.Internal("encoding transaction", err)
	}
	digest := s.signer().Hash(tx)

	art := &Artifact{
		WalletID:         cred.WalletID,
		Chain:            cred.Chain,
		From:             common.HexToAddress(cred.Address).Hex(),
		To:               to.Hex(),
		Amount:           new(big.Int).Set(req.Amount),
		UnsignedTx:       unsigned,
		Digest:           digest.Bytes(),
		Nonce:            inputs.Nonce,
		GasLimit:         TransferGas,
		ChainID:          new(big.Int).Set(s.chainID),
		FeeRate:          new(big.Int).Set(gasPrice),
		FirstParticipant: req.Participant,
		AuthToken:        authToken(share, digest.Bytes()),
		State:            StateUnsigned,
	}
	if err := art.transition(StatePartiallyAuthorized); err != nil {
		return nil, err
	}
	return art, nil
}

func (s *thresholdSigner) complete(ctx context.Context, cred *interfaces.WalletCredential, art *Artifact, participants []int) (*Artifact, error) {
	tx, err := s.decode(art)
	if err != nil {
		return nil, err
	}

	shares := make([]interfaces.SecretShare, 0, len(participants))
	defer func() {
		for i := range shares {
			shares[i].Wipe()
		}
	}()
	for _, idx := range participants {
		share, err := s.shares.Retrieve(ctx, cred.WalletID, idx)
		if err != nil {
			return nil, err
		}
		shares = append(shares, share)
	}

	if subtle.ConstantTimeCompare(authToken(shares[0], art.Digest), art.AuthToken) != 1 {
		return nil, interfaces.Cryptof("authorization token does not match participant %d", art.FirstParticipant)
	}

	secret, err := shamir.CombineThreshold(field.Secp256k1, shares, cred.Threshold)
	if err != nil {
		return nil, err
	}
	key, err := keys.PrivateKeyFromScalar(secret)
	secret.SetInt64(0)
	if err != nil {
		return nil, err
	}
	defer keys.Wipe(key)

	if crypto.PubkeyToAddress(key.PublicKey) != common.HexToAddress(cred.Address) {
		return nil, interfaces.Cryptof("reconstructed key does not control wallet %s", cred.WalletID)
	}

	signed, err := types.SignTx(tx, s.signer(), key)
	if err != nil {
		return nil, interfaces.Cryptof("signing: %v", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, interfaces.Internal("encoding signed transaction", err)
	}

	s.log.Debug("Threshold signature produced",
		slog.String("wallet_id", cred.WalletID),
		slog.Int("shares", len(shares)))

	out := art.Clone()
	out.SignedTx = raw
	out.TxID = interfaces.TransactionID(signed.Hash().Hex())
	if err := out.transition(StateFinalized); err != nil {
		return nil, err
	}
	return out, nil
}

// decode parses the carried transaction and checks it against the artifact's
// digest and transfer fields.
func (s *thresholdSigner) decode(art *Artifact) (*types.Transaction, error) {
	if art.ChainID != nil && art.ChainID.Cmp(s.chainID) != 0 {
		return nil, interfaces.Cryptof("artifact chain id %s, signer chain id %s", art.ChainID, s.chainID)
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(art.UnsignedTx); err != nil {
		return nil, interfaces.Cryptof("malformed transaction bytes: %v", err)
	}
	if tx.Type() != types.LegacyTxType {
		return nil, interfaces.Cryptof("unexpected transaction type %d", tx.Type())
	}
	if v, r, ss := tx.RawSignatureValues(); v.Sign() != 0 || r.Sign() != 0 || ss.Sign() != 0 {
		return nil, interfaces.Cryptof("transaction is already signed")
	}
	if !bytes.Equal(s.signer().Hash(tx).Bytes(), art.Digest) {
		return nil, interfaces.Cryptof("digest mismatch")
	}
	if tx.To() == nil || *tx.To() != common.HexToAddress(art.To) || art.Amount == nil || tx.Value().Cmp(art.Amount) != 0 {
		return nil, interfaces.Cryptof("transaction does not match artifact transfer")
	}
	return tx, nil
}

// authToken is keccak256(x || y || digest) with x as 8 bytes and y as 32
// bytes, both big-endian.
func authToken(share interfaces.SecretShare, digest []byte) []byte {
	var x [8]byte
	binary.BigEndian.PutUint64(x[:], uint64(share.X))
	y := make([]byte, 32)
	share.Y.FillBytes(y)
	defer wipe(y)
	return crypto.Keccak256(x[:], y, digest)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
