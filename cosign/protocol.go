package cosign

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	"github.com/ruteri/mpc-custody/interfaces"
	"github.com/ruteri/mpc-custody/keys"
)

// TransferRequest is the input of phase one.
type TransferRequest struct {
	WalletID string
	// From defaults to the wallet address and must equal it when set.
	From        string
	To          string
	Amount      *big.Int
	Participant int
}

// Config wires a Protocol.
type Config struct {
	Credentials interfaces.CredentialStore
	Shares      interfaces.ShareVault
	Gateways    map[interfaces.Chain]interfaces.ChainGateway
	Deriver     *keys.Deriver
	// EthereumChainID selects the EIP-155 signer.
	EthereumChainID *big.Int
	// Guard, when set, allows one successful completion per artifact.
	Guard interfaces.CompletionGuard
	Log   *slog.Logger
}

// variant is one chain family's way of authorizing a transfer.
type variant interface {
	initiate(ctx context.Context, cred *interfaces.WalletCredential, req TransferRequest, gw interfaces.ChainGateway) (*Artifact, error)
	// complete returns a Finalized copy of art carrying SignedTx.
	complete(ctx context.Context, cred *interfaces.WalletCredential, art *Artifact, participants []int) (*Artifact, error)
}

// Protocol runs the two-phase co-signing flow. It holds no per-transfer state
// and is safe for concurrent use.
type Protocol struct {
	credentials interfaces.CredentialStore
	gateways    map[interfaces.Chain]interfaces.ChainGateway
	deriver     *keys.Deriver
	guard       interfaces.CompletionGuard
	variants    map[interfaces.Chain]variant
	log         *slog.Logger
}

// New validates cfg and builds a Protocol.
func New(cfg Config) (*Protocol, error) {
	if cfg.Credentials == nil || cfg.Shares == nil {
		return nil, errors.New("cosign: credential store and share vault are required")
	}
	if len(cfg.Gateways) == 0 {
		return nil, errors.New("cosign: at least one chain gateway is required")
	}
	if cfg.Deriver == nil {
		cfg.Deriver = keys.NewDeriver(nil)
	}
	if cfg.EthereumChainID == nil {
		cfg.EthereumChainID = big.NewInt(1)
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	return &Protocol{
		credentials: cfg.Credentials,
		gateways:    cfg.Gateways,
		deriver:     cfg.Deriver,
		guard:       cfg.Guard,
		variants: map[interfaces.Chain]variant{
			interfaces.ChainEthereum: &thresholdSigner{shares: cfg.Shares, chainID: cfg.EthereumChainID, log: cfg.Log},
			interfaces.ChainBitcoin:  &multisigSigner{shares: cfg.Shares, deriver: cfg.Deriver, log: cfg.Log},
		},
		log: cfg.Log,
	}, nil
}

func (p *Protocol) gateway(chain interfaces.Chain) (interfaces.ChainGateway, variant, error) {
	gw, ok := p.gateways[chain]
	if !ok {
		return nil, nil, interfaces.Validationf("no gateway configured for chain %s", chain)
	}
	v, ok := p.variants[chain]
	if !ok {
		return nil, nil, interfaces.Validationf("unsupported chain %s", chain)
	}
	return gw, v, nil
}

// Initiate builds the unsigned transfer and its first authorization. Amount and
// address checks run before any share access or gateway call.
func (p *Protocol) Initiate(ctx context.Context, req TransferRequest) (*Artifact, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, interfaces.Validationf("amount must be positive")
	}

	cred, err := p.credentials.GetCredential(ctx, req.WalletID)
	if err != nil {
		return nil, err
	}
	if cred.Status != interfaces.StatusActive {
		return nil, interfaces.Validationf("wallet %s is %s", cred.WalletID, cred.Status)
	}

	if req.From == "" {
		req.From = cred.Address
	}
	if err := p.deriver.ValidateAddress(req.From, cred.Chain); err != nil {
		return nil, err
	}
	if !keys.SameAddress(cred.Chain, req.From, cred.Address) {
		return nil, interfaces.Validationf("from address %s does not belong to wallet %s", req.From, cred.WalletID)
	}
	if err := p.deriver.ValidateAddress(req.To, cred.Chain); err != nil {
		return nil, err
	}
	if !cred.ValidParticipant(req.Participant) {
		return nil, interfaces.NotFoundf("participant %d of wallet %s", req.Participant, cred.WalletID)
	}

	gw, v, err := p.gateway(cred.Chain)
	if err != nil {
		return nil, err
	}

	art, err := v.initiate(ctx, cred, req, gw)
	if err != nil {
		return nil, err
	}

	p.log.Info("Transfer initiated",
		slog.String("wallet_id", cred.WalletID),
		slog.String("chain", string(cred.Chain)),
		slog.String("to", req.To),
		slog.String("amount", req.Amount.String()),
		slog.Int("participant", req.Participant))
	return art, nil
}

// Complete adds the authority of secondParticipant (and of any additional
// participants a higher threshold needs), signs, and broadcasts. The input
// artifact is not modified.
//
// A transmission failure returns the Finalized copy together with an
// ErrTransmission error so the signed bytes can be resubmitted with
// Rebroadcast. Without a Guard the same artifact may be completed more than
// once.
func (p *Protocol) Complete(ctx context.Context, art *Artifact, secondParticipant int, additional ...int) (*Artifact, error) {
	if art == nil {
		return nil, interfaces.Validationf("nil artifact")
	}
	if art.State != StatePartiallyAuthorized {
		return nil, interfaces.Validationf("artifact in state %s cannot be completed", art.State)
	}

	cred, err := p.credentials.GetCredential(ctx, art.WalletID)
	if err != nil {
		return nil, err
	}
	if cred.Chain != art.Chain {
		return nil, interfaces.Cryptof("artifact chain %s does not match wallet chain %s", art.Chain, cred.Chain)
	}

	participants, err := participantSet(cred, art.FirstParticipant, secondParticipant, additional)
	if err != nil {
		return nil, err
	}

	gw, v, err := p.gateway(cred.Chain)
	if err != nil {
		return nil, err
	}

	if p.guard != nil {
		if err := p.guard.Claim(ctx, art.GuardKey()); err != nil {
			return nil, err
		}
	}

	finalized, err := v.complete(ctx, cred, art, participants)
	if err != nil {
		p.releaseGuard(ctx, art)
		p.log.Warn("Transfer completion failed",
			slog.String("wallet_id", art.WalletID),
			slog.String("kind", interfaces.KindOf(err).String()),
			"err", err)
		if interfaces.KindOf(err) == interfaces.KindCrypto {
			failed := art.Clone()
			failed.State = StateFailed
			return failed, err
		}
		return nil, err
	}

	return p.broadcast(ctx, gw, finalized)
}

// Rebroadcast resubmits the signed bytes of a Finalized artifact.
func (p *Protocol) Rebroadcast(ctx context.Context, art *Artifact) (*Artifact, error) {
	if art == nil {
		return nil, interfaces.Validationf("nil artifact")
	}
	if art.State != StateFinalized || len(art.SignedTx) == 0 {
		return nil, interfaces.Validationf("artifact in state %s has nothing to rebroadcast", art.State)
	}
	gw, _, err := p.gateway(art.Chain)
	if err != nil {
		return nil, err
	}
	return p.broadcast(ctx, gw, art.Clone())
}

// Status asks the chain about a broadcast transaction.
func (p *Protocol) Status(ctx context.Context, chain interfaces.Chain, txID interfaces.TransactionID) (interfaces.TxStatus, error) {
	gw, _, err := p.gateway(chain)
	if err != nil {
		return interfaces.TxStatusUnknown, err
	}
	status, err := gw.GetStatus(ctx, txID)
	if err != nil {
		return interfaces.TxStatusUnknown, interfaces.Transmission(err)
	}
	return status, nil
}

func (p *Protocol) broadcast(ctx context.Context, gw interfaces.ChainGateway, art *Artifact) (*Artifact, error) {
	txID, err := gw.Broadcast(ctx, art.SignedTx)
	if err != nil {
		p.log.Warn("Broadcast failed, signed transaction retained",
			slog.String("wallet_id", art.WalletID),
			slog.String("tx_id", string(art.TxID)),
			"err", err)
		return art, interfaces.Transmission(err)
	}

	if txID != "" && txID != art.TxID {
		p.log.Debug("Gateway reported a different transaction id",
			slog.String("local", string(art.TxID)),
			slog.String("gateway", string(txID)))
		art.TxID = txID
	}
	if err := art.transition(StateBroadcast); err != nil {
		return nil, err
	}

	p.log.Info("Transfer broadcast",
		slog.String("wallet_id", art.WalletID),
		slog.String("chain", string(art.Chain)),
		slog.String("tx_id", string(art.TxID)))
	return art, nil
}

func (p *Protocol) releaseGuard(ctx context.Context, art *Artifact) {
	if p.guard == nil {
		return
	}
	if err := p.guard.Release(ctx, art.GuardKey()); err != nil {
		p.log.Error("Failed to release completion claim", slog.String("wallet_id", art.WalletID), "err", err)
	}
}

// participantSet orders the signers: the artifact's participant first. Every
// index must exist on the wallet and appear once.
func participantSet(cred *interfaces.WalletCredential, first, second int, additional []int) ([]int, error) {
	all := append([]int{first, second}, additional...)
	seen := make(map[int]bool, len(all))
	for _, idx := range all {
		if !cred.ValidParticipant(idx) {
			return nil, interfaces.NotFoundf("participant %d of wallet %s", idx, cred.WalletID)
		}
		if seen[idx] {
			return nil, interfaces.Validationf("participant %d listed twice", idx)
		}
		seen[idx] = true
	}
	if len(all) < cred.Threshold {
		return nil, interfaces.Cryptof("insufficient shares: %d participants for threshold %d", len(all), cred.Threshold)
	}
	return all, nil
}
