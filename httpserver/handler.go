package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/mpc-custody/api"
	"github.com/ruteri/mpc-custody/cosign"
	"github.com/ruteri/mpc-custody/interfaces"
)

// defaultMaxBodySize is the request body limit when none is configured (1MB).
const defaultMaxBodySize = 1024 * 1024

// RequestError pairs an HTTP status code with the underlying error.
type RequestError struct {
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// WalletService is the custody core as seen by the HTTP layer.
type WalletService interface {
	CreateWallet(ctx context.Context, threshold, totalShares int, chain interfaces.Chain) (*interfaces.WalletCredential, error)
	GetPublicInfo(ctx context.Context, walletID string) (*interfaces.PublicInfo, error)
	InitiateTransaction(ctx context.Context, walletID, from, to string, amount *big.Int, participant int) (*cosign.Artifact, error)
	CompleteTransaction(ctx context.Context, art *cosign.Artifact, secondParticipant int, additional ...int) (interfaces.TransactionID, *cosign.Artifact, error)
	RebroadcastTransaction(ctx context.Context, art *cosign.Artifact) (interfaces.TransactionID, *cosign.Artifact, error)
	TransactionStatus(ctx context.Context, chain interfaces.Chain, txID interfaces.TransactionID) (interfaces.TxStatus, error)
	RevokeShare(ctx context.Context, walletID string, participant int) (bool, error)
}

// Handler serves the wallet API.
type Handler struct {
	wallets     WalletService
	maxBodySize int64
	log         *slog.Logger
}

func NewHandler(wallets WalletService, log *slog.Logger) *Handler {
	return &Handler{
		wallets:     wallets,
		maxBodySize: defaultMaxBodySize,
		log:         log,
	}
}

// Routes registers the wallet API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/wallets", h.HandleCreateWallet)
	r.Get("/api/wallets/{wallet_id}", h.HandleGetWallet)
	r.Delete("/api/wallets/{wallet_id}/shares/{participant_index}", h.HandleRevokeShare)
	r.Post("/api/wallets/{wallet_id}/transactions", h.HandleInitiateTransaction)
	r.Post("/api/transactions/complete", h.HandleCompleteTransaction)
	r.Post("/api/transactions/rebroadcast", h.HandleRebroadcast)
	r.Get("/api/transactions/{chain}/{tx_id}", h.HandleTransactionStatus)
}

// HandleCreateWallet handles POST /api/wallets.
func (h *Handler) HandleCreateWallet(w http.ResponseWriter, r *http.Request) {
	var req api.CreateWalletRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, err, nil)
		return
	}
	chain, err := interfaces.ParseChain(req.Chain)
	if err != nil {
		h.writeError(w, err, nil)
		return
	}

	cred, err := h.wallets.CreateWallet(r.Context(), req.Threshold, req.TotalShares, chain)
	if err != nil {
		h.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, api.NewWalletResponse(cred))
}

// HandleGetWallet handles GET /api/wallets/{wallet_id}.
func (h *Handler) HandleGetWallet(w http.ResponseWriter, r *http.Request) {
	info, err := h.wallets.GetPublicInfo(r.Context(), chi.URLParam(r, "wallet_id"))
	if err != nil {
		h.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// HandleRevokeShare handles DELETE /api/wallets/{wallet_id}/shares/{participant_index}.
func (h *Handler) HandleRevokeShare(w http.ResponseWriter, r *http.Request) {
	walletID := chi.URLParam(r, "wallet_id")
	participant, err := strconv.Atoi(chi.URLParam(r, "participant_index"))
	if err != nil {
		h.writeError(w, interfaces.Validationf("participant index must be an integer"), nil)
		return
	}

	revoked, err := h.wallets.RevokeShare(r.Context(), walletID, participant)
	if err != nil {
		h.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, api.RevokeShareResponse{
		WalletID:    walletID,
		Participant: participant,
		Revoked:     revoked,
	})
}

// HandleInitiateTransaction handles POST /api/wallets/{wallet_id}/transactions.
// The response body is the artifact to carry to the completion call.
func (h *Handler) HandleInitiateTransaction(w http.ResponseWriter, r *http.Request) {
	var req api.InitiateTransactionRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, err, nil)
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		h.writeError(w, interfaces.Validationf("amount %q is not a decimal integer", req.Amount), nil)
		return
	}

	art, err := h.wallets.InitiateTransaction(r.Context(), chi.URLParam(r, "wallet_id"), req.From, req.To, amount, req.Participant)
	if err != nil {
		h.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, art)
}

// HandleCompleteTransaction handles POST /api/transactions/complete.
func (h *Handler) HandleCompleteTransaction(w http.ResponseWriter, r *http.Request) {
	var req api.CompleteTransactionRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, err, nil)
		return
	}
	if req.Artifact == nil {
		h.writeError(w, interfaces.Validationf("artifact is required"), nil)
		return
	}

	txID, art, err := h.wallets.CompleteTransaction(r.Context(), req.Artifact, req.SecondParticipant, req.AdditionalParticipants...)
	if err != nil {
		h.writeError(w, err, art)
		return
	}
	writeJSON(w, http.StatusOK, api.TransactionResponse{TxID: txID, Artifact: art})
}

// HandleRebroadcast handles POST /api/transactions/rebroadcast.
func (h *Handler) HandleRebroadcast(w http.ResponseWriter, r *http.Request) {
	var req api.RebroadcastRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, err, nil)
		return
	}
	if req.Artifact == nil {
		h.writeError(w, interfaces.Validationf("artifact is required"), nil)
		return
	}

	txID, art, err := h.wallets.RebroadcastTransaction(r.Context(), req.Artifact)
	if err != nil {
		h.writeError(w, err, art)
		return
	}
	writeJSON(w, http.StatusOK, api.TransactionResponse{TxID: txID, Artifact: art})
}

// HandleTransactionStatus handles GET /api/transactions/{chain}/{tx_id}.
func (h *Handler) HandleTransactionStatus(w http.ResponseWriter, r *http.Request) {
	chain, err := interfaces.ParseChain(chi.URLParam(r, "chain"))
	if err != nil {
		h.writeError(w, err, nil)
		return
	}
	txID := interfaces.TransactionID(chi.URLParam(r, "tx_id"))

	status, err := h.wallets.TransactionStatus(r.Context(), chain, txID)
	if err != nil {
		h.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, api.TransactionStatusResponse{Chain: string(chain), TxID: txID, Status: status})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &RequestError{StatusCode: http.StatusRequestEntityTooLarge, Err: errors.New("request body too large")}
		}
		return &RequestError{StatusCode: http.StatusBadRequest, Err: interfaces.Validationf("invalid request body: %v", err)}
	}
	return nil
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(kind interfaces.ErrorKind) int {
	switch kind {
	case interfaces.KindValidation:
		return http.StatusBadRequest
	case interfaces.KindNotFound:
		return http.StatusNotFound
	case interfaces.KindCrypto:
		return http.StatusUnprocessableEntity
	case interfaces.KindTransmission:
		return http.StatusBadGateway
	case interfaces.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error, art *cosign.Artifact) {
	kind := interfaces.KindOf(err)
	status := statusFor(kind)
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		status = reqErr.StatusCode
	}

	msg := err.Error()
	if status >= http.StatusInternalServerError && kind != interfaces.KindTransmission {
		h.log.Error("Request failed", "err", err)
		msg = "internal server error"
	} else {
		h.log.Debug("Request rejected", "err", err, "kind", kind.String())
	}

	writeJSON(w, status, api.ErrorResponse{Error: msg, Kind: kind.String(), Artifact: art})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
