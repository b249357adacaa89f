package httpserver

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/mpc-custody/api"
	"github.com/ruteri/mpc-custody/kms"
)

const (
	stateLocked   = "locked"
	stateUnlocked = "unlocked"

	headerAdminID        = "X-Admin-ID"
	headerAdminSignature = "X-Admin-Signature"
)

var (
	errMissingAuth  = errors.New("missing admin authentication headers")
	errUnknownAdmin = errors.New("unknown admin")
	errBadSignature = errors.New("invalid admin signature")
)

type adminKey struct {
	pem []byte
	pub *ecdsa.PublicKey
}

// AdminHandler collects master secret shares from administrators until the
// deployment secret can be reconstructed. Every request is signed by a
// whitelisted admin key over sha256(path || body).
type AdminHandler struct {
	log        *slog.Logger
	admins     map[string]adminKey
	recovery   *kms.ShamirKMS
	unlocked   chan struct{}
	unlockOnce sync.Once
}

// NewAdminHandler creates a locked handler expecting threshold shares from
// the given admins.
func NewAdminHandler(log *slog.Logger, adminPubKeys map[string][]byte, threshold int) (*AdminHandler, error) {
	if len(adminPubKeys) == 0 {
		return nil, errors.New("at least one admin key is required")
	}
	if threshold < 2 || threshold > len(adminPubKeys) {
		return nil, fmt.Errorf("threshold %d out of range for %d admins", threshold, len(adminPubKeys))
	}

	recovery := kms.NewShamirKMSRecovery(threshold)
	admins := make(map[string]adminKey, len(adminPubKeys))
	for id, pubKeyPEM := range adminPubKeys {
		pub, err := parseECDSAPublicKey(pubKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("admin %s: %w", id, err)
		}
		if err := recovery.RegisterAdmin(pubKeyPEM); err != nil {
			return nil, fmt.Errorf("admin %s: %w", id, err)
		}
		admins[id] = adminKey{pem: pubKeyPEM, pub: pub}
	}

	return &AdminHandler{
		log:      log,
		admins:   admins,
		recovery: recovery,
		unlocked: make(chan struct{}),
	}, nil
}

// WaitForUnlock blocks until enough shares were submitted or ctx is done.
func (h *AdminHandler) WaitForUnlock(ctx context.Context) (*kms.ShamirKMS, error) {
	select {
	case <-h.unlocked:
		return h.recovery, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AdminRouter returns the router for the admin API, to be mounted at /admin.
func (h *AdminHandler) AdminRouter() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", h.handleStatus)
	r.Post("/share", h.handleSubmitShare)
	return r
}

func (h *AdminHandler) status() api.AdminStatusResponse {
	received, threshold := h.recovery.Progress()
	if h.recovery.IsUnlocked() {
		return api.AdminStatusResponse{State: stateUnlocked, Received: threshold, Threshold: threshold}
	}
	return api.AdminStatusResponse{State: stateLocked, Received: received, Threshold: threshold}
}

func (h *AdminHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}

func adminError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, api.ErrorResponse{Error: msg, Kind: kind})
}

// handleSubmitShare accepts {"share_index", "share", "signature"} where share
// and signature are base64 and the signature is the admin's over sha256(share).
func (h *AdminHandler) handleSubmitShare(w http.ResponseWriter, r *http.Request) {
	adminID, err := h.authenticate(r)
	if err != nil {
		h.log.Warn("Admin authentication failed", slog.String("adminID", adminID), "err", err)
		adminError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	if h.recovery.IsUnlocked() {
		adminError(w, http.StatusConflict, "conflict", "already unlocked")
		return
	}

	var submission api.AdminShareSubmission
	if err := json.NewDecoder(r.Body).Decode(&submission); err != nil {
		adminError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	share, err := base64.StdEncoding.DecodeString(submission.Share)
	if err != nil {
		adminError(w, http.StatusBadRequest, "validation", "invalid share encoding")
		return
	}
	signature, err := base64.StdEncoding.DecodeString(submission.Signature)
	if err != nil {
		adminError(w, http.StatusBadRequest, "validation", "invalid signature encoding")
		return
	}

	if err := h.recovery.SubmitShare(submission.ShareIndex, share, signature, h.admins[adminID].pem); err != nil {
		h.log.Error("Share submission failed", slog.String("adminID", adminID), "err", err)
		adminError(w, http.StatusBadRequest, "validation", "share submission failed: "+err.Error())
		return
	}

	if h.recovery.IsUnlocked() {
		h.unlockOnce.Do(func() { close(h.unlocked) })
		h.log.Info("Master secret reconstructed", slog.String("adminID", adminID))
	} else {
		h.log.Info("Share accepted", slog.String("adminID", adminID), slog.Int("shareIndex", submission.ShareIndex))
	}
	writeJSON(w, http.StatusOK, h.status())
}

// authenticate resolves the signing admin of r. The body is read for
// verification and put back for the handler.
func (h *AdminHandler) authenticate(r *http.Request) (string, error) {
	adminID := r.Header.Get(headerAdminID)
	encoded := r.Header.Get(headerAdminSignature)
	if adminID == "" || encoded == "" {
		return adminID, errMissingAuth
	}
	key, ok := h.admins[adminID]
	if !ok {
		return adminID, errUnknownAdmin
	}
	signature, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return adminID, fmt.Errorf("%w: %v", errBadSignature, err)
	}

	var body []byte
	if r.Body != nil {
		if body, err = io.ReadAll(r.Body); err != nil {
			return adminID, fmt.Errorf("reading body: %w", err)
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	digest := sha256.Sum256(append([]byte(r.URL.Path), body...))
	if !ecdsa.VerifyASN1(key.pub, digest[:], signature) {
		return adminID, errBadSignature
	}
	return adminID, nil
}
