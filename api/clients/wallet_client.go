package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ruteri/mpc-custody/api"
	"github.com/ruteri/mpc-custody/cosign"
	"github.com/ruteri/mpc-custody/interfaces"
)

// APIError is a non-2xx response from the wallet API. Kind carries the
// server's error classification.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
	// Artifact is set on transmission failures so the caller can rebroadcast.
	Artifact *cosign.Artifact
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with code %d (%s): %s", e.StatusCode, e.Kind, e.Message)
}

// WalletClient calls the wallet API of a custody server.
type WalletClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewWalletClient(baseURL string, timeout ...time.Duration) *WalletClient {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}
	return &WalletClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: clientTimeout},
	}
}

func (c *WalletClient) CreateWallet(ctx context.Context, threshold, totalShares int, chain interfaces.Chain) (*api.WalletResponse, error) {
	var out api.WalletResponse
	err := c.do(ctx, http.MethodPost, "/api/wallets", api.CreateWalletRequest{
		Threshold:   threshold,
		TotalShares: totalShares,
		Chain:       string(chain),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *WalletClient) GetWallet(ctx context.Context, walletID string) (*interfaces.PublicInfo, error) {
	var out interfaces.PublicInfo
	if err := c.do(ctx, http.MethodGet, "/api/wallets/"+url.PathEscape(walletID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *WalletClient) InitiateTransaction(ctx context.Context, walletID, to string, amount *big.Int, participant int) (*cosign.Artifact, error) {
	if amount == nil {
		return nil, errors.New("amount is required")
	}
	var out cosign.Artifact
	err := c.do(ctx, http.MethodPost, "/api/wallets/"+url.PathEscape(walletID)+"/transactions", api.InitiateTransactionRequest{
		To:          to,
		Amount:      amount.String(),
		Participant: participant,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteTransaction runs the second phase. On a transmission failure the
// returned *APIError carries the finalized artifact.
func (c *WalletClient) CompleteTransaction(ctx context.Context, art *cosign.Artifact, secondParticipant int, additional ...int) (*api.TransactionResponse, error) {
	var out api.TransactionResponse
	err := c.do(ctx, http.MethodPost, "/api/transactions/complete", api.CompleteTransactionRequest{
		Artifact:               art,
		SecondParticipant:      secondParticipant,
		AdditionalParticipants: additional,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *WalletClient) Rebroadcast(ctx context.Context, art *cosign.Artifact) (*api.TransactionResponse, error) {
	var out api.TransactionResponse
	if err := c.do(ctx, http.MethodPost, "/api/transactions/rebroadcast", api.RebroadcastRequest{Artifact: art}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *WalletClient) TransactionStatus(ctx context.Context, chain interfaces.Chain, txID interfaces.TransactionID) (interfaces.TxStatus, error) {
	var out api.TransactionStatusResponse
	path := fmt.Sprintf("/api/transactions/%s/%s", url.PathEscape(string(chain)), url.PathEscape(string(txID)))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (c *WalletClient) RevokeShare(ctx context.Context, walletID string, participant int) (bool, error) {
	var out api.RevokeShareResponse
	path := fmt.Sprintf("/api/wallets/%s/shares/%d", url.PathEscape(walletID), participant)
	if err := c.do(ctx, http.MethodDelete, path, nil, &out); err != nil {
		return false, err
	}
	return out.Revoked, nil
}

func (c *WalletClient) do(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		reqJSON, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(reqJSON)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var parsed struct {
			Error    string           `json:"error"`
			Kind     string           `json:"kind"`
			Artifact *cosign.Artifact `json:"artifact"`
		}
		if json.Unmarshal(respBody, &parsed) == nil && parsed.Error != "" {
			apiErr.Message = parsed.Error
			apiErr.Kind = parsed.Kind
			apiErr.Artifact = parsed.Artifact
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
