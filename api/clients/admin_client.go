package clients

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ruteri/mpc-custody/api"
	"github.com/ruteri/mpc-custody/kms"
)

// AdminClient talks to the unlock API of a locked custody server.
type AdminClient struct {
	baseURL    string
	adminID    string
	privateKey *ecdsa.PrivateKey
	httpClient *http.Client
}

// NewAdminClient creates a client for the admin API rooted at baseURL
// (e.g. "http://localhost:8080/admin"). The timeout defaults to 30 seconds.
func NewAdminClient(baseURL, adminID string, privateKey *ecdsa.PrivateKey, timeout ...time.Duration) *AdminClient {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &AdminClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		adminID:    adminID,
		privateKey: privateKey,
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

// GetStatus returns the unlock state ("locked" or "unlocked") and progress.
func (c *AdminClient) GetStatus(ctx context.Context) (*api.AdminStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status request failed with code %d: %s", resp.StatusCode, string(body))
	}

	var result api.AdminStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse status response: %w", err)
	}
	return &result, nil
}

// SubmitShare submits one master secret share. A nil signature is replaced by
// a fresh signature over the share with the client's key.
func (c *AdminClient) SubmitShare(ctx context.Context, shareIndex int, share []byte, signature []byte) (*api.AdminStatusResponse, error) {
	if signature == nil {
		var err error
		signature, err = kms.SignShare(share, c.privateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to sign share: %w", err)
		}
	}

	reqJSON, err := json.Marshal(api.AdminShareSubmission{
		ShareIndex: shareIndex,
		Share:      base64.StdEncoding.EncodeToString(share),
		Signature:  base64.StdEncoding.EncodeToString(signature),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := CreateSignedAdminRequest(http.MethodPost, c.baseURL+"/share", reqJSON, c.adminID, c.privateKey)
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit share request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("submit share failed with code %d: %s", resp.StatusCode, string(body))
	}

	var result api.AdminStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse share response: %w", err)
	}
	return &result, nil
}

// WaitForUnlock polls the status until the server is unlocked or ctx ends.
func (c *AdminClient) WaitForUnlock(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.GetStatus(ctx)
		if err != nil {
			return fmt.Errorf("failed to get unlock status: %w", err)
		}
		if status.State == "unlocked" {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// CreateSignedAdminRequest creates an HTTP request carrying the admin
// authentication headers. The signature is ECDSA over sha256(path || body),
// base64 encoded in X-Admin-Signature.
func CreateSignedAdminRequest(method, reqUrl string, body []byte, adminID string, privateKey *ecdsa.PrivateKey) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, reqUrl, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Only the path is signed, not the full URL
	parsedURL, err := url.Parse(reqUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	signature, err := signPathAndBody(parsedURL.Path, body, privateKey)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Admin-ID", adminID)
	req.Header.Set("X-Admin-Signature", signature)
	return req, nil
}

// SignAdminRequest adds authentication headers to an existing request. The
// body is read and restored.
func SignAdminRequest(req *http.Request, adminID string, privateKey *ecdsa.PrivateKey) error {
	if req == nil {
		return errors.New("request cannot be nil")
	}

	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return fmt.Errorf("failed to read request body: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	}

	signature, err := signPathAndBody(req.URL.Path, bodyBytes, privateKey)
	if err != nil {
		return err
	}
	req.Header.Set("X-Admin-ID", adminID)
	req.Header.Set("X-Admin-Signature", signature)
	return nil
}

func signPathAndBody(path string, body []byte, privateKey *ecdsa.PrivateKey) (string, error) {
	hash := sha256.Sum256(append([]byte(path), body...))
	signature, err := ecdsa.SignASN1(rand.Reader, privateKey, hash[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign request: %w", err)
	}
	return base64.StdEncoding.EncodeToString(signature), nil
}
