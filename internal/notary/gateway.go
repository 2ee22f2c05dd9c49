// Package notary submits completed transactions to the external
// distributed-ledger network for durable timestamping. Notarization is
// advisory: the engine treats the gateway as best-effort and never unwinds a
// trade because of it.
package notary

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

var ErrUnavailable = errors.New("notarization gateway unavailable")

// Gateway notarizes one transaction payload and returns the network's
// reference for it.
type Gateway interface {
	Notarize(ctx context.Context, txID uuid.UUID, payload []byte) (string, error)
}

// Digest is the Keccak-256 hex digest submitted alongside the payload; the
// network anchors the digest, not the raw payload.
func Digest(payload []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// HTTPGateway talks to the notary network's HTTP bridge.
type HTTPGateway struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewHTTPGateway(baseURL, apiKey string) *HTTPGateway {
	return &HTTPGateway{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type notarizeRequest struct {
	TransactionID string `json:"transaction_id"`
	Payload       string `json:"payload"`
	Digest        string `json:"digest"`
}

type notarizeResponse struct {
	Reference string `json:"reference"`
}

func (g *HTTPGateway) Notarize(ctx context.Context, txID uuid.UUID, payload []byte) (string, error) {
	body, err := json.Marshal(notarizeRequest{
		TransactionID: txID.String(),
		Payload:       string(payload),
		Digest:        Digest(payload),
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/api/v1/notarize", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.APIKey)
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	var out notarizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: bad response: %v", ErrUnavailable, err)
	}
	if out.Reference == "" {
		return "", fmt.Errorf("%w: empty reference", ErrUnavailable)
	}
	return out.Reference, nil
}
