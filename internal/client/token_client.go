package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coinpulse/chat-service/internal/config"
	"github.com/coinpulse/chat-service/internal/domain"
)

// ErrRefNotFound is returned when the reference id is unknown upstream.
var ErrRefNotFound = errors.New("token reference not found")

// MetadataResolver returns display metadata for a token/content reference,
// embedded into token-share messages as a snapshot.
type MetadataResolver interface {
	Resolve(ctx context.Context, refID string) (*domain.TokenMetadata, error)
}

// TokenClient resolves references against the platform metadata service.
type TokenClient struct {
	baseURL string
	http    *http.Client
}

func NewTokenClient(cfg config.MetadataConfig) *TokenClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &TokenClient{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *TokenClient) Resolve(ctx context.Context, refID string) (*domain.TokenMetadata, error) {
	endpoint := fmt.Sprintf("%s/api/tokens/%s", c.baseURL, url.PathEscape(refID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metadata service unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrRefNotFound
	default:
		return nil, fmt.Errorf("metadata service returned status %d", resp.StatusCode)
	}

	var body struct {
		Success bool                 `json:"success"`
		Data    domain.TokenMetadata `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode metadata response: %w", err)
	}
	if !body.Success {
		return nil, ErrRefNotFound
	}

	meta := body.Data
	if meta.RefID == "" {
		meta.RefID = refID
	}
	return &meta, nil
}
