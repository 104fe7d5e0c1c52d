package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// TokenService is the server-side RPC surface the reconciler drives:
// token-insert, token-remove, token-validate.
type TokenService interface {
	Insert(ctx context.Context, vendor push.Vendor, token, appName string) (string, error)
	Remove(ctx context.Context, id string, vendor push.Vendor, token string) error
	Validate(ctx context.Context, token string, vendor push.Vendor) (bool, error)
}

// HTTPTokenService talks to the push service's HTTP API. Authorization is
// supplied by a credential callback so the caller controls token refresh.
type HTTPTokenService struct {
	baseURL    string
	httpClient *http.Client
	credential func(ctx context.Context) (string, error)
}

// NewHTTPTokenService builds the client. credential may be nil for
// unauthenticated devices.
func NewHTTPTokenService(baseURL string, httpClient *http.Client, credential func(ctx context.Context) (string, error)) *HTTPTokenService {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPTokenService{
		baseURL:    baseURL,
		httpClient: httpClient,
		credential: credential,
	}
}

func (s *HTTPTokenService) Insert(ctx context.Context, vendor push.Vendor, token, appName string) (string, error) {
	body := map[string]any{
		"token":   map[string]string{"vendor": string(vendor), "token": token},
		"appName": appName,
	}
	var out struct {
		ID string `json:"id"`
	}
	status, err := s.do(ctx, http.MethodPost, "/api/v1/tokens", body, &out)
	if err != nil {
		return "", err
	}
	if status == http.StatusBadRequest {
		return "", push.ErrInvalidRegistration
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("token-insert: unexpected status %d", status)
	}
	return out.ID, nil
}

func (s *HTTPTokenService) Remove(ctx context.Context, id string, vendor push.Vendor, token string) error {
	body := map[string]any{
		"_id":   id,
		"token": map[string]string{"vendor": string(vendor), "token": token},
	}
	status, err := s.do(ctx, http.MethodDelete, "/api/v1/tokens", body, nil)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent {
		return fmt.Errorf("token-remove: unexpected status %d", status)
	}
	return nil
}

func (s *HTTPTokenService) Validate(ctx context.Context, token string, vendor push.Vendor) (bool, error) {
	body := map[string]any{"token": token, "vendor": string(vendor)}
	var out struct {
		Valid bool `json:"valid"`
	}
	status, err := s.do(ctx, http.MethodPost, "/api/v1/tokens/validate", body, &out)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, fmt.Errorf("token-validate: unexpected status %d", status)
	}
	return out.Valid, nil
}

func (s *HTTPTokenService) do(ctx context.Context, method, path string, body any, out any) (int, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("request encode failed: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return 0, fmt.Errorf("request build failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.credential != nil {
		cred, err := s.credential(ctx)
		if err != nil {
			return 0, fmt.Errorf("credential lookup failed: %w", err)
		}
		if cred != "" {
			req.Header.Set("Authorization", "Bearer "+cred)
		}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("response decode failed: %w", err)
		}
	}
	return resp.StatusCode, nil
}

var _ TokenService = (*HTTPTokenService)(nil)
