// turnstile.go -- Cloudflare Turnstile check for signup.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTurnstileURL is Cloudflare's siteverify endpoint.
const DefaultTurnstileURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

// ErrMissingToken is returned when the client sent no captcha token at all.
var ErrMissingToken = errors.New("captcha token missing")

// ErrRejected is returned when Cloudflare answered and said no.
// Anything else Verify returns is an infrastructure failure.
var ErrRejected = errors.New("captcha rejected")

// TurnstileVerifier verifies Turnstile tokens against the siteverify API.
type TurnstileVerifier struct {
	secret     string
	endpoint   string
	httpClient *http.Client
}

// NewTurnstileVerifier returns a verifier for secret. An empty endpoint means DefaultTurnstileURL.
// Uses a 5s timeout on the outbound HTTP client.
func NewTurnstileVerifier(secret, endpoint string) *TurnstileVerifier {
	if endpoint == "" {
		endpoint = DefaultTurnstileURL
	}
	return &TurnstileVerifier{
		secret:     secret,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Verify checks token for a signup coming from remoteIP.
func (v *TurnstileVerifier) Verify(ctx context.Context, token, remoteIP string) error {
	if strings.TrimSpace(token) == "" {
		return ErrMissingToken
	}

	body := url.Values{
		"secret":   {v.secret},
		"response": {token},
	}
	if remoteIP != "" {
		body.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(body.Encode()))
	if err != nil {
		return fmt.Errorf("turnstile: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("turnstile: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("turnstile: unexpected status %d", resp.StatusCode)
	}

	var result struct {
		Success    bool     `json:"success"`
		ErrorCodes []string `json:"error-codes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("turnstile: decoding response: %w", err)
	}

	if !result.Success {
		return fmt.Errorf("%w: %v", ErrRejected, result.ErrorCodes)
	}
	return nil
}
