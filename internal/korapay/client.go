package korapay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jmconsultingid/korapay-bridge/internal/resilience"
)

const (
	// DefaultBaseURL is Korapay's production API host, used for both live and
	// test keys. The key in use selects the environment server-side.
	DefaultBaseURL = "https://api.korapay.com"

	// DefaultTimeout bounds a single charge initialization call.
	DefaultTimeout = 90 * time.Second

	chargeInitPath = "/merchant/api/v1/charges/initialize"
)

// TransportError wraps network-level failures reaching Korapay: DNS, TLS,
// connect and deadline errors. The provider never saw or never answered the
// request.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("korapay: transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProviderError means Korapay answered but declined to open a charge. The
// message is Korapay's own and is safe to surface to operators.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("korapay: charge rejected (http %d)", e.StatusCode)
	}
	return fmt.Sprintf("korapay: charge rejected: %s", e.Message)
}

// Credentials selects between live and test key pairs.
type Credentials struct {
	LiveSecretKey string
	TestSecretKey string
	LiveMode      bool
}

// SecretKey returns the secret key for the active mode.
func (c Credentials) SecretKey() string {
	if c.LiveMode {
		return c.LiveSecretKey
	}
	return c.TestSecretKey
}

// Client talks to the Korapay merchant API. TLS verification is always left at
// the transport default; charges carry money and must not tolerate MITM.
type Client struct {
	BaseURL     string
	Credentials Credentials
	HTTP        resilience.HTTPClient
	Timeout     time.Duration
}

type initResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		CheckoutURL string `json:"checkout_url"`
		Reference   string `json:"reference"`
	} `json:"data"`
}

// InitializeCharge opens a hosted checkout session for the given charge and
// returns the URL the shopper should be redirected to.
func (c *Client) InitializeCharge(ctx context.Context, charge ChargeRequest) (InitResult, error) {
	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	body, err := json.Marshal(charge)
	if err != nil {
		return InitResult{}, fmt.Errorf("korapay: encode charge: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+chargeInitPath, bytes.NewReader(body))
	if err != nil {
		return InitResult{}, fmt.Errorf("korapay: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Credentials.SecretKey())

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return InitResult{}, &TransportError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return InitResult{}, &TransportError{Err: err}
	}

	var parsed initResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return InitResult{}, &ProviderError{StatusCode: resp.StatusCode, Message: "unparseable response"}
	}
	if !parsed.Status || parsed.Data.CheckoutURL == "" {
		return InitResult{}, &ProviderError{StatusCode: resp.StatusCode, Message: parsed.Message}
	}

	reference := parsed.Data.Reference
	if reference == "" {
		reference = charge.Reference
	}
	return InitResult{Reference: reference, CheckoutURL: parsed.Data.CheckoutURL}, nil
}
