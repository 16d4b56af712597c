package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"VaultKeeper/internal/model"
)

// RelayerClient talks to a signing relayer over HTTP. The relayer holds the
// keys; the keeper only forwards each account's credential handle. One
// pooled transport is shared by every account.
type RelayerClient struct {
	BaseURL      string
	APIKey       string
	Client       *http.Client
	Limiter      *rate.Limiter
	PollInterval time.Duration
}

// NewRelayerClient creates a client with optional proxy support. rps <= 0
// disables rate limiting.
func NewRelayerClient(baseURL, apiKey, proxyURL string, rps float64, burst int) *RelayerClient {
	transport := &http.Transport{
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &RelayerClient{
		BaseURL:      baseURL,
		APIKey:       apiKey,
		Client:       &http.Client{Timeout: 30 * time.Second, Transport: transport},
		Limiter:      limiter,
		PollInterval: 3 * time.Second,
	}
}

type submitRequest struct {
	Account    string            `json:"account"`
	Credential string            `json:"credential"`
	Kind       string            `json:"kind"`
	Method     string            `json:"method"`
	Params     map[string]string `json:"params,omitempty"`
	FeeRate    float64           `json:"fee_rate_gwei"`
	GasLimit   uint64            `json:"gas_limit,omitempty"`
}

type txStatus struct {
	TxRef         string `json:"tx_ref"`
	Status        string `json:"status"` // pending, confirmed, reverted
	Block         uint64 `json:"block"`
	Confirmations int    `json:"confirmations"`
	Error         string `json:"error"`
}

// Submit sends one transaction and returns its reference.
func (c *RelayerClient) Submit(ctx context.Context, acct model.Account, spec Spec, budget model.Budget) (TxRef, error) {
	body := submitRequest{
		Account:    acct.ID,
		Credential: acct.Credential,
		Kind:       string(spec.Kind),
		Method:     spec.Method,
		Params:     spec.Params,
		FeeRate:    budget.FeeRate,
		GasLimit:   budget.GasLimit,
	}
	var status txStatus
	if err := c.do(ctx, http.MethodPost, "/v1/transactions", body, &status); err != nil {
		return "", err
	}
	if status.TxRef == "" {
		return "", fmt.Errorf("relayer returned no tx_ref")
	}
	return TxRef(status.TxRef), nil
}

// Confirm polls the transaction until it has the required confirmations, is
// reverted, or timeout elapses.
func (c *RelayerClient) Confirm(ctx context.Context, ref TxRef, confirmations int, timeout time.Duration) (*Confirmation, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	poll := c.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		var status txStatus
		// Polling errors are retried until the deadline.
		if err := c.do(ctx, http.MethodGet, "/v1/transactions/"+url.PathEscape(string(ref)), nil, &status); err == nil {
			switch {
			case status.Status == "reverted":
				return nil, fmt.Errorf("%w: %s %s", ErrReverted, ref, status.Error)
			case status.Status == "confirmed" && status.Confirmations >= confirmations:
				return &Confirmation{TxRef: ref, Block: status.Block, Confirmations: status.Confirmations}, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s after %s", ErrConfirmTimeout, ref, timeout)
		case <-ticker.C:
		}
	}
}

// ReadState reads one numeric value for the account.
func (c *RelayerClient) ReadState(ctx context.Context, acct model.Account, query string) (float64, error) {
	var result struct {
		Value float64 `json:"value"`
	}
	path := fmt.Sprintf("/v1/accounts/%s/state/%s", url.PathEscape(acct.ID), url.PathEscape(query))
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return 0, fmt.Errorf("read %s: %w", query, err)
	}
	return result.Value, nil
}

func (c *RelayerClient) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.Limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d, body: %s", method, path, resp.StatusCode, string(respBody))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
