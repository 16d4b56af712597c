package price

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"VaultKeeper/internal/model"
)

// HTTPLookup reads a price from a JSON endpoint. The response may be either
// {"price": 1.23} or a symbol map such as {"ARK": "1.23"}. Repeated failures
// open a circuit breaker so a dead price API costs nothing per cycle.
type HTTPLookup struct {
	URL     string
	Symbol  string
	APIKey  string
	Client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPLookup creates a lookup with optional proxy support.
func NewHTTPLookup(endpoint, symbol, apiKey, proxyURL string) *HTTPLookup {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	l := &HTTPLookup{
		URL:    endpoint,
		Symbol: symbol,
		APIKey: apiKey,
		Client: &http.Client{Timeout: 15 * time.Second, Transport: transport},
	}
	l.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "price:" + symbol,
		MaxRequests: 1,
		Timeout:     time.Hour,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 3 },
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("price breaker state changed")
		},
	})
	return l
}

func (l *HTTPLookup) Name() string { return "http" }

// State exposes the breaker state for status pages.
func (l *HTTPLookup) State() string { return l.breaker.State().String() }

// Snapshot fetches the price through the breaker.
func (l *HTTPLookup) Snapshot(ctx context.Context) (*model.PriceSnapshot, error) {
	v, err := l.breaker.Execute(func() (interface{}, error) {
		return l.fetch(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("price lookup unavailable: %w", err)
		}
		return nil, err
	}
	return &model.PriceSnapshot{
		Symbol:    l.Symbol,
		Price:     v.(float64),
		Source:    l.URL,
		FetchedAt: time.Now(),
	}, nil
}

func (l *HTTPLookup) fetch(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return 0, err
	}
	if l.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+l.APIKey)
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch price: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("read price body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetch price: status %d, body: %s", resp.StatusCode, string(body))
	}
	return parsePrice(body, l.Symbol)
}

func parsePrice(body []byte, symbol string) (float64, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("decode price: %w", err)
	}
	keys := []string{"price", symbol, strings.ToUpper(symbol), strings.ToLower(symbol)}
	for _, k := range keys {
		raw, ok := payload[k]
		if !ok || k == "" {
			continue
		}
		return parseNumber(raw)
	}
	return 0, fmt.Errorf("no price for %q in response", symbol)
}

// parseNumber accepts both 1.23 and "1.23".
func parseNumber(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("price is neither number nor string: %s", string(raw))
	}
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
