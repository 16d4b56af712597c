package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VaultKeeper/internal/model"
)

func TestRelayerClient_Submit(t *testing.T) {
	var got submitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/transactions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"tx_ref":"0xdead","status":"pending"}`))
	}))
	defer srv.Close()

	c := NewRelayerClient(srv.URL, "secret", "", 0, 0)
	acct := model.Account{Index: 1, ID: "0xabc", Credential: "PVK_1"}
	spec := Spec{Kind: model.KindClaim, Method: "takeAction", Params: map[string]string{"withdraw": "56"}}
	ref, err := c.Submit(context.Background(), acct, spec, model.Budget{FeeRate: 3, GasLimit: 666666})
	require.NoError(t, err)
	assert.Equal(t, TxRef("0xdead"), ref)

	assert.Equal(t, "0xabc", got.Account)
	assert.Equal(t, "PVK_1", got.Credential)
	assert.Equal(t, "claim", got.Kind)
	assert.Equal(t, 3.0, got.FeeRate)
	assert.Equal(t, uint64(666666), got.GasLimit)
	assert.Equal(t, "56", got.Params["withdraw"])
}

func TestRelayerClient_SubmitRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "fee too low", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewRelayerClient(srv.URL, "", "", 0, 0)
	_, err := c.Submit(context.Background(), model.Account{ID: "0x1"}, Spec{Kind: model.KindDrain}, model.Budget{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "fee too low")
}

func TestRelayerClient_ConfirmPolls(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transactions/0xbeef", r.URL.Path)
		n := polls.Add(1)
		switch {
		case n == 1:
			http.Error(w, "busy", http.StatusServiceUnavailable)
		case n < 3:
			_, _ = w.Write([]byte(`{"tx_ref":"0xbeef","status":"pending"}`))
		default:
			_, _ = w.Write([]byte(`{"tx_ref":"0xbeef","status":"confirmed","block":77,"confirmations":1}`))
		}
	}))
	defer srv.Close()

	c := NewRelayerClient(srv.URL, "", "", 0, 0)
	c.PollInterval = 5 * time.Millisecond
	conf, err := c.Confirm(context.Background(), "0xbeef", 1, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(77), conf.Block)
	assert.Equal(t, int32(3), polls.Load())
}

func TestRelayerClient_ConfirmReverted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tx_ref":"0x1","status":"reverted","error":"execution reverted"}`))
	}))
	defer srv.Close()

	c := NewRelayerClient(srv.URL, "", "", 0, 0)
	_, err := c.Confirm(context.Background(), "0x1", 1, time.Second)
	assert.ErrorIs(t, err, ErrReverted)
}

func TestRelayerClient_ConfirmTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tx_ref":"0x1","status":"pending"}`))
	}))
	defer srv.Close()

	c := NewRelayerClient(srv.URL, "", "", 0, 0)
	c.PollInterval = 5 * time.Millisecond
	_, err := c.Confirm(context.Background(), "0x1", 1, 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrConfirmTimeout)
}

func TestRelayerClient_ReadState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts/0xabc/state/ndv", r.URL.Path)
		_, _ = w.Write([]byte(`{"value": 9.25}`))
	}))
	defer srv.Close()

	c := NewRelayerClient(srv.URL, "", "", 100, 5)
	v, err := c.ReadState(context.Background(), model.Account{ID: "0xabc"}, QueryNDV)
	require.NoError(t, err)
	assert.Equal(t, 9.25, v)
}

func TestRelayerClient_RateLimitHonoursContext(t *testing.T) {
	c := NewRelayerClient("http://127.0.0.1:1", "", "", 0.001, 1)
	// Drain the single token so the next Wait would block for ~1000s.
	require.True(t, c.Limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.ReadState(ctx, model.Account{ID: "0x1"}, QueryNDV)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}
