package price

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPLookup_PriceField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"price": 5.5}`))
	}))
	defer srv.Close()

	snap, err := NewHTTPLookup(srv.URL, "ARK", "", "").Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5.5, snap.Price)
	assert.Equal(t, "ARK", snap.Symbol)
	assert.False(t, snap.FetchedAt.IsZero())
}

func TestHTTPLookup_SymbolMapWithStringValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ARK": "1.27", "BNB": 301}`))
	}))
	defer srv.Close()

	snap, err := NewHTTPLookup(srv.URL, "ark", "", "").Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.27, snap.Price)
}

func TestHTTPLookup_MissingSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"BNB": 301}`))
	}))
	defer srv.Close()

	_, err := NewHTTPLookup(srv.URL, "ARK", "", "").Snapshot(context.Background())
	assert.Error(t, err)
}

func TestHTTPLookup_BreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	l := NewHTTPLookup(srv.URL, "ARK", "", "")
	for i := 0; i < 5; i++ {
		_, err := l.Snapshot(context.Background())
		assert.Error(t, err)
	}
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, "open", l.State())
}

func TestStatic(t *testing.T) {
	snap, err := (&Static{Symbol: "ARK", Price: 2}).Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2.0, snap.Price)
}
