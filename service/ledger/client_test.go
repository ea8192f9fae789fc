package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddress = "BAXUz8YJsRtZVZuMaespnrDPMapvu83USD6PXh4GgHjg"

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.Client(), srv.URL, srv.URL, "test-key", testAddress, nil, nil)
	require.NoError(t, err)
	return client, srv
}

func TestGetTransactions_Page(t *testing.T) {
	var gotQuery map[string]string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"limit":  r.URL.Query().Get("limit"),
			"before": r.URL.Query().Get("before"),
			"until":  r.URL.Query().Get("until"),
		}
		json.NewEncoder(w).Encode([]RawTransaction{
			{Signature: "sig2", Timestamp: 1700000100},
			{Signature: "sig1", Timestamp: 1700000000},
		})
	}))

	txns, err := client.GetTransactions(context.Background(), GetTransactionsParams{
		Before: "sig3",
		Until:  "sig0",
		Limit:  50,
	})
	require.NoError(t, err)
	require.Len(t, txns, 2)

	assert.Equal(t, "50", gotQuery["limit"])
	assert.Equal(t, "sig3", gotQuery["before"])
	assert.Equal(t, "sig0", gotQuery["until"])

	assert.Equal(t, "sig2", txns[0].Signature)
	assert.Equal(t, time.Unix(1700000100, 0).UTC(), txns[0].Time())
}

func TestGetTransactions_EmptyPage(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	}))

	txns, err := client.GetTransactions(context.Background(), GetTransactionsParams{Limit: 100})
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestGetTransactions_UpstreamError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	_, err := client.GetTransactions(context.Background(), GetTransactionsParams{Limit: 100})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestGetTransactions_RateLimited(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.GetTransactions(context.Background(), GetTransactionsParams{Limit: 100})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestGetAsset_MintExtensionNamePreferred(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "getAsset", req["method"])

		w.Write([]byte(`{
			"result": {
				"id": "M1",
				"content": {"metadata": {"name": "content name"}},
				"mint_extensions": {"metadata": {"name": "Macallan 18 1999"}}
			}
		}`))
	}))

	info, err := client.GetAsset(context.Background(), "M1")
	require.NoError(t, err)
	assert.Equal(t, "M1", info.ID)
	assert.Equal(t, "Macallan 18 1999", info.Name)
}

func TestGetAsset_ContentNameFallback(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result": {"id": "M2", "content": {"metadata": {"name": "Springbank 21"}}}}`))
	}))

	info, err := client.GetAsset(context.Background(), "M2")
	require.NoError(t, err)
	assert.Equal(t, "Springbank 21", info.Name)
}

func TestGetAsset_RPCError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": {"code": -32602, "message": "Asset not found"}}`))
	}))

	_, err := client.GetAsset(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Asset not found")
}

func TestNewClient_InvalidAddress(t *testing.T) {
	_, err := NewClient(nil, "https://api.example.com", "https://rpc.example.com", "", "bogus!!", nil, nil)
	require.Error(t, err)
}
