package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestSearchAssets(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/search/assets", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		gotQuery = r.URL.RawQuery

		json.NewEncoder(w).Encode(SearchResponse{
			Total: 1,
			Hits: []AssetHit{
				{Source: AssetSource{ID: 7, AssetAddress: "Mint1", Name: "Ardbeg 10", IsListed: true}},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.Client(), server.URL, "secret", server.URL, nil, testLogger())
	hits, err := client.SearchAssets(context.Background(), SearchParams{
		From:       0,
		Size:       20,
		ListedOnly: true,
		Sort:       "listedDate:desc",
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Ardbeg 10", hits[0].Source.Name)
	assert.Contains(t, gotQuery, "listed=true")
	assert.Contains(t, gotQuery, "size=20")
	assert.Contains(t, gotQuery, "sort=listedDate%3Adesc")
}

func TestGetAssetsByAddresses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var body searchBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"MintA", "MintB"}, body.AssetAddresses)

		json.NewEncoder(w).Encode(SearchResponse{
			Total: 1,
			Hits:  []AssetHit{{Source: AssetSource{ID: 3, AssetAddress: "MintA"}}},
		})
	}))
	defer server.Close()

	client := NewClient(server.Client(), server.URL, "", server.URL, nil, testLogger())
	hits, err := client.GetAssetsByAddresses(context.Background(), []string{"MintA", "MintB"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(3), hits[0].Source.ID)
}

func TestGetAssetsByAddresses_Empty(t *testing.T) {
	client := NewClient(nil, "http://unused", "", "http://unused", nil, testLogger())
	hits, err := client.GetAssetsByAddresses(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, hits)
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(SearchResponse{})
	}))
	defer server.Close()

	client := NewClient(server.Client(), server.URL, "", server.URL, nil, testLogger())
	_, err := client.SearchAssets(context.Background(), SearchParams{Size: 10})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNoRetryOnNotFound(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.Client(), server.URL, "", server.URL, nil, testLogger())
	_, err := client.GetAssetMetadata(context.Background(), 42)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx responses should not be retried")
}

func TestGetAssetMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/42/solana-nft-metadata.json", r.URL.Path)
		w.Write([]byte(`{"name":"Ardbeg 10","image":"https://img.example/42.png"}`))
	}))
	defer server.Close()

	client := NewClient(server.Client(), server.URL, "", server.URL, nil, testLogger())
	doc, err := client.GetAssetMetadata(context.Background(), 42)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(doc, &decoded))
	assert.Equal(t, "Ardbeg 10", decoded["name"])
}

func TestListedTime(t *testing.T) {
	iso := "2026-02-01T12:30:00Z"
	src := AssetSource{ListedDate: &iso}
	got := src.ListedTime()
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2026, 2, 1, 12, 30, 0, 0, time.UTC), *got)

	bare := "2026-02-01T12:30:00"
	src = AssetSource{ListedDate: &bare}
	got = src.ListedTime()
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2026, 2, 1, 12, 30, 0, 0, time.UTC), *got)

	src = AssetSource{}
	assert.Nil(t, src.ListedTime())

	junk := "not a date"
	src = AssetSource{ListedDate: &junk}
	assert.Nil(t, src.ListedTime())
}
