package mlserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCondensePostsWordBudget(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/summarize", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]string{"summary": "short version"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	out, err := c.Condense(context.Background(), "a long article body", 100, 200)
	require.NoError(t, err)
	require.Equal(t, "short version", out)
	require.Equal(t, "a long article body", got["text"])
	require.EqualValues(t, 100, got["min_words"])
	require.EqualValues(t, 200, got["max_words"])
}

func TestTranslateSendsLanguagePair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/translate", r.URL.Path)

		var got map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		require.Equal(t, "en", got["source"])
		require.Equal(t, "fa", got["target"])

		json.NewEncoder(w).Encode(map[string]string{"translation": "ترجمه"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	out, err := c.Translate(context.Background(), "hello", "en", "fa")
	require.NoError(t, err)
	require.Equal(t, "ترجمه", out)
}

func TestAPIKeyHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{"summary": "ok"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sekrit", time.Second)
	_, err := c.Condense(context.Background(), "x", 1, 2)
	require.NoError(t, err)
}

func TestNon200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	_, err := c.Translate(context.Background(), "hello", "en", "fa")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected status")
}
