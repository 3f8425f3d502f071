package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRetrieveFiltersByScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": []Snippet{
				{Text: "relevant", SourceID: "a", Score: 0.8},
				{Text: "weak", SourceID: "b", Score: 0.1},
			},
		})
	}))
	defer srv.Close()

	r := NewHTTPRetriever(srv.URL, 3, 0.3, 350)
	got, err := r.Retrieve(context.Background(), "query")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 1 || got[0].SourceID != "a" {
		t.Fatalf("expected only the relevant snippet, got %#v", got)
	}
}

func TestRetrieveTimeoutReturnsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	r := NewHTTPRetriever(srv.URL, 3, 0.3, 50)
	start := time.Now()
	got, err := r.Retrieve(context.Background(), "query")
	if err != nil {
		t.Fatalf("timeout must not be an error: %v", err)
	}
	if got != nil {
		t.Fatalf("timeout must yield no snippets, got %#v", got)
	}
	if time.Since(start) > 300*time.Millisecond {
		t.Fatalf("retrieve must return within the hard timeout")
	}
}

func TestRetrieveServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewHTTPRetriever(srv.URL, 3, 0.3, 350)
	if _, err := r.Retrieve(context.Background(), "query"); err == nil {
		t.Fatalf("expected error on 500")
	}
}

func TestFilter(t *testing.T) {
	in := []Snippet{{Score: 0.5}, {Score: 0.29}, {Score: 0.31}}
	out := Filter(in, 0.3)
	if len(out) != 2 {
		t.Fatalf("expected 2 snippets at or above 0.3, got %d", len(out))
	}
}
