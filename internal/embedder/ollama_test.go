package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllamaEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.Model != "nomic-embed-text" {
			t.Errorf("unexpected model %q", req.Model)
		}
		if req.Prompt != "prefers window seats" {
			t.Errorf("unexpected prompt %q", req.Prompt)
		}
		json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	o := newOllama(srv.URL, "nomic-embed-text")
	vec, err := o.Embed(context.Background(), "prefers window seats")
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Errorf("unexpected embedding %v", vec)
	}
}

func TestOllamaEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	o := newOllama(srv.URL, "missing-model")
	if _, err := o.Embed(context.Background(), "anything"); err == nil {
		t.Fatal("expected error for non-200 response")
	} else if !strings.Contains(err.Error(), "404") {
		t.Errorf("expected status in error, got %v", err)
	}
}

func TestOllamaEmbedEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{})
	}))
	defer srv.Close()

	o := newOllama(srv.URL, "nomic-embed-text")
	if _, err := o.Embed(context.Background(), "anything"); err == nil {
		t.Fatal("expected error for empty embedding")
	}
}
