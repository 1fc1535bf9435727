package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

func TestOllamaEmbedBatch(t *testing.T) {
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		out := make([][]float64, len(req.Input))
		for i, s := range req.Input {
			out[i] = []float64{float64(len(s)), 0.5}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "embeddings": out})
	}))
	defer srv.Close()

	c := NewOllamaEmbClient(srv.URL, 2*time.Second, 1, 0, 0)
	vecs, err := c.Embed(context.Background(), "nomic-embed-text", []string{"ab", "abcd"})
	if err != nil {
		t.Fatalf("Embed error: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 2 || vecs[1][0] != 4 || vecs[1][1] != 0.5 {
		t.Fatalf("unexpected vectors: %v", vecs)
	}
}

func TestOllamaFallsBackToLegacyEndpoint(t *testing.T) {
	var batchCalls, legacyCalls int32
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embed":
			atomic.AddInt32(&batchCalls, 1)
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("404 page not found"))
		case "/api/embeddings":
			atomic.AddInt32(&legacyCalls, 1)
			_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{1, 2, 3}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewOllamaEmbClient(srv.URL, 2*time.Second, 1, 0, 0)
	for i := 0; i < 2; i++ {
		vecs, err := c.Embed(context.Background(), "nomic-embed-text", []string{"a", "b"})
		if err != nil {
			t.Fatalf("Embed error: %v", err)
		}
		if len(vecs) != 2 || len(vecs[0]) != 3 {
			t.Fatalf("unexpected vectors: %v", vecs)
		}
	}
	if atomic.LoadInt32(&batchCalls) != 1 {
		t.Fatalf("batch endpoint should be probed once, got %d", batchCalls)
	}
	if atomic.LoadInt32(&legacyCalls) != 4 {
		t.Fatalf("expected 4 legacy calls, got %d", legacyCalls)
	}
}

func TestOllamaModelNotFound(t *testing.T) {
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": `model "nope" not found, try pulling it first`})
	}))
	defer srv.Close()

	c := NewOllamaEmbClient(srv.URL, 2*time.Second, 3, time.Millisecond, time.Millisecond)
	_, err := c.Embed(context.Background(), "nope", []string{"a"})
	var mnf *ModelNotFoundError
	if !errors.As(err, &mnf) {
		t.Fatalf("expected ModelNotFoundError, got %T %v", err, err)
	}
}

func TestOllamaUnreachable(t *testing.T) {
	c := NewOllamaEmbClient("http://127.0.0.1:1", 500*time.Millisecond, 1, 0, 0)
	_, err := c.Embed(context.Background(), "nomic-embed-text", []string{"a"})
	var ue *UnreachableError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnreachableError, got %T %v", err, err)
	}
	if ue.Host != "http://127.0.0.1:1" {
		t.Fatalf("unexpected host %q", ue.Host)
	}
}
