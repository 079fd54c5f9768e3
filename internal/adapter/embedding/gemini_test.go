package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"teacher-agent/internal/domain"
)

func TestGeminiEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1beta/models/text-embedding-004:batchEmbedContents") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("X-Goog-Api-Key") != "test-key" {
			t.Errorf("api key header = %q", r.Header.Get("X-Goog-Api-Key"))
		}

		var req batchEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if len(req.Requests) != 2 || req.Requests[0].TaskType != "SEMANTIC_SIMILARITY" {
			t.Errorf("requests = %+v", req.Requests)
		}
		_, _ = w.Write([]byte(`{"embeddings":[{"values":[0.1,0.2]},{"values":[0.3,0.4]}]}`))
	}))
	defer server.Close()

	g := NewGemini("test-key", WithBaseURL(server.URL+"/"))
	vecs, err := g.Embed(context.Background(), []string{"hello", "world"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 0.1 || vecs[1][1] != 0.4 {
		t.Errorf("vecs = %v", vecs)
	}
}

func TestGeminiEmbedEmpty(t *testing.T) {
	vecs, err := NewGemini("k").Embed(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Fatalf("Embed(nil) = %v, %v", vecs, err)
	}
}

func TestGeminiEmbedErrors(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusTooManyRequests, `{}`, domain.ErrRateLimit},
		{http.StatusForbidden, `{}`, domain.ErrAuthInvalid},
		{http.StatusInternalServerError, `boom`, domain.ErrEmbeddingFailed},
		{http.StatusOK, `{"embeddings":[]}`, domain.ErrEmbeddingFailed},
		{http.StatusOK, `not json`, domain.ErrEmbeddingFailed},
	}
	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte(tt.body))
		}))
		_, err := NewGemini("k", WithBaseURL(server.URL)).Embed(context.Background(), []string{"x"})
		server.Close()

		if !errors.Is(err, tt.want) {
			t.Errorf("status %d body %q: err = %v, want %v", tt.status, tt.body, err, tt.want)
		}
		if !errors.Is(err, domain.ErrProviderError) {
			t.Errorf("status %d: error should be a provider error: %v", tt.status, err)
		}
	}
}
