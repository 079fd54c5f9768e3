package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"teacher-agent/internal/domain"
	"teacher-agent/internal/infra/config"
)

func newTestGemini(t *testing.T, handler http.HandlerFunc) *GeminiOracle {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewGeminiOracle(config.ProviderConfig{
		Name:    "gemini",
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "gemini-2.0-flash",
	}, newTestLogger())
}

func TestGeminiGenerate(t *testing.T) {
	var got geminiRequest
	oracle := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-2.0-flash:generateContent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "" {
			t.Error("api key must not travel in the query string")
		}
		if r.Header.Get("X-Goog-Api-Key") != "test-key" {
			t.Errorf("api key header = %q", r.Header.Get("X-Goog-Api-Key"))
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"Here is "},{"text":"a worksheet."}]}}],"usageMetadata":{"promptTokenCount":12,"candidatesTokenCount":4,"totalTokenCount":16}}`)
	})

	resp, err := oracle.Generate(context.Background(), domain.GenerateRequest{
		SystemInstruction: "Build worksheets.",
		Contents: []domain.Content{
			domain.TextContent(domain.RoleUser, "fractions worksheet"),
			{Role: domain.RoleUser, Parts: []domain.Part{{MIMEType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}}},
		},
		Temperature:  0.4,
		MaxTokens:    512,
		JSONResponse: true,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if resp.Text() != "Here is a worksheet." {
		t.Errorf("text = %q", resp.Text())
	}
	if resp.Usage.TotalTokens != 16 || resp.Usage.PromptTokens != 12 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if resp.Content.Role != domain.RoleModel {
		t.Errorf("role = %q", resp.Content.Role)
	}

	if got.SystemInstruction == nil || got.SystemInstruction.Parts[0].Text != "Build worksheets." {
		t.Errorf("system instruction = %+v", got.SystemInstruction)
	}
	if len(got.Contents) != 2 || got.Contents[0].Role != "user" {
		t.Fatalf("contents = %+v", got.Contents)
	}
	inline := got.Contents[1].Parts[0].InlineData
	if inline == nil || inline.MIMEType != "image/png" || string(inline.Data) != "\x89PNG" {
		t.Errorf("inline part = %+v", inline)
	}
	gc := got.GenerationConfig
	if gc == nil || gc.ResponseMIMEType != "application/json" || gc.MaxOutputTokens != 512 || gc.Temperature == nil || *gc.Temperature != 0.4 {
		t.Errorf("generation config = %+v", gc)
	}
}

func TestGeminiGenerateImageResponse(t *testing.T) {
	var got geminiRequest
	oracle := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"A diagram."},{"inlineData":{"mimeType":"image/png","data":"aW1n"}}]}}]}`)
	})

	resp, err := oracle.Generate(context.Background(), domain.GenerateRequest{
		Model:              "image-model",
		Contents:           []domain.Content{domain.TextContent(domain.RoleUser, "draw the water cycle")},
		ResponseModalities: []string{domain.ResponseText, domain.ResponseImage},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	parts := resp.InlineParts()
	if len(parts) != 1 || parts[0].MIMEType != "image/png" || string(parts[0].Data) != "img" {
		t.Fatalf("inline parts = %+v", parts)
	}
	if resp.Text() != "A diagram." {
		t.Errorf("text = %q", resp.Text())
	}
	if resp.Model != "image-model" {
		t.Errorf("model = %q", resp.Model)
	}
	if got.GenerationConfig == nil || strings.Join(got.GenerationConfig.ResponseModalities, ",") != "TEXT,IMAGE" {
		t.Errorf("response modalities = %+v", got.GenerationConfig)
	}
}

func TestGeminiGenerateNoGenerationConfig(t *testing.T) {
	var raw map[string]json.RawMessage
	oracle := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`)
	})

	if _, err := oracle.Generate(context.Background(), domain.GenerateRequest{
		Contents: []domain.Content{domain.TextContent(domain.RoleUser, "hi"), {Role: domain.RoleUser}},
	}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, ok := raw["generationConfig"]; ok {
		t.Error("empty generation config should be omitted")
	}
	var contents []geminiContent
	json.Unmarshal(raw["contents"], &contents)
	if len(contents) != 1 {
		t.Errorf("empty contents should be skipped, got %d", len(contents))
	}
}

func TestGeminiGenerateBlocked(t *testing.T) {
	oracle := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[],"promptFeedback":{"blockReason":"SAFETY"}}`)
	})

	_, err := oracle.Generate(context.Background(), domain.GenerateRequest{
		Contents: []domain.Content{domain.TextContent(domain.RoleUser, "x")},
	})
	if !errors.Is(err, domain.ErrOracleFailure) {
		t.Fatalf("expected ErrOracleFailure, got %v", err)
	}
	if !strings.Contains(err.Error(), "SAFETY") {
		t.Errorf("error should carry the block reason: %v", err)
	}
}

func TestGeminiGenerateHTTPErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, domain.ErrRateLimit},
		{http.StatusForbidden, domain.ErrAuthInvalid},
		{http.StatusInternalServerError, domain.ErrOracleFailure},
	}
	for _, tt := range tests {
		oracle := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			w.Write([]byte(`{"error":"nope"}`))
		})
		_, err := oracle.Generate(context.Background(), domain.GenerateRequest{
			Contents: []domain.Content{domain.TextContent(domain.RoleUser, "x")},
		})
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: expected %v, got %v", tt.status, tt.want, err)
		}
	}
}

func TestGeminiGenerateMalformedBody(t *testing.T) {
	oracle := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `not json`)
	})
	_, err := oracle.Generate(context.Background(), domain.GenerateRequest{
		Contents: []domain.Content{domain.TextContent(domain.RoleUser, "x")},
	})
	if !errors.Is(err, domain.ErrOracleFailure) {
		t.Errorf("expected ErrOracleFailure, got %v", err)
	}
}

func TestGeminiStream(t *testing.T) {
	oracle := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":streamGenerateContent") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("alt") != "sse" {
			t.Errorf("expected alt=sse, got %s", r.URL.Query().Get("alt"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)

		chunks := []string{
			`data: {"candidates":[{"content":{"parts":[{"text":"Hello"}]}}]}`,
			`data: {"candidates":[{"content":{"parts":[{"text":" class"}]}}],"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":2,"totalTokenCount":7}}`,
		}
		for _, c := range chunks {
			fmt.Fprintln(w, c)
			fmt.Fprintln(w)
			flusher.Flush()
		}
	})

	ch, err := oracle.Stream(context.Background(), domain.GenerateRequest{
		Contents: []domain.Content{domain.TextContent(domain.RoleUser, "Hello")},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var text string
	var usage *domain.Usage
	var done bool
	for delta := range ch {
		text += delta.Text
		if delta.Usage != nil {
			usage = delta.Usage
		}
		done = done || delta.Done
	}

	if text != "Hello class" {
		t.Errorf("text = %q, want %q", text, "Hello class")
	}
	if usage == nil || usage.TotalTokens != 7 {
		t.Errorf("usage = %v, want TotalTokens=7", usage)
	}
	if !done {
		t.Error("stream should end with a Done delta")
	}
}

func TestGeminiStreamError(t *testing.T) {
	oracle := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"forbidden"}`))
	})

	_, err := oracle.Stream(context.Background(), domain.GenerateRequest{
		Contents: []domain.Content{domain.TextContent(domain.RoleUser, "Hello")},
	})
	if !errors.Is(err, domain.ErrAuthInvalid) {
		t.Errorf("expected ErrAuthInvalid, got %v", err)
	}
}

func TestGeminiName(t *testing.T) {
	oracle := NewGeminiOracle(config.ProviderConfig{Name: "primary"}, nil)
	if oracle.Name() != "primary" {
		t.Errorf("Name() = %q", oracle.Name())
	}
	if oracle.baseURL != defaultGeminiBaseURL {
		t.Errorf("baseURL = %q", oracle.baseURL)
	}
}
