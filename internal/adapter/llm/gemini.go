package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"teacher-agent/internal/domain"
	"teacher-agent/internal/infra/config"
	"teacher-agent/internal/infra/tracer"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// GeminiOracle implements domain.StreamingOracle for the Gemini REST API.
type GeminiOracle struct {
	name    string
	model   string
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewGeminiOracle creates an oracle for the Gemini generateContent API.
func NewGeminiOracle(cfg config.ProviderConfig, logger *slog.Logger) *GeminiOracle {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &GeminiOracle{
		name:    cfg.Name,
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  NewHTTPClient(cfg),
		logger:  logger,
	}
}

// Name implements domain.Oracle.
func (p *GeminiOracle) Name() string { return p.name }

// Generate implements domain.Oracle.
func (p *GeminiOracle) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResponse, error) {
	if req.Model == "" {
		req.Model = p.model
	}
	ctx, span := tracer.StartSpan(ctx, "oracle.generate",
		trace.WithAttributes(
			tracer.StringAttr("oracle.provider", p.name),
			tracer.StringAttr("oracle.model", req.Model),
		),
	)
	defer span.End()

	body, err := json.Marshal(toGeminiRequest(req))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", p.baseURL, req.Model)
	respBody, err := doJSONRequest(ctx, p.client, url, body, p.headers())
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var gemResp geminiResponse
	if err := json.Unmarshal(respBody, &gemResp); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("%w: unmarshal response: %v", domain.ErrOracleFailure, err)
	}

	result, err := fromGeminiResponse(gemResp, req.Model)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logGenerateCompleted(p.logger, p.name, result)

	return result, nil
}

// Stream implements domain.StreamingOracle.
func (p *GeminiOracle) Stream(ctx context.Context, req domain.GenerateRequest) (<-chan domain.StreamDelta, error) {
	if req.Model == "" {
		req.Model = p.model
	}

	body, err := json.Marshal(toGeminiRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", p.baseURL, req.Model)
	httpResp, err := doStreamRequest(ctx, p.client, url, body, p.headers())
	if err != nil {
		return nil, err
	}

	return parseSSEStream(ctx, httpResp.Body, func(data []byte) (*domain.StreamDelta, error) {
		var chunk geminiResponse
		if err := json.Unmarshal(data, &chunk); err != nil {
			return nil, err
		}

		delta := &domain.StreamDelta{}
		if len(chunk.Candidates) > 0 {
			for _, part := range chunk.Candidates[0].Content.Parts {
				delta.Text += part.Text
			}
		}
		if chunk.UsageMetadata != nil {
			u := chunk.UsageMetadata.usage()
			delta.Usage = &u
		}
		return delta, nil
	}), nil
}

func (p *GeminiOracle) headers() map[string]string {
	if p.apiKey == "" {
		return nil
	}
	return map[string]string{"X-Goog-Api-Key": p.apiKey}
}

// --- Gemini API wire types ---

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
	ResponseMIMEType   string   `json:"responseMimeType,omitempty"`
	Temperature        *float64 `json:"temperature,omitempty"`
	MaxOutputTokens    int      `json:"maxOutputTokens,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string        `json:"text,omitempty"`
	InlineData *geminiInline `json:"inlineData,omitempty"`
}

// geminiInline carries binary data; encoding/json base64-encodes []byte.
type geminiInline struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

type geminiResponse struct {
	Candidates     []geminiCandidate     `json:"candidates"`
	UsageMetadata  *geminiUsage          `json:"usageMetadata,omitempty"`
	PromptFeedback *geminiPromptFeedback `json:"promptFeedback,omitempty"`
	ModelVersion   string                `json:"modelVersion,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiPromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

func (u *geminiUsage) usage() domain.Usage {
	return domain.Usage{
		PromptTokens:     u.PromptTokenCount,
		CompletionTokens: u.CandidatesTokenCount,
		TotalTokens:      u.TotalTokenCount,
	}
}

func toGeminiContent(c domain.Content) geminiContent {
	gc := geminiContent{Role: string(c.Role)}
	if gc.Role == "" {
		gc.Role = string(domain.RoleUser)
	}
	for _, p := range c.Parts {
		if p.IsInline() {
			gc.Parts = append(gc.Parts, geminiPart{InlineData: &geminiInline{MIMEType: p.MIMEType, Data: p.Data}})
			continue
		}
		gc.Parts = append(gc.Parts, geminiPart{Text: p.Text})
	}
	return gc
}

func toGeminiRequest(req domain.GenerateRequest) geminiRequest {
	gemReq := geminiRequest{Contents: make([]geminiContent, 0, len(req.Contents))}
	for _, c := range req.Contents {
		if len(c.Parts) == 0 {
			continue
		}
		gemReq.Contents = append(gemReq.Contents, toGeminiContent(c))
	}

	if req.SystemInstruction != "" {
		gemReq.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemInstruction}}}
	}

	gc := &geminiGenerationConfig{
		ResponseModalities: req.ResponseModalities,
		MaxOutputTokens:    req.MaxTokens,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		gc.Temperature = &t
	}
	if req.JSONResponse {
		gc.ResponseMIMEType = "application/json"
	}
	if len(gc.ResponseModalities) > 0 || gc.MaxOutputTokens > 0 || gc.Temperature != nil || gc.ResponseMIMEType != "" {
		gemReq.GenerationConfig = gc
	}
	return gemReq
}

func fromGeminiResponse(resp geminiResponse, model string) (*domain.GenerateResponse, error) {
	if len(resp.Candidates) == 0 {
		reason := "no candidates"
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			reason = "prompt blocked: " + resp.PromptFeedback.BlockReason
		}
		return nil, domain.NewSubSystemError("oracle", "GeminiOracle.Generate", domain.ErrOracleFailure, reason)
	}

	result := &domain.GenerateResponse{
		Model:   model,
		Content: domain.Content{Role: domain.RoleModel},
	}
	if resp.ModelVersion != "" {
		result.Model = resp.ModelVersion
	}
	if resp.UsageMetadata != nil {
		result.Usage = resp.UsageMetadata.usage()
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part.InlineData != nil && len(part.InlineData.Data) > 0:
			result.Content.Parts = append(result.Content.Parts, domain.Part{
				MIMEType: part.InlineData.MIMEType,
				Data:     part.InlineData.Data,
			})
		case part.Text != "":
			result.Content.Parts = append(result.Content.Parts, domain.Part{Text: part.Text})
		}
	}
	return result, nil
}
