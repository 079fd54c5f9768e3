package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"teacher-agent/internal/domain"
)

// --- Mock Bedrock client ---

type mockBedrockClient struct {
	converseFunc       func(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	converseStreamFunc func(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

func (m *mockBedrockClient) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	if m.converseFunc != nil {
		return m.converseFunc(ctx, params, optFns...)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockBedrockClient) ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	if m.converseStreamFunc != nil {
		return m.converseStreamFunc(ctx, params, optFns...)
	}
	return nil, fmt.Errorf("not implemented")
}

func textOutput(text string) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{
			Value: types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: text}},
			},
		},
		Usage: &types.TokenUsage{InputTokens: aws.Int32(10), OutputTokens: aws.Int32(5)},
	}
}

// --- Tests ---

func TestBedrockGenerate(t *testing.T) {
	var received *bedrockruntime.ConverseInput
	mock := &mockBedrockClient{
		converseFunc: func(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
			received = params
			return textOutput("Attendance looks steady."), nil
		},
	}

	oracle := newBedrockOracleWithClient("bedrock", "anthropic.claude-3-5-sonnet", mock, newTestLogger())
	resp, err := oracle.Generate(context.Background(), domain.GenerateRequest{
		SystemInstruction: "Analyse student records.",
		Contents: []domain.Content{
			domain.TextContent(domain.RoleUser, "How is Maya doing?"),
			domain.TextContent(domain.RoleModel, "Which class?"),
			{Role: domain.RoleUser, Parts: []domain.Part{{Text: "5B"}, {MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8}}}},
		},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if resp.Text() != "Attendance looks steady." {
		t.Errorf("text = %q", resp.Text())
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", resp.Usage.TotalTokens)
	}
	if resp.Model != "anthropic.claude-3-5-sonnet" {
		t.Errorf("model = %q", resp.Model)
	}

	if aws.ToString(received.ModelId) != "anthropic.claude-3-5-sonnet" {
		t.Errorf("ModelId = %q", aws.ToString(received.ModelId))
	}
	if len(received.System) != 1 {
		t.Fatalf("expected 1 system block, got %d", len(received.System))
	}
	if sys, ok := received.System[0].(*types.SystemContentBlockMemberText); !ok || sys.Value != "Analyse student records." {
		t.Errorf("system = %+v", received.System[0])
	}
	if len(received.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(received.Messages))
	}
	if received.Messages[1].Role != types.ConversationRoleAssistant {
		t.Errorf("role[1] = %s", received.Messages[1].Role)
	}
	last := received.Messages[2].Content
	if len(last) != 2 {
		t.Fatalf("expected text and image blocks, got %d", len(last))
	}
	img, ok := last[1].(*types.ContentBlockMemberImage)
	if !ok || img.Value.Format != types.ImageFormatJpeg {
		t.Errorf("image block = %+v", last[1])
	}
	if aws.ToInt32(received.InferenceConfig.MaxTokens) != defaultBedrockMaxTokens {
		t.Errorf("MaxTokens = %d", aws.ToInt32(received.InferenceConfig.MaxTokens))
	}
}

func TestBedrockJSONResponseAddsInstruction(t *testing.T) {
	input := toBedrockConverseInput(domain.GenerateRequest{
		Model:        "m",
		JSONResponse: true,
		Temperature:  0.2,
		MaxTokens:    128,
		Contents:     []domain.Content{domain.TextContent(domain.RoleUser, "classify")},
	})
	if len(input.System) != 1 {
		t.Fatalf("expected a system block for JSON mode")
	}
	sys := input.System[0].(*types.SystemContentBlockMemberText).Value
	if sys != "Respond with a single JSON object and nothing else." {
		t.Errorf("system = %q", sys)
	}
	if aws.ToInt32(input.InferenceConfig.MaxTokens) != 128 {
		t.Errorf("MaxTokens = %d", aws.ToInt32(input.InferenceConfig.MaxTokens))
	}
	if aws.ToFloat32(input.InferenceConfig.Temperature) != 0.2 {
		t.Errorf("Temperature = %v", aws.ToFloat32(input.InferenceConfig.Temperature))
	}
}

func TestBedrockSkipsUnsupportedParts(t *testing.T) {
	input := toBedrockConverseInput(domain.GenerateRequest{
		Model: "m",
		Contents: []domain.Content{
			{Role: domain.RoleUser, Parts: []domain.Part{{MIMEType: "audio/pcm", Data: []byte{1}}}},
			domain.TextContent(domain.RoleUser, "hello"),
		},
	})
	if len(input.Messages) != 1 {
		t.Fatalf("audio-only content should be dropped, got %d messages", len(input.Messages))
	}
}

func TestBedrockDefaultModel(t *testing.T) {
	var model string
	mock := &mockBedrockClient{
		converseFunc: func(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
			model = aws.ToString(params.ModelId)
			return textOutput("ok"), nil
		},
	}
	oracle := newBedrockOracleWithClient("bedrock", "default-model", mock, newTestLogger())
	if _, err := oracle.Generate(context.Background(), domain.GenerateRequest{
		Contents: []domain.Content{domain.TextContent(domain.RoleUser, "hi")},
	}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if model != "default-model" {
		t.Errorf("model = %q", model)
	}
}

func TestProcessBedrockStreamEvent(t *testing.T) {
	d := processBedrockStreamEvent(&types.ConverseStreamOutputMemberContentBlockDelta{
		Value: types.ContentBlockDeltaEvent{Delta: &types.ContentBlockDeltaMemberText{Value: "chunk"}},
	})
	if d == nil || d.Text != "chunk" {
		t.Errorf("text delta = %+v", d)
	}

	d = processBedrockStreamEvent(&types.ConverseStreamOutputMemberMetadata{
		Value: types.ConverseStreamMetadataEvent{Usage: &types.TokenUsage{InputTokens: aws.Int32(3), OutputTokens: aws.Int32(4)}},
	})
	if d == nil || d.Usage == nil || d.Usage.TotalTokens != 7 {
		t.Errorf("metadata delta = %+v", d)
	}

	if d := processBedrockStreamEvent(&types.ConverseStreamOutputMemberMessageStop{}); d != nil {
		t.Errorf("message stop should not produce a delta, got %+v", d)
	}
}

// --- Error mapping tests ---

type mockAPIError struct {
	code    string
	message string
	fault   smithy.ErrorFault
}

func (e *mockAPIError) Error() string                 { return e.message }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return e.message }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return e.fault }

func TestBedrockErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"throttling", &mockAPIError{code: "ThrottlingException", message: "rate limited"}, domain.ErrRateLimit},
		{"too many requests", &mockAPIError{code: "TooManyRequestsException", message: "too many"}, domain.ErrRateLimit},
		{"access denied", &mockAPIError{code: "AccessDeniedException", message: "no access"}, domain.ErrAuthInvalid},
		{"context too long", &mockAPIError{code: "ValidationException", message: "input is too long"}, domain.ErrContextOverflow},
		{"internal server error", &mockAPIError{code: "InternalServerException", message: "server error"}, domain.ErrOracleFailure},
		{"service unavailable", &mockAPIError{code: "ServiceUnavailableException", message: "unavailable"}, domain.ErrOracleFailure},
		{"unknown server fault", &mockAPIError{code: "Weird", message: "weird", fault: smithy.FaultServer}, domain.ErrOracleFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockBedrockClient{
				converseFunc: func(context.Context, *bedrockruntime.ConverseInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
					return nil, tt.err
				},
			}
			oracle := newBedrockOracleWithClient("test", "model", mock, newTestLogger())

			_, err := oracle.Generate(context.Background(), domain.GenerateRequest{
				Contents: []domain.Content{domain.TextContent(domain.RoleUser, "test")},
			})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestBedrockErrorMappingClientFault(t *testing.T) {
	err := mapBedrockError(&mockAPIError{code: "ValidationException", message: "bad field", fault: smithy.FaultClient})
	if errors.Is(err, domain.ErrOracleFailure) {
		t.Errorf("client faults should not be oracle failures: %v", err)
	}
	if mapBedrockError(nil) != nil {
		t.Error("nil should map to nil")
	}
}

func TestBedrockStreamSetupError(t *testing.T) {
	mock := &mockBedrockClient{
		converseStreamFunc: func(context.Context, *bedrockruntime.ConverseStreamInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
			return nil, &mockAPIError{code: "ThrottlingException", message: "slow down"}
		},
	}
	oracle := newBedrockOracleWithClient("test", "model", mock, newTestLogger())
	_, err := oracle.Stream(context.Background(), domain.GenerateRequest{
		Contents: []domain.Content{domain.TextContent(domain.RoleUser, "x")},
	})
	if !errors.Is(err, domain.ErrRateLimit) {
		t.Errorf("expected ErrRateLimit, got %v", err)
	}
}
