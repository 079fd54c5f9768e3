package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel/trace"

	"teacher-agent/internal/domain"
	"teacher-agent/internal/infra/config"
	"teacher-agent/internal/infra/tracer"
)

const defaultBedrockMaxTokens = 4096

// bedrockConverseAPI abstracts the Bedrock runtime methods for testability.
type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// BedrockOracle implements domain.StreamingOracle via the Bedrock Converse API.
// Image output is not supported; requests asking for it get text only.
type BedrockOracle struct {
	name   string
	model  string
	client bedrockConverseAPI
	logger *slog.Logger
}

// NewBedrockOracle creates a Bedrock oracle using the default AWS credential chain.
func NewBedrockOracle(ctx context.Context, cfg config.ProviderConfig, logger *slog.Logger) (*BedrockOracle, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return newBedrockOracleWithClient(cfg.Name, cfg.Model, bedrockruntime.NewFromConfig(awsCfg), logger), nil
}

func newBedrockOracleWithClient(name, model string, client bedrockConverseAPI, logger *slog.Logger) *BedrockOracle {
	if logger == nil {
		logger = slog.Default()
	}
	return &BedrockOracle{name: name, model: model, client: client, logger: logger}
}

// Name implements domain.Oracle.
func (p *BedrockOracle) Name() string { return p.name }

// Generate implements domain.Oracle.
func (p *BedrockOracle) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResponse, error) {
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

	output, err := p.client.Converse(ctx, toBedrockConverseInput(req))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, mapBedrockError(err)
	}

	result := fromBedrockConverseOutput(output, req.Model)
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logGenerateCompleted(p.logger, p.name, result)

	return result, nil
}

// Stream implements domain.StreamingOracle.
func (p *BedrockOracle) Stream(ctx context.Context, req domain.GenerateRequest) (<-chan domain.StreamDelta, error) {
	if req.Model == "" {
		req.Model = p.model
	}

	ci := toBedrockConverseInput(req)
	output, err := p.client.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:         ci.ModelId,
		Messages:        ci.Messages,
		System:          ci.System,
		InferenceConfig: ci.InferenceConfig,
	})
	if err != nil {
		return nil, mapBedrockError(err)
	}

	ch := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(ch)
		stream := output.GetStream()
		defer stream.Close()

		for evt := range stream.Events() {
			delta := processBedrockStreamEvent(evt)
			if delta == nil {
				continue
			}
			select {
			case ch <- *delta:
			case <-ctx.Done():
				return
			}
		}

		final := domain.StreamDelta{Done: true}
		if err := stream.Err(); err != nil {
			final.Err = mapBedrockError(err)
		}
		select {
		case ch <- final:
		case <-ctx.Done():
		}
	}()

	return ch, nil
}

// --- Bedrock request/response conversion ---

func toBedrockConverseInput(req domain.GenerateRequest) *bedrockruntime.ConverseInput {
	input := &bedrockruntime.ConverseInput{ModelId: aws.String(req.Model)}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultBedrockMaxTokens
	}
	input.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(maxTokens))}
	if req.Temperature > 0 {
		input.InferenceConfig.Temperature = aws.Float32(float32(req.Temperature))
	}

	system := req.SystemInstruction
	if req.JSONResponse {
		system = strings.TrimSpace(system + "\nRespond with a single JSON object and nothing else.")
	}
	if system != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system}}
	}

	for _, c := range req.Contents {
		if msg, ok := toBedrockMessage(c); ok {
			input.Messages = append(input.Messages, msg)
		}
	}
	return input
}

func toBedrockMessage(c domain.Content) (types.Message, bool) {
	msg := types.Message{Role: types.ConversationRoleUser}
	if c.Role == domain.RoleModel {
		msg.Role = types.ConversationRoleAssistant
	}

	for _, p := range c.Parts {
		if !p.IsInline() {
			if p.Text != "" {
				msg.Content = append(msg.Content, &types.ContentBlockMemberText{Value: p.Text})
			}
			continue
		}
		format, ok := bedrockImageFormat(p.MIMEType)
		if !ok {
			continue
		}
		msg.Content = append(msg.Content, &types.ContentBlockMemberImage{
			Value: types.ImageBlock{
				Format: format,
				Source: &types.ImageSourceMemberBytes{Value: p.Data},
			},
		})
	}
	return msg, len(msg.Content) > 0
}

func bedrockImageFormat(mime string) (types.ImageFormat, bool) {
	switch strings.ToLower(mime) {
	case "image/jpeg", "image/jpg":
		return types.ImageFormatJpeg, true
	case "image/png":
		return types.ImageFormatPng, true
	case "image/gif":
		return types.ImageFormatGif, true
	case "image/webp":
		return types.ImageFormatWebp, true
	}
	return "", false
}

func bedrockUsage(u *types.TokenUsage) domain.Usage {
	in, out := int(aws.ToInt32(u.InputTokens)), int(aws.ToInt32(u.OutputTokens))
	return domain.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
}

func fromBedrockConverseOutput(output *bedrockruntime.ConverseOutput, model string) *domain.GenerateResponse {
	result := &domain.GenerateResponse{
		Model:   model,
		Content: domain.Content{Role: domain.RoleModel},
	}
	if output.Usage != nil {
		result.Usage = bedrockUsage(output.Usage)
	}

	if outMsg, ok := output.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range outMsg.Value.Content {
			if b, ok := block.(*types.ContentBlockMemberText); ok && b.Value != "" {
				result.Content.Parts = append(result.Content.Parts, domain.Part{Text: b.Value})
			}
		}
	}
	return result
}

func processBedrockStreamEvent(evt types.ConverseStreamOutput) *domain.StreamDelta {
	switch e := evt.(type) {
	case *types.ConverseStreamOutputMemberContentBlockDelta:
		if d, ok := e.Value.Delta.(*types.ContentBlockDeltaMemberText); ok {
			return &domain.StreamDelta{Text: d.Value}
		}
		return nil

	case *types.ConverseStreamOutputMemberMetadata:
		if e.Value.Usage == nil {
			return nil
		}
		u := bedrockUsage(e.Value.Usage)
		return &domain.StreamDelta{Usage: &u}

	default:
		return nil
	}
}

// --- Error mapping ---

func mapBedrockError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case code == "ThrottlingException" || code == "TooManyRequestsException":
			return fmt.Errorf("%w: %s", domain.ErrRateLimit, msg)
		case code == "AccessDeniedException" || code == "UnrecognizedClientException":
			return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, msg)
		case code == "ValidationException" && strings.Contains(msg, "too long"):
			return fmt.Errorf("%w: %s", domain.ErrContextOverflow, msg)
		case code == "ModelNotReadyException" || code == "ServiceUnavailableException" ||
			code == "InternalServerException" || code == "ModelTimeoutException":
			return fmt.Errorf("%w: %s", domain.ErrOracleFailure, msg)
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return fmt.Errorf("%w: %s", domain.ErrOracleFailure, msg)
		}
	}

	return domain.WrapOp("bedrock", err)
}

var (
	_ domain.StreamingOracle = (*BedrockOracle)(nil)
	_ domain.StreamingOracle = (*GeminiOracle)(nil)
)
