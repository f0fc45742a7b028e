package categorize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	"example.com/worklog/internal/domain"
)

const (
	anthropicVersion = "bedrock-2023-05-31"
	defaultMaxTokens = 1024
)

// InvokeModelAPI is the slice of the Bedrock runtime client the reasoner needs.
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockConfig selects the model and credentials.
type BedrockConfig struct {
	Region          string
	ModelID         string
	MaxTokens       int
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// BedrockReasoner classifies blocks with an Anthropic model hosted on Bedrock.
type BedrockReasoner struct {
	client    InvokeModelAPI
	modelID   string
	maxTokens int
}

// NewBedrockReasoner loads AWS configuration and builds a reasoner. Static
// keys are used when supplied; otherwise the default credential chain applies.
func NewBedrockReasoner(ctx context.Context, cfg BedrockConfig) (*BedrockReasoner, error) {
	if cfg.ModelID == "" {
		return nil, errors.New("bedrock: model id is required")
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	return NewBedrockReasonerWithClient(bedrockruntime.NewFromConfig(awsCfg), cfg.ModelID, cfg.MaxTokens), nil
}

// NewBedrockReasonerWithClient wires an existing client.
func NewBedrockReasonerWithClient(client InvokeModelAPI, modelID string, maxTokens int) *BedrockReasoner {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &BedrockReasoner{client: client, modelID: modelID, maxTokens: maxTokens}
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Temperature      float64            `json:"temperature"`
	System           string             `json:"system"`
	Messages         []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
}

// Classify implements Reasoner.
func (r *BedrockReasoner) Classify(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(anthropicRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        r.maxTokens,
		System:           systemPrompt,
		Messages: []anthropicMessage{{
			Role:    "user",
			Content: []anthropicContent{{Type: "text", Text: BuildPrompt(req)}},
		}},
	})
	if err != nil {
		return Response{}, fmt.Errorf("bedrock: encode request: %w", err)
	}

	out, err := r.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(r.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		if retryable(err) {
			return Response{}, Transient(fmt.Errorf("bedrock: invoke model: %w", err))
		}
		return Response{}, fmt.Errorf("bedrock: invoke model: %w", err)
	}

	var decoded anthropicResponse
	if err := json.Unmarshal(out.Body, &decoded); err != nil {
		return Response{}, fmt.Errorf("%w: decode envelope: %v", ErrMalformedResponse, err)
	}
	var text strings.Builder
	for _, c := range decoded.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	return ParseResponse(text.String())
}

// ParseResponse extracts the JSON object from free-form model output.
func ParseResponse(text string) (Response, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Response{}, fmt.Errorf("%w: no JSON object in %q", ErrMalformedResponse, truncate(text, 120))
	}
	var raw struct {
		Category   *string  `json:"category"`
		Confidence *float64 `json:"confidence"`
		Rationale  string   `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if raw.Category == nil || raw.Confidence == nil {
		return Response{}, fmt.Errorf("%w: category and confidence are required", ErrMalformedResponse)
	}
	return Response{Category: *raw.Category, Confidence: *raw.Confidence, Rationale: raw.Rationale}, nil
}

var retryableCodes = map[string]bool{
	"ThrottlingException":         true,
	"ServiceUnavailableException": true,
	"InternalServerException":     true,
	"ModelTimeoutException":       true,
	"ModelNotReadyException":      true,
	"TooManyRequestsException":    true,
}

func retryable(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && retryableCodes[apiErr.ErrorCode()] {
		return true
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && (respErr.HTTPStatusCode() >= 500 || respErr.HTTPStatusCode() == 429) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

const systemPrompt = `You classify blocks of a person's working time into task or ticket categories.
Answer with one JSON object: {"category": "<id>", "confidence": <0..1>, "rationale": "<one sentence>"}.
Use only category ids from the supplied list, or "uncategorized" when none fits.`

// BuildPrompt renders the user message for one block.
func BuildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Time block %s to %s (%s)\n", req.Start.Format(time.RFC3339), req.End.Format(time.RFC3339), domain.FormatDuration(req.Duration))
	fmt.Fprintf(&b, "Sources: %s\n", strings.Join(req.Sources, ", "))
	fmt.Fprintf(&b, "Title: %s\n", req.Title)
	if req.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", req.Description)
	}
	if len(req.Metadata) > 0 {
		keys := make([]string, 0, len(req.Metadata))
		for k := range req.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("Details:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, req.Metadata[k])
		}
	}
	b.WriteString("\nCategories:\n")
	for _, c := range req.Taxonomy {
		fmt.Fprintf(&b, "- %s: %s\n", c.ID, c.Description)
	}
	fmt.Fprintf(&b, "- %s: none of the above\n", domain.Uncategorized)
	if req.Strict {
		b.WriteString("\nYour previous answer could not be used. Reply with the JSON object only, no prose, ")
		b.WriteString("with category copied exactly from the list above and confidence a number between 0 and 1.\n")
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
