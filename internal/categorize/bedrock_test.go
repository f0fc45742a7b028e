package categorize

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	"example.com/worklog/internal/taxonomy"
)

type fakeBedrock struct {
	input *bedrockruntime.InvokeModelInput
	body  string
	err   error
}

func (f *fakeBedrock) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.body)}, nil
}

func envelope(t *testing.T, text string) string {
	t.Helper()
	b, err := json.Marshal(anthropicResponse{Content: []anthropicContent{{Type: "text", Text: text}}})
	require.NoError(t, err)
	return string(b)
}

func sampleRequest() Request {
	start := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	return Request{
		BlockID:  "b1",
		Title:    "Sprint planning",
		Start:    start,
		End:      start.Add(65 * time.Minute),
		Duration: 65 * time.Minute,
		Sources:  []string{"calendar", "commit"},
		Metadata: map[string]string{"repository": "X"},
		Taxonomy: []taxonomy.Category{{ID: "PROJ-123", Description: "Project X"}},
	}
}

func TestBedrockReasonerParsesModelAnswer(t *testing.T) {
	fake := &fakeBedrock{body: envelope(t, "Here you go:\n{\"category\":\"PROJ-123\",\"confidence\":0.9,\"rationale\":\"planning for X\"}")}
	r := NewBedrockReasonerWithClient(fake, "anthropic.claude-3-sonnet-20240229-v1:0", 0)

	resp, err := r.Classify(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.Equal(t, Response{Category: "PROJ-123", Confidence: 0.9, Rationale: "planning for X"}, resp)

	require.Equal(t, "anthropic.claude-3-sonnet-20240229-v1:0", *fake.input.ModelId)
	var sent anthropicRequest
	require.NoError(t, json.Unmarshal(fake.input.Body, &sent))
	require.Equal(t, anthropicVersion, sent.AnthropicVersion)
	require.Contains(t, sent.Messages[0].Content[0].Text, "PROJ-123: Project X")
	require.Contains(t, sent.Messages[0].Content[0].Text, "1h 5m")
	require.Contains(t, sent.Messages[0].Content[0].Text, "repository: X")
}

func TestBedrockReasonerFlagsMalformedOutput(t *testing.T) {
	fake := &fakeBedrock{body: envelope(t, "I think this is sprint work.")}
	_, err := NewBedrockReasonerWithClient(fake, "m", 0).Classify(context.Background(), sampleRequest())
	require.ErrorIs(t, err, ErrMalformedResponse)

	_, err = ParseResponse(`{"category":"PROJ-123"}`)
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestBedrockReasonerClassifiesThrottlingAsTransient(t *testing.T) {
	fake := &fakeBedrock{err: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}}
	_, err := NewBedrockReasonerWithClient(fake, "m", 0).Classify(context.Background(), sampleRequest())
	require.True(t, IsTransient(err))

	fake.err = &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "no"}
	_, err = NewBedrockReasonerWithClient(fake, "m", 0).Classify(context.Background(), sampleRequest())
	require.Error(t, err)
	require.False(t, IsTransient(err))
	require.False(t, errors.Is(err, ErrMalformedResponse))
}

func TestBuildPromptStrictHint(t *testing.T) {
	req := sampleRequest()
	require.NotContains(t, BuildPrompt(req), "JSON object only")
	req.Strict = true
	require.Contains(t, BuildPrompt(req), "JSON object only")
}
