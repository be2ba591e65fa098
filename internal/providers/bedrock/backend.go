package bedrock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/haasonsaas/nexus/internal/modelengine"
)

// anthropicMessage is the Bedrock Messages API request shape Claude models
// on Bedrock expect; other model families route through their own request
// shape and are out of scope until this repo needs a second Bedrock family.
type anthropicMessage struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	System           string          `json:"system,omitempty"`
	Messages         []anthropicTurn `json:"messages"`
}

type anthropicTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// invokeClientAPI is the subset of bedrockruntime's client this package
// calls, narrowed so Backend can be exercised against a fake in tests
// without standing up real AWS credentials.
type invokeClientAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Backend adapts a Bedrock-hosted Claude model to modelengine.Backend,
// letting model_engine.fallback_chains name a "bedrock:<model-id>" step
// alongside Venice-hosted models in the same fallback chain.
type Backend struct {
	client           invokeClientAPI
	modelID          string
	defaultMaxTokens int
}

// NewBackend constructs a Backend for the given Bedrock model ID (e.g.
// "anthropic.claude-3-5-sonnet-20240620-v1:0") using ambient AWS
// credentials. It first runs the model through DiscoverModels so a
// fallback-chain entry naming a retired or mistyped model ID fails at
// registration time, with a clear error, rather than on first
// InvokeModel call; the discovered definition's MaxTokens also becomes
// this backend's default when a request doesn't set one.
func NewBackend(ctx context.Context, region, modelID string) (*Backend, error) {
	if region == "" {
		region = "us-east-1"
	}

	models, err := DiscoverModels(ctx, &DiscoveryConfig{Region: region})
	if err != nil {
		return nil, fmt.Errorf("discover bedrock models in %s: %w", region, err)
	}
	def, ok := findModel(models, modelID)
	if !ok {
		return nil, fmt.Errorf("bedrock model %q not found or not ACTIVE in region %s", modelID, region)
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Backend{
		client:           bedrockruntime.NewFromConfig(awsCfg),
		modelID:          modelID,
		defaultMaxTokens: def.MaxTokens,
	}, nil
}

func findModel(models []ModelDefinition, id string) (ModelDefinition, bool) {
	for _, m := range models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelDefinition{}, false
}

func (b *Backend) Name() string { return "bedrock:" + b.modelID }

// Complete invokes the model non-streaming and republishes the full
// response as a single modelengine.Chunk with Done set, since
// InvokeModel (as opposed to InvokeModelWithResponseStream) has no
// incremental delivery to forward.
func (b *Backend) Complete(ctx context.Context, req modelengine.CompletionRequest) (<-chan modelengine.Chunk, error) {
	body := anthropicMessage{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        req.MaxTokens,
		System:           req.System,
		Messages:         []anthropicTurn{{Role: "user", Content: req.Prompt}},
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = b.defaultMaxTokens
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = 1024
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal bedrock request: %w", err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return nil, fmt.Errorf("invoke bedrock model %s: %w", b.modelID, err)
	}

	var decoded anthropicResponse
	if err := json.NewDecoder(bytes.NewReader(out.Body)).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode bedrock response: %w", err)
	}

	var text string
	for _, c := range decoded.Content {
		text += c.Text
	}

	ch := make(chan modelengine.Chunk, 1)
	ch <- modelengine.Chunk{
		Text:         text,
		Done:         true,
		InputTokens:  decoded.Usage.InputTokens,
		OutputTokens: decoded.Usage.OutputTokens,
	}
	close(ch)
	return ch, nil
}
