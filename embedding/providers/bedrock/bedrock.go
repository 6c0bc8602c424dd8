// Package bedrock implements a fifth embedding provider variant
// (Amazon Titan embeddings via AWS Bedrock), supplementing spec.md
// §4.4's four named providers — grounded on the teacher's
// ai/providers/bedrock client (AWS config loading, region handling)
// but calling bedrockruntime's InvokeModel for embeddings rather than
// Converse for chat completions.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/agentic-memory/epimem/embedding"
)

const defaultModel = "amazon.titan-embed-text-v1"

var _ embedding.Provider = (*Provider)(nil)

// Provider embeds text via AWS Bedrock's Titan embedding model.
type Provider struct {
	client    *bedrockruntime.Client
	model     string
	dimension int
}

// Config names the Bedrock-specific knobs.
type Config struct {
	Region    string
	Model     string
	Dimension int
	Timeout   time.Duration
}

// New loads the default AWS credential chain scoped to Region and
// returns a ready provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for bedrock embedding provider: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Provider{
		client:    bedrockruntime.NewFromConfig(awsCfg),
		model:     model,
		dimension: cfg.Dimension,
	}, nil
}

type titanEmbedRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed invokes the Titan embedding model for a single text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(titanEmbedRequest{InputText: text})
	if err != nil {
		return nil, err
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.model),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock InvokeModel: %w", err)
	}

	var parsed titanEmbedResponse
	if err := json.Unmarshal(out.Body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing bedrock titan embedding response: %w", err)
	}
	return parsed.Embedding, nil
}

// EmbedBatch has no native batch endpoint for Titan embeddings, so
// requests are issued sequentially, preserving input order.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (p *Provider) ModelName() string { return p.model }
func (p *Provider) Dimension() int    { return p.dimension }
func (p *Provider) Metadata() embedding.Metadata {
	return embedding.Metadata{MaxBatchSize: 1, Provider: "bedrock"}
}
