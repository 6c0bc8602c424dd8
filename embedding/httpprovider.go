package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	epierrors "github.com/agentic-memory/epimem/errors"
)

// HTTPProvider implements Provider over any OpenAI-compatible
// embeddings HTTP endpoint (OpenAI itself, Mistral, Azure OpenAI, and
// arbitrary custom base URLs all speak this schema), grounded on the
// teacher's BaseClient (ai/providers/base.go): a shared *http.Client
// with a fixed timeout, headers set per request, and JSON request/
// response bodies.
type HTTPProvider struct {
	httpClient  *http.Client
	endpoint    string
	headers     map[string]string
	model       string
	dimension   int
	providerTag string
	maxBatch    int
}

var _ Provider = (*HTTPProvider)(nil)

// HTTPProviderConfig configures one HTTPProvider instance.
type HTTPProviderConfig struct {
	Endpoint    string
	Headers     map[string]string
	Model       string
	Dimension   int
	ProviderTag string
	Timeout     time.Duration
	MaxBatch    int
}

// NewHTTPProvider builds an HTTPProvider from config.
func NewHTTPProvider(cfg HTTPProviderConfig) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 64
	}
	return &HTTPProvider{
		httpClient:  &http.Client{Timeout: timeout},
		endpoint:    cfg.Endpoint,
		headers:     cfg.Headers,
		model:       cfg.Model,
		dimension:   cfg.Dimension,
		providerTag: cfg.ProviderTag,
		maxBatch:    maxBatch,
	}
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed requests a single embedding by delegating to EmbedBatch.
func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch sends texts in sub-batches no larger than the provider's
// max_batch_size, reassembling results in input order.
func (p *HTTPProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return EmbedBatched(ctx, texts, p.maxBatch, p.embedBatchOnce)
}

func (p *HTTPProvider) embedBatchOnce(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingsRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, epierrors.New("embedding.HTTPProvider.EmbedBatch", epierrors.KindSerialization, "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, epierrors.New("embedding.HTTPProvider.EmbedBatch", epierrors.KindEmbedding, "", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, epierrors.New("embedding.HTTPProvider.EmbedBatch", epierrors.KindEmbedding, "", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, epierrors.New("embedding.HTTPProvider.EmbedBatch", epierrors.KindIO, "", err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, epierrors.New("embedding.HTTPProvider.EmbedBatch", epierrors.KindEmbedding, "", fmt.Errorf("%s returned status %d", p.providerTag, resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, epierrors.New("embedding.HTTPProvider.EmbedBatch", epierrors.KindInvalidInput, "", fmt.Errorf("%s returned status %d: %s", p.providerTag, resp.StatusCode, string(respBody)))
	}

	var parsed embeddingsResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, epierrors.New("embedding.HTTPProvider.EmbedBatch", epierrors.KindSerialization, "", err)
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	return out, nil
}

func (p *HTTPProvider) ModelName() string { return p.model }
func (p *HTTPProvider) Dimension() int    { return p.dimension }
func (p *HTTPProvider) Metadata() Metadata {
	return Metadata{MaxBatchSize: p.maxBatch, Provider: p.providerTag}
}
