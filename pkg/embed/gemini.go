package embed

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Gemini embedding models.
const (
	// ModelGeminiEmbedding001 is Google's general-purpose text embedding model.
	ModelGeminiEmbedding001 = "gemini-embedding-001"

	// ModelGeminiEmbedding004 is the legacy 004 text embedding model.
	ModelGeminiEmbedding004 = "text-embedding-004"
)

const (
	geminiMaxBatch     = 100 // genai batch embed content request limit
	geminiDefaultDim   = 768
	geminiDefaultModel = ModelGeminiEmbedding001
)

// Gemini implements [Embedder] using the Gemini API's batch embed-content
// endpoint.
type Gemini struct {
	client *genai.Client
	model  string
	dim    int
}

var _ Embedder = (*Gemini)(nil)

// NewGemini creates a Gemini embedder backed by client.
func NewGemini(client *genai.Client, opts ...Option) *Gemini {
	cfg := config{
		model: geminiDefaultModel,
		dim:   geminiDefaultDim,
	}
	for _, o := range opts {
		o(&cfg)
	}
	return &Gemini{client: client, model: cfg.model, dim: cfg.dim}
}

// Embed returns the embedding for a single text.
func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns embeddings for multiple texts.
// Batches larger than 100 are automatically split into multiple API calls.
func (g *Gemini) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	result := make([][]float32, len(texts))
	for i := 0; i < len(texts); i += geminiMaxBatch {
		end := min(i+geminiMaxBatch, len(texts))
		batch := texts[i:end]

		vecs, err := g.callAPI(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", i, end, err)
		}
		copy(result[i:], vecs)
	}
	return result, nil
}

// Dimension returns the configured vector dimensionality.
func (g *Gemini) Dimension() int {
	return g.dim
}

// Model returns the Gemini model identifier (e.g., "gemini-embedding-001").
func (g *Gemini) Model() string {
	return g.model
}

func (g *Gemini) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.Text(t)[0]
	}

	outDim := int32(g.dim)
	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &outDim,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini: expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}

	vecs := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		vecs[i] = e.Values
	}
	return vecs, nil
}
