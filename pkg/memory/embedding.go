package memory

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
)

// Embedder generates embedding vectors from text. Save calls it
// synchronously; a failed embed still saves the memory row, just
// unindexed for dense search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// OpenAIEmbedder embeds text via the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	dimension int
}

// NewOpenAIEmbedder creates an embedder backed by the given API key and
// model. dimension must match the model's native output size (1536 for
// text-embedding-3-small, 3072 for text-embedding-3-large) since VectorIndex
// validates every vector against a fixed dimension.
func NewOpenAIEmbedder(apiKey string, model openai.EmbeddingModel, dimension int) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		client:    openai.NewClient(apiKey),
		model:     model,
		dimension: dimension,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, ErrInvalidQuery
	}
	return resp.Data[0].Embedding, nil
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}
