package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"policyeval/internal/reasoning"
)

const (
	DefaultGenerationModel = "gemini-1.5-flash-latest"
	DefaultEmbeddingModel  = "text-embedding-004"

	// maxBatchSize is the most contents the API accepts in one batchEmbedContents call.
	maxBatchSize = 100
)

var errEmptyResponse = errors.New("empty response from model")

type Models struct {
	Generation string
	Embedding  string
}

// Gateway is the Gemini-backed reasoning capability: entity extraction, embeddings,
// clause analysis, decisions and free-text answers.
type Gateway struct {
	client *genai.Client
	models Models
}

func NewGateway(ctx context.Context, apiKey string, models Models, opts ...option.ClientOption) (*Gateway, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key not configured")
	}
	if models.Generation == "" {
		models.Generation = DefaultGenerationModel
	}
	if models.Embedding == "" {
		models.Embedding = DefaultEmbeddingModel
	}

	opts = append(opts, option.WithAPIKey(apiKey))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Gateway{client: client, models: models}, nil
}

func (g *Gateway) Close() error {
	return g.client.Close()
}

// Model names the generation model, reported in evaluation metadata.
func (g *Gateway) Model() string {
	return g.models.Generation
}

func (g *Gateway) ExtractEntities(ctx context.Context, query string) (reasoning.Parsed[reasoning.Entities], error) {
	reply, err := g.generate(ctx, reasoning.StageEntities, g.jsonModel(), buildEntityPrompt(query))
	if err != nil {
		return reasoning.Parsed[reasoning.Entities]{}, err
	}
	return reasoning.ParseEntities(reply), nil
}

func (g *Gateway) AnalyzeClauses(ctx context.Context, entities reasoning.Entities, chunks []string) (reasoning.Parsed[[]reasoning.ClauseAnalysis], error) {
	prompt, err := buildClausePrompt(entities, chunks)
	if err != nil {
		return reasoning.Parsed[[]reasoning.ClauseAnalysis]{}, err
	}
	reply, err := g.generate(ctx, reasoning.StageClauses, g.jsonModel(), prompt)
	if err != nil {
		return reasoning.Parsed[[]reasoning.ClauseAnalysis]{}, err
	}
	return reasoning.ParseClauses(reply), nil
}

func (g *Gateway) Decide(ctx context.Context, entities reasoning.Entities, analyses []reasoning.ClauseAnalysis) (reasoning.Parsed[reasoning.Decision], error) {
	prompt, err := buildDecisionPrompt(entities, analyses)
	if err != nil {
		return reasoning.Parsed[reasoning.Decision]{}, err
	}
	reply, err := g.generate(ctx, reasoning.StageDecision, g.jsonModel(), prompt)
	if err != nil {
		return reasoning.Parsed[reasoning.Decision]{}, err
	}
	return reasoning.ParseDecision(reply), nil
}

func (g *Gateway) GenerateAnswer(ctx context.Context, question string, chunks []string) (string, error) {
	model := g.client.GenerativeModel(g.models.Generation)
	model.SetTemperature(0.2)
	model.SetTopP(0.8)
	model.SetMaxOutputTokens(1024)

	reply, err := g.generate(ctx, "generate_answer", model, buildAnswerPrompt(question, chunks))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

func (g *Gateway) jsonModel() *genai.GenerativeModel {
	model := g.client.GenerativeModel(g.models.Generation)
	model.ResponseMIMEType = "application/json"
	return model
}

func (g *Gateway) generate(ctx context.Context, stage string, model *genai.GenerativeModel, prompt string) (string, error) {
	slog.DebugContext(ctx, "generating content", "stage", stage, "model", g.models.Generation, "prompt_length", len(prompt))

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		slog.ErrorContext(ctx, "generation failed", "stage", stage, "error", err)
		return "", fmt.Errorf("%s: %w", stage, err)
	}

	reply := responseText(resp)
	if reply == "" {
		return "", fmt.Errorf("%s: %w", stage, errEmptyResponse)
	}
	return reply, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String()
}

// EmbedDocuments embeds texts for storage, in batches, returning one vector per text
// in input order.
func (g *Gateway) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	em := g.client.EmbeddingModel(g.models.Embedding)
	em.TaskType = genai.TaskTypeRetrievalDocument

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		end := min(start+maxBatchSize, len(texts))
		batch := em.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
		}

		slog.DebugContext(ctx, "embedding batch", "model", g.models.Embedding, "offset", start, "size", end-start)
		res, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			slog.ErrorContext(ctx, "batch embedding failed", "error", err)
			return nil, fmt.Errorf("embed documents: %w", err)
		}
		if len(res.Embeddings) != end-start {
			return nil, fmt.Errorf("%w: sent %d texts, received %d embeddings", reasoning.ErrEmbeddingCount, end-start, len(res.Embeddings))
		}
		for i, e := range res.Embeddings {
			if e == nil || len(e.Values) == 0 {
				return nil, fmt.Errorf("embed documents: empty embedding at position %d", start+i)
			}
			out = append(out, e.Values)
		}
	}
	return out, nil
}

func (g *Gateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	em := g.client.EmbeddingModel(g.models.Embedding)
	em.TaskType = genai.TaskTypeRetrievalQuery

	slog.DebugContext(ctx, "embedding query", "model", g.models.Embedding, "length", len(text))
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		slog.ErrorContext(ctx, "query embedding failed", "error", err)
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("embed query: empty embedding received")
	}
	return res.Embedding.Values, nil
}
