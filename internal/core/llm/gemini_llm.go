package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/docbot-labs/docbot/internal/core"
	"github.com/docbot-labs/docbot/internal/models"
)

// GeminiLLM streams grounded answers from a Gemini chat model.
type GeminiLLM struct {
	client    *genai.Client
	modelName string
}

func NewGeminiLLM(ctx context.Context, apiKey, modelName string) (*GeminiLLM, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GeminiLLM{client: cl, modelName: modelName}, nil
}

func (g *GeminiLLM) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// GenerateStream produces the model's answer as an event channel. The
// channel carries Token events in generation order and is closed after
// one terminal event: Done on success, Err if the model fails
// mid-stream. Cancelling ctx abandons generation.
func (g *GeminiLLM) GenerateStream(ctx context.Context, systemPrompt, userPrompt string) (<-chan models.StreamEvent, error) {
	m := g.client.GenerativeModel(g.modelName)
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}

	iter := m.GenerateContentStream(ctx, genai.Text(userPrompt))

	out := make(chan models.StreamEvent, 8)
	go func() {
		defer close(out)
		for {
			resp, err := iter.Next()
			if err == iterator.Done {
				emit(ctx, out, models.StreamEvent{Done: true})
				return
			}
			if err != nil {
				emit(ctx, out, models.StreamEvent{Err: fmt.Errorf("gemini stream: %w", err)})
				return
			}
			if token := responseText(resp); token != "" {
				if !emit(ctx, out, models.StreamEvent{Token: token}) {
					return
				}
			}
		}
	}()
	return out, nil
}

// emit reports false when the consumer went away.
func emit(ctx context.Context, out chan<- models.StreamEvent, ev models.StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

var _ core.LLMProvider = (*GeminiLLM)(nil)
