package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"mcoda/internal/logging"
)

// GeminiClient implements Client over the official genai SDK.
type GeminiClient struct {
	client      *genai.Client
	model       string
	temperature float64
}

// NewGeminiClient creates a Gemini client with the default model.
func NewGeminiClient(apiKey string) (*GeminiClient, error) {
	return NewGeminiClientWithOptions(Options{APIKey: apiKey})
}

// NewGeminiClientWithOptions creates a Gemini client with custom options.
func NewGeminiClientWithOptions(opts Options) (*GeminiClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	opts.normalize("", "gemini-2.0-flash")

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: opts.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiClient{
		client:      client,
		model:       opts.Model,
		temperature: opts.Temperature,
	}, nil
}

// Complete sends a prompt and returns the completion.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system message.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	timer := logging.StartTimer(logging.CategoryLLM, "gemini.complete")
	defer timer.StopWithThreshold(30 * time.Second)

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(c.temperature)),
	}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	contents := []*genai.Content{
		genai.NewContentFromText(userPrompt, genai.RoleUser),
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		if classified := classifyGeminiError(ctx, err); classified != nil {
			return "", classified
		}
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("no completion returned")
	}
	return strings.TrimSpace(text), nil
}

// classifyGeminiError maps SDK error text onto provider classes; the SDK does
// not expose status codes uniformly, so the text markers do the work here.
func classifyGeminiError(ctx context.Context, err error) error {
	text := err.Error()
	switch {
	case strings.Contains(text, "401") || strings.Contains(text, "403") ||
		strings.Contains(text, "API key"):
		return classifyHTTPFailure(ProviderGemini, 401, text)
	case strings.Contains(text, "429") || strings.Contains(text, "RESOURCE_EXHAUSTED"):
		return classifyHTTPFailure(ProviderGemini, 429, text)
	default:
		return classifyTransportFailure(ctx, ProviderGemini, err)
	}
}

// SetModel changes the model used for completions.
func (c *GeminiClient) SetModel(model string) { c.model = model }

// GetModel returns the current model.
func (c *GeminiClient) GetModel() string { return c.model }
