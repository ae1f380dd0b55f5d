// Package llm streams answers from an OpenAI-compatible chat endpoint (Ollama's /v1 by default).
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/newsrag/internal/models"
	"github.com/hyperjump/newsrag/pkg/utils"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL     = "http://localhost:11434/v1"
	DefaultModel       = "llama3.2"
	DefaultTemperature = 0.3
	DefaultTimeout     = 120 * time.Second
)

// Generator streams a model answer for query grounded in contexts. The channel is closed when
// the answer is complete. Failures arrive as a single final fragment, never as an error.
type Generator interface {
	Stream(ctx context.Context, query string, contexts []models.ContextEntry) <-chan string
}

// Config configures OpenAIGenerator.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// OpenAIGenerator implements Generator with go-openai's streaming chat completions.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature float32
	timeout     time.Duration
	logger      *zap.Logger
}

// Option configures an OpenAIGenerator.
type Option func(*OpenAIGenerator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *OpenAIGenerator) { g.logger = utils.OrNop(l) }
}

// NewOpenAIGenerator creates a generator from configuration.
func NewOpenAIGenerator(cfg Config, opts ...Option) *OpenAIGenerator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	// Ollama ignores the key but the client insists on sending one.
	if cfg.APIKey == "" {
		cfg.APIKey = "ollama"
	}
	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPClient != nil {
		config.HTTPClient = cfg.HTTPClient
	}
	g := &OpenAIGenerator{
		client:      openai.NewClientWithConfig(config),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Model returns the model name requests are sent to.
func (g *OpenAIGenerator) Model() string {
	return g.model
}

// Stream implements Generator.
func (g *OpenAIGenerator) Stream(ctx context.Context, query string, contexts []models.ContextEntry) <-chan string {
	out := make(chan string)
	prompt := BuildPrompt(query, contexts)
	g.logger.Info("streaming prompt", zap.String("model", g.model), zap.Int("prompt_chars", len(prompt)))

	go func() {
		defer close(out)
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		send := func(s string) bool {
			select {
			case out <- s:
				return true
			case <-ctx.Done():
				return false
			}
		}
		fail := func(err error) {
			g.logger.Error("error streaming model response", zap.Error(err))
			// the caller may have gone away; only deliver while it still listens
			select {
			case out <- ErrorFragment(err):
			case <-ctx.Done():
			}
		}

		stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:       g.model,
			Temperature: g.temperature,
			Stream:      true,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
		if err != nil {
			fail(err)
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				fail(err)
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			if !send(resp.Choices[0].Delta.Content) {
				return
			}
		}
	}()
	return out
}

// ErrorFragment renders err as the terminal fragment of a failed stream.
func ErrorFragment(err error) string {
	return fmt.Sprintf("[Connection Error: Cannot connect to the language model service. Error: %v]", err)
}

// RenderContext formats one retrieved article for the prompt.
func RenderContext(c models.ContextEntry) string {
	return fmt.Sprintf("[Article Title:]%s\n[Newsletter where article is from:]%s\n[Article Content:]%s", c.Title, c.Group, c.Content)
}

// BuildPrompt wraps the retrieved articles around query. Without articles the query is sent as is.
func BuildPrompt(query string, contexts []models.ContextEntry) string {
	if len(contexts) == 0 {
		return query
	}
	articles := make([]string, len(contexts))
	for i, c := range contexts {
		articles[i] = RenderContext(c)
	}
	return fmt.Sprintf("The user asks: %q\n\nHere are relevant newsletter articles:\n%s\n\nPlease analyze accordingly.",
		query, strings.Join(articles, "\n\n"))
}
