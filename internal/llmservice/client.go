package llmservice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"quizzify/internal/config"
)

const (
	ProviderOpenAI     = "openai"
	ProviderOllama     = "ollama"
	ProviderOpenAIJSON = "openai-json"
)

// Completer turns a single prompt into raw model text
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a function to Completer
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// NewFromConfig picks the completer for the configured provider
func NewFromConfig(cfg *config.LLMConfig) (Completer, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		llm, err := openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, err
		}
		return NewLangChain(llm, cfg), nil
	case ProviderOllama, "":
		opts := []ollama.Option{ollama.WithModel(cfg.Model), ollama.WithFormat("json")}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, err
		}
		return NewLangChain(llm, cfg), nil
	case ProviderOpenAIJSON:
		return NewOpenAIJSON(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}

// LangChain completes prompts through any langchaingo model
type LangChain struct {
	llm         llms.Model
	temperature float64
	maxTokens   int
}

func NewLangChain(llm llms.Model, cfg *config.LLMConfig) *LangChain {
	return &LangChain{llm: llm, temperature: cfg.Temperature, maxTokens: cfg.MaxTokens}
}

func (l *LangChain) Complete(ctx context.Context, prompt string) (string, error) {
	messages := []llms.MessageContent{llms.TextParts(schema.ChatMessageTypeHuman, prompt)}
	resp, err := GenerateContent(ctx, l.llm, messages,
		llms.WithTemperature(l.temperature),
		llms.WithMaxTokens(l.maxTokens),
	)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm returned no choices")
	}
	return resp.Choices[0].Content, nil
}

// GenerateContent calls the model with the given messages
func GenerateContent(ctx context.Context, llm llms.Model, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	log.Debug().Int("messages", len(messages)).Msg("Generating content")
	return llm.GenerateContent(ctx, messages, options...)
}

// OpenAIJSON talks to an OpenAI compatible endpoint with JSON object mode on
type OpenAIJSON struct {
	api         *goopenai.Client
	model       string
	temperature float32
	maxTokens   int
}

func NewOpenAIJSON(cfg *config.LLMConfig) *OpenAIJSON {
	clientConfig := goopenai.DefaultConfig(strings.TrimPrefix(cfg.Key, "Bearer "))
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAIJSON{
		api:         goopenai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
	}
}

func (o *OpenAIJSON) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := o.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: o.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("llm api call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
