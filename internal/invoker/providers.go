package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider completes a chat conversation.
type Provider interface {
	Name() string
	Complete(ctx context.Context, messages []Message) (content, model string, err error)
}

// OpenAIProvider speaks the OpenAI chat completions API through go-openai.
// It serves both the default provider and OpenAI-compatible configured
// endpoints.
type OpenAIProvider struct {
	name   string
	model  string
	client *openai.Client
}

// NewOpenAIProvider creates a provider against baseURL (".../v1"). A URL
// that already ends in /chat/completions is trimmed to its base.
func NewOpenAIProvider(name, baseURL, apiKey, model string, httpClient *http.Client) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		baseURL = strings.TrimSuffix(baseURL, "/")
		baseURL = strings.TrimSuffix(baseURL, "/chat/completions")
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAIProvider{
		name:   name,
		model:  model,
		client: openai.NewClientWithConfig(cfg),
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Complete(ctx context.Context, messages []Message) (string, string, error) {
	req := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", "", classify(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", "", &FatalError{err: ErrEmptyReply}
	}
	model := resp.Model
	if model == "" {
		model = p.model
	}
	return resp.Choices[0].Message.Content, model, nil
}

// GenericProvider posts {"model", "messages"} and expects {"content"} back.
type GenericProvider struct {
	name   string
	url    string
	apiKey string
	model  string
	client *http.Client
}

// NewGenericProvider creates a provider for an endpoint using the plain
// messages-in, content-out format.
func NewGenericProvider(name, url, apiKey, model string, httpClient *http.Client) *GenericProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &GenericProvider{name: name, url: url, apiKey: apiKey, model: model, client: httpClient}
}

func (p *GenericProvider) Name() string { return p.name }

type genericRequest struct {
	Model    string    `json:"model,omitempty"`
	Messages []Message `json:"messages"`
}

type genericResponse struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

func (p *GenericProvider) Complete(ctx context.Context, messages []Message) (string, string, error) {
	body, err := json.Marshal(genericRequest{Model: p.model, Messages: messages})
	if err != nil {
		return "", "", &FatalError{err: fmt.Errorf("marshal request: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", "", &FatalError{err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", "", classify(err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", "", classify(fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", "", classifyStatus(resp.StatusCode, string(respBody))
	}

	var out genericResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", "", &FatalError{err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Content == "" {
		return "", "", &FatalError{err: ErrEmptyReply}
	}
	model := out.Model
	if model == "" {
		model = p.model
	}
	return out.Content, model, nil
}
