package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/mohitmishra786/prompt-craft/internal/config"
	"github.com/mohitmishra786/prompt-craft/internal/models"
	"github.com/mohitmishra786/prompt-craft/internal/provider"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "prompt-craft/0.1"

	defaultEndpoint = "https://api.openai.com/v1"
	defaultModel    = "gpt-4o-mini"
)

var availableModels = []string{
	"gpt-4o",
	"gpt-4o-mini",
	"gpt-4-turbo",
	"gpt-3.5-turbo",
}

// Provider serves completions through the OpenAI chat-completions API. It
// also covers OpenAI-compatible endpoints reached via a custom base URL.
type Provider struct {
	provider.HealthTracker

	apiKey  string
	enabled bool
	model   string
	client  *http.Client
	chatURL string
}

// New constructs an OpenAI provider. Missing credentials leave the provider
// unconfigured rather than failing construction.
func New(cfg config.ProviderConfig, client *http.Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}

	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, provider.NewError(models.ProviderOpenAI, provider.CategoryConfiguration,
			fmt.Sprintf("malformed endpoint %q", cfg.Endpoint), err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	return &Provider{
		HealthTracker: provider.NewHealthTracker(),
		apiKey:        strings.TrimSpace(cfg.APIKey),
		enabled:       cfg.IsEnabled(),
		model:         model,
		client:        client,
		chatURL:       endpoint + "/chat/completions",
	}, nil
}

func (p *Provider) Type() models.ProviderType {
	return models.ProviderOpenAI
}

func (p *Provider) Name() string {
	return "OpenAI"
}

func (p *Provider) Configured() bool {
	return p.enabled && p.apiKey != ""
}

func (p *Provider) DefaultModel() string {
	return p.model
}

func (p *Provider) AvailableModels() []string {
	result := make([]string, len(availableModels))
	copy(result, availableModels)
	return result
}

func (p *Provider) Capabilities() models.Capabilities {
	return models.Capabilities{
		Streaming:       true,
		FunctionCalling: true,
		Vision:          true,
		Embeddings:      true,
	}
}

// Complete issues one chat-completion call against OpenAI.
func (p *Provider) Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error) {
	if !p.Configured() {
		return nil, provider.NewError(models.ProviderOpenAI, provider.CategoryConfiguration,
			"API key not configured", nil)
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.User})

	payload := chatPayload{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		payload.MaxTokens = &req.MaxTokens
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.chatURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentTypeJSON)
	httpReq.Header.Set("Accept", contentTypeJSON)
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, provider.ClassifyTransport(models.ProviderOpenAI, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return nil, parseAPIError(httpResp)
	}

	var providerResp chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&providerResp); err != nil {
		return nil, provider.NewError(models.ProviderOpenAI, provider.CategoryEmptyResponse,
			"backend returned an unparseable body", err)
	}

	return providerResp.toCompletion(model)
}

// CheckHealth probes the backend with a minimal completion, recording the
// outcome instead of returning the error.
func (p *Provider) CheckHealth(ctx context.Context) models.HealthStatus {
	return p.HealthTracker.Probe(ctx, p.model, p.Complete)
}

type chatPayload struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *usageBlock `json:"usage"`
}

type usageBlock struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (r chatResponse) toCompletion(requestedModel string) (*models.CompletionResponse, error) {
	if len(r.Choices) == 0 {
		return nil, provider.NewError(models.ProviderOpenAI, provider.CategoryEmptyResponse,
			"backend returned no choices", nil)
	}

	choice := r.Choices[0]
	if strings.TrimSpace(choice.Message.Content) == "" {
		// OpenAI reports policy rejections as a successful call whose
		// content was withheld.
		if choice.FinishReason == "content_filter" {
			return nil, provider.NewError(models.ProviderOpenAI, provider.CategoryContentFiltered,
				"backend policy withheld the completion content", nil)
		}
		return nil, provider.NewError(models.ProviderOpenAI, provider.CategoryEmptyResponse,
			"backend returned no completion content", nil)
	}

	model := r.Model
	if model == "" {
		model = requestedModel
	}

	resp := &models.CompletionResponse{
		Text:         choice.Message.Content,
		Model:        model,
		FinishReason: choice.FinishReason,
	}
	if r.Usage != nil {
		resp.Usage = &models.Usage{
			PromptTokens:     r.Usage.PromptTokens,
			CompletionTokens: r.Usage.CompletionTokens,
			TotalTokens:      r.Usage.TotalTokens,
		}
	}
	return resp, nil
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func parseAPIError(resp *http.Response) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if readErr != nil {
		return provider.ClassifyStatus(models.ProviderOpenAI, resp.StatusCode, "", "")
	}

	var apiErr apiErrorResponse
	detail := ""
	if err := json.Unmarshal(body, &apiErr); err == nil {
		detail = apiErr.Error.Message
		if apiErr.Error.Code == "content_filter" || apiErr.Error.Type == "content_policy_violation" {
			return provider.NewError(models.ProviderOpenAI, provider.CategoryContentFiltered, detail, nil)
		}
	}

	return provider.ClassifyStatus(models.ProviderOpenAI, resp.StatusCode, detail, resp.Header.Get("Retry-After"))
}
