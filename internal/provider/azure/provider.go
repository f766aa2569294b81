package azure

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

	defaultAPIVersion = "2024-02-01"
)

// Provider serves completions through an Azure OpenAI deployment. Model
// selection is indirect: the deployment name binds the model, so the request
// never carries a free-form model string.
type Provider struct {
	provider.HealthTracker

	enabled    bool
	endpoint   string
	deployment string
	apiVersion string
	authMethod string
	apiKey     string
	resolver   tokenResolver
	client     *http.Client
	requestURL string
}

// New constructs an Azure OpenAI provider. Missing endpoint or deployment
// leaves the provider unconfigured; only a malformed endpoint fails fast.
func New(cfg config.AzureConfig, client *http.Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}

	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint != "" {
		if _, err := url.ParseRequestURI(endpoint); err != nil {
			return nil, provider.NewError(models.ProviderAzure, provider.CategoryConfiguration,
				fmt.Sprintf("malformed endpoint %q", cfg.Endpoint), err)
		}
	}

	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	authMethod := cfg.AuthMethod
	if authMethod == "" {
		authMethod = config.AuthAPIKey
	}

	p := &Provider{
		HealthTracker: provider.NewHealthTracker(),
		enabled:       cfg.IsEnabled(),
		endpoint:      endpoint,
		deployment:    strings.TrimSpace(cfg.Deployment),
		apiVersion:    apiVersion,
		authMethod:    authMethod,
		apiKey:        strings.TrimSpace(cfg.APIKey),
		client:        client,
	}

	switch authMethod {
	case config.AuthAzureCLI:
		p.resolver = newCLIResolver(execRunner{})
	case config.AuthManagedIdentity:
		p.resolver = newIMDSResolver(client, strings.TrimSpace(cfg.ClientID))
	case config.AuthAPIKey:
		// Static header, no resolver.
	default:
		return nil, provider.NewError(models.ProviderAzure, provider.CategoryConfiguration,
			fmt.Sprintf("unknown auth method %q", authMethod), nil)
	}

	if p.endpoint != "" && p.deployment != "" {
		p.requestURL = fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			p.endpoint, url.PathEscape(p.deployment), url.QueryEscape(p.apiVersion))
	}

	return p, nil
}

func (p *Provider) Type() models.ProviderType {
	return models.ProviderAzure
}

func (p *Provider) Name() string {
	return "Azure OpenAI"
}

// Configured is optimistic for the dynamic auth strategies: it checks that
// configuration is present, not that the CLI session or managed identity is
// actually usable. Validity surfaces at call time or via the health probe.
func (p *Provider) Configured() bool {
	if !p.enabled || p.endpoint == "" || p.deployment == "" {
		return false
	}
	if p.authMethod == config.AuthAPIKey {
		return p.apiKey != ""
	}
	return true
}

func (p *Provider) DefaultModel() string {
	return p.deployment
}

// AvailableModels degenerates to the single configured deployment: Azure
// selects models by deployment, not by model string.
func (p *Provider) AvailableModels() []string {
	if p.deployment == "" {
		return nil
	}
	return []string{p.deployment}
}

func (p *Provider) Capabilities() models.Capabilities {
	return models.Capabilities{
		Streaming:       true,
		FunctionCalling: true,
		Embeddings:      true,
	}
}

// ClearTokenCache drops any cached bearer token, forcing the next call to
// re-run the configured auth strategy.
func (p *Provider) ClearTokenCache() {
	if p.resolver != nil {
		p.resolver.ClearCache()
	}
}

// Complete issues one chat-completion call against the configured deployment.
// The auth strategy is dispatched per request; only the token itself is
// cached, inside the resolver.
func (p *Provider) Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error) {
	if !p.Configured() {
		return nil, provider.NewError(models.ProviderAzure, provider.CategoryConfiguration,
			p.configurationGap(), nil)
	}

	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.User})

	payload := chatPayload{
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

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.requestURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentTypeJSON)
	httpReq.Header.Set("Accept", contentTypeJSON)
	httpReq.Header.Set("User-Agent", userAgent)
	if err := p.attachAuth(ctx, httpReq); err != nil {
		return nil, err
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, provider.ClassifyTransport(models.ProviderAzure, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return nil, p.parseAPIError(httpResp)
	}

	var providerResp chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&providerResp); err != nil {
		return nil, provider.NewError(models.ProviderAzure, provider.CategoryEmptyResponse,
			"backend returned an unparseable body", err)
	}

	fallbackModel := req.Model
	if fallbackModel == "" {
		fallbackModel = p.deployment
	}
	return providerResp.toCompletion(fallbackModel)
}

// CheckHealth probes the deployment with a minimal completion, recording the
// outcome instead of returning the error.
func (p *Provider) CheckHealth(ctx context.Context) models.HealthStatus {
	return p.HealthTracker.Probe(ctx, p.deployment, p.Complete)
}

// attachAuth resolves the configured strategy into a request header. Errors
// from the resolvers arrive pre-classified.
func (p *Provider) attachAuth(ctx context.Context, req *http.Request) error {
	switch p.authMethod {
	case config.AuthAPIKey:
		req.Header.Set("api-key", p.apiKey)
		return nil
	default:
		token, err := p.resolver.Token(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
}

func (p *Provider) configurationGap() string {
	var missing []string
	if p.endpoint == "" {
		missing = append(missing, "endpoint")
	}
	if p.deployment == "" {
		missing = append(missing, "deployment")
	}
	if p.authMethod == config.AuthAPIKey && p.apiKey == "" {
		missing = append(missing, "api_key")
	}
	if len(missing) == 0 {
		return "provider is disabled"
	}
	return "missing required configuration: " + strings.Join(missing, ", ")
}

type chatPayload struct {
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

func (r chatResponse) toCompletion(fallbackModel string) (*models.CompletionResponse, error) {
	if len(r.Choices) == 0 || strings.TrimSpace(r.Choices[0].Message.Content) == "" {
		return nil, provider.NewError(models.ProviderAzure, provider.CategoryEmptyResponse,
			"backend returned no completion content", nil)
	}

	model := r.Model
	if model == "" {
		model = fallbackModel
	}

	resp := &models.CompletionResponse{
		Text:         r.Choices[0].Message.Content,
		Model:        model,
		FinishReason: r.Choices[0].FinishReason,
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
		Code    string `json:"code"`
	} `json:"error"`
}

func (p *Provider) parseAPIError(resp *http.Response) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	detail := ""
	if readErr == nil {
		var apiErr apiErrorResponse
		if err := json.Unmarshal(body, &apiErr); err == nil {
			detail = apiErr.Error.Message
			if apiErr.Error.Code == "content_filter" {
				return provider.NewError(models.ProviderAzure, provider.CategoryContentFiltered, detail, nil)
			}
		}
	}

	// 404 on Azure almost always means the deployment name is wrong.
	if resp.StatusCode == http.StatusNotFound {
		msg := fmt.Sprintf("deployment %q does not exist at this endpoint", p.deployment)
		if detail != "" {
			msg = fmt.Sprintf("%s: %s", msg, detail)
		}
		return provider.NewError(models.ProviderAzure, provider.CategoryNotFound, msg, nil)
	}

	return provider.ClassifyStatus(models.ProviderAzure, resp.StatusCode, detail, resp.Header.Get("Retry-After"))
}
