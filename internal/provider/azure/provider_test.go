package azure

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohitmishra786/prompt-craft/internal/config"
	"github.com/mohitmishra786/prompt-craft/internal/models"
	"github.com/mohitmishra786/prompt-craft/internal/provider"
)

const successBody = `{
	"model": "gpt-4o",
	"choices": [{"message": {"role": "assistant", "content": "done"}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 4, "completion_tokens": 2, "total_tokens": 6}
}`

func newTestProvider(t *testing.T, cfg config.AzureConfig, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	if cfg.Endpoint == "" {
		cfg.Endpoint = server.URL
	}
	p, err := New(cfg, server.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestConfiguredPerAuthMethod(t *testing.T) {
	client := &http.Client{}
	tests := []struct {
		name string
		cfg  config.AzureConfig
		want bool
	}{
		{"no endpoint", config.AzureConfig{Deployment: "d", APIKey: "k"}, false},
		{"no deployment", config.AzureConfig{Endpoint: "https://r.openai.azure.com", APIKey: "k"}, false},
		{"api key present", config.AzureConfig{Endpoint: "https://r.openai.azure.com", Deployment: "d", APIKey: "k"}, true},
		{"api key missing", config.AzureConfig{Endpoint: "https://r.openai.azure.com", Deployment: "d"}, false},
		// Dynamic strategies are optimistic: no key needed, validity is a
		// call-time question.
		{"cli auth", config.AzureConfig{Endpoint: "https://r.openai.azure.com", Deployment: "d", AuthMethod: config.AuthAzureCLI}, true},
		{"managed identity", config.AzureConfig{Endpoint: "https://r.openai.azure.com", Deployment: "d", AuthMethod: config.AuthManagedIdentity}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.cfg, client)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := p.Configured(); got != tt.want {
				t.Errorf("Configured() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequestURLConstruction(t *testing.T) {
	var gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write([]byte(successBody))
	}))
	t.Cleanup(server.Close)

	// Trailing slashes on the configured endpoint are normalized away.
	p, err := New(config.AzureConfig{
		Endpoint:   server.URL + "///",
		Deployment: "my-gpt4",
		APIKey:     "k",
		APIVersion: "2024-02-01",
	}, server.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := p.Complete(context.Background(), models.CompletionRequest{User: "u"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if gotPath != "/openai/deployments/my-gpt4/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "api-version=2024-02-01" {
		t.Errorf("query = %q", gotQuery)
	}
}

func TestCompleteStaticKeyHeader(t *testing.T) {
	p := newTestProvider(t, config.AzureConfig{Deployment: "d", APIKey: "secret"}, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("api-key"); got != "secret" {
			t.Errorf("api-key header = %q", got)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("static key auth must not set an Authorization header")
		}
		w.Write([]byte(successBody))
	})

	resp, err := p.Complete(context.Background(), models.CompletionRequest{User: "u"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "done" {
		t.Errorf("Text = %q", resp.Text)
	}
}

func TestCompleteCLIBearer(t *testing.T) {
	runner := &fakeRunner{tokenOut: "cli-token"}
	p := newTestProvider(t, config.AzureConfig{Deployment: "d", AuthMethod: config.AuthAzureCLI}, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer cli-token" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(successBody))
	})
	p.resolver = newCLIResolver(runner)

	if _, err := p.Complete(context.Background(), models.CompletionRequest{User: "u"}); err != nil {
		t.Fatalf("first Complete: %v", err)
	}
	firstCalls := len(runner.calls)
	if firstCalls != 3 {
		t.Fatalf("first call ran %d CLI steps, want version/session/token", firstCalls)
	}

	// Second completion within the validity window: token cache hit, no CLI.
	if _, err := p.Complete(context.Background(), models.CompletionRequest{User: "u"}); err != nil {
		t.Fatalf("second Complete: %v", err)
	}
	if len(runner.calls) != firstCalls {
		t.Errorf("second completion re-ran the CLI: %v", runner.calls[firstCalls:])
	}
}

func TestCompleteCLIToolMissing(t *testing.T) {
	p := newTestProvider(t, config.AzureConfig{Deployment: "d", AuthMethod: config.AuthAzureCLI}, func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend must not be reached when auth fails")
	})
	p.resolver = newCLIResolver(&fakeRunner{failStep: "version"})

	_, err := p.Complete(context.Background(), models.CompletionRequest{User: "u"})
	if got := provider.CategoryOf(err); got != provider.CategoryAuthToolUnavailable {
		t.Errorf("category = %s, want auth_tool_unavailable", got)
	}
}

func TestCompleteNotFoundNamesDeployment(t *testing.T) {
	p := newTestProvider(t, config.AzureConfig{Deployment: "missing-dep", APIKey: "k"}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": {"code": "DeploymentNotFound", "message": "The API deployment for this resource does not exist."}}`))
	})

	_, err := p.Complete(context.Background(), models.CompletionRequest{User: "u"})
	if got := provider.CategoryOf(err); got != provider.CategoryNotFound {
		t.Fatalf("category = %s, want not_found", got)
	}
	if !strings.Contains(err.Error(), "missing-dep") {
		t.Errorf("error %q should name the deployment", err.Error())
	}
}

func TestCompleteModelFallsBackToDeployment(t *testing.T) {
	p := newTestProvider(t, config.AzureConfig{Deployment: "my-dep", APIKey: "k"}, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": [{"message": {"content": "x"}, "finish_reason": "stop"}]}`))
	})

	resp, err := p.Complete(context.Background(), models.CompletionRequest{User: "u"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Model != "my-dep" {
		t.Errorf("Model = %q, want deployment name fallback", resp.Model)
	}
}

func TestCompletePayloadOmitsModel(t *testing.T) {
	p := newTestProvider(t, config.AzureConfig{Deployment: "d", APIKey: "k"}, func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		if err := jsonDecode(r, &raw); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if _, present := raw["model"]; present {
			t.Error("deployment-bound request must not carry a model field")
		}
		w.Write([]byte(successBody))
	})

	if _, err := p.Complete(context.Background(), models.CompletionRequest{Model: "ignored", User: "u"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
}

func TestAvailableModelsIsDeployment(t *testing.T) {
	p, err := New(config.AzureConfig{Endpoint: "https://r.openai.azure.com", Deployment: "my-dep", APIKey: "k"}, &http.Client{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := p.AvailableModels()
	if len(got) != 1 || got[0] != "my-dep" {
		t.Errorf("AvailableModels() = %v, want [my-dep]", got)
	}
	if p.DefaultModel() != "my-dep" {
		t.Errorf("DefaultModel() = %q", p.DefaultModel())
	}
}

func TestContentFiltered(t *testing.T) {
	p := newTestProvider(t, config.AzureConfig{Deployment: "d", APIKey: "k"}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"code": "content_filter", "message": "The response was filtered"}}`))
	})

	_, err := p.Complete(context.Background(), models.CompletionRequest{User: "u"})
	if got := provider.CategoryOf(err); got != provider.CategoryContentFiltered {
		t.Errorf("category = %s, want content_filtered", got)
	}
}

func TestClearTokenCache(t *testing.T) {
	runner := &fakeRunner{tokenOut: "tok-1"}
	p := newTestProvider(t, config.AzureConfig{Deployment: "d", AuthMethod: config.AuthAzureCLI}, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(successBody))
	})
	p.resolver = newCLIResolver(runner)

	if _, err := p.Complete(context.Background(), models.CompletionRequest{User: "u"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	p.ClearTokenCache()
	if _, err := p.Complete(context.Background(), models.CompletionRequest{User: "u"}); err != nil {
		t.Fatalf("Complete after clear: %v", err)
	}
	// 3 steps, then 3 again after the cache was dropped.
	if len(runner.calls) != 6 {
		t.Errorf("CLI ran %d steps, want 6", len(runner.calls))
	}
}

func jsonDecode(r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}
