package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mohitmishra786/prompt-craft/internal/config"
	"github.com/mohitmishra786/prompt-craft/internal/gateway"
	"github.com/mohitmishra786/prompt-craft/internal/health"
	"github.com/mohitmishra786/prompt-craft/internal/models"
	"github.com/mohitmishra786/prompt-craft/internal/provider"
	providerfactory "github.com/mohitmishra786/prompt-craft/internal/provider/factory"
)

// newBackend fakes an OpenAI-style chat-completions endpoint.
func newBackend(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	backend := httptest.NewServer(handler)
	t.Cleanup(backend.Close)
	return backend
}

func newTestServer(t *testing.T, cfg config.Config, cfgPath string) *Server {
	t.Helper()

	registry := provider.NewRegistry()
	if err := providerfactory.Build(cfg, registry, nil); err != nil {
		t.Fatalf("Build: %v", err)
	}
	gw := gateway.New(registry, nil, nil)
	monitor := health.NewMonitor(registry, nil, nil)

	srv, err := New(cfg, cfgPath, gw, monitor, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func groqOnlyConfig(endpoint string) config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 8080},
		Providers: config.ProvidersConfig{
			Groq: config.ProviderConfig{APIKey: "test-key", Endpoint: endpoint},
		},
	}
}

func TestCompleteEndToEnd(t *testing.T) {
	backend := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"model": "llama-3.3-70b-versatile",
			"choices": [{"message": {"role": "assistant", "content": "generated text"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 10}
		}`))
	})

	srv := newTestServer(t, groqOnlyConfig(backend.URL), "")

	req := httptest.NewRequest(http.MethodPost, "/v1/complete",
		strings.NewReader(`{"system": "s", "user": "u"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Text     string `json:"text"`
		Model    string `json:"model"`
		Provider string `json:"provider"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Text == "" {
		t.Error("response text must be non-empty")
	}
	if resp.Model != "llama-3.3-70b-versatile" {
		t.Errorf("model = %q, want the provider default", resp.Model)
	}
	if resp.Provider != "groq" {
		t.Errorf("provider = %q", resp.Provider)
	}
}

func TestCompleteClassifiedErrorStatus(t *testing.T) {
	backend := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "bad key"}}`))
	})

	srv := newTestServer(t, groqOnlyConfig(backend.URL), "")

	req := httptest.NewRequest(http.MethodPost, "/v1/complete", strings.NewReader(`{"user": "u"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	var body struct {
		Error struct {
			Category string `json:"category"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error.Category != string(provider.CategoryAuthentication) {
		t.Errorf("category = %q", body.Error.Category)
	}
}

func TestCompleteRequiresUserText(t *testing.T) {
	backend := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend must not be called")
	})
	srv := newTestServer(t, groqOnlyConfig(backend.URL), "")

	req := httptest.NewRequest(http.MethodPost, "/v1/complete", strings.NewReader(`{"system": "s"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestProvidersListing(t *testing.T) {
	backend := newBackend(t, func(w http.ResponseWriter, r *http.Request) {})
	srv := newTestServer(t, groqOnlyConfig(backend.URL), "")

	req := httptest.NewRequest(http.MethodGet, "/v1/providers", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var descriptors []struct {
		Type       string `json:"type"`
		Configured bool   `json:"configured"`
		Active     bool   `json:"active"`
		Health     struct {
			State string `json:"state"`
		} `json:"health"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &descriptors); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(descriptors) != 1 || descriptors[0].Type != "groq" {
		t.Fatalf("descriptors = %+v", descriptors)
	}
	if !descriptors[0].Configured || !descriptors[0].Active {
		t.Errorf("groq should be configured and active: %+v", descriptors[0])
	}
	if descriptors[0].Health.State != string(models.HealthUnknown) {
		t.Errorf("initial health = %q, want unknown", descriptors[0].Health.State)
	}
}

func TestSetActiveRejectsUnknown(t *testing.T) {
	backend := newBackend(t, func(w http.ResponseWriter, r *http.Request) {})
	srv := newTestServer(t, groqOnlyConfig(backend.URL), "")

	req := httptest.NewRequest(http.MethodPut, "/v1/providers/active", strings.NewReader(`{"type": "openai"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409 for unregistered provider", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/v1/providers/active", strings.NewReader(`{"type": "bogus"}`))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for unknown type", rec.Code)
	}
}

func TestReloadEndpoint(t *testing.T) {
	for _, key := range []string{"GROQ_API_KEY", "OPENAI_API_KEY", "AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT"} {
		t.Setenv(key, "")
	}
	backend := newBackend(t, func(w http.ResponseWriter, r *http.Request) {})

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeYAML := func(content string) {
		if err := os.WriteFile(cfgPath, []byte(content), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	writeYAML("providers:\n  groq:\n    api_key: k\n    endpoint: " + backend.URL + "\n")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	srv := newTestServer(t, cfg, cfgPath)

	// Rewrite the file so reload picks up an openai-only world.
	writeYAML("providers:\n  openai:\n    api_key: sk\n    endpoint: " + backend.URL + "\n")

	req := httptest.NewRequest(http.MethodPost, "/v1/reload", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["active"] != "openai" {
		t.Errorf("active after reload = %q, want openai", body["active"])
	}
}

func TestLiveness(t *testing.T) {
	backend := newBackend(t, func(w http.ResponseWriter, r *http.Request) {})
	srv := newTestServer(t, groqOnlyConfig(backend.URL), "")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
