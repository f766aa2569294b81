package azure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mohitmishra786/prompt-craft/internal/models"
	"github.com/mohitmishra786/prompt-craft/internal/provider"
)

const (
	// cognitiveServicesResource scopes requested tokens to the Azure OpenAI
	// service.
	cognitiveServicesResource = "https://cognitiveservices.azure.com"

	// imdsTokenEndpoint is the link-local instance metadata address.
	imdsTokenEndpoint = "http://169.254.169.254/metadata/identity/oauth2/token"
	imdsAPIVersion    = "2018-02-01"

	// assumedCLITokenTTL is a conservative default: the CLI's text output
	// does not report the token's real expiry.
	assumedCLITokenTTL = time.Hour

	// tokenRefreshSkew regenerates tokens slightly before their nominal
	// expiry so an in-flight request never carries a just-expired token.
	tokenRefreshSkew = 2 * time.Minute
)

// tokenResolver produces a valid bearer token for a dynamic auth strategy,
// reusing a cached token while valid.
type tokenResolver interface {
	Token(ctx context.Context) (string, error)
	ClearCache()
}

// cachedToken is the resolver's session-scoped state: an opaque bearer
// string and its absolute expiry. Never persisted.
type cachedToken struct {
	value  string
	expiry time.Time
}

func (c cachedToken) valid(now time.Time) bool {
	return c.value != "" && now.Before(c.expiry.Add(-tokenRefreshSkew))
}

// commandRunner abstracts local CLI invocation.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("%s exited: %s", name, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", err
	}
	return string(out), nil
}

// cliResolver derives bearer tokens from the local Azure CLI. Two requests
// racing on an empty cache may both shell out; that is accepted, the cache
// write itself is guarded.
type cliResolver struct {
	runner commandRunner
	now    func() time.Time

	mu     sync.Mutex
	cached cachedToken
}

func newCLIResolver(runner commandRunner) *cliResolver {
	return &cliResolver{runner: runner, now: time.Now}
}

func (r *cliResolver) Token(ctx context.Context) (string, error) {
	r.mu.Lock()
	cached := r.cached
	r.mu.Unlock()
	if cached.valid(r.now()) {
		return cached.value, nil
	}

	if _, err := r.runner.Run(ctx, "az", "version", "--output", "json"); err != nil {
		return "", provider.NewError(models.ProviderAzure, provider.CategoryAuthToolUnavailable,
			"Azure CLI not found: install it from https://aka.ms/azure-cli", err)
	}

	if _, err := r.runner.Run(ctx, "az", "account", "show", "--output", "json"); err != nil {
		return "", provider.NewError(models.ProviderAzure, provider.CategoryAuthSessionMissing,
			"no active Azure CLI session: run 'az login'", err)
	}

	out, err := r.runner.Run(ctx, "az", "account", "get-access-token",
		"--resource", cognitiveServicesResource,
		"--query", "accessToken", "--output", "tsv")
	if err != nil {
		return "", provider.NewError(models.ProviderAzure, provider.CategoryAuthentication,
			"Azure CLI could not issue an access token for the Cognitive Services resource", err)
	}

	token := strings.TrimSpace(out)
	if token == "" {
		return "", provider.NewError(models.ProviderAzure, provider.CategoryAuthentication,
			"Azure CLI returned an empty access token", nil)
	}

	r.mu.Lock()
	r.cached = cachedToken{value: token, expiry: r.now().Add(assumedCLITokenTTL)}
	r.mu.Unlock()
	return token, nil
}

func (r *cliResolver) ClearCache() {
	r.mu.Lock()
	r.cached = cachedToken{}
	r.mu.Unlock()
}

// imdsResolver derives bearer tokens from the instance metadata service
// available to workloads running inside Azure.
type imdsResolver struct {
	client   *http.Client
	endpoint string
	clientID string
	now      func() time.Time

	mu     sync.Mutex
	cached cachedToken
}

func newIMDSResolver(client *http.Client, clientID string) *imdsResolver {
	return &imdsResolver{
		client:   client,
		endpoint: imdsTokenEndpoint,
		clientID: clientID,
		now:      time.Now,
	}
}

type imdsTokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}

func (r *imdsResolver) Token(ctx context.Context) (string, error) {
	r.mu.Lock()
	cached := r.cached
	r.mu.Unlock()
	if cached.valid(r.now()) {
		return cached.value, nil
	}

	query := url.Values{}
	query.Set("api-version", imdsAPIVersion)
	query.Set("resource", cognitiveServicesResource)
	if r.clientID != "" {
		// User-assigned identity.
		query.Set("client_id", r.clientID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("construct metadata request: %w", err)
	}
	req.Header.Set("Metadata", "true")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", provider.NewError(models.ProviderAzure, provider.CategoryAuthEnvironmentMismatch,
			"instance metadata service unreachable: managed identity auth only works on an Azure-hosted workload", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return "", provider.NewError(models.ProviderAzure, provider.CategoryAuthEnvironmentMismatch,
			"instance metadata service rejected the identity request: no matching managed identity on this workload", nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", provider.NewError(models.ProviderAzure, provider.CategoryAuthorization,
			"managed identity is not authorized for the Cognitive Services resource", nil)
	case resp.StatusCode >= 400:
		return "", provider.NewError(models.ProviderAzure, provider.CategoryAuthentication,
			fmt.Sprintf("instance metadata service returned status %d", resp.StatusCode), nil)
	}

	var tokenResp imdsTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", provider.NewError(models.ProviderAzure, provider.CategoryAuthentication,
			"instance metadata service returned an unparseable token response", err)
	}
	if tokenResp.AccessToken == "" {
		return "", provider.NewError(models.ProviderAzure, provider.CategoryAuthentication,
			"instance metadata service returned an empty access token", nil)
	}

	ttl := assumedCLITokenTTL
	if seconds, err := tokenResp.ExpiresIn.Int64(); err == nil && seconds > 0 {
		ttl = time.Duration(seconds) * time.Second
	}

	r.mu.Lock()
	r.cached = cachedToken{value: tokenResp.AccessToken, expiry: r.now().Add(ttl)}
	r.mu.Unlock()
	return tokenResp.AccessToken, nil
}

func (r *imdsResolver) ClearCache() {
	r.mu.Lock()
	r.cached = cachedToken{}
	r.mu.Unlock()
}
