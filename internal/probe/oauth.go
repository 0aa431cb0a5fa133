package probe

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	// Maximum size for metadata documents (1MB).
	maxMetadataSize = 1024 * 1024

	// HTTP timeout for metadata requests.
	metadataRequestTimeout = 10 * time.Second

	oauthUserAgent = "mcp-probe/" + ProbeVersion

	// How long the loopback listener waits for the browser redirect.
	authorizationWait = 5 * time.Minute

	pkceMethodS256 = "S256"
)

// ProtectedResourceMetadata is OAuth 2.0 Protected Resource Metadata per
// RFC 9728.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	ResourceDocumentation  string   `json:"resource_documentation,omitempty"`
}

// AuthorizationServerMetadata is OAuth 2.0 Authorization Server Metadata
// per RFC 8414, which is a superset of the OIDC Discovery document.
type AuthorizationServerMetadata struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	RegistrationEndpoint  string   `json:"registration_endpoint,omitempty"`
	CodeChallengeMethods  []string `json:"code_challenge_methods_supported,omitempty"`
	ScopesSupported       []string `json:"scopes_supported,omitempty"`
	GrantTypesSupported   []string `json:"grant_types_supported,omitempty"`
}

// SupportsS256 reports whether the server advertises the S256 PKCE method.
func (m *AuthorizationServerMetadata) SupportsS256() bool {
	for _, method := range m.CodeChallengeMethods {
		if method == pkceMethodS256 {
			return true
		}
	}
	return false
}

// WWWAuthenticateChallenge is a parsed WWW-Authenticate header.
type WWWAuthenticateChallenge struct {
	Scheme              string
	ResourceMetadataURL string
	Scopes              []string
	Error               string
	ErrorDescription    string
}

// parseWWWAuthenticate extracts OAuth challenge parameters from a
// WWW-Authenticate header value per RFC 6750 and RFC 9728.
//
// Example header:
//
//	WWW-Authenticate: Bearer resource_metadata="https://mcp.example.com/.well-known/oauth-protected-resource",
//	                         scope="files:read",
//	                         error="insufficient_scope"
func parseWWWAuthenticate(header string) (*WWWAuthenticateChallenge, error) {
	if header == "" {
		return nil, fmt.Errorf("empty WWW-Authenticate header")
	}

	parts := strings.SplitN(header, " ", 2)
	challenge := &WWWAuthenticateChallenge{Scheme: parts[0]}

	if len(parts) == 2 {
		params := parseAuthParams(parts[1])
		challenge.ResourceMetadataURL = params["resource_metadata"]
		challenge.Error = params["error"]
		challenge.ErrorDescription = params["error_description"]
		if scope := params["scope"]; scope != "" {
			challenge.Scopes = strings.Fields(scope)
		}
	}

	return challenge, nil
}

// parseAuthParams parses challenge parameters of the form
// key1="value1", key2=value2, handling quoted commas.
func parseAuthParams(params string) map[string]string {
	result := make(map[string]string)

	for _, part := range splitPreservingQuotes(params, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		eqIdx := strings.Index(part, "=")
		if eqIdx == -1 {
			continue
		}
		key := strings.TrimSpace(part[:eqIdx])
		value := strings.TrimSpace(part[eqIdx+1:])
		if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
			value = value[1 : len(value)-1]
		}
		if key != "" {
			result[key] = value
		}
	}

	return result
}

// splitPreservingQuotes splits by delimiter outside quoted sections.
func splitPreservingQuotes(s string, delimiter byte) []string {
	var result []string
	var current strings.Builder
	inQuotes := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '"':
			inQuotes = !inQuotes
			current.WriteByte(ch)
		case ch == delimiter && !inQuotes:
			result = append(result, current.String())
			current.Reset()
		default:
			current.WriteByte(ch)
		}
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}

	return result
}

// oauthContext carries the state of the authorization sub-flow across the
// auth suite's checks: the unauthenticated probe result, both discovery
// documents, and eventually the token.
type oauthContext struct {
	serverURL    string
	clientID     string
	redirectPort int
	logger       *Logger
	client       *http.Client

	status     int
	challenge  *WWWAuthenticateChallenge
	prMeta     *ProtectedResourceMetadata
	authServer string
	asMeta     *AuthorizationServerMetadata
	token      *oauth2.Token
}

func newOAuthContext(serverURL string, opts OAuthOptions, timeout time.Duration, logger *Logger) *oauthContext {
	return &oauthContext{
		serverURL:    serverURL,
		clientID:     opts.ClientID,
		redirectPort: opts.RedirectPort,
		logger:       logger,
		client:       &http.Client{Timeout: timeout},
	}
}

// probeUnauthenticated POSTs an empty JSON body with no credentials and
// records the status plus any WWW-Authenticate challenge.
func (oc *oauthContext) probeUnauthenticated(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, oc.serverURL, strings.NewReader("{}"))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := oc.client.Do(req)
	if err != nil {
		return &OAuthFlowError{Step: "probe", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxMetadataSize))

	oc.status = resp.StatusCode
	if header := resp.Header.Get("WWW-Authenticate"); header != "" {
		oc.challenge, _ = parseWWWAuthenticate(header)
	}
	return nil
}

// discoverProtectedResource locates Protected Resource Metadata per
// RFC 9728: the challenge's resource_metadata URL first, then the
// path-based well-known URI, then the root one.
func (oc *oauthContext) discoverProtectedResource(ctx context.Context) (*ProtectedResourceMetadata, error) {
	var candidates []string
	if oc.challenge != nil && oc.challenge.ResourceMetadataURL != "" {
		oc.logger.InfoVerbose("Using resource_metadata URL from WWW-Authenticate: %s", oc.challenge.ResourceMetadataURL)
		candidates = append(candidates, oc.challenge.ResourceMetadataURL)
	}
	wellKnown, err := buildWellKnownURIs(oc.serverURL)
	if err != nil {
		return nil, &OAuthFlowError{Step: "discovery", Err: err}
	}
	candidates = append(candidates, wellKnown...)

	var lastErr error
	for i, uri := range candidates {
		oc.logger.InfoVerbose("Trying protected resource metadata URI (%d/%d): %s", i+1, len(candidates), uri)
		var meta ProtectedResourceMetadata
		if err := oc.fetchJSON(ctx, uri, &meta); err != nil {
			lastErr = err
			continue
		}
		if err := validateProtectedResourceMetadata(&meta); err != nil {
			lastErr = err
			continue
		}
		oc.prMeta = &meta
		oc.authServer = meta.AuthorizationServers[0]
		return &meta, nil
	}
	if lastErr != nil {
		return nil, &OAuthFlowError{Step: "discovery", Err: lastErr}
	}
	return nil, &OAuthFlowError{Step: "discovery", Err: fmt.Errorf("no protected resource metadata found")}
}

// buildWellKnownURIs constructs the RFC 9728 well-known URIs for an MCP
// endpoint, path-based discovery first.
func buildWellKnownURIs(endpoint string) ([]string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse endpoint URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("endpoint URL must include scheme and host")
	}

	baseURL := fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
	var uris []string
	if parsed.Path != "" && parsed.Path != "/" {
		path := strings.TrimPrefix(parsed.Path, "/")
		uris = append(uris, fmt.Sprintf("%s/.well-known/oauth-protected-resource/%s", baseURL, path))
	}
	uris = append(uris, baseURL+"/.well-known/oauth-protected-resource")
	return uris, nil
}

func validateProtectedResourceMetadata(meta *ProtectedResourceMetadata) error {
	if meta.Resource == "" {
		return fmt.Errorf("missing required field: resource")
	}
	if len(meta.AuthorizationServers) == 0 {
		return fmt.Errorf("missing required field: authorization_servers")
	}
	for i, asURL := range meta.AuthorizationServers {
		parsed, err := url.Parse(asURL)
		if err != nil {
			return fmt.Errorf("invalid authorization server URL at index %d: %w", i, err)
		}
		if !parsed.IsAbs() || parsed.Host == "" {
			return fmt.Errorf("authorization server URL at index %d must be absolute: %s", i, asURL)
		}
		if parsed.Scheme != "https" && parsed.Scheme != "http" {
			return fmt.Errorf("authorization server URL at index %d must use http or https: %s", i, asURL)
		}
	}
	return nil
}

// discoverAuthorizationServer fetches Authorization Server Metadata for the
// issuer per RFC 8414 and OIDC Discovery. Endpoints are probed in priority
// order; path-bearing issuers get the path-insertion forms first.
func (oc *oauthContext) discoverAuthorizationServer(ctx context.Context) (*AuthorizationServerMetadata, error) {
	if oc.authServer == "" {
		return nil, &OAuthFlowError{Step: "discovery", Err: fmt.Errorf("no authorization server discovered")}
	}
	endpoints, err := buildASMetadataEndpoints(oc.authServer)
	if err != nil {
		return nil, &OAuthFlowError{Step: "discovery", Err: err}
	}

	var lastErr error
	for i, endpoint := range endpoints {
		oc.logger.InfoVerbose("Trying AS metadata endpoint (%d/%d): %s", i+1, len(endpoints), endpoint)
		var meta AuthorizationServerMetadata
		if err := oc.fetchJSON(ctx, endpoint, &meta); err != nil {
			lastErr = err
			continue
		}
		if err := validateASMetadata(&meta); err != nil {
			lastErr = err
			continue
		}
		oc.asMeta = &meta
		return &meta, nil
	}
	if lastErr != nil {
		return nil, &OAuthFlowError{Step: "discovery", Err: lastErr}
	}
	return nil, &OAuthFlowError{Step: "discovery", Err: fmt.Errorf("no AS metadata found at any discovery endpoint")}
}

// buildASMetadataEndpoints constructs AS metadata discovery endpoints per
// RFC 8414 Section 3 and OIDC Discovery Section 4.
func buildASMetadataEndpoints(issuerURL string) ([]string, error) {
	parsed, err := url.Parse(issuerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid issuer URL: %w", err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return nil, fmt.Errorf("issuer URL must be absolute with host")
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return nil, fmt.Errorf("issuer URL must use http or https scheme")
	}

	baseURL := fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
	path := strings.Trim(parsed.Path, "/")

	var endpoints []string
	if path != "" {
		endpoints = append(endpoints,
			fmt.Sprintf("%s/.well-known/oauth-authorization-server/%s", baseURL, path),
			fmt.Sprintf("%s/.well-known/openid-configuration/%s", baseURL, path),
			fmt.Sprintf("%s/%s/.well-known/openid-configuration", baseURL, path),
		)
	} else {
		endpoints = append(endpoints,
			baseURL+"/.well-known/oauth-authorization-server",
			baseURL+"/.well-known/openid-configuration",
		)
	}
	return endpoints, nil
}

func validateASMetadata(meta *AuthorizationServerMetadata) error {
	if meta.Issuer == "" {
		return fmt.Errorf("missing required field: issuer")
	}
	if meta.AuthorizationEndpoint == "" {
		return fmt.Errorf("missing required field: authorization_endpoint")
	}
	if meta.TokenEndpoint == "" {
		return fmt.Errorf("missing required field: token_endpoint")
	}
	return nil
}

// fetchJSON GETs one metadata document with size and content-type guards.
func (oc *oauthContext) fetchJSON(ctx context.Context, rawURL string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, metadataRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create metadata request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", oauthUserAgent)

	resp, err := oc.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metadata request failed with status %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "application/json") {
		return fmt.Errorf("unexpected Content-Type: %s (expected application/json)", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataSize))
	if err != nil {
		return fmt.Errorf("failed to read metadata response: %w", err)
	}
	if int64(len(body)) >= maxMetadataSize {
		return fmt.Errorf("metadata response exceeds maximum size of %d bytes", maxMetadataSize)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse metadata JSON: %w", err)
	}
	return nil
}

// authorize runs the interactive authorization code flow: loopback redirect
// listener, browser hand-off, state verification, and PKCE-protected code
// exchange. The MCP endpoint URL is bound in as the resource indicator per
// RFC 8707.
func (oc *oauthContext) authorize(ctx context.Context) (*oauth2.Token, error) {
	if oc.asMeta == nil {
		return nil, &OAuthFlowError{Step: "authorize", Err: fmt.Errorf("authorization server metadata not discovered")}
	}

	redirectURL := fmt.Sprintf("http://127.0.0.1:%d/callback", oc.redirectPort)
	conf := &oauth2.Config{
		ClientID:    oc.clientID,
		RedirectURL: redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  oc.asMeta.AuthorizationEndpoint,
			TokenURL: oc.asMeta.TokenEndpoint,
		},
	}
	if oc.prMeta != nil {
		conf.Scopes = oc.prMeta.ScopesSupported
	}

	state, err := randomState()
	if err != nil {
		return nil, &OAuthFlowError{Step: "authorize", Err: err}
	}
	verifier := oauth2.GenerateVerifier()

	authURL := conf.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("resource", oc.serverURL),
	)

	params, err := oc.awaitCallback(ctx, redirectURL, authURL)
	if err != nil {
		return nil, err
	}
	if params["state"] != state {
		return nil, &OAuthFlowError{Step: "authorize", Err: fmt.Errorf("state mismatch (CSRF protection)")}
	}
	code := params["code"]
	if code == "" {
		return nil, &OAuthFlowError{Step: "authorize", Err: fmt.Errorf("no authorization code received")}
	}

	oc.logger.Success("Authorization code received")
	oc.logger.Info("Exchanging code for access token...")

	token, err := conf.Exchange(ctx, code,
		oauth2.VerifierOption(verifier),
		oauth2.SetAuthURLParam("resource", oc.serverURL),
	)
	if err != nil {
		return nil, &OAuthFlowError{Step: "exchange", Err: err}
	}

	oc.token = token
	oc.logger.Success("Access token obtained")
	return token, nil
}

// awaitCallback serves the loopback redirect endpoint on an isolated mux,
// opens the browser, and waits for the authorization redirect.
func (oc *oauthContext) awaitCallback(ctx context.Context, redirectURL, authURL string) (map[string]string, error) {
	parsed, err := url.Parse(redirectURL)
	if err != nil {
		return nil, &OAuthFlowError{Step: "authorize", Err: fmt.Errorf("invalid redirect URI: %w", err)}
	}

	callbackChan := make(chan map[string]string, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(parsed.Path, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		params := make(map[string]string)
		for key, values := range r.URL.Query() {
			if len(values) > 0 {
				params[key] = values[0]
			}
		}

		if params["error"] != "" {
			errChan <- fmt.Errorf("authorization error: %s - %s", params["error"], params["error_description"])
			http.Error(w, "Authorization failed", http.StatusBadRequest)
			return
		}

		callbackChan <- params
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><h1>Authorization successful</h1><p>You can close this window.</p></body></html>`))
	})

	server := &http.Server{
		Addr:         parsed.Host,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("callback server error: %w", err)
		}
	}()
	defer func() { _ = server.Shutdown(context.Background()) }()

	oc.logger.Info("Opening browser for authorization...")
	oc.logger.Info("Authorization URL: %s", authURL)
	if err := openBrowser(authURL); err != nil {
		oc.logger.Warning("Could not open browser automatically: %v", err)
		oc.logger.Info("Please open this URL in your browser:")
		oc.logger.Info("%s", authURL)
	}

	oc.logger.Info("Waiting for authorization...")
	select {
	case params := <-callbackChan:
		return params, nil
	case err := <-errChan:
		return nil, &OAuthFlowError{Step: "authorize", Err: err}
	case <-time.After(authorizationWait):
		return nil, &OAuthFlowError{Step: "authorize", Err: fmt.Errorf("authorization timeout")}
	case <-ctx.Done():
		return nil, &OAuthFlowError{Step: "authorize", Err: ctx.Err()}
	}
}

// retryWithToken replays the unauthenticated probe with the Bearer token
// and returns the resulting status code.
func (oc *oauthContext) retryWithToken(ctx context.Context) (int, error) {
	if oc.token == nil {
		return 0, &OAuthFlowError{Step: "retry", Err: fmt.Errorf("no token available")}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, oc.serverURL, strings.NewReader("{}"))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	oc.token.SetAuthHeader(req)

	resp, err := oc.client.Do(req)
	if err != nil {
		return 0, &OAuthFlowError{Step: "retry", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxMetadataSize))
	return resp.StatusCode, nil
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// openBrowser opens the URL in the platform's default browser. Only
// http(s) URLs are ever handed to the OS.
func openBrowser(urlStr string) error {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme for browser: %s (only http/https allowed)", parsed.Scheme)
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", urlStr)
	case "darwin":
		cmd = exec.Command("open", urlStr)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", urlStr)
	default:
		return fmt.Errorf("unsupported platform")
	}
	return cmd.Start()
}
