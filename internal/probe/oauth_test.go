package probe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func newTestOAuthContext(serverURL string) *oauthContext {
	return newOAuthContext(serverURL, OAuthOptions{
		Enabled:      true,
		ClientID:     "mcp-probe",
		RedirectPort: 8765,
	}, testTimeoutNormal, testLogger())
}

func TestParseWWWAuthenticate(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    *WWWAuthenticateChallenge
		wantErr bool
	}{
		{
			name:   "bearer with resource metadata",
			header: `Bearer resource_metadata="https://mcp.example.com/.well-known/oauth-protected-resource"`,
			want: &WWWAuthenticateChallenge{
				Scheme:              "Bearer",
				ResourceMetadataURL: "https://mcp.example.com/.well-known/oauth-protected-resource",
			},
		},
		{
			name:   "bearer with scope and error",
			header: `Bearer scope="files:read files:write", error="insufficient_scope", error_description="Need more scope"`,
			want: &WWWAuthenticateChallenge{
				Scheme:           "Bearer",
				Scopes:           []string{"files:read", "files:write"},
				Error:            "insufficient_scope",
				ErrorDescription: "Need more scope",
			},
		},
		{
			name:   "scheme only",
			header: "Bearer",
			want:   &WWWAuthenticateChallenge{Scheme: "Bearer"},
		},
		{
			name:   "unquoted parameter values",
			header: `Bearer realm=mcp, error=invalid_token`,
			want: &WWWAuthenticateChallenge{
				Scheme: "Bearer",
				Error:  "invalid_token",
			},
		},
		{
			name:   "quoted comma preserved",
			header: `Bearer error_description="first, second"`,
			want: &WWWAuthenticateChallenge{
				Scheme:           "Bearer",
				ErrorDescription: "first, second",
			},
		},
		{
			name:   "non-bearer scheme",
			header: `Basic realm="files"`,
			want:   &WWWAuthenticateChallenge{Scheme: "Basic"},
		},
		{
			name:    "empty header",
			header:  "",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseWWWAuthenticate(tt.header)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseWWWAuthenticate() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestBuildWellKnownURIs(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		want     []string
		wantErr  bool
	}{
		{
			name:     "endpoint with path",
			endpoint: "https://mcp.example.com/mcp",
			want: []string{
				"https://mcp.example.com/.well-known/oauth-protected-resource/mcp",
				"https://mcp.example.com/.well-known/oauth-protected-resource",
			},
		},
		{
			name:     "endpoint without path",
			endpoint: "https://mcp.example.com",
			want: []string{
				"https://mcp.example.com/.well-known/oauth-protected-resource",
			},
		},
		{
			name:     "root path only",
			endpoint: "https://mcp.example.com/",
			want: []string{
				"https://mcp.example.com/.well-known/oauth-protected-resource",
			},
		},
		{
			name:     "missing scheme",
			endpoint: "mcp.example.com/mcp",
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildWellKnownURIs(tt.endpoint)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("buildWellKnownURIs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildASMetadataEndpoints(t *testing.T) {
	tests := []struct {
		name    string
		issuer  string
		want    []string
		wantErr bool
	}{
		{
			name:   "issuer without path",
			issuer: "https://auth.example.com",
			want: []string{
				"https://auth.example.com/.well-known/oauth-authorization-server",
				"https://auth.example.com/.well-known/openid-configuration",
			},
		},
		{
			name:   "issuer with path",
			issuer: "https://auth.example.com/tenant1",
			want: []string{
				"https://auth.example.com/.well-known/oauth-authorization-server/tenant1",
				"https://auth.example.com/.well-known/openid-configuration/tenant1",
				"https://auth.example.com/tenant1/.well-known/openid-configuration",
			},
		},
		{
			name:    "relative issuer",
			issuer:  "/tenant1",
			wantErr: true,
		},
		{
			name:    "unsupported scheme",
			issuer:  "ftp://auth.example.com",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildASMetadataEndpoints(tt.issuer)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("buildASMetadataEndpoints() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateProtectedResourceMetadata(t *testing.T) {
	tests := []struct {
		name    string
		meta    ProtectedResourceMetadata
		wantErr bool
	}{
		{
			name: "valid",
			meta: ProtectedResourceMetadata{
				Resource:             "https://mcp.example.com",
				AuthorizationServers: []string{"https://auth.example.com"},
			},
		},
		{
			name:    "missing resource",
			meta:    ProtectedResourceMetadata{AuthorizationServers: []string{"https://auth.example.com"}},
			wantErr: true,
		},
		{
			name:    "no authorization servers",
			meta:    ProtectedResourceMetadata{Resource: "https://mcp.example.com"},
			wantErr: true,
		},
		{
			name: "relative authorization server",
			meta: ProtectedResourceMetadata{
				Resource:             "https://mcp.example.com",
				AuthorizationServers: []string{"/auth"},
			},
			wantErr: true,
		},
		{
			name: "non-http scheme",
			meta: ProtectedResourceMetadata{
				Resource:             "https://mcp.example.com",
				AuthorizationServers: []string{"ftp://auth.example.com"},
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateProtectedResourceMetadata(&tt.meta)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateProtectedResourceMetadata() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateASMetadata(t *testing.T) {
	valid := AuthorizationServerMetadata{
		Issuer:                "https://auth.example.com",
		AuthorizationEndpoint: "https://auth.example.com/authorize",
		TokenEndpoint:         "https://auth.example.com/token",
	}
	if err := validateASMetadata(&valid); err != nil {
		t.Errorf("valid metadata rejected: %v", err)
	}

	missing := []AuthorizationServerMetadata{
		{AuthorizationEndpoint: "https://a/authorize", TokenEndpoint: "https://a/token"},
		{Issuer: "https://a", TokenEndpoint: "https://a/token"},
		{Issuer: "https://a", AuthorizationEndpoint: "https://a/authorize"},
	}
	for i, meta := range missing {
		if err := validateASMetadata(&meta); err == nil {
			t.Errorf("case %d: incomplete metadata accepted", i)
		}
	}
}

func TestSupportsS256(t *testing.T) {
	with := AuthorizationServerMetadata{CodeChallengeMethods: []string{"plain", "S256"}}
	if !with.SupportsS256() {
		t.Error("S256 not detected")
	}
	without := AuthorizationServerMetadata{CodeChallengeMethods: []string{"plain"}}
	if without.SupportsS256() {
		t.Error("S256 falsely detected")
	}
}

func TestProbeUnauthenticated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("unauthenticated probe must not carry credentials")
		}
		w.Header().Set("WWW-Authenticate", `Bearer resource_metadata="https://mcp.example.com/.well-known/oauth-protected-resource"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	oc := newTestOAuthContext(server.URL)
	if err := oc.probeUnauthenticated(context.Background()); err != nil {
		t.Fatalf("probeUnauthenticated() error: %v", err)
	}
	if oc.status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", oc.status)
	}
	if oc.challenge == nil || oc.challenge.ResourceMetadataURL == "" {
		t.Errorf("challenge not captured: %+v", oc.challenge)
	}
}

func TestDiscoverProtectedResource(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-protected-resource/mcp", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	// The path-based URI 404s; discovery must fall back to the root one.
	mux.HandleFunc("/.well-known/oauth-protected-resource", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ProtectedResourceMetadata{
			Resource:             server.URL,
			AuthorizationServers: []string{"https://auth.example.com"},
		})
	})

	oc := newTestOAuthContext(server.URL + "/mcp")
	meta, err := oc.discoverProtectedResource(context.Background())
	if err != nil {
		t.Fatalf("discoverProtectedResource() error: %v", err)
	}
	if meta.Resource != server.URL {
		t.Errorf("resource = %q, want %q", meta.Resource, server.URL)
	}
	if oc.authServer != "https://auth.example.com" {
		t.Errorf("authServer = %q", oc.authServer)
	}
}

func TestDiscoverProtectedResourcePrefersChallenge(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/custom/prm", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ProtectedResourceMetadata{
			Resource:             server.URL,
			AuthorizationServers: []string{"https://auth.example.com"},
		})
	})

	oc := newTestOAuthContext(server.URL + "/mcp")
	oc.challenge = &WWWAuthenticateChallenge{
		Scheme:              "Bearer",
		ResourceMetadataURL: server.URL + "/custom/prm",
	}
	if _, err := oc.discoverProtectedResource(context.Background()); err != nil {
		t.Fatalf("discoverProtectedResource() error: %v", err)
	}
	if oc.prMeta == nil {
		t.Fatal("metadata not stored")
	}
}

func TestDiscoverProtectedResourceNotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	oc := newTestOAuthContext(server.URL + "/mcp")
	if _, err := oc.discoverProtectedResource(context.Background()); err == nil {
		t.Fatal("expected discovery failure")
	}
}

func TestDiscoverAuthorizationServer(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(AuthorizationServerMetadata{
			Issuer:                server.URL,
			AuthorizationEndpoint: server.URL + "/authorize",
			TokenEndpoint:         server.URL + "/token",
			CodeChallengeMethods:  []string{"S256"},
		})
	})

	oc := newTestOAuthContext("https://mcp.example.com")
	oc.authServer = server.URL
	meta, err := oc.discoverAuthorizationServer(context.Background())
	if err != nil {
		t.Fatalf("discoverAuthorizationServer() error: %v", err)
	}
	if !meta.SupportsS256() {
		t.Error("S256 support not captured")
	}
	if oc.asMeta == nil {
		t.Error("metadata not stored on the context")
	}
}

func TestDiscoverAuthorizationServerWithoutDiscovery(t *testing.T) {
	oc := newTestOAuthContext("https://mcp.example.com")
	if _, err := oc.discoverAuthorizationServer(context.Background()); err == nil {
		t.Fatal("expected an error when no authorization server is known")
	}
}

func TestFetchJSONGuards(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "non-200 status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", http.StatusForbidden)
			},
		},
		{
			name: "wrong content type",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				_, _ = w.Write([]byte(`{"issuer":"x"}`))
			},
		},
		{
			name: "invalid json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"issuer": truncated`))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			oc := newTestOAuthContext(server.URL)
			var out map[string]any
			if err := oc.fetchJSON(context.Background(), server.URL, &out); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestRetryWithToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	oc := newTestOAuthContext(server.URL)
	if _, err := oc.retryWithToken(context.Background()); err == nil {
		t.Fatal("retry without a token must fail")
	}

	oc.token = &oauth2.Token{AccessToken: "tok", TokenType: "Bearer"}
	status, err := oc.retryWithToken(context.Background())
	if err != nil {
		t.Fatalf("retryWithToken() error: %v", err)
	}
	if status != http.StatusOK {
		t.Errorf("status = %d, want 200", status)
	}
}

func TestOpenBrowserRejectsNonHTTP(t *testing.T) {
	if err := openBrowser("file:///etc/passwd"); err == nil {
		t.Error("non-http scheme must be rejected")
	}
}
