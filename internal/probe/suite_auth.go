package probe

import (
	"context"
	"net/http"
	"os"

	"golang.org/x/term"
)

// authSuite probes the OAuth 2.1 surface of an HTTP server. It runs before
// the handshake: all requests here go over plain HTTP, not the session.
func authSuite() suiteDef {
	return suiteDef{
		Name: "auth",
		Checks: []checkDef{
			{
				ID:          "AUTH-001",
				Description: "Server returns 401 with WWW-Authenticate",
				Severity:    SeverityInfo,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					oc := rc.oauth
					if err := oc.probeUnauthenticated(ctx); err != nil {
						return Fail("Unauthenticated probe failed: %v", err)
					}
					if oc.status != http.StatusUnauthorized {
						return Info("Server returned %d, not 401 (no auth required)", oc.status)
					}
					if oc.challenge == nil {
						return Info("401 without WWW-Authenticate header")
					}
					if oc.challenge.Scheme == "Bearer" {
						return Pass("401 with Bearer challenge (resource_metadata=%q)", oc.challenge.ResourceMetadataURL)
					}
					return Info("401 with WWW-Authenticate but no Bearer: %s", oc.challenge.Scheme)
				},
			},
			{
				ID:          "AUTH-002",
				Description: "Protected Resource Metadata discovery",
				Severity:    SeverityInfo,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					meta, err := rc.oauth.discoverProtectedResource(ctx)
					if err != nil {
						return Fail("Protected Resource Metadata endpoint unavailable or invalid: %v", err)
					}
					return Pass("Found %d authorization server(s): %s",
						len(meta.AuthorizationServers), meta.AuthorizationServers[0])
				},
			},
			{
				ID:          "AUTH-003",
				Description: "OAuth Authorization Server Metadata discovery",
				Severity:    SeverityInfo,
				Run: func(ctx context.Context, rc *runContext) Outcome {
					oc := rc.oauth
					if oc.authServer == "" {
						return Skip("No authorization server discovered (AUTH-002 did not run or failed)")
					}
					meta, err := oc.discoverAuthorizationServer(ctx)
					if err != nil {
						return Fail("OAuth metadata unavailable for %s: %v", oc.authServer, err)
					}
					if !meta.SupportsS256() {
						return Pass("authorization_endpoint=%s, token_endpoint=%s (no S256 PKCE advertised)",
							meta.AuthorizationEndpoint, meta.TokenEndpoint)
					}
					return Pass("authorization_endpoint=%s, token_endpoint=%s",
						meta.AuthorizationEndpoint, meta.TokenEndpoint)
				},
			},
			{
				ID:          "AUTH-004",
				Description: "Full OAuth flow with Bearer token",
				Severity:    SeverityError,
				Run:         checkFullOAuthFlow,
			},
		},
	}
}

// checkFullOAuthFlow drives the interactive authorization code flow end to
// end and replays the request with the obtained Bearer token. It needs a
// human at a terminal; headless runs skip.
func checkFullOAuthFlow(ctx context.Context, rc *runContext) Outcome {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return Skip("Non-interactive terminal, cannot perform OAuth flow")
	}
	oc := rc.oauth
	if oc.asMeta == nil {
		return Skip("No authorization server metadata discovered")
	}

	if _, err := oc.authorize(ctx); err != nil {
		return Fail("OAuth flow failed: %v", err)
	}

	status, err := oc.retryWithToken(ctx)
	if err != nil {
		return Fail("Authenticated request failed: %v", err)
	}
	if status == http.StatusUnauthorized {
		return Fail("Still 401 after OAuth flow, token not accepted")
	}
	return Pass("Authenticated request returned HTTP %d", status)
}
