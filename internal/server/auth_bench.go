package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// benchAuthenticator gates /_bench* behind a Bearer token, in either of
// two modes mirroring the teacher's own layered authenticators
// (resolveOIDCPrincipal / resolveSAMLPrincipal checked in sequence):
// an OIDC identity-provider token, or a locally-signed HS256 JWT for
// deployments with no IdP. Exactly one of oidcVerifier/hmacSecret is
// set.
type benchAuthenticator struct {
	oidcVerifier *oidc.IDTokenVerifier
	hmacSecret   []byte
}

// NewOIDCAuthenticator builds a benchAuthenticator that verifies tokens
// against an external OIDC provider.
func NewOIDCAuthenticator(ctx context.Context, issuerURL, clientID string) (*benchAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, strings.TrimSpace(issuerURL))
	if err != nil {
		return nil, err
	}
	verifier := provider.Verifier(&oidc.Config{ClientID: strings.TrimSpace(clientID)})
	return &benchAuthenticator{oidcVerifier: verifier}, nil
}

// NewSharedSecretAuthenticator builds a benchAuthenticator that verifies
// locally-issued HS256 JWTs against secret.
func NewSharedSecretAuthenticator(secret string) *benchAuthenticator {
	return &benchAuthenticator{hmacSecret: []byte(secret)}
}

func (a *benchAuthenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token", "UNAUTHORIZED")
			return
		}
		raw := strings.TrimSpace(authz[len("Bearer "):])
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token", "UNAUTHORIZED")
			return
		}
		if !a.verify(r.Context(), raw) {
			writeError(w, http.StatusUnauthorized, "invalid bearer token", "UNAUTHORIZED")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *benchAuthenticator) verify(ctx context.Context, raw string) bool {
	if a.oidcVerifier != nil {
		_, err := a.oidcVerifier.Verify(ctx, raw)
		if err != nil {
			slog.Debug("oidc bench token rejected", "error", err)
			return false
		}
		return true
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return a.hmacSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		slog.Debug("shared-secret bench token rejected", "error", err)
		return false
	}
	return true
}
