package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"pushcron/internal/config"
)

type actorKey struct{}

// actorFrom returns the authenticated subject, if any.
func actorFrom(ctx context.Context) string {
	s, _ := ctx.Value(actorKey{}).(string)
	return s
}

// authenticator rejects requests without a verified token. It must run after
// jwtauth.Verifier.
func authenticator(auth config.AuthConfig) func(http.Handler) http.Handler {
	var opts []jwt.ValidateOption
	if auth.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(auth.Issuer))
	}
	if auth.Audience != "" {
		opts = append(opts, jwt.WithAudience(auth.Audience))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, _, err := jwtauth.FromContext(r.Context())
			if err != nil || token == nil {
				ErrUnauthenticated.Write(w)
				return
			}
			if len(opts) > 0 {
				if err := jwt.Validate(token, opts...); err != nil {
					ErrUnauthenticated.Withf("token rejected: %v", err).Write(w)
					return
				}
			}
			ctx := context.WithValue(r.Context(), actorKey{}, token.Subject())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MintToken returns an HS256 token accepted by the custom endpoint.
func MintToken(auth config.AuthConfig, subject string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(auth.Secret) == "" {
		return "", errors.New("auth secret is empty")
	}
	claims := map[string]interface{}{}
	if subject != "" {
		claims[jwt.SubjectKey] = subject
	}
	if auth.Issuer != "" {
		claims[jwt.IssuerKey] = auth.Issuer
	}
	if auth.Audience != "" {
		claims[jwt.AudienceKey] = auth.Audience
	}
	jwtauth.SetIssuedNow(claims)
	if ttl > 0 {
		jwtauth.SetExpiryIn(claims, ttl)
	}
	_, s, err := jwtauth.New("HS256", []byte(auth.Secret), nil).Encode(claims)
	return s, err
}
