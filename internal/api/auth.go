package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/mesh-intelligence/folio/pkg/types"
)

// Issuer is the iss claim of tokens minted by IssueToken.
const Issuer = "folio"

// ErrNoSecret is returned when tokens are issued without a signing secret.
var ErrNoSecret = errors.New("jwt secret is not configured")

type contextKey string

const principalKey contextKey = "principal"

// PrincipalResolver looks up the principal named by a token subject.
type PrincipalResolver interface {
	Principal(ctx context.Context, id string) (types.Principal, error)
}

// Auth resolves the requesting principal from an HS256 bearer token whose
// subject is the principal ID. Requests without a token run as the
// anonymous principal.
type Auth struct {
	secret     []byte
	principals PrincipalResolver
	log        zerolog.Logger
}

func NewAuth(secret string, principals PrincipalResolver, log zerolog.Logger) *Auth {
	return &Auth{
		secret:     []byte(secret),
		principals: principals,
		log:        log.With().Str("component", "jwt_auth").Logger(),
	}
}

// IssueToken signs a token for principalID valid for ttl.
func IssueToken(secret, principalID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   principalID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Middleware stores the resolved principal in the request context.
func (a *Auth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				WriteError(w, http.StatusUnauthorized, CodeUnauthorized, "expected Authorization: Bearer <token>")
				return
			}
			p, err := a.resolve(r.Context(), token)
			if err != nil {
				a.log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("token rejected")
				WriteError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func (a *Auth) resolve(ctx context.Context, tokenString string) (types.Principal, error) {
	if len(a.secret) == 0 {
		return types.Principal{}, ErrNoSecret
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(Issuer),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil {
		return types.Principal{}, err
	}
	if claims.Subject == "" {
		return types.Principal{}, errors.New("token has no subject")
	}
	p, err := a.principals.Principal(ctx, claims.Subject)
	if err != nil {
		return types.Principal{}, fmt.Errorf("token subject: %w", err)
	}
	return p, nil
}

// WithPrincipal returns ctx carrying p.
func WithPrincipal(ctx context.Context, p types.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the request principal, or the anonymous
// principal when none was resolved.
func PrincipalFromContext(ctx context.Context) types.Principal {
	if p, ok := ctx.Value(principalKey).(types.Principal); ok {
		return p
	}
	return types.AnonymousPrincipal
}
