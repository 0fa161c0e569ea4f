package rest

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/errors"
	"github.com/davidleathers/number-provisioning-gateway/internal/infrastructure/config"
)

const tokenIssuer = "number-provisioning-gateway"

// Claims is the token payload the gateway accepts. Scope is informational
// today; every authenticated caller may use the full API.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

// authMiddleware verifies bearer tokens when auth is enabled. With auth
// disabled requests pass through untouched, so local development needs no
// tokens.
func authMiddleware(cfg config.SecurityConfig, logger *zap.Logger) middleware {
	secret := []byte(cfg.JWTSecret)
	return func(next http.Handler) http.Handler {
		if !cfg.AuthRequired {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				writeError(w, r, logger, err)
				return
			}

			claims := &Claims{}
			parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
				return secret, nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !parsed.Valid {
				logger.Warn("rejected token",
					zap.String("request_id", RequestID(r.Context())),
					zap.String("remote_addr", clientIP(r)),
					zap.Error(err),
				)
				writeError(w, r, logger, errors.NewUnauthorizedError("invalid or expired token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.NewUnauthorizedError("missing authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errors.NewUnauthorizedError("authorization header must carry a bearer token")
	}
	return strings.TrimSpace(token), nil
}

// IssueToken mints a token for a service account. The gateway only verifies
// tokens at runtime; this is for operator tooling and tests.
func IssueToken(cfg config.SecurityConfig, subject, scope string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TokenExpiry)),
		},
		Scope: scope,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
}
