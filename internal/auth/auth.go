package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/STRATINT/connectors/internal/logging"
	"github.com/STRATINT/connectors/internal/models"
	"github.com/STRATINT/connectors/internal/result"
	"log/slog"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const subjectContextKey contextKey = "subject"

// ServiceSubject is the subject of callers presenting the raw shared secret.
const ServiceSubject = "front"

const issuer = "connectors"

// Config holds authentication configuration
type Config struct {
	Secret        string
	TokenDuration time.Duration
}

// Claims represents the JWT claims
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// OperatorScope is the scope of tokens minted for operators.
const OperatorScope = "connectors:operate"

// GenerateToken creates a new JWT token for an operator
func GenerateToken(subject string, secret string, duration time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("empty signing secret")
	}
	now := time.Now()
	claims := Claims{
		Scope: OperatorScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateToken validates a JWT token and returns its subject
func ValidateToken(tokenString string, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		return "", err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.Subject != "" && claims.Scope == OperatorScope {
		return claims.Subject, nil
	}

	return "", fmt.Errorf("invalid token")
}

// Authenticate resolves a bearer credential to a subject. The shared secret
// itself authenticates the front service; anything else must be a token
// signed with it.
func Authenticate(credential string, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("authentication is not configured")
	}
	if subtle.ConstantTimeCompare([]byte(credential), []byte(secret)) == 1 {
		return ServiceSubject, nil
	}
	return ValidateToken(credential, secret)
}

// Middleware rejects requests without a valid bearer credential and stores
// the caller's subject, and a logger carrying it, in the request context.
func Middleware(config Config, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "Authorization header required")
				return
			}

			scheme, credential, ok := strings.Cut(authHeader, " ")
			if !ok || scheme != "Bearer" || credential == "" {
				unauthorized(w, "Invalid authorization header format")
				return
			}

			subject, err := Authenticate(credential, config.Secret)
			if err != nil {
				logger.Debug("rejected credential", "error", err, "path", r.URL.Path)
				unauthorized(w, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), subjectContextKey, subject)
			ctx = logging.WithContext(ctx, logging.FromContext(ctx, logger).With("subject", subject))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SubjectFromContext extracts the authenticated subject from the request context
func SubjectFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(subjectContextKey).(string)
	return subject, ok
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(models.ErrorResponse{
		Error: *result.NewError(result.ErrorTypeUnauthorized, message),
	})
}
