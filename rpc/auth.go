package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	coreerrors "loanledger/core/errors"
	"loanledger/crypto"
)

// AuthConfig configures bearer token checks on the write routes. Tokens are
// HS256 JWTs whose subject is the caller address.
type AuthConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

type contextKey string

const contextKeyCaller contextKey = "rpc.caller"

var (
	errAuthDisabled = errors.New("write API authentication not configured")
	errMissingToken = errors.New("missing bearer token")
)

// Authenticator resolves the caller of a write request from its token.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
	logger *slog.Logger
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{
		cfg:    cfg,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		logger: logger,
	}
}

// Enabled reports whether a secret is configured.
func (a *Authenticator) Enabled() bool { return len(a.secret) > 0 }

// Middleware rejects requests without a valid token and stores the caller
// address in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := a.Authenticate(r)
		if err != nil {
			a.logger.Debug("auth: request rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
			message := "invalid token"
			if errors.Is(err, errAuthDisabled) || errors.Is(err, errMissingToken) {
				message = err.Error()
			}
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeJSONError(w, http.StatusUnauthorized, coreerrors.ClassUnauthorized.String(), message)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKeyCaller, caller)))
	})
}

// Authenticate validates the bearer token of r and returns its subject.
func (a *Authenticator) Authenticate(r *http.Request) (crypto.Address, error) {
	if !a.Enabled() {
		return crypto.Address{}, errAuthDisabled
	}
	tokenString := extractBearer(r.Header.Get("Authorization"))
	if tokenString == "" {
		return crypto.Address{}, errMissingToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return crypto.Address{}, err
	}
	if !token.Valid {
		return crypto.Address{}, errors.New("token invalid")
	}
	caller, err := crypto.DecodeAddress(strings.TrimSpace(claims.Subject))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("subject: %w", err)
	}
	if caller.IsZero() {
		return crypto.Address{}, errors.New("subject: zero address")
	}
	return caller, nil
}

// CallerFrom returns the authenticated caller stored by Middleware.
func CallerFrom(ctx context.Context) (crypto.Address, bool) {
	caller, ok := ctx.Value(contextKeyCaller).(crypto.Address)
	return caller, ok
}

// IssueToken mints a token for caller that the Authenticator built from the
// same settings accepts until now+ttl.
func IssueToken(cfg AuthConfig, caller crypto.Address, now time.Time, ttl time.Duration) (string, error) {
	secret := strings.TrimSpace(cfg.HMACSecret)
	if secret == "" {
		return "", errAuthDisabled
	}
	if caller.IsZero() {
		return "", errors.New("caller address required")
	}
	if ttl <= 0 {
		return "", errors.New("token lifetime must be positive")
	}
	claims := jwt.RegisteredClaims{
		Subject:   caller.String(),
		Issuer:    cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
