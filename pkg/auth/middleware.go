// Package auth authenticates API callers and resolves the owner id they act as.
package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/agentguard/prompt-scanner/pkg/config"
)

// Authentication types
const (
	TypeNone   = "none"
	TypeBearer = "bearer"
)

type ownerKey struct{}

// WithOwner returns a context carrying the caller's owner id
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// OwnerFromContext returns the caller's owner id, or "" when authentication is disabled
func OwnerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

// Authenticator handles API caller authentication
type Authenticator struct {
	config config.AuthConfig
	logger *logrus.Logger
}

// NewAuthenticator creates a new Authenticator instance
func NewAuthenticator(cfg config.AuthConfig, logger *logrus.Logger) *Authenticator {
	return &Authenticator{
		config: cfg,
		logger: logger,
	}
}

// Authenticate returns the owner id the request acts as
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	switch a.config.Type {
	case "", TypeNone:
		return "", nil

	case TypeBearer:
		token, err := ExtractBearerToken(r)
		if err != nil {
			return "", err
		}

		// Compare against every configured token so timing does not reveal which matched
		owner := ""
		for _, t := range a.config.Tokens {
			if constantTimeCompare(token, t.Token) && owner == "" {
				owner = t.Owner
			}
		}
		if owner == "" {
			return "", fmt.Errorf("invalid bearer token")
		}
		return owner, nil

	default:
		return "", fmt.Errorf("unsupported auth type: %s", a.config.Type)
	}
}

// Middleware returns an HTTP middleware that rejects unauthenticated requests
// and stores the caller's owner id in the request context
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, err := a.Authenticate(r)
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"remote_addr": r.RemoteAddr,
				"path":        r.URL.Path,
				"error":       err.Error(),
			}).Warn("Authentication failed")

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"authentication failed"}`))
			return
		}

		if owner != "" {
			a.logger.WithField("owner", owner).Debug("Request authenticated")
		}

		next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
	})
}
