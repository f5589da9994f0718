// Package auth maps bearer tokens to configured clients and checks the
// scopes they hold against the scope a task requires.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cuongbtq/relops-hardware-controller/internal/config"
	"github.com/gin-gonic/gin"
)

var (
	// ErrUnauthorized is returned for a missing or unknown token
	ErrUnauthorized = errors.New("missing or invalid credentials")

	// ErrForbidden is returned when the client lacks the required scope
	ErrForbidden = errors.New("insufficient scopes")
)

// ClientIDKey is the gin context key holding the authenticated client id
const ClientIDKey = "client_id"

// Client is an authenticated caller
type Client struct {
	ID     string
	Scopes []string
}

// Satisfies reports whether any held scope grants required. A held scope
// ending in "*" grants every scope it prefixes.
func (c Client) Satisfies(required string) bool {
	for _, s := range c.Scopes {
		if s == required {
			return true
		}
		if prefix, ok := strings.CutSuffix(s, "*"); ok && strings.HasPrefix(required, prefix) {
			return true
		}
	}
	return false
}

// Authorizer checks callers against the configured clients
type Authorizer struct {
	tokens  map[string]Client
	service string
	tasks   []string
}

// New builds an Authorizer from configuration
func New(authCfg config.AuthConfig, controller config.ControllerConfig) *Authorizer {
	tokens := make(map[string]Client, len(authCfg.Clients))
	for _, c := range authCfg.Clients {
		if c.AccessToken == "" {
			continue
		}
		tokens[c.AccessToken] = Client{ID: c.ClientID, Scopes: c.Scopes}
	}

	return &Authorizer{
		tokens:  tokens,
		service: controller.ServiceName,
		tasks:   controller.TaskNames,
	}
}

// Scope returns the scope required to run taskName
func (a *Authorizer) Scope(taskName string) string {
	return fmt.Sprintf("project:%s:%s", a.service, taskName)
}

// Authorize authenticates token and checks it may submit taskName. For an
// allow-listed task the task's own scope is required. For any other name the
// caller must hold the scope of at least one allow-listed task, so that an
// authorized caller learns the name is invalid while others learn nothing.
func (a *Authorizer) Authorize(token, taskName string) (Client, error) {
	client, ok := a.tokens[token]
	if token == "" || !ok {
		return Client{}, ErrUnauthorized
	}

	for _, t := range a.tasks {
		if t == taskName {
			if client.Satisfies(a.Scope(t)) {
				return client, nil
			}
			return client, fmt.Errorf("%w: requires %s", ErrForbidden, a.Scope(t))
		}
	}

	for _, t := range a.tasks {
		if client.Satisfies(a.Scope(t)) {
			return client, nil
		}
	}
	return client, fmt.Errorf("%w: requires one of the task scopes of %s", ErrForbidden, a.service)
}

// RequireTaskScope returns gin middleware enforcing Authorize for the
// task_name query parameter
func RequireTaskScope(a *Authorizer, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		client, err := a.Authorize(bearerToken(c.Request), c.Query("task_name"))
		if err != nil {
			status := http.StatusForbidden
			if errors.Is(err, ErrUnauthorized) {
				status = http.StatusUnauthorized
			}

			logger.Warn("Request rejected by authorization",
				slog.String("client_id", client.ID),
				slog.String("path", c.Request.URL.Path),
				slog.Int("status", status),
				slog.String("error", err.Error()),
			)
			c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
			return
		}

		c.Set(ClientIDKey, client.ID)
		c.Next()
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > len("bearer ") && strings.EqualFold(header[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(header[len("bearer "):])
	}
	return ""
}
