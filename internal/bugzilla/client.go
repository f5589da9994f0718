// Package bugzilla files tickets for machines that no reboot mechanism could
// recover.
package bugzilla

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/relops-hardware-controller/internal/config"
	"github.com/cuongbtq/relops-hardware-controller/internal/domain"
)

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx response from the Bugzilla REST API
type APIError struct {
	Status  int
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface for APIError
func (e *APIError) Error() string {
	return fmt.Sprintf("bugzilla API error %d: %s (status: %d)", e.Code, e.Message, e.Status)
}

// Client talks to the Bugzilla REST API
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	product    string
	component  string
	logger     *slog.Logger
}

// NewClient creates a Bugzilla client
func NewClient(cfg config.BugzillaConfig, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("bugzilla url is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("bugzilla api key is required")
	}

	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		product:    cfg.Product,
		component:  cfg.Component,
		logger:     logger,
	}, nil
}

type createBugRequest struct {
	Product     string `json:"product"`
	Component   string `json:"component"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Version     string `json:"version"`
	OpSys       string `json:"op_sys"`
	Platform    string `json:"platform"`
}

type createBugResponse struct {
	ID int `json:"id"`
}

// File creates a bug describing the failed recovery and returns its id
func (c *Client) File(ctx context.Context, m domain.Machine, summary string, attempts []domain.Attempt) (int, error) {
	body, err := json.Marshal(createBugRequest{
		Product:     c.product,
		Component:   c.component,
		Summary:     summary,
		Description: Describe(m, attempts),
		Version:     "other",
		OpSys:       "All",
		Platform:    "All",
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal bug: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/bug", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-BUGZILLA-API-KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(respBody, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = string(respBody)
		}
		return 0, apiErr
	}

	var created createBugResponse
	if err := json.Unmarshal(respBody, &created); err != nil {
		return 0, fmt.Errorf("failed to parse response body: %w", err)
	}
	if created.ID == 0 {
		return 0, errors.New("bugzilla response carried no bug id")
	}

	c.logger.Info("Filed bug",
		slog.Int("bug_id", created.ID),
		slog.String("host", m.Host),
	)

	return created.ID, nil
}

// Describe renders the bug description: the machine and every attempt made
func Describe(m domain.Machine, attempts []domain.Attempt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Host: %s\n", m.Host)
	if m.IP != "" {
		fmt.Fprintf(&b, "IP: %s\n", m.IP)
	}

	if len(attempts) == 0 {
		b.WriteString("\nNo reboot mechanism is configured for this host.\n")
		return b.String()
	}

	b.WriteString("\nReboot attempts:\n")
	for _, a := range attempts {
		fmt.Fprintf(&b, "- %s: %s after %dms", a.Driver, a.Outcome, a.DurationMS)
		if a.Error != "" {
			fmt.Fprintf(&b, " (%s)", a.Error)
		}
		b.WriteString("\n")
	}
	return b.String()
}
