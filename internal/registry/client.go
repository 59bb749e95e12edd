// Package registry pushes placement results to the external global
// registry. Failures here are per-event and never unwind a committed
// stitch.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"stitchd/internal/placement"
	"stitchd/pkg/platform/circuit"
	"stitchd/pkg/platform/sentinel"
)

const (
	defaultTimeout  = 10 * time.Second
	tokenLifetime   = 5 * time.Minute
	placementsPath  = "/placements"
	defaultIssuer   = "stitchd"
	defaultAudience = "global-registry"
)

type Client struct {
	baseURL    string
	signingKey []byte
	httpClient *http.Client
	breaker    *circuit.Breaker
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

func New(baseURL, signingKey string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("registry base URL is required")
	}
	if signingKey == "" {
		return nil, fmt.Errorf("registry signing key is required")
	}

	c := &Client{
		baseURL:    baseURL,
		signingKey: []byte(signingKey),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if c.breaker == nil {
		c.breaker = circuit.New("global-registry")
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// placementPayload is the wire shape the registry accepts.
type placementPayload struct {
	MasterPersonIDs []string `json:"master_person_ids"`
	Placement       struct {
		Level      string `json:"level"`
		Confidence int    `json:"confidence"`
	} `json:"placement"`
	CalculatedAt string `json:"calculated_at"`
}

// Publish POSTs the placement, authenticated with a short-lived service
// token. An open circuit fails fast with sentinel.ErrUnavailable until
// its cooldown elapses; after that, requests probe the registry and
// successes close the circuit again.
func (c *Client) Publish(ctx context.Context, p placement.Placement) error {
	if !c.breaker.Allow() {
		return fmt.Errorf("registry circuit open: %w", sentinel.ErrUnavailable)
	}

	payload := placementPayload{
		MasterPersonIDs: p.MasterPersonIDs,
		CalculatedAt:    p.CalculatedAt.Format(time.RFC3339),
	}
	payload.Placement.Level = p.Level.String()
	payload.Placement.Confidence = p.Confidence

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal placement: %w", err)
	}

	token, err := c.serviceToken()
	if err != nil {
		return fmt.Errorf("mint registry token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+placementsPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build registry request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordFailure()
		return fmt.Errorf("publish placement: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.recordFailure()
		return fmt.Errorf("publish placement: registry returned %d", resp.StatusCode)
	}

	c.breaker.RecordSuccess()
	return nil
}

func (c *Client) serviceToken() (string, error) {
	now := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    defaultIssuer,
		Audience:  []string{defaultAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
	})
	return token.SignedString(c.signingKey)
}

func (c *Client) recordFailure() {
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.Warn("registry circuit opened", "breaker", c.breaker.Name())
	}
}
