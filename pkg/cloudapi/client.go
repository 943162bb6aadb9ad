// Package cloudapi talks to the remote ordering service.
package cloudapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/carverauto/posedge/pkg/logger"
	"github.com/carverauto/posedge/pkg/models"
)

const (
	defaultTimeout = 15 * time.Second
	pingPath       = "/ping"
	ordersPath     = "/orders"
	maxErrorBody   = 2048
)

var (
	// ErrNotConfigured is returned when the base URL or API key is missing.
	ErrNotConfigured = errors.New("cloud api is not configured")
	// ErrNotInitialized is returned by FetchNewOrders before a successful Initialize.
	ErrNotInitialized = errors.New("cloud api is not initialized")

	errUnexpectedStatus = errors.New("unexpected response status")
)

type Config struct {
	BaseURL string          `json:"base_url"`
	APIKey  string          `json:"api_key"`
	Timeout models.Duration `json:"timeout"`
}

// Client is safe for concurrent use.
type Client struct {
	cfg         Config
	baseURL     *url.URL
	http        *http.Client
	logger      logger.Logger
	initialized atomic.Bool
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient never fails; configuration problems surface from Initialize.
func NewClient(cfg Config, log logger.Logger, opts ...Option) *Client {
	timeout := time.Duration(cfg.Timeout)
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: log,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Configured reports whether both base URL and API key are set.
func (c *Client) Configured() bool {
	return strings.TrimSpace(c.cfg.BaseURL) != "" && strings.TrimSpace(c.cfg.APIKey) != ""
}

// Initialize validates configuration and checks the service answers.
func (c *Client) Initialize(ctx context.Context) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	parsed, err := url.Parse(c.cfg.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%w: invalid base url %q", ErrNotConfigured, c.cfg.BaseURL)
	}

	c.baseURL = parsed

	resp, err := c.get(ctx, pingPath, nil)
	if err != nil {
		return fmt.Errorf("cloud api ping failed: %w", err)
	}

	_ = resp.Body.Close()

	c.initialized.Store(true)

	c.logger.Info().Str("base_url", c.cfg.BaseURL).Msg("Cloud API initialized")

	return nil
}

// FetchNewOrders returns orders created after since. A zero since fetches
// everything the service is willing to return.
func (c *Client) FetchNewOrders(ctx context.Context, since time.Time) ([]models.Order, error) {
	if !c.initialized.Load() {
		return nil, ErrNotInitialized
	}

	query := url.Values{}
	if !since.IsZero() {
		query.Set("since", since.UTC().Format(time.RFC3339))
	}

	resp, err := c.get(ctx, ordersPath, query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch orders: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var decoded struct {
		Orders []models.Order `json:"orders"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode orders response: %w", err)
	}

	c.logger.Debug().
		Int("count", len(decoded.Orders)).
		Time("since", since).
		Msg("Fetched remote orders")

	return decoded.Orders, nil
}

func (c *Client) get(ctx context.Context, p string, query url.Values) (*http.Response, error) {
	endpoint := *c.baseURL
	endpoint.Path = path.Join(endpoint.Path, p)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()

		return nil, fmt.Errorf("%w %d: %s", errUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	return resp, nil
}
