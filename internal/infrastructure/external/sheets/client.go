// Package sheets reads the extension form responses and the suspension
// history from Google Sheets through the values API.
package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/coachlab/extension-tracker/internal/domain/shared"
	"github.com/coachlab/extension-tracker/internal/domain/student"
	"github.com/coachlab/extension-tracker/internal/infrastructure/external/apiclient"
	"github.com/coachlab/extension-tracker/pkg/circuitbreaker"
	"github.com/coachlab/extension-tracker/pkg/retry"
)

// DefaultBaseURL is the public Sheets API.
const DefaultBaseURL = "https://sheets.googleapis.com"

// ClientConfig contains configuration for the Sheets client.
type ClientConfig struct {
	SpreadsheetID string
	APIKey        string
	BaseURL       string
	Timeout       time.Duration
	Layout        Layout

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client

	// Retrier overrides the default SheetsAPIRetrier (tests).
	Retrier *retry.Retrier

	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(spreadsheetID, apiKey string) ClientConfig {
	return ClientConfig{
		SpreadsheetID: spreadsheetID,
		APIKey:        apiKey,
		BaseURL:       DefaultBaseURL,
		Timeout:       20 * time.Second,
		Layout:        DefaultLayout(),
	}
}

// Client implements student.FormUpdateSource and student.SuspensionSource.
type Client struct {
	config ClientConfig
	api    *apiclient.Client
	logger *slog.Logger
}

var (
	_ student.FormUpdateSource = (*Client)(nil)
	_ student.SuspensionSource = (*Client)(nil)
)

// NewClient creates a new Sheets client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.Layout = config.Layout.WithDefaults()

	logger := config.Logger.With("component", "sheets_client")

	retrier := config.Retrier
	if retrier == nil {
		retrier = retry.SheetsAPIRetrier(apiclient.IsRetryable, func(attempt int, err error, delay time.Duration) {
			logger.Warn("retrying sheets request", "attempt", attempt, "delay", delay, "error", err)
		})
	}

	breaker := circuitbreaker.SheetsAPIBreaker(func(name string, from, to circuitbreaker.State) {
		logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	}, apiclient.IsFailure)

	query := url.Values{}
	if config.APIKey != "" {
		query.Set("key", config.APIKey)
	}

	api := apiclient.New(apiclient.Config{
		Name:        "sheets",
		BaseURL:     config.BaseURL,
		Timeout:     config.Timeout,
		Query:       query,
		RateLimiter: apiclient.SheetsRateLimiterConfig(),
		Breaker:     breaker,
		Retrier:     retrier,
		HTTPClient:  config.HTTPClient,
		Logger:      config.Logger,
	})

	return &Client{
		config: config,
		api:    api,
		logger: logger,
	}
}

// FetchFormUpdates reads the form responses range.
func (c *Client) FetchFormUpdates(ctx context.Context) (student.FormUpdates, error) {
	layout := c.config.Layout.FormUpdates

	rows, err := c.values(ctx, layout.Range)
	if err != nil {
		return nil, shared.WrapError("sheets", "FetchFormUpdates", shared.ErrExternalService, "read "+layout.Range, err)
	}

	updates := FormUpdatesFromRows(rows, layout)
	c.logger.Info("fetched form updates", "rows", len(rows), "students", len(updates))
	return updates, nil
}

// FetchSuspensions reads the suspension history range.
func (c *Client) FetchSuspensions(ctx context.Context) (student.Suspensions, error) {
	layout := c.config.Layout.Suspensions

	rows, err := c.values(ctx, layout.Range)
	if err != nil {
		return nil, shared.WrapError("sheets", "FetchSuspensions", shared.ErrExternalService, "read "+layout.Range, err)
	}

	suspensions := SuspensionsFromRows(rows, layout)
	c.logger.Info("fetched suspensions", "rows", len(rows), "students", len(suspensions))
	return suspensions, nil
}

func (c *Client) values(ctx context.Context, rng string) ([][]any, error) {
	path := fmt.Sprintf("/v4/spreadsheets/%s/values/%s",
		url.PathEscape(c.config.SpreadsheetID), url.PathEscape(rng))

	var resp ValueRangeDTO
	if err := c.api.Get(ctx, path, url.Values{"majorDimension": {"ROWS"}}, &resp); err != nil {
		return nil, err
	}
	return resp.Values, nil
}

// Status returns the protection state of the underlying HTTP client.
func (c *Client) Status() apiclient.Status {
	return c.api.Status()
}

// Available reports false while the circuit to Sheets is open.
func (c *Client) Available() bool {
	return c.api.Available()
}
