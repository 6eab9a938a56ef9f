// Package notion reads student records from the Notion database that the
// coaching team maintains.
package notion

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

const (
	// DefaultBaseURL is the public Notion API.
	DefaultBaseURL = "https://api.notion.com/v1"

	// DefaultVersion is sent as the Notion-Version header.
	DefaultVersion = "2022-06-28"

	// DefaultPageSize is the largest page the query endpoint returns.
	DefaultPageSize = 100

	// maxPages bounds pagination in case the cursor never ends.
	maxPages = 1000
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the Notion client.
type ClientConfig struct {
	APIKey     string
	DatabaseID string
	BaseURL    string
	Version    string
	Timeout    time.Duration
	PageSize   int

	// Properties names the database columns.
	Properties PropertyNames

	// StatusLabels maps status labels to normalized statuses.
	StatusLabels student.StatusLabels

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client

	// Retrier overrides the default NotionAPIRetrier (tests).
	Retrier *retry.Retrier

	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(apiKey, databaseID string) ClientConfig {
	return ClientConfig{
		APIKey:       apiKey,
		DatabaseID:   databaseID,
		BaseURL:      DefaultBaseURL,
		Version:      DefaultVersion,
		Timeout:      30 * time.Second,
		PageSize:     DefaultPageSize,
		Properties:   DefaultPropertyNames(),
		StatusLabels: student.DefaultStatusLabels(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client implements student.RecordSource on top of the Notion query API.
type Client struct {
	config ClientConfig
	api    *apiclient.Client
	mapper *Mapper
	logger *slog.Logger
}

var _ student.RecordSource = (*Client)(nil)

// NewClient creates a new Notion client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Version == "" {
		config.Version = DefaultVersion
	}
	if config.PageSize <= 0 || config.PageSize > DefaultPageSize {
		config.PageSize = DefaultPageSize
	}

	logger := config.Logger.With("component", "notion_client")

	retrier := config.Retrier
	if retrier == nil {
		retrier = retry.NotionAPIRetrier(apiclient.IsRetryable, func(attempt int, err error, delay time.Duration) {
			logger.Warn("retrying notion request", "attempt", attempt, "delay", delay, "error", err)
		})
	}

	breaker := circuitbreaker.NotionAPIBreaker(func(name string, from, to circuitbreaker.State) {
		logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	}, apiclient.IsFailure)

	api := apiclient.New(apiclient.Config{
		Name:    "notion",
		BaseURL: config.BaseURL,
		Timeout: config.Timeout,
		Headers: map[string]string{
			"Authorization":  "Bearer " + config.APIKey,
			"Notion-Version": config.Version,
		},
		RateLimiter: apiclient.DefaultRateLimiterConfig(),
		Breaker:     breaker,
		Retrier:     retrier,
		HTTPClient:  config.HTTPClient,
		Logger:      config.Logger,
	})

	return &Client{
		config: config,
		api:    api,
		mapper: NewMapper(config.Properties, config.StatusLabels),
		logger: logger,
	}
}

// FetchStudents queries every page of the database and returns the usable records.
func (c *Client) FetchStudents(ctx context.Context) ([]student.Record, error) {
	start := time.Now()

	pages, err := c.queryAll(ctx)
	if err != nil {
		return nil, shared.WrapError("notion", "FetchStudents", shared.ErrExternalService, "query database", err)
	}

	records := c.mapper.RecordsFromPages(pages)

	c.logger.Info("fetched students",
		"pages", len(pages),
		"records", len(records),
		"dropped", len(pages)-len(records),
		"duration", time.Since(start),
	)

	return records, nil
}

// queryAll follows next_cursor until has_more is false.
func (c *Client) queryAll(ctx context.Context) ([]PageDTO, error) {
	path := fmt.Sprintf("/databases/%s/query", url.PathEscape(c.config.DatabaseID))

	var (
		all    []PageDTO
		cursor string
	)
	for i := 0; i < maxPages; i++ {
		req := QueryRequestDTO{
			PageSize:    c.config.PageSize,
			StartCursor: cursor,
		}

		var resp QueryResponseDTO
		if err := c.api.Post(ctx, path, req, &resp); err != nil {
			return nil, fmt.Errorf("query page %d: %w", i+1, err)
		}

		all = append(all, resp.Results...)

		if !resp.HasMore || resp.NextCursor == nil || *resp.NextCursor == "" {
			return all, nil
		}
		cursor = *resp.NextCursor
	}

	return nil, fmt.Errorf("%w: pagination did not end after %d pages", shared.ErrNotionInvalidResponse, maxPages)
}

// Status returns the protection state of the underlying HTTP client.
func (c *Client) Status() apiclient.Status {
	return c.api.Status()
}

// Available reports false while the circuit to Notion is open.
func (c *Client) Available() bool {
	return c.api.Available()
}
