package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/notiontools/notion2prompt/pkg/logging"
)

const (
	// notionVersion pins the API revision every request asks for.
	notionVersion = "2022-06-28"

	defaultBaseURL = "https://api.notion.com/v1"

	// pageSize is the API maximum; fewer round-trips during traversal.
	pageSize = 100
)

// Prometheus metrics for API requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notion_requests_total",
		Help: "Total Notion API requests by endpoint kind and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notion_request_duration_seconds",
		Help:    "Notion API request duration in seconds by endpoint kind",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notion_errors_total",
		Help: "Total Notion API errors by class",
	}, []string{"class"})
)

// Client is a bearer-token HTTP client for the Notion API. It retries
// transient failures and classifies errors; it performs no caching and
// no traversal.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	retry      RetryConfig
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (used by tests against a mock server).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithRetryConfig overrides the retry/backoff configuration.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// NewClient creates a Notion API client authenticating with apiKey.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: api key is required", ErrUnauthorized)
	}

	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		retry:      DefaultRetryConfig(),
		logger:     logging.NewLogger("notion-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// do performs one API request with retry, classification, and metrics.
// kind is the low-cardinality endpoint label ("pages", "databases",
// "blocks.children", "databases.query").
func (c *Client) do(ctx context.Context, method, endpoint, kind string, body []byte) ([]byte, error) {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}()

	var result []byte
	err := retryWithBackoff(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Notion-Version", notionVersion)
		req.Header.Set("Accept", "application/json")
		if len(body) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}

		c.logger.Debug().Str("method", method).Str("endpoint", endpoint).Msg("Executing API request")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(kind, "network_error").Inc()
			return &retryableError{
				err:   fmt.Errorf("%s %s: %w", method, endpoint, err),
				class: ErrorClassNetwork,
			}
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			return &retryableError{
				err:   fmt.Errorf("read response from %s: %w", endpoint, err),
				class: ErrorClassNetwork,
			}
		}

		requestsTotal.WithLabelValues(kind, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode >= 400 {
			class := classifyStatus(resp.StatusCode)
			errorsTotal.WithLabelValues(string(class)).Inc()

			apiErr := &APIError{
				StatusCode: resp.StatusCode,
				Class:      class,
				Endpoint:   endpoint,
				Message:    apiErrorMessage(data, resp.Status),
				Err:        sentinelForStatus(resp.StatusCode),
			}

			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status_code", resp.StatusCode).
				Str("error_class", string(class)).
				Msg("API request error")

			if shouldRetry(class) {
				return &retryableError{
					err:        apiErr,
					class:      class,
					retryAfter: parseRetryAfter(resp.Header),
				}
			}
			return apiErr
		}

		result = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) get(ctx context.Context, endpoint, kind string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, endpoint, kind, nil)
}

func (c *Client) post(ctx context.Context, endpoint, kind string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, endpoint, kind, data)
}

// apiErrorMessage extracts the human-readable message from a Notion
// error body, falling back to the HTTP status line.
func apiErrorMessage(data []byte, status string) string {
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Code == "" {
		return status
	}
	if body.Message == "" {
		return body.Code
	}
	return body.Code + ": " + body.Message
}

// parseRetryAfter reads the Retry-After header sent with 429 responses.
func parseRetryAfter(h http.Header) time.Duration {
	raw := h.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// --- Repository implementation ---

// RetrievePage fetches a page object.
func (c *Client) RetrievePage(ctx context.Context, id ID) (*ContentNode, error) {
	data, err := c.get(ctx, "pages/"+id.Dashed(), "pages")
	if err != nil {
		return nil, err
	}
	return parsePage(data)
}

// RetrieveDatabase fetches a database object (schema only; rows come
// from QueryRows).
func (c *Client) RetrieveDatabase(ctx context.Context, id ID) (*ContentNode, error) {
	data, err := c.get(ctx, "databases/"+id.Dashed(), "databases")
	if err != nil {
		return nil, err
	}
	return parseDatabase(data)
}

// RetrieveBlock fetches a single block object.
func (c *Client) RetrieveBlock(ctx context.Context, id ID) (*ContentNode, error) {
	data, err := c.get(ctx, "blocks/"+id.Dashed(), "blocks")
	if err != nil {
		return nil, err
	}
	return parseBlock(data)
}

// RetrieveChildren fetches the child blocks of a page or block,
// following pagination cursors. With max > 0 fetching stops once at
// least max items are collected; the bool reports whether more remained.
func (c *Client) RetrieveChildren(ctx context.Context, id ID, max int) ([]*ContentNode, bool, error) {
	_, nodes, hasMore, err := c.fetchAllChildren(ctx, id, max)
	return nodes, hasMore, err
}

// QueryRows fetches the rows of a database, newest first.
func (c *Client) QueryRows(ctx context.Context, id ID, max int) ([]*ContentNode, bool, error) {
	_, nodes, hasMore, err := c.fetchAllRows(ctx, id, max)
	return nodes, hasMore, err
}

// ResolveObject determines an unknown id's type and fetches it.
func (c *Client) ResolveObject(ctx context.Context, id ID, hint TypeHint) (*ContentNode, error) {
	return resolveObject(ctx, c, id, hint)
}

// fetchAllChildren accumulates child blocks across pagination pages,
// also returning the raw response pages so the caching layer can store
// a complete listing.
func (c *Client) fetchAllChildren(ctx context.Context, id ID, max int) ([][]byte, []*ContentNode, bool, error) {
	var raw [][]byte
	var nodes []*ContentNode
	cursor := ""

	for {
		endpoint := fmt.Sprintf("blocks/%s/children?page_size=%d", id.Dashed(), pageSize)
		if cursor != "" {
			endpoint += "&start_cursor=" + url.QueryEscape(cursor)
		}

		data, err := c.get(ctx, endpoint, "blocks.children")
		if err != nil {
			return nil, nil, false, err
		}

		pageNodes, env, err := parseBlockList(data)
		if err != nil {
			return nil, nil, false, err
		}
		raw = append(raw, data)
		nodes = append(nodes, pageNodes...)

		if !env.HasMore || env.NextCursor == nil {
			return raw, nodes, false, nil
		}
		if max > 0 && len(nodes) >= max {
			// Budget exhausted mid-pagination: stop immediately and
			// report that the listing is incomplete.
			return raw, nodes, true, nil
		}
		cursor = *env.NextCursor
	}
}

// fetchAllRows accumulates database rows across pagination pages.
func (c *Client) fetchAllRows(ctx context.Context, id ID, max int) ([][]byte, []*ContentNode, bool, error) {
	var raw [][]byte
	var nodes []*ContentNode
	cursor := ""

	for {
		body := map[string]any{"page_size": pageSize}
		if cursor != "" {
			body["start_cursor"] = cursor
		}

		data, err := c.post(ctx, fmt.Sprintf("databases/%s/query", id.Dashed()), "databases.query", body)
		if err != nil {
			return nil, nil, false, err
		}

		pageNodes, env, err := parsePageList(data)
		if err != nil {
			return nil, nil, false, err
		}
		raw = append(raw, data)
		nodes = append(nodes, pageNodes...)

		if !env.HasMore || env.NextCursor == nil {
			sortRowsByLastEditedDesc(nodes)
			return raw, nodes, false, nil
		}
		if max > 0 && len(nodes) >= max {
			sortRowsByLastEditedDesc(nodes)
			return raw, nodes, true, nil
		}
		cursor = *env.NextCursor
	}
}

// sortRowsByLastEditedDesc orders database rows newest first. Rows
// without a last-edited timestamp sort to the bottom.
func sortRowsByLastEditedDesc(rows []*ContentNode) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].LastEdited, rows[j].LastEdited
		if a.IsZero() {
			return false
		}
		if b.IsZero() {
			return true
		}
		return a.After(b)
	})
}

// resolveObject fetches an object of unknown type, trying page, then
// database, then block. A database hint from the input URL reorders the
// attempts to skip the wasted page call.
func resolveObject(ctx context.Context, r Repository, id ID, hint TypeHint) (*ContentNode, error) {
	if hint == HintDatabase {
		if db, err := r.RetrieveDatabase(ctx, id); err == nil {
			return db, nil
		}
		// Fall through to the default order on any failure.
	}

	page, pageErr := r.RetrievePage(ctx, id)
	if pageErr == nil {
		return page, nil
	}
	if !isResolutionMiss(pageErr) {
		return nil, pageErr
	}

	db, dbErr := r.RetrieveDatabase(ctx, id)
	if dbErr == nil {
		return db, nil
	}
	if !isResolutionMiss(dbErr) {
		return nil, dbErr
	}

	block, blockErr := r.RetrieveBlock(ctx, id)
	if blockErr == nil {
		return block, nil
	}

	return nil, fmt.Errorf("resolve object %s: %w", id, pageErr)
}

// isResolutionMiss reports whether an error means "wrong object type,
// try the next endpoint" rather than a failure worth surfacing.
func isResolutionMiss(err error) bool {
	var apiErr *APIError
	return errors.Is(err, ErrNotFound) || (errors.As(err, &apiErr) && apiErr.Class == ErrorClassClient)
}
