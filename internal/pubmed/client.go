// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pubmed is a rate-limited client for the NCBI E-utilities
// esearch and efetch endpoints.
package pubmed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/pdiddy/evidence-engine/internal/httputil"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

const (
	// BaseURL is the E-utilities root.
	BaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// AnonymousRateLimit and KeyedRateLimit are NCBI's published limits
	// in requests per second.
	AnonymousRateLimit = 3.0
	KeyedRateLimit     = 10.0

	DefaultTimeout    = 30 * time.Second
	DefaultMaxResults = 10
)

// Client queries PubMed.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	apiKey     string
	email      string
	tool       string
	userAgent  string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIKey sets the NCBI API key and raises the rate limit accordingly.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
		if key != "" {
			c.limiter = rate.NewLimiter(rate.Limit(KeyedRateLimit), 1)
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithRateLimit overrides the requests-per-second limit.
func WithRateLimit(rps float64) ClientOption {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithContact sets the tool name and contact email reported to NCBI.
func WithContact(tool, email string) ClientOption {
	return func(c *Client) {
		c.tool = tool
		c.email = email
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a PubMed client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(AnonymousRateLimit), 1),
		baseURL:    BaseURL,
		userAgent:  "evidence-engine/0.1",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFromConfig builds a client from retrieval settings.
func NewClientFromConfig(cfg types.RetrievalConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	opts := []ClientOption{
		WithHTTPClient(&http.Client{Timeout: timeout}),
		WithAPIKey(cfg.APIKey),
		WithContact(cfg.Tool, cfg.Email),
		WithRateLimit(cfg.RequestsPerSecond),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, WithBaseURL(cfg.BaseURL))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, WithUserAgent(cfg.UserAgent))
	}
	return NewClient(opts...)
}

type esearchResponse struct {
	Result struct {
		Count  string   `json:"count"`
		IDList []string `json:"idlist"`
		Error  string   `json:"ERROR"`
	} `json:"esearchresult"`
}

// Search returns up to maxResults PMIDs for query, in relevance order.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]string, error) {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("term", query)
	params.Set("retmode", "json")
	params.Set("retmax", strconv.Itoa(maxResults))
	params.Set("sort", "relevance")

	body, err := c.get(ctx, "esearch.fcgi", params)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var out esearchResponse
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding esearch: %v", ErrInvalidResponse, err)
	}
	if out.Result.Error != "" {
		return nil, &APIError{StatusCode: http.StatusOK, Endpoint: "esearch", Message: out.Result.Error}
	}

	ids := make([]string, 0, len(out.Result.IDList))
	for _, id := range out.Result.IDList {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Fetch returns the records for ids. Records are returned in the order
// the server emits them and may have empty fields.
func (c *Client) Fetch(ctx context.Context, ids []string) ([]types.RawRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("id", strings.Join(ids, ","))
	params.Set("retmode", "xml")
	params.Set("rettype", "abstract")

	body, err := c.get(ctx, "efetch.fcgi", params)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	return ParseRecords(body)
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}
	if c.tool != "" {
		params.Set("tool", c.tool)
	}
	if c.email != "" {
		params.Set("email", c.email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := httputil.DoWithRetry(ctx, c.httpClient, req, 3)
	if err != nil {
		return nil, fmt.Errorf("pubmed %s request: %w", endpoint, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", endpoint, ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Endpoint: strings.TrimSuffix(endpoint, ".fcgi"), Message: strings.TrimSpace(string(msg))}
	}
	return resp.Body, nil
}
