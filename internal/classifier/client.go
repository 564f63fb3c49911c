package classifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/pbaille/journal/internal/domain"
	"github.com/pbaille/journal/internal/logging"
	"github.com/pbaille/journal/internal/metrics"
)

const maxResponseBytes = 1 << 20

// DefaultCategories is served when the service cannot list its own
var DefaultCategories = []string{
	"personal_growth", "relationships", "work_career", "health_wellness", "travel_adventure",
	"daily_life", "emotions_feelings", "hobbies_interests", "spirituality", "challenges_struggles",
}

// Config for the analysis service client
type Config struct {
	BaseURL        string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	// RateLimit is requests per second; 0 disables limiting
	RateLimit float64
	RateBurst int
}

// DefaultConfig matches the service's local development address
func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://localhost:8001",
		ConnectTimeout: 10 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// Client talks to the external analysis service. It never retries:
// it reports what failed and leaves the decision to the caller.
type Client struct {
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	validate *validator.Validate
}

// New creates a Client from an explicit configuration
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid analysis base url %q", cfg.BaseURL)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConfig().ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	}

	c := &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c, nil
}

type analyzeRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Analyze sends title and content to POST /analyze. Empty strings are forwarded as is.
func (c *Client) Analyze(ctx context.Context, title, content string) (*domain.AnalysisResult, error) {
	const endpoint = "/analyze"

	body, err := c.do(ctx, http.MethodPost, endpoint, analyzeRequest{Title: title, Content: content})
	if err != nil {
		return nil, err
	}

	var resp analyzeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		metrics.ClientRequests.WithLabelValues(endpoint, "analysis").Inc()
		return nil, &AnalysisError{Endpoint: endpoint, StatusCode: http.StatusOK, Err: fmt.Errorf("decode response: %w", err)}
	}
	if err := c.validate.Struct(&resp); err != nil {
		metrics.ClientRequests.WithLabelValues(endpoint, "analysis").Inc()
		return nil, &AnalysisError{Endpoint: endpoint, StatusCode: http.StatusOK, Err: fmt.Errorf("invalid response: %w", err)}
	}

	res := resp.normalize()
	if res.MoodLabel == "" || res.Category == "" {
		metrics.ClientRequests.WithLabelValues(endpoint, "analysis").Inc()
		return nil, &AnalysisError{Endpoint: endpoint, StatusCode: http.StatusOK, Err: errors.New("blank mood label or category")}
	}
	return res, nil
}

type healthResponse struct {
	Status string `json:"status"`
}

// Health probes GET /health; anything but 200 {"status":"healthy"} is unavailable
func (c *Client) Health(ctx context.Context) error {
	const endpoint = "/health"

	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		if IsAnalysis(err) {
			return &ConnectionError{Endpoint: endpoint, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
		}
		return err
	}

	var h healthResponse
	if err := json.Unmarshal(body, &h); err != nil || h.Status != "healthy" {
		return &ConnectionError{Endpoint: endpoint, Err: fmt.Errorf("%w: status %q", ErrUnavailable, h.Status)}
	}
	return nil
}

type categoriesResponse struct {
	Categories []string `json:"categories"`
}

// Categories lists the labels the service can assign, or DefaultCategories
// when the service cannot be asked
func (c *Client) Categories(ctx context.Context) []string {
	body, err := c.do(ctx, http.MethodGet, "/categories", nil)
	if err != nil {
		logging.Debug().Err(err).Msg("category listing failed, using defaults")
		return append([]string(nil), DefaultCategories...)
	}

	var resp categoriesResponse
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Categories) == 0 {
		return append([]string(nil), DefaultCategories...)
	}
	return resp.Categories
}

// do performs one request and maps every failure onto the error taxonomy
func (c *Client) do(ctx context.Context, method, endpoint string, payload interface{}) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var reqBody io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		classified := classifyTransportError(ctx, endpoint, err)
		metrics.ObserveClient(endpoint, outcome(classified), time.Since(start))
		return nil, classified
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		classified := classifyTransportError(ctx, endpoint, fmt.Errorf("read response: %w", err))
		metrics.ObserveClient(endpoint, outcome(classified), time.Since(start))
		return nil, classified
	}

	var statusErr error
	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		statusErr = &ConnectionError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	default:
		statusErr = &AnalysisError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}
	metrics.ObserveClient(endpoint, outcome(statusErr), time.Since(start))
	if statusErr != nil {
		return nil, statusErr
	}

	return body, nil
}

func classifyTransportError(ctx context.Context, endpoint string, err error) error {
	// a caller giving up is not a service fault
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &TimeoutError{Endpoint: endpoint, Err: err}
	}
	return &ConnectionError{Endpoint: endpoint, Err: err}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsTimeout(err):
		return "timeout"
	case IsConnection(err):
		return "connection"
	case IsAnalysis(err):
		return "analysis"
	default:
		return "canceled"
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
