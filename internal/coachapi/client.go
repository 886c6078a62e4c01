package coachapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/npratt/coachrun/internal/httpkit"
)

// DefaultBaseURL is the REST root of a local coach backend.
const DefaultBaseURL = "http://localhost:8080/api"

// DefaultTimeout bounds each REST call.
const DefaultTimeout = 30 * time.Second

// DefaultWeeklyReviewLimit is used when a non-positive limit is requested.
const DefaultWeeklyReviewLimit = 10

// HTTPClient implements Client against the coach REST API.
type HTTPClient struct {
	base    string
	http    *http.Client
	timeout time.Duration
}

// NewHTTPClient creates an HTTPClient for the API rooted at baseURL.
// A nil hc uses the shared client.
func NewHTTPClient(baseURL string, hc *http.Client) *HTTPClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if hc == nil {
		hc = httpkit.NewClient()
	}
	return &HTTPClient{
		base:    strings.TrimRight(baseURL, "/"),
		http:    hc,
		timeout: DefaultTimeout,
	}
}

// WithTimeout returns a new HTTPClient with the specified per-call timeout.
func (c *HTTPClient) WithTimeout(d time.Duration) *HTTPClient {
	return &HTTPClient{
		base:    c.base,
		http:    c.http,
		timeout: d,
	}
}

// Greeting asks the coach for an opening message.
func (c *HTTPClient) Greeting(ctx context.Context) (string, error) {
	var reply Reply
	if err := c.do(ctx, http.MethodGet, "/coach/greeting", nil, &reply); err != nil {
		return "", fmt.Errorf("get greeting: %w", err)
	}
	return reply.Response, nil
}

// History returns the stored chat history.
func (c *HTTPClient) History(ctx context.Context) ([]ChatMessage, error) {
	var history []ChatMessage
	if err := c.do(ctx, http.MethodGet, "/coach/history", nil, &history); err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return history, nil
}

// MemoryHits returns the memories used for the latest reply.
func (c *HTTPClient) MemoryHits(ctx context.Context) (*MemoryHits, error) {
	var hits MemoryHits
	if err := c.do(ctx, http.MethodGet, "/coach/memory-hits", nil, &hits); err != nil {
		return nil, fmt.Errorf("get memory hits: %w", err)
	}
	return &hits, nil
}

// Memories returns all stored memories.
func (c *HTTPClient) Memories(ctx context.Context) ([]Memory, error) {
	var memories []Memory
	if err := c.do(ctx, http.MethodGet, "/coach/memories", nil, &memories); err != nil {
		return nil, fmt.Errorf("get memories: %w", err)
	}
	return memories, nil
}

// GenerateWeeklyReview asks the coach to write this week's review.
func (c *HTTPClient) GenerateWeeklyReview(ctx context.Context) (string, error) {
	var reply Reply
	if err := c.do(ctx, http.MethodPost, "/coach/weekly-review", nil, &reply); err != nil {
		return "", fmt.Errorf("generate weekly review: %w", err)
	}
	return reply.Response, nil
}

// WeeklyReviews returns up to limit stored reviews.
func (c *HTTPClient) WeeklyReviews(ctx context.Context, limit int) ([]WeeklyReview, error) {
	if limit <= 0 {
		limit = DefaultWeeklyReviewLimit
	}
	query := url.Values{"limit": {strconv.Itoa(limit)}}

	var reviews []WeeklyReview
	if err := c.do(ctx, http.MethodGet, "/coach/weekly-reviews", query, &reviews); err != nil {
		return nil, fmt.Errorf("get weekly reviews: %w", err)
	}
	return reviews, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httpkit.StatusError(resp)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
