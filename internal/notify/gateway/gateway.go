// Package gateway talks to the backend REST surface for notification fetch
// and mutations. The exact route shape is not stable across backend
// deployments, so every operation probes an ordered list of candidate
// endpoints and treats the first 2xx as authoritative.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/huddleup/huddle-notify/internal/notify/model"
	"github.com/huddleup/huddle-notify/internal/notify/store"
	"github.com/huddleup/huddle-notify/internal/platform/logger"
	"github.com/huddleup/huddle-notify/internal/platform/metrics"
)

// ErrUnauthenticated is returned when a read operation has no auth token
var ErrUnauthenticated = errors.New("gateway: missing auth token")

// Mode controls what happens when every candidate for a mutation fails
type Mode string

const (
	// ModeLenient degrades failed mutations to local success so a backend
	// route mismatch never blocks the user's perceived action. This
	// preserves the original product behaviour.
	ModeLenient Mode = "lenient"
	// ModeStrict surfaces mutation failures to the caller.
	ModeStrict Mode = "strict"
)

// Operation names, used as candidate-list keys and metric labels
const (
	OpFetchPage   = "fetch_page"
	OpMarkRead    = "mark_read"
	OpMarkAllRead = "mark_all_read"
	OpDelete      = "delete"
	OpDeleteAll   = "delete_all"
	OpUnreadCount = "unread_count"
)

// Candidate is one plausible route for an operation. Path may contain the
// {id} placeholder.
type Candidate struct {
	Method string
	Path   string
}

// DefaultCandidates returns the probe order for every operation
func DefaultCandidates() map[string][]Candidate {
	return map[string][]Candidate{
		OpFetchPage: {
			{http.MethodGet, "/api/v1/notifications"},
			{http.MethodGet, "/api/notifications"},
			{http.MethodGet, "/notifications"},
		},
		OpMarkRead: {
			{http.MethodPatch, "/api/v1/notifications/{id}/read"},
			{http.MethodPatch, "/api/notifications/{id}/read"},
			{http.MethodPatch, "/api/v1/notifications/{id}"},
		},
		OpMarkAllRead: {
			{http.MethodPatch, "/api/v1/notifications/read-all"},
			{http.MethodPatch, "/api/notifications/read-all"},
			{http.MethodPatch, "/api/v1/notifications/mark-all-read"},
		},
		OpDelete: {
			{http.MethodDelete, "/api/v1/notifications/{id}"},
			{http.MethodDelete, "/api/notifications/{id}"},
		},
		OpDeleteAll: {
			{http.MethodDelete, "/api/v1/notifications"},
			{http.MethodDelete, "/api/notifications/all"},
		},
		OpUnreadCount: {
			{http.MethodGet, "/api/v1/notifications/unread-count"},
			{http.MethodGet, "/api/notifications/unread-count"},
		},
	}
}

// Config holds gateway construction options
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	Mode           Mode
	// Candidates overrides the default probe lists per operation.
	Candidates map[string][]Candidate
	Logger     logger.Logger
	Metrics    *metrics.Metrics
}

// Gateway performs the REST calls of the notification pipeline
type Gateway struct {
	http       *resty.Client
	candidates map[string][]Candidate
	mode       Mode
	logger     logger.Logger
	metrics    *metrics.Metrics
	token      string
}

// New creates a gateway
func New(cfg Config) *Gateway {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeLenient
	}
	if cfg.Candidates == nil {
		cfg.Candidates = DefaultCandidates()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("Accept", "application/json")

	return &Gateway{
		http:       client,
		candidates: cfg.Candidates,
		mode:       cfg.Mode,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// SetToken sets the bearer token used on every request
func (g *Gateway) SetToken(token string) {
	g.token = token
}

// pageEnvelope covers the response shapes backends use for a list endpoint
type pageEnvelope struct {
	Notifications []model.Record `json:"notifications"`
	Items         []model.Record `json:"items"`
	Data          []model.Record `json:"data"`
	Total         *int           `json:"total"`
	TotalCount    *int           `json:"totalCount"`
	HasMore       *bool          `json:"hasMore"`
}

// FetchPage fetches one page of notifications. Records are normalized
// before being returned; missing auth is a hard failure.
func (g *Gateway) FetchPage(ctx context.Context, userID string, limit, skip int, isRead *bool) (*store.Page, error) {
	if g.token == "" {
		return nil, ErrUnauthenticated
	}

	query := map[string]string{
		"userId": userID,
		"limit":  strconv.Itoa(limit),
		"skip":   strconv.Itoa(skip),
	}
	if isRead != nil {
		query["isRead"] = strconv.FormatBool(*isRead)
	}

	var lastErr error
	for _, cand := range g.candidates[OpFetchPage] {
		resp, err := g.attempt(ctx, OpFetchPage, cand, "", query, nil)
		if err != nil {
			lastErr = err
			continue
		}
		return decodePage(resp.Body(), limit)
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("gateway: no candidates configured for %s", OpFetchPage)
	}
	return nil, lastErr
}

// UnreadCount fetches the server-side unread count. It is only a
// reconciliation check; the store's derived count stays authoritative.
func (g *Gateway) UnreadCount(ctx context.Context) (int, error) {
	if g.token == "" {
		return 0, ErrUnauthenticated
	}

	var lastErr error
	for _, cand := range g.candidates[OpUnreadCount] {
		resp, err := g.attempt(ctx, OpUnreadCount, cand, "", nil, nil)
		if err != nil {
			lastErr = err
			continue
		}
		return decodeCount(resp.Body())
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("gateway: no candidates configured for %s", OpUnreadCount)
	}
	return 0, lastErr
}

// MarkRead marks one notification read server-side
func (g *Gateway) MarkRead(ctx context.Context, id string) error {
	return g.mutate(ctx, OpMarkRead, id)
}

// MarkAllRead marks every notification read server-side
func (g *Gateway) MarkAllRead(ctx context.Context) error {
	return g.mutate(ctx, OpMarkAllRead, "")
}

// Delete deletes one notification server-side
func (g *Gateway) Delete(ctx context.Context, id string) error {
	return g.mutate(ctx, OpDelete, id)
}

// DeleteAll deletes every notification server-side
func (g *Gateway) DeleteAll(ctx context.Context) error {
	return g.mutate(ctx, OpDeleteAll, "")
}

// mutate runs a mutation through the candidate list. In lenient mode an
// exhausted list degrades to success: the caller has already applied the
// change locally and a failed mark-read/delete must not block the UI. The
// divergence is corrected by the next fetch.
func (g *Gateway) mutate(ctx context.Context, op, id string) error {
	var lastErr error

	if g.token == "" {
		lastErr = ErrUnauthenticated
	} else {
		for _, cand := range g.candidates[op] {
			if _, err := g.attempt(ctx, op, cand, id, nil, nil); err != nil {
				lastErr = err
				continue
			}
			return nil
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("gateway: no candidates configured for %s", op)
		}
	}

	if g.mode == ModeLenient {
		g.logger.Warn("Mutation failed on every candidate, treating as local success",
			"operation", op, "error", lastErr)
		if g.metrics != nil {
			g.metrics.GatewayFallbacks.WithLabelValues(op).Inc()
		}
		return nil
	}
	return lastErr
}

// attempt performs one candidate request; a non-2xx status is an error so
// the caller moves on to the next candidate.
func (g *Gateway) attempt(ctx context.Context, op string, cand Candidate, id string, query map[string]string, body interface{}) (*resty.Response, error) {
	req := g.http.R().
		SetContext(ctx).
		SetAuthToken(g.token)
	if query != nil {
		req.SetQueryParams(query)
	}
	if body != nil {
		req.SetBody(body)
	}

	path := strings.ReplaceAll(cand.Path, "{id}", id)
	resp, err := req.Execute(cand.Method, path)
	if err != nil {
		g.observe(op, "network_error")
		return nil, fmt.Errorf("gateway: %s %s: %w", cand.Method, path, err)
	}
	if resp.IsError() {
		g.observe(op, strconv.Itoa(resp.StatusCode()))
		return nil, fmt.Errorf("gateway: %s %s: status %d", cand.Method, path, resp.StatusCode())
	}

	g.observe(op, "ok")
	return resp, nil
}

func (g *Gateway) observe(op, outcome string) {
	if g.metrics != nil {
		g.metrics.GatewayRequests.WithLabelValues(op, outcome).Inc()
	}
}

// decodePage normalizes the envelope variants backends return for a page
func decodePage(body []byte, limit int) (*store.Page, error) {
	var env pageEnvelope
	var records []model.Record

	if err := json.Unmarshal(body, &env); err == nil {
		switch {
		case env.Notifications != nil:
			records = env.Notifications
		case env.Items != nil:
			records = env.Items
		case env.Data != nil:
			records = env.Data
		}
	}
	if records == nil {
		// Some backends return a bare array
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, fmt.Errorf("gateway: undecodable page response: %w", err)
		}
	}

	page := &store.Page{Records: records}
	if env.Total != nil {
		page.TotalCount = *env.Total
	} else if env.TotalCount != nil {
		page.TotalCount = *env.TotalCount
	}
	if env.HasMore != nil {
		page.HasMore = *env.HasMore
	} else {
		page.HasMore = limit > 0 && len(records) == limit
	}
	return page, nil
}

// decodeCount accepts either a bare integer or a {count}/{unread} envelope
func decodeCount(body []byte) (int, error) {
	var n int
	if err := json.Unmarshal(body, &n); err == nil {
		return n, nil
	}

	var env struct {
		Count  *int `json:"count"`
		Unread *int `json:"unread"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return 0, fmt.Errorf("gateway: undecodable count response: %w", err)
	}
	if env.Count != nil {
		return *env.Count, nil
	}
	if env.Unread != nil {
		return *env.Unread, nil
	}
	return 0, errors.New("gateway: count response missing count field")
}
