// Package archive looks up origin visits through the archive web API.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/savecodenow/internal/savecode"
)

// visitsPerPage bounds how far back a lookup scans.
const visitsPerPage = 20

// Options configures the HTTP client.
type Options struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client implements savecode.Archive against /api/1/origin/<url>/visits/.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	tracer     trace.Tracer
}

// New builds a Client.
func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("archive url is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		httpClient: httpClient,
		tracer:     otel.Tracer("github.com/JakeFAU/savecodenow/internal/archive"),
	}, nil
}

// LatestVisit returns the most recent visit of visitType at or after the
// given date, or nil when the origin is unknown or has no such visit.
func (c *Client) LatestVisit(ctx context.Context, originURL, visitType string, after time.Time) (*savecode.Visit, error) {
	ctx, span := c.tracer.Start(ctx, "archive.latest_visit",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("origin.url", originURL),
			attribute.String("origin.visit_type", visitType),
		),
	)
	defer span.End()

	visit, err := c.latestVisit(ctx, originURL, visitType, after)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Bool("origin.visit_found", visit != nil))
	return visit, nil
}

func (c *Client) latestVisit(ctx context.Context, originURL, visitType string, after time.Time) (*savecode.Visit, error) {
	endpoint := fmt.Sprintf("%s/api/1/origin/%s/visits/?per_page=%d",
		c.baseURL, url.PathEscape(originURL), visitsPerPage)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build visits request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("archive visits: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("archive visits: status=%d message=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var visits []savecode.Visit
	if err := json.NewDecoder(resp.Body).Decode(&visits); err != nil {
		return nil, fmt.Errorf("decode visits: %w", err)
	}
	return pickVisit(visits, visitType, after), nil
}

func pickVisit(visits []savecode.Visit, visitType string, after time.Time) *savecode.Visit {
	var best *savecode.Visit
	for i := range visits {
		v := visits[i]
		if visitType != "" && v.Type != "" && v.Type != visitType {
			continue
		}
		if v.Date.Before(after) {
			continue
		}
		if best == nil || v.Date.After(best.Date) || (v.Date.Equal(best.Date) && v.Visit > best.Visit) {
			best = &v
		}
	}
	return best
}
