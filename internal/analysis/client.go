// RoomSync - Realtime Watch Room Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/roomsync/internal/config"
	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/metrics"
	"github.com/tomtom215/roomsync/internal/models"
	"github.com/tomtom215/roomsync/internal/validation"
)

const (
	analyzePath      = "/analyze"
	maxErrorBodySize = 4 * 1024
)

// analyzeRequest is the JSON body sent to the service. Timestamp is always
// present; null means the whole video.
type analyzeRequest struct {
	RoomID           uuid.UUID `json:"room_id" validate:"required"`
	RequesterID      uuid.UUID `json:"requester_id"`
	Question         string    `json:"question" validate:"required,max=2000"`
	VideoURL         string    `json:"video_url" validate:"required,url"`
	Timestamp        *string   `json:"timestamp" validate:"omitempty,mmss"`
	TimestampSeconds *int      `json:"timestamp_seconds" validate:"omitempty,gte=0"`
	IdempotencyKey   string    `json:"idempotency_key" validate:"required,max=64"`
}

type analyzeResponse struct {
	Blocked bool            `json:"blocked"`
	Reason  string          `json:"reason"`
	Message *models.Message `json:"message"`
}

// Client calls the analysis service over HTTP.
type Client struct {
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	cb         *gobreaker.CircuitBreaker[*Response]
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a client for the service at cfg.URL.
func NewClient(cfg *config.AnalysisConfig, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("analysis URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse analysis URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("analysis URL must be http or https, got %q", base.Scheme)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	c := &Client{
		endpoint:   base.String() + analyzePath,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		cb:         newBreaker(cfg),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Analyze sends one question. It waits for the rate limiter, and fails fast
// with ErrUnavailable while the circuit breaker is open.
func (c *Client) Analyze(ctx context.Context, req Request) (*Response, error) {
	body, err := encodeRequest(req)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("analysis rate limit: %w", err)
	}

	start := time.Now()
	resp, err := c.execute(func() (*Response, error) {
		return c.do(ctx, req, body)
	})
	metrics.RecordAnalysis(time.Since(start), analysisResult(resp, err))
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func encodeRequest(req Request) ([]byte, error) {
	wire := analyzeRequest{
		RoomID:           req.RoomID,
		RequesterID:      req.RequesterID,
		Question:         strings.TrimSpace(req.Question),
		VideoURL:         req.VideoURL,
		TimestampSeconds: req.Timestamp,
		IdempotencyKey:   req.IdempotencyKey,
	}
	if req.Timestamp != nil {
		ts := FormatTimestamp(*req.Timestamp)
		wire.Timestamp = &ts
	}
	if verr := validation.ValidateStruct(wire); verr != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, verr.Error())
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encode analysis request: %w", err)
	}
	return body, nil
}

func (c *Client) execute(fn func() (*Response, error)) (*Response, error) {
	resp, err := c.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "rejected").Inc()
			logging.Warn().Err(err).Msg("[CIRCUIT BREAKER] Analysis request rejected")
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "failure").Inc()
		return nil, err
	}
	metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "success").Inc()
	return resp, nil
}

func (c *Client) do(ctx context.Context, req Request, body []byte) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("analysis request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &StatusError{
			StatusCode: httpResp.StatusCode,
			Body:       strings.TrimSpace(string(readBodyForError(httpResp.Body))),
		}
	}

	var out analyzeResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode analysis response: %w", err)
	}

	resp := &Response{Blocked: out.Blocked, Reason: out.Reason}
	if out.Message != nil && !out.Blocked {
		m := *out.Message
		if m.RoomID == uuid.Nil {
			m.RoomID = req.RoomID
		}
		if m.IdempotencyKey == "" {
			m.IdempotencyKey = req.IdempotencyKey
		}
		if m.Kind == "" {
			m.Kind = models.KindAIResponse
		}
		resp.Message = &m
	}
	return resp, nil
}

func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	return body
}

func analysisResult(resp *Response, err error) string {
	switch {
	case errors.Is(err, ErrUnavailable):
		return "rejected"
	case err != nil:
		return "error"
	case resp.Blocked:
		return "blocked"
	default:
		return "answered"
	}
}
