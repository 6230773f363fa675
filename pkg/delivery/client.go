// Package delivery implements the outbound quote-request client: it submits a
// repair request to one or many workshops with at-least-once semantics,
// collapsing duplicate in-flight sends and retrying transient failures with
// exponential backoff. Every retry reuses the same idempotency key so the
// server can deduplicate.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// State mirrors the local optimistic delivery state. It tracks, it does not
// replace, server truth.
type State string

const (
	StateSending   State = "sending"
	StateSubmitted State = "submitted"
	StateFailed    State = "failed"
)

// Car identifies the vehicle a quote request is about.
type Car struct {
	ID    string `json:"id"`
	Make  string `json:"make"`
	Model string `json:"model"`
	Year  int    `json:"year"`
	Plate string `json:"plate,omitempty"`
}

// Options carries the descriptive payload of a quote request.
type Options struct {
	DamageDescriptions []string `json:"damageDescriptions,omitempty"`
	RequestedServices  []string `json:"requestedServices,omitempty"`
	Budget             *float64 `json:"budget,omitempty"`
	Timeline           string   `json:"timeline,omitempty"`
	Priority           string   `json:"priority,omitempty"`
}

// BulkResult summarises a bulk send.
type BulkResult struct {
	QuotationID string
	Succeeded   int
	Failed      int
}

// Config configures a Client.
type Config struct {
	BaseURL   string
	AuthToken string

	// Backoff policy for SendSingle. Zero values fall back to the defaults
	// (1s initial delay, x2 per attempt, 30s cap, 3 attempts).
	InitialDelay      time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
	MaxRetries        int

	HTTPClient *http.Client

	// OnStateChange observes optimistic per-workshop state transitions.
	OnStateChange func(workshopID string, state State)
	// OnRetry fires after a failed attempt, before the backoff sleep.
	OnRetry func(workshopID string, attempt int, err error)
}

// Client delivers quote requests to the gateway.
type Client struct {
	cfg        Config
	httpClient *http.Client

	mu       sync.Mutex
	inflight map[string]*inflightCall

	now func() time.Time
}

// inflightCall lets concurrent senders for the same (car, workshop) pair join
// a single network call instead of issuing a second one.
type inflightCall struct {
	done        chan struct{}
	quotationID string
	err         error
}

// NewClient constructs a delivery client.
func NewClient(cfg Config) *Client {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.BackoffMultiplier <= 1 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		inflight:   make(map[string]*inflightCall),
		now:        time.Now,
	}
}

// SendSingle delivers a quote request to one workshop. Concurrent calls for
// the same (car, workshop) pair share one network call and one result. The
// request is retried on transient failures up to the configured budget; every
// attempt carries the same idempotency key.
func (c *Client) SendSingle(ctx context.Context, workshopID string, car Car, opts Options) (string, error) {
	if car.ID == "" {
		return "", &TerminalError{Err: errors.New("car id is required")}
	}
	if workshopID == "" {
		return "", &TerminalError{Err: errors.New("workshop id is required")}
	}

	key := car.ID + "_" + workshopID

	c.mu.Lock()
	if call, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-call.done:
			return call.quotationID, call.err
		}
	}
	call := &inflightCall{done: make(chan struct{})}
	c.inflight[key] = call
	c.mu.Unlock()

	c.notifyState(workshopID, StateSending)
	idemKey := fmt.Sprintf("quote_%s_%s_%d", car.ID, workshopID, c.now().UnixMilli())

	quotationID, err := c.sendWithRetry(ctx, workshopID, car, opts, idemKey)

	call.quotationID = quotationID
	call.err = err
	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
	close(call.done)

	if err != nil {
		c.notifyState(workshopID, StateFailed)
		return "", err
	}
	c.notifyState(workshopID, StateSubmitted)
	return quotationID, nil
}

// SendBulk delivers one quote request targeting many workshops in a single
// network call. The transport is all-or-nothing; optimistic state is applied
// per workshop regardless. Bulk sends are not retried.
func (c *Client) SendBulk(ctx context.Context, workshopIDs []string, car Car, opts Options) (BulkResult, error) {
	if car.ID == "" {
		return BulkResult{Failed: len(workshopIDs)}, &TerminalError{Err: errors.New("car id is required")}
	}
	if len(workshopIDs) == 0 {
		return BulkResult{}, &TerminalError{Err: errors.New("at least one workshop id is required")}
	}

	for _, id := range workshopIDs {
		c.notifyState(id, StateSending)
	}

	idemKey := fmt.Sprintf("quote_%s_bulk_%d", car.ID, c.now().UnixMilli())
	quotationID, err := c.post(ctx, workshopIDs, car, opts, idemKey)
	if err != nil {
		for _, id := range workshopIDs {
			c.notifyState(id, StateFailed)
		}
		return BulkResult{Failed: len(workshopIDs)}, err
	}

	for _, id := range workshopIDs {
		c.notifyState(id, StateSubmitted)
	}
	return BulkResult{QuotationID: quotationID, Succeeded: len(workshopIDs)}, nil
}

// MarkQuoteFailed rolls the optimistic state for a workshop back to failed.
// Callers abandoning an in-flight send must invoke this explicitly; the
// network call itself is not aborted.
func (c *Client) MarkQuoteFailed(workshopID string) {
	c.notifyState(workshopID, StateFailed)
}

func (c *Client) sendWithRetry(ctx context.Context, workshopID string, car Car, opts Options, idemKey string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		quotationID, err := c.post(ctx, []string{workshopID}, car, opts, idemKey)
		if err == nil {
			return quotationID, nil
		}

		var terminal *TerminalError
		if errors.As(err, &terminal) {
			return "", err
		}
		lastErr = err

		if attempt == c.cfg.MaxRetries {
			break
		}
		if c.cfg.OnRetry != nil {
			c.cfg.OnRetry(workshopID, attempt, err)
		}
		if err := c.sleep(ctx, c.backoffDelay(attempt)); err != nil {
			return "", err
		}
	}
	return "", &TerminalError{Err: fmt.Errorf("retries exhausted: %w", lastErr)}
}

// backoffDelay computes the wait before attempt n+1:
// min(initial * multiplier^(n-1), max).
func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.cfg.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * c.cfg.BackoffMultiplier)
		if delay >= c.cfg.MaxDelay {
			return c.cfg.MaxDelay
		}
	}
	if delay > c.cfg.MaxDelay {
		return c.cfg.MaxDelay
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type createPayload struct {
	Vehicle            Car      `json:"vehicle"`
	TargetWorkshops    []string `json:"targetWorkshops"`
	DamageDescriptions []string `json:"damageDescriptions,omitempty"`
	RequestedServices  []string `json:"requestedServices,omitempty"`
	Budget             *float64 `json:"budget,omitempty"`
	Timeline           string   `json:"timeline,omitempty"`
	Priority           string   `json:"priority,omitempty"`
}

type envelope struct {
	Data  *struct {
		ID string `json:"id"`
	} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, workshopIDs []string, car Car, opts Options, idemKey string) (string, error) {
	payload := createPayload{
		Vehicle:            car,
		TargetWorkshops:    workshopIDs,
		DamageDescriptions: opts.DamageDescriptions,
		RequestedServices:  opts.RequestedServices,
		Budget:             opts.Budget,
		Timeline:           opts.Timeline,
		Priority:           opts.Priority,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", &TerminalError{Err: fmt.Errorf("marshal payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/quotations", bytes.NewReader(body))
	if err != nil {
		return "", &TerminalError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idemKey)
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &TransientError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &TransientError{StatusCode: resp.StatusCode, Err: err}
	}

	var env envelope
	if resp.StatusCode >= http.StatusInternalServerError {
		return "", &TransientError{StatusCode: resp.StatusCode, Err: fmt.Errorf("server error: %s", firstLine(raw))}
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", &TransientError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		code, message := "", "request rejected"
		if env.Error != nil {
			code, message = env.Error.Code, env.Error.Message
		}
		return "", &TerminalError{StatusCode: resp.StatusCode, Code: code, Err: errors.New(message)}
	}
	if env.Data == nil || env.Data.ID == "" {
		return "", &TransientError{StatusCode: resp.StatusCode, Err: errors.New("response missing quotation id")}
	}
	return env.Data.ID, nil
}

func (c *Client) notifyState(workshopID string, state State) {
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(workshopID, state)
	}
}

func firstLine(raw []byte) string {
	for i, b := range raw {
		if b == '\n' {
			raw = raw[:i]
			break
		}
	}
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return string(raw)
}
