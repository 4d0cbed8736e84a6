// Package remote talks to the back office over HTTP.
//
// Client implements the collaborators the register needs from the network:
// sale submission (checkout.Processor), exchange rates (currency.Source) and
// a reachability probe (checkout.Connectivity). Sale submission runs behind a
// circuit breaker; while it is open, submissions fail fast with
// REMOTE_UNAVAILABLE and the checkout queues the sale instead.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"

	"github.com/roach88/cashier/internal/checkout"
	"github.com/roach88/cashier/internal/failure"
	"github.com/roach88/cashier/internal/ids"
)

// Defaults for Options.
const (
	DefaultTimeout          = 10 * time.Second
	DefaultProbeTimeout     = 2 * time.Second
	DefaultFailureThreshold = 3
	DefaultOpenTimeout      = 30 * time.Second
)

// Options configure a Client. Zero values take the defaults above.
type Options struct {
	BaseURL string
	// Timeout bounds a single request.
	Timeout time.Duration
	// ProbeTimeout bounds the health probe behind Online.
	ProbeTimeout time.Duration
	// FailureThreshold is the number of consecutive failed submissions that
	// opens the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before letting a trial
	// submission through.
	OpenTimeout time.Duration
	HTTPClient  *http.Client
}

// Client is the back office client.
//
// Thread-safety: Client is safe for concurrent use.
type Client struct {
	base         *url.URL
	http         *http.Client
	probeTimeout time.Duration
	breaker      *gobreaker.CircuitBreaker[checkout.SaleRecord]
	requestIDs   ids.Generator
}

// New returns a client for the back office at opts.BaseURL.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("remote: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: parse base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("remote: unsupported scheme %q", base.Scheme)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = DefaultOpenTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}

	threshold := opts.FailureThreshold
	breaker := gobreaker.NewCircuitBreaker[checkout.SaleRecord](gobreaker.Settings{
		Name:        "process-sale",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		// A rejected sale proves the back office is up.
		IsSuccessful: func(err error) bool {
			return err == nil || failure.IsValidation(err)
		},
	})

	return &Client{
		base:         base,
		http:         hc,
		probeTimeout: opts.ProbeTimeout,
		breaker:      breaker,
		requestIDs:   ids.UUIDv7Generator{},
	}, nil
}

// ProcessSale submits payload for companyID.
//
// A duplicate answer counts as success: the sale number is already on
// record. Rejections (4xx) are validation failures with code REJECTED;
// transport errors and 5xx answers are network failures with SUBMIT_FAILED.
func (c *Client) ProcessSale(ctx context.Context, payload checkout.SalePayload, companyID string) (checkout.SaleRecord, error) {
	rec, err := c.breaker.Execute(func() (checkout.SaleRecord, error) {
		return c.postSale(ctx, payload, companyID)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return checkout.SaleRecord{}, failure.Network(failure.CodeRemoteUnavailable, "sale submission suspended", err)
	}
	return rec, err
}

// BreakerState reports the state of the submission breaker.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

func (c *Client) postSale(ctx context.Context, payload checkout.SalePayload, companyID string) (checkout.SaleRecord, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return checkout.SaleRecord{}, fmt.Errorf("encode sale: %w", err)
	}

	endpoint := c.endpoint("v1", "companies", companyID, "sales")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return checkout.SaleRecord{}, fmt.Errorf("build sale request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", c.requestIDs.Generate())

	resp, err := c.http.Do(req)
	if err != nil {
		return checkout.SaleRecord{}, failure.Network(failure.CodeSubmitFailed, "post sale", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var rec checkout.SaleRecord
		if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
			return checkout.SaleRecord{}, failure.Network(failure.CodeSubmitFailed, "decode sale answer", err)
		}
		if rec.SaleNumber == "" {
			rec.SaleNumber = payload.SaleNumber
		}
		if rec.Status == "" {
			rec.Status = checkout.StatusAccepted
		}
		slog.Debug("sale submitted", "company", companyID, "sale_number", rec.SaleNumber, "status", rec.Status)
		return rec, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return checkout.SaleRecord{}, failure.Validation(failure.CodeRejected,
			"back office rejected sale (%d): %s", resp.StatusCode, errorMessage(resp.Body))
	default:
		return checkout.SaleRecord{}, failure.Network(failure.CodeSubmitFailed, "post sale",
			fmt.Errorf("status %d: %s", resp.StatusCode, errorMessage(resp.Body)))
	}
}

// LatestRate returns the back office rate for converting from into to.
func (c *Client) LatestRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	endpoint := c.endpoint("v1", "rates") + "?" + url.Values{"from": {from}, "to": {to}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build rate request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Zero, failure.Network(failure.CodeRateUnavailable, "fetch rate", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, failure.Network(failure.CodeRateUnavailable, "fetch rate",
			fmt.Errorf("%s/%s: status %d: %s", from, to, resp.StatusCode, errorMessage(resp.Body)))
	}

	var out struct {
		Rate decimal.Decimal `json:"rate"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return decimal.Zero, failure.Network(failure.CodeRateUnavailable, "decode rate", err)
	}
	if !out.Rate.IsPositive() {
		return decimal.Zero, failure.Validation(failure.CodeInvalidRate, "back office quoted %s for %s/%s", out.Rate, from, to)
	}
	return out.Rate, nil
}

// Online probes the back office health endpoint. Any failure, including a
// probe slower than ProbeTimeout, counts as offline.
func (c *Client) Online(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("healthz"), nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		slog.Debug("back office unreachable", "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (c *Client) endpoint(segments ...string) string {
	return c.base.JoinPath(segments...).String()
}

// errorMessage extracts {"error": "..."} from a failed answer, falling back
// to the raw body.
func errorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4<<10))
	if err != nil {
		return err.Error()
	}
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(raw))
}
