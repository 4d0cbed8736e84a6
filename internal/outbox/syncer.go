package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/cashier/internal/checkout"
	"github.com/roach88/cashier/internal/failure"
	"github.com/roach88/cashier/internal/ids"
	"github.com/roach88/cashier/internal/store"
)

const leaseName = "outbox-drain"

// Defaults for SyncerOptions.
const (
	DefaultInterval   = 30 * time.Second
	DefaultRetryBase  = 2 * time.Second
	DefaultMaxBackoff = 5 * time.Minute
	DefaultLeaseTTL   = time.Minute
)

// SyncerOptions configure a Syncer. Zero values take the defaults above.
type SyncerOptions struct {
	// Holder names this process in drain leases. Defaults to a UUIDv7.
	Holder     string
	Interval   time.Duration
	RetryBase  time.Duration
	MaxBackoff time.Duration
	LeaseTTL   time.Duration
	Now        func() time.Time
}

// Report summarizes one drain pass.
type Report struct {
	// Skipped is set when another process held the drain lease.
	Skipped   bool   `json:"skipped"`
	Attempted int    `json:"attempted"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
	Remaining int    `json:"remaining"`
	LastError string `json:"lastError,omitempty"`
}

// Syncer drains the outbox against the back office.
//
// Drain is safe to call from several goroutines and processes; passes are
// serialized by a lease row in the store.
type Syncer struct {
	store     *store.Store
	processor checkout.Processor
	opts      SyncerOptions
	kick      chan struct{}
}

// NewSyncer returns a syncer submitting through processor.
func NewSyncer(st *store.Store, processor checkout.Processor, opts SyncerOptions) *Syncer {
	if opts.Holder == "" {
		opts.Holder = ids.UUIDv7Generator{}.Generate()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = DefaultRetryBase
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = DefaultLeaseTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Syncer{
		store:     st,
		processor: processor,
		opts:      opts,
		kick:      make(chan struct{}, 1),
	}
}

// Kick asks Run to drain now. Kicks coalesce; it never blocks.
func (s *Syncer) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Drain submits the queued operations of companyID in enqueue order. An empty
// companyID drains every company.
//
// A delivered operation (including one the back office reports as a
// duplicate) is removed. A failed one stays queued with its attempt count and
// last error. A network failure ends the pass since every later entry would
// fail the same way; the error is returned. A rejection by the back office
// only skips that entry.
func (s *Syncer) Drain(ctx context.Context, companyID string) (Report, error) {
	var rep Report

	ok, err := s.store.AcquireLease(ctx, leaseName, s.opts.Holder, s.opts.LeaseTTL, s.opts.Now())
	if err != nil {
		return rep, failure.Persistence(failure.CodeStoreWrite, "acquire drain lease", err)
	}
	if !ok {
		slog.Debug("drain skipped, lease held elsewhere", "holder", s.opts.Holder)
		rep.Skipped = true
		return rep, nil
	}
	defer func() {
		if err := s.store.ReleaseLease(context.WithoutCancel(ctx), leaseName, s.opts.Holder); err != nil {
			slog.Warn("release drain lease", "error", err)
		}
	}()

	ops, err := s.store.PendingOperations(ctx, companyID, 0)
	if err != nil {
		return rep, failure.Persistence(failure.CodeStoreRead, "list pending operations", err)
	}

	var stopErr error
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			stopErr = err
			break
		}
		if _, err := s.store.AcquireLease(ctx, leaseName, s.opts.Holder, s.opts.LeaseTTL, s.opts.Now()); err != nil {
			stopErr = failure.Persistence(failure.CodeStoreWrite, "renew drain lease", err)
			break
		}

		rep.Attempted++
		err := s.submit(ctx, op)
		if err == nil {
			if err := s.store.DeleteOperation(ctx, op.Seq); err != nil {
				stopErr = failure.Persistence(failure.CodeStoreWrite, "delete delivered operation", err)
				break
			}
			rep.Delivered++
			continue
		}

		rep.Failed++
		rep.LastError = err.Error()
		if rerr := s.store.RecordAttempt(ctx, op.Seq, err.Error()); rerr != nil {
			slog.Warn("record drain attempt", "sale_number", op.SaleNumber, "error", rerr)
		}
		slog.Warn("queued sale not delivered", "company", op.CompanyID, "sale_number", op.SaleNumber,
			"attempts", op.Attempts+1, "error", err)

		if !failure.IsValidation(err) {
			stopErr = fmt.Errorf("drain stopped at %s: %w", op.SaleNumber, err)
			break
		}
	}

	remaining, err := s.store.CountPending(ctx, companyID)
	if err == nil {
		rep.Remaining = remaining
	}

	slog.Info("drain pass finished", "company", companyID, "delivered", rep.Delivered,
		"failed", rep.Failed, "remaining", rep.Remaining)
	return rep, stopErr
}

func (s *Syncer) submit(ctx context.Context, op store.Operation) error {
	payload, err := Decode(op)
	if err != nil {
		// Undecodable entries can never succeed; skip them like a rejection.
		return failure.Validation(failure.CodeRejected, "%v", err)
	}
	rec, err := s.processor.ProcessSale(ctx, payload, op.CompanyID)
	if err != nil {
		return err
	}
	slog.Debug("queued sale delivered", "company", op.CompanyID, "sale_number", op.SaleNumber, "status", rec.Status)
	return nil
}

// Run drains companyID until ctx is cancelled: once at start, then every
// Interval and whenever Kick is called. After a failed pass the next attempt
// waits RetryBase, doubling per consecutive failure up to MaxBackoff. A Kick
// always drains immediately.
func (s *Syncer) Run(ctx context.Context, companyID string) error {
	slog.Info("sync engine starting", "company", companyID, "interval", s.opts.Interval)

	failures := 0
	delay := time.Duration(0)
	for {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("sync engine stopping: context cancelled")
			return ctx.Err()
		case <-timer.C:
		case <-s.kick:
			timer.Stop()
		}

		_, err := s.Drain(ctx, companyID)
		if err != nil && ctx.Err() == nil {
			failures++
			delay = s.backoff(failures)
			slog.Warn("drain failed, backing off", "failures", failures, "retry_in", delay, "error", err)
			continue
		}
		failures = 0
		delay = s.opts.Interval
	}
}

// backoff returns RetryBase * 2^(failures-1), capped at MaxBackoff.
func (s *Syncer) backoff(failures int) time.Duration {
	d := s.opts.RetryBase
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= s.opts.MaxBackoff {
			return s.opts.MaxBackoff
		}
	}
	if d > s.opts.MaxBackoff {
		return s.opts.MaxBackoff
	}
	return d
}
