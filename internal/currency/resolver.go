package currency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/cashier/internal/failure"
)

// ErrSuperseded is returned by Resolve when a newer call started before this
// one finished. The newer call's result wins; this one is discarded.
var ErrSuperseded = errors.New("currency: resolution superseded by a newer request")

// Source fetches the latest rate for a pair.
type Source interface {
	LatestRate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// Quote is the resolved conversion for one selection.
type Quote struct {
	Currency   string          `json:"currency"`
	Base       string          `json:"baseCurrency"`
	Rate       decimal.Decimal `json:"exchangeRate"`
	Total      decimal.Decimal `json:"totalAfter"`
	Suggested  decimal.Decimal `json:"suggestedAmount"`
	Generation uint64          `json:"generation"`
	FetchedAt  time.Time       `json:"fetchedAt"`
}

// Resolver tracks the selected currency and its suggested amount.
//
// Every Resolve call takes a new generation. Only the newest generation may
// publish its Quote, so a slow fetch for an earlier selection can never
// overwrite the answer for a later one.
//
// Thread-safety: all methods are safe for concurrent use.
type Resolver struct {
	base  string
	src   Source
	now   func() time.Time
	group singleflight.Group
	gen   atomic.Uint64

	mu      sync.Mutex
	current Quote
	has     bool
}

// NewResolver returns a resolver for the given base currency. A nil now uses
// time.Now.
func NewResolver(base string, src Source, now func() time.Time) (*Resolver, error) {
	code, err := ValidateCode(base)
	if err != nil {
		return nil, fmt.Errorf("base currency: %w", err)
	}
	if src == nil {
		return nil, fmt.Errorf("rate source is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Resolver{base: code, src: src, now: now}, nil
}

// Base returns the tenant's base currency.
func (r *Resolver) Base() string {
	return r.base
}

// Resolve selects currency for a cart whose discounted total is totalAfter.
//
// On a fetch failure the previous quote is kept and a network failure is
// returned. If another Resolve started meanwhile, ErrSuperseded is returned
// and nothing is published.
func (r *Resolver) Resolve(ctx context.Context, selected string, totalAfter decimal.Decimal) (Quote, error) {
	token := r.gen.Add(1)

	code, err := ValidateCode(selected)
	if err != nil {
		return Quote{}, err
	}

	q := Quote{Currency: code, Base: r.base, Total: totalAfter, Generation: token}
	if code == r.base {
		q.Rate = decimal.NewFromInt(1)
		q.Suggested = totalAfter
		q.FetchedAt = r.now()
		return q, r.publish(q)
	}

	rate, err := r.fetch(ctx, code)
	if err != nil {
		if r.gen.Load() != token {
			return Quote{}, ErrSuperseded
		}
		slog.Warn("rate fetch failed, keeping previous quote", "from", r.base, "to", code, "error", err)
		return Quote{}, failure.Network(failure.CodeRateUnavailable,
			fmt.Sprintf("rate %s->%s unavailable", r.base, code), err)
	}

	suggested, err := SuggestedAmount(totalAfter, rate)
	if err != nil {
		return Quote{}, err
	}
	q.Rate = rate
	q.Suggested = suggested
	q.FetchedAt = r.now()
	return q, r.publish(q)
}

// Current returns the last published quote.
func (r *Resolver) Current() (Quote, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.has
}

func (r *Resolver) publish(q Quote) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.gen.Load() != q.Generation {
		slog.Debug("dropping superseded quote", "currency", q.Currency, "generation", q.Generation)
		return ErrSuperseded
	}
	r.current = q
	r.has = true
	return nil
}

// fetch shares one in-flight request per pair across concurrent callers.
func (r *Resolver) fetch(ctx context.Context, code string) (decimal.Decimal, error) {
	key := r.base + "->" + code
	ch := r.group.DoChan(key, func() (any, error) {
		// Detached so one caller giving up does not fail the others.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return r.src.LatestRate(fctx, r.base, code)
	})

	select {
	case <-ctx.Done():
		return decimal.Zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return decimal.Zero, res.Err
		}
		rate := res.Val.(decimal.Decimal)
		if err := checkRate(rate); err != nil {
			return decimal.Zero, err
		}
		return rate, nil
	}
}
