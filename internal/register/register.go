// Package register assembles one cashier register from its parts and owns
// their lifecycle.
//
// Open restores the persisted session and carts, Close saves them. In
// between, every state-changing call goes through the cart store, the
// checkout finalizer or the outbox; the register adds persistence at
// lifecycle points and surfaces persistence failures as warnings instead of
// failing the operation that triggered them.
package register

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/cashier/internal/cart"
	"github.com/roach88/cashier/internal/checkout"
	"github.com/roach88/cashier/internal/config"
	"github.com/roach88/cashier/internal/currency"
	"github.com/roach88/cashier/internal/failure"
	"github.com/roach88/cashier/internal/ids"
	"github.com/roach88/cashier/internal/outbox"
	"github.com/roach88/cashier/internal/remote"
	"github.com/roach88/cashier/internal/session"
	"github.com/roach88/cashier/internal/stock"
	"github.com/roach88/cashier/internal/store"
)

// BackOffice is what the register needs from the network.
type BackOffice interface {
	checkout.Processor
	checkout.Connectivity
	currency.Source
}

// Options configure Open. Only Config is required.
type Options struct {
	Config config.Config
	// BackOffice replaces the HTTP client built from Config.
	BackOffice BackOffice
	// CartIDs generates cart IDs. Defaults to UUIDv7.
	CartIDs ids.Generator
	Now     func() time.Time
}

// Register is an open register.
type Register struct {
	cfg       config.Config
	now       func() time.Time
	store     *store.Store
	hydrator  *session.Hydrator
	carts     *cart.Store
	resolver  *currency.Resolver
	queue     *outbox.Queue
	syncer    *outbox.Syncer
	finalizer *checkout.Finalizer
	numbers   *ids.SaleNumbers
	remote    BackOffice

	syncing atomic.Bool

	mu       sync.Mutex
	operator session.OfflineSession
	warnings []string
}

// Open opens the store at cfg.DB and restores the operator session and the
// carts of its company.
func Open(ctx context.Context, opts Options) (*Register, error) {
	cfg := opts.Config
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	bo := opts.BackOffice
	if bo == nil {
		if cfg.BackOffice.URL == "" {
			bo = offline{}
		} else {
			client, err := remote.New(remote.Options{
				BaseURL:          cfg.BackOffice.URL,
				Timeout:          cfg.BackOffice.Timeout.Std(),
				ProbeTimeout:     cfg.BackOffice.ProbeTimeout.Std(),
				FailureThreshold: uint32(cfg.BackOffice.FailureThreshold),
				OpenTimeout:      cfg.BackOffice.OpenTimeout.Std(),
			})
			if err != nil {
				return nil, err
			}
			bo = client
		}
	}

	st, err := store.Open(cfg.DB)
	if err != nil {
		return nil, failure.Persistence(failure.CodeStoreRead, "open "+cfg.DB, err)
	}

	r := &Register{
		cfg:      cfg,
		now:      now,
		store:    st,
		hydrator: session.New(st),
		carts:    cart.NewStore(stock.NewTracker(nil), opts.CartIDs),
		queue:    outbox.NewQueue(st, now),
		remote:   bo,
	}

	if err := r.init(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return r, nil
}

func (r *Register) init(ctx context.Context) error {
	var err error
	r.resolver, err = currency.NewResolver(r.cfg.BaseCurrency, r.remote, r.now)
	if err != nil {
		return err
	}

	r.syncer = outbox.NewSyncer(r.store, r.remote, outbox.SyncerOptions{
		Interval:   r.cfg.Sync.Interval.Std(),
		RetryBase:  r.cfg.Sync.RetryBase.Std(),
		MaxBackoff: r.cfg.Sync.MaxBackoff.Std(),
		LeaseTTL:   r.cfg.Sync.LeaseTTL.Std(),
		Now:        r.now,
	})

	r.numbers = ids.NewSaleNumbers(r.now)
	r.finalizer, err = checkout.NewFinalizer(checkout.Options{
		Carts:        r.carts,
		BaseCurrency: r.cfg.BaseCurrency,
		Processor:    r.remote,
		Connectivity: r.remote,
		Queue:        r.queue,
		Drainer:      r.syncer,
		SaleNumbers:  r.numbers,
		Now:          r.now,
	})
	if err != nil {
		return err
	}

	op, err := r.resolveOperator(ctx)
	if err != nil {
		return err
	}
	r.operator = op

	if op.CompanyID != "" {
		if _, err := r.hydrator.Restore(ctx, op.CompanyID, r.carts); err != nil {
			r.warn("restore carts", err)
		}
	}
	return r.carts.EnsureCart()
}

// resolveOperator prefers the configured operator and falls back to the
// persisted offline session.
func (r *Register) resolveOperator(ctx context.Context) (session.OfflineSession, error) {
	saved, found, err := r.hydrator.LoadSession(ctx)
	if err != nil {
		r.warn("load session", err)
	}

	op := r.cfg.Operator
	if op.CompanyID == "" && found {
		return saved, nil
	}
	return session.OfflineSession{
		CashierID:    op.CashierID,
		CompanyID:    op.CompanyID,
		BranchID:     op.BranchID,
		Currency:     r.cfg.Currency,
		BaseCurrency: r.cfg.BaseCurrency,
	}, nil
}

// Operator returns the current operator session.
func (r *Register) Operator() session.OfflineSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.operator
}

// SetOperator switches the operator session and persists it. Switching to
// another company saves the current company's carts and loads the new one's.
func (r *Register) SetOperator(ctx context.Context, s session.OfflineSession) error {
	if s.CompanyID == "" {
		return failure.Validation(failure.CodeMissingSession, "company is required")
	}
	// The base currency is a property of the register, not of the operator.
	s.BaseCurrency = r.cfg.BaseCurrency
	if s.Currency == "" {
		s.Currency = s.BaseCurrency
	}
	code, err := currency.ValidateCode(s.Currency)
	if err != nil {
		return err
	}
	s.Currency = code

	prev := r.Operator()
	if prev.CompanyID != "" && prev.CompanyID != s.CompanyID {
		if err := r.hydrator.Save(ctx, prev.CompanyID, r.carts); err != nil {
			r.warn("save carts", err)
		}
	}

	if err := r.hydrator.SaveSession(ctx, s); err != nil {
		return err
	}
	r.mu.Lock()
	r.operator = s
	r.mu.Unlock()

	if prev.CompanyID != s.CompanyID {
		r.carts.Tracker().Load(nil)
		if err := r.carts.Dispatch(cart.Hydrate{State: cart.State{Discount: cart.NoDiscount}}); err != nil {
			return err
		}
		if _, err := r.hydrator.Restore(ctx, s.CompanyID, r.carts); err != nil {
			r.warn("restore carts", err)
		}
		return r.carts.EnsureCart()
	}
	return nil
}

// Carts returns the cart store.
func (r *Register) Carts() *cart.Store { return r.carts }

// Dispatch applies a cart action.
func (r *Register) Dispatch(a cart.Action) error {
	return r.carts.Dispatch(a)
}

// LoadProducts replaces the product snapshot. Reservations held by existing
// carts are taken out of the new counts; a line that no longer fits is kept
// and reported as a warning.
func (r *Register) LoadProducts(products []stock.Product) {
	tracker := r.carts.Tracker()
	tracker.Load(products)
	for _, c := range r.carts.State().Carts {
		for _, it := range c.Items {
			if err := tracker.Apply(stock.Consume(it.ProductID, it.UnitID, it.Qty)); err != nil {
				r.warn(fmt.Sprintf("re-reserve %s in %s", it.ProductID, c.Name), err)
			}
		}
	}
	slog.Info("products loaded", "count", len(products))
}

const ratePrefix = "cashierRate:"

// Quote resolves the exchange rate for code against the active cart total.
//
// Each fetched rate is remembered in the store. When the back office cannot
// be reached, the last rate seen for the same currency is used instead.
func (r *Register) Quote(ctx context.Context, code string) (currency.Quote, error) {
	_, totals, _ := r.carts.Active()
	q, err := r.resolver.Resolve(ctx, code, totals.After)
	if err == nil {
		if q.Currency != q.Base {
			r.rememberRate(ctx, q)
		}
		return q, nil
	}
	if !failure.IsNetwork(err) {
		return currency.Quote{}, err
	}

	stale, ok := r.lastRate(ctx, strings.ToUpper(code))
	if !ok {
		return currency.Quote{}, err
	}
	suggested, serr := currency.SuggestedAmount(totals.After, stale.Rate)
	if serr != nil {
		return currency.Quote{}, serr
	}
	stale.Total = totals.After
	stale.Suggested = suggested
	slog.Warn("using stale rate", "currency", stale.Currency, "rate", stale.Rate, "fetched_at", stale.FetchedAt)
	return stale, nil
}

func (r *Register) rememberRate(ctx context.Context, q currency.Quote) {
	raw, err := json.Marshal(q)
	if err == nil {
		err = r.store.Set(ctx, ratePrefix+q.Base+"/"+q.Currency, raw)
	}
	if err != nil {
		r.warn("remember rate", err)
	}
}

func (r *Register) lastRate(ctx context.Context, code string) (currency.Quote, bool) {
	raw, found, err := r.store.Get(ctx, ratePrefix+r.cfg.BaseCurrency+"/"+code)
	if err != nil || !found {
		return currency.Quote{}, false
	}
	var q currency.Quote
	if err := json.Unmarshal(raw, &q); err != nil || !q.Rate.IsPositive() {
		return currency.Quote{}, false
	}
	return q, true
}

// CheckoutRequest is a checkout as entered by the operator.
type CheckoutRequest struct {
	// Currency the customer pays in. Empty uses the session currency.
	Currency string
	Received decimal.Decimal
	Customer *checkout.Customer
}

// Checkout settles the active cart. The carts are saved once the sale is
// committed or queued. A committed sale is followed by a drain of earlier
// queued sales unless RunSync is already draining.
func (r *Register) Checkout(ctx context.Context, req CheckoutRequest) (checkout.Result, error) {
	op := r.Operator()
	code := req.Currency
	if code == "" {
		code = op.Currency
	}

	quote, err := r.Quote(ctx, code)
	if err != nil {
		return checkout.Result{}, err
	}
	r.observeQueued(ctx, op.CompanyID)

	res, err := r.finalizer.Checkout(ctx, checkout.Request{
		Operator: checkout.Operator{
			CashierID: op.CashierID,
			BranchID:  op.BranchID,
			CompanyID: op.CompanyID,
		},
		Customer: req.Customer,
		Quote:    quote,
		Received: req.Received,
	})
	if err != nil {
		return checkout.Result{}, err
	}

	_ = r.Save(ctx)
	if res.Outcome == checkout.OutcomeCommitted && !r.syncing.Load() {
		if _, err := r.syncer.Drain(ctx, op.CompanyID); err != nil {
			slog.Warn("drain after sale", "error", err)
		}
	}
	return res, nil
}

// observeQueued keeps new offline numbers above those an earlier run
// already queued for company.
func (r *Register) observeQueued(ctx context.Context, company string) {
	if company == "" {
		return
	}
	ops, err := r.queue.Pending(ctx, company)
	if err != nil {
		r.warn("read queued sale numbers", err)
		return
	}
	for _, op := range ops {
		r.numbers.Observe(op.SaleNumber)
	}
}

// Pending lists the queued sales of the current company.
func (r *Register) Pending(ctx context.Context) ([]store.Operation, error) {
	return r.queue.Pending(ctx, r.Operator().CompanyID)
}

// Drain runs one sync pass for the current company.
func (r *Register) Drain(ctx context.Context) (outbox.Report, error) {
	return r.syncer.Drain(ctx, r.Operator().CompanyID)
}

// RunSync drains the current company's queue until ctx is cancelled.
func (r *Register) RunSync(ctx context.Context) error {
	r.syncing.Store(true)
	defer r.syncing.Store(false)
	return r.syncer.Run(ctx, r.Operator().CompanyID)
}

// Online reports whether the back office answers.
func (r *Register) Online(ctx context.Context) bool {
	return r.remote.Online(ctx)
}

// Save persists the current company's carts. A failure is recorded as a
// warning and returned.
func (r *Register) Save(ctx context.Context) error {
	company := r.Operator().CompanyID
	if company == "" {
		return nil
	}
	if err := r.hydrator.Save(ctx, company, r.carts); err != nil {
		r.warn("save carts", err)
		return err
	}
	return nil
}

// Warnings returns and clears the warnings raised so far.
func (r *Register) Warnings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.warnings
	r.warnings = nil
	return w
}

func (r *Register) warn(what string, err error) {
	slog.Warn(what, "error", err)
	r.mu.Lock()
	r.warnings = append(r.warnings, fmt.Sprintf("%s: %v", what, err))
	r.mu.Unlock()
}

// Close saves the carts and closes the store.
func (r *Register) Close(ctx context.Context) error {
	saveErr := r.Save(ctx)
	closeErr := r.store.Close()
	return errors.Join(saveErr, closeErr)
}

// offline is the back office of a register configured without one.
type offline struct{}

func (offline) ProcessSale(context.Context, checkout.SalePayload, string) (checkout.SaleRecord, error) {
	return checkout.SaleRecord{}, failure.Network(failure.CodeRemoteUnavailable, "no back office configured", nil)
}

func (offline) Online(context.Context) bool { return false }

func (offline) LatestRate(_ context.Context, from, to string) (decimal.Decimal, error) {
	return decimal.Zero, failure.Network(failure.CodeRateUnavailable,
		fmt.Sprintf("no back office configured to quote %s/%s", from, to), nil)
}
