// Package checkout turns the active cart into a sale.
//
// A checkout moves Idle -> Validating -> (OnlineSubmit | OfflineEnqueue) ->
// Settled. Validation failures return to Idle with nothing built or sent.
// Once a sale is committed online or queued offline the cart is settled: the
// sold cart is retired without restoring stock and, if it is still active, a
// fresh one takes its place.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/cashier/internal/cart"
	"github.com/roach88/cashier/internal/currency"
	"github.com/roach88/cashier/internal/failure"
	"github.com/roach88/cashier/internal/ids"
)

// Processor submits a sale to the back office.
type Processor interface {
	ProcessSale(ctx context.Context, payload SalePayload, companyID string) (SaleRecord, error)
}

// Connectivity reports whether the back office is believed reachable.
type Connectivity interface {
	Online(ctx context.Context) bool
}

// Enqueuer durably stores a sale for later submission.
type Enqueuer interface {
	Enqueue(ctx context.Context, companyID string, payload SalePayload) error
}

// Drainer is notified after an online sale so queued sales follow it.
type Drainer interface {
	Kick()
}

// Carts is the part of the cart store a checkout reads and settles.
type Carts interface {
	Active() (cart.Cart, cart.Totals, bool)
	Discount() cart.Discount
	Dispatch(a cart.Action) error
}

// Outcome is how a checkout settled.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeQueued    Outcome = "queued"
)

// Request is one checkout attempt.
type Request struct {
	Operator Operator
	Customer *Customer
	// Quote is the currency the customer pays in. A zero Quote means the
	// base currency at rate 1.
	Quote    currency.Quote
	Received decimal.Decimal
}

// Result describes a settled checkout.
type Result struct {
	Outcome    Outcome     `json:"outcome"`
	SaleNumber string      `json:"saleNumber"`
	Amounts    Amounts     `json:"amounts"`
	Payload    SalePayload `json:"payload"`
}

// Finalizer runs checkouts. Only one checkout runs at a time.
type Finalizer struct {
	mu           sync.Mutex
	carts        Carts
	baseCurrency string
	processor    Processor
	conn         Connectivity
	queue        Enqueuer
	drainer      Drainer
	numbers      *ids.SaleNumbers
	now          func() time.Time
}

// Options configure a Finalizer. Drainer and Now are optional.
type Options struct {
	Carts        Carts
	BaseCurrency string
	Processor    Processor
	Connectivity Connectivity
	Queue        Enqueuer
	Drainer      Drainer
	SaleNumbers  *ids.SaleNumbers
	Now          func() time.Time
}

// NewFinalizer validates opts and returns a Finalizer.
func NewFinalizer(opts Options) (*Finalizer, error) {
	if opts.Carts == nil || opts.Processor == nil || opts.Connectivity == nil || opts.Queue == nil {
		return nil, errors.New("checkout: carts, processor, connectivity and queue are required")
	}
	base, err := currency.ValidateCode(opts.BaseCurrency)
	if err != nil {
		return nil, fmt.Errorf("checkout: base currency: %w", err)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	numbers := opts.SaleNumbers
	if numbers == nil {
		numbers = ids.NewSaleNumbers(now)
	}
	return &Finalizer{
		carts:        opts.Carts,
		baseCurrency: base,
		processor:    opts.Processor,
		conn:         opts.Connectivity,
		queue:        opts.Queue,
		drainer:      opts.Drainer,
		numbers:      numbers,
		now:          now,
	}, nil
}

// Checkout validates the active cart against req and settles it.
//
// Offline, the sale is queued with an OFFLINE-<millis> sale number and never
// sent. Online, it is submitted; a failure that turns out to be lost
// connectivity (or an open circuit) is queued the same way, any other failure
// is returned and the cart is left untouched for the operator to retry.
func (f *Finalizer) Checkout(ctx context.Context, req Request) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if req.Operator.CompanyID == "" {
		return Result{}, failure.Validation(failure.CodeMissingSession, "no company selected for this register")
	}

	active, totals, ok := f.carts.Active()
	if !ok {
		return Result{}, failure.Validation(failure.CodeEmptyCart, "no active cart")
	}

	quote := req.Quote
	if quote.Currency == "" || quote.Rate.IsZero() {
		quote = currency.Quote{Currency: f.baseCurrency, Base: f.baseCurrency, Rate: decimal.NewFromInt(1)}
	}

	amounts, err := Validate(Check{
		Lines:    len(active.Items),
		Totals:   totals,
		Rate:     quote.Rate,
		Received: req.Received,
		Customer: req.Customer,
	})
	if err != nil {
		return Result{}, err
	}

	payload := f.buildPayload(active, totals, quote, amounts, req)
	company := req.Operator.CompanyID

	if !f.conn.Online(ctx) {
		return f.enqueue(ctx, company, active.ID, payload, amounts)
	}

	record, err := f.processor.ProcessSale(ctx, payload, company)
	if err != nil {
		if failure.HasCode(err, failure.CodeRemoteUnavailable) || !f.conn.Online(ctx) {
			slog.Warn("sale submission failed while offline, queuing", "company", company, "error", err)
			return f.enqueue(ctx, company, active.ID, payload, amounts)
		}
		return Result{}, fmt.Errorf("submit sale: %w", err)
	}

	payload.SaleNumber = record.SaleNumber
	if err := f.settle(active.ID); err != nil {
		return Result{}, err
	}
	slog.Info("sale committed", "company", company, "sale_number", record.SaleNumber, "status", record.Status)

	if f.drainer != nil {
		f.drainer.Kick()
	}
	return Result{Outcome: OutcomeCommitted, SaleNumber: record.SaleNumber, Amounts: amounts, Payload: payload}, nil
}

func (f *Finalizer) enqueue(ctx context.Context, company, cartID string, payload SalePayload, amounts Amounts) (Result, error) {
	payload.SaleNumber = f.numbers.Next()

	if err := f.queue.Enqueue(ctx, company, payload); err != nil {
		if failure.KindOf(err) == "" {
			err = failure.Persistence(failure.CodeStoreWrite, "queue offline sale", err)
		}
		return Result{}, err
	}
	if err := f.settle(cartID); err != nil {
		return Result{}, err
	}
	slog.Info("sale queued offline", "company", company, "sale_number", payload.SaleNumber)
	return Result{Outcome: OutcomeQueued, SaleNumber: payload.SaleNumber, Amounts: amounts, Payload: payload}, nil
}

// settle retires the cart that was sold, which is not necessarily the one
// active now: carts may be switched while a submission is in flight.
func (f *Finalizer) settle(cartID string) error {
	if err := f.carts.Dispatch(cart.Settle{CartID: cartID}); err != nil {
		return fmt.Errorf("settle cart: %w", err)
	}
	return nil
}

func (f *Finalizer) buildPayload(c cart.Cart, totals cart.Totals, q currency.Quote, a Amounts, req Request) SalePayload {
	p := SalePayload{
		CompanyID:      req.Operator.CompanyID,
		BranchID:       req.Operator.BranchID,
		CashierID:      req.Operator.CashierID,
		Items:          snapshotItems(c.Items),
		TotalBefore:    totals.Before,
		DiscountType:   string(f.carts.Discount().Type),
		Discount:       totals.Discount,
		TotalAfter:     totals.After,
		Currency:       q.Currency,
		BaseCurrency:   f.baseCurrency,
		ExchangeRate:   q.Rate,
		ReceivedAmount: a.Received,
		BaseAmount:     a.Base,
		Change:         a.Change,
		PaidAt:         f.now().UTC(),
	}
	if req.Customer != nil {
		p.CustomerID = req.Customer.ID
	}
	return p
}
