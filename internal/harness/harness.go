package harness

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/roach88/cashier/internal/backoffice"
	"github.com/roach88/cashier/internal/cart"
	"github.com/roach88/cashier/internal/checkout"
	"github.com/roach88/cashier/internal/config"
	"github.com/roach88/cashier/internal/failure"
	"github.com/roach88/cashier/internal/outbox"
	"github.com/roach88/cashier/internal/register"
	"github.com/roach88/cashier/internal/testutil"
)

// Harness executes one scenario against a register and an in-process back
// office.
type Harness struct {
	reg     *register.Register
	office  *backoffice.Server
	up      atomic.Bool
	clock   *testutil.DeterministicClock
	company string
}

// Run executes a scenario and returns the result.
//
// Each run gets a fresh SQLite file in a temporary directory and a fresh
// back office. An error is returned only when the run could not be set up;
// failed expectations and assertions are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	start, err := scenario.StartTime()
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "cashier-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	h := &Harness{
		office:  backoffice.NewServer(),
		clock:   testutil.NewDeterministicClock(start),
		company: scenario.Operator.CompanyID,
	}
	h.up.Store(scenario.Online == nil || *scenario.Online)
	for _, r := range scenario.Rates {
		h.office.SetRate(strings.ToUpper(r.From), strings.ToUpper(r.To), r.Rate)
	}

	srv := httptest.NewServer(http.HandlerFunc(h.serve))
	defer srv.Close()

	cfg, err := scenarioConfig(scenario, filepath.Join(dir, "cashier.db"), srv.URL)
	if err != nil {
		return nil, err
	}

	h.reg, err = register.Open(ctx, register.Options{
		Config:  cfg,
		Now:     h.clock.Now,
		CartIDs: testutil.NewSequentialIDs("cart"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open register: %w", err)
	}
	defer h.reg.Close(context.WithoutCancel(ctx))

	h.reg.LoadProducts(scenario.Products)

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h.execute(ctx, i, step, result)
	}

	if err := h.capture(ctx, scenario, result); err != nil {
		return nil, fmt.Errorf("failed to capture final state: %w", err)
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func scenarioConfig(s *Scenario, db, url string) (config.Config, error) {
	cfg := config.Default()
	cfg.DB = db
	cfg.BaseCurrency = strings.ToUpper(s.BaseCurrency)
	cfg.Currency = cfg.BaseCurrency
	if s.Currency != "" {
		cfg.Currency = strings.ToUpper(s.Currency)
	}
	cfg.Operator = config.Operator{
		CashierID: s.Operator.CashierID,
		BranchID:  s.Operator.BranchID,
		CompanyID: s.Operator.CompanyID,
	}
	cfg.BackOffice.URL = url
	cfg.BackOffice.ProbeTimeout = config.Duration(time.Second)
	// Scenarios toggle the back office freely; keep the breaker out of it.
	cfg.BackOffice.FailureThreshold = 1000
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	return cfg, nil
}

// serve forwards to the back office while it is up.
func (h *Harness) serve(w http.ResponseWriter, r *http.Request) {
	if !h.up.Load() {
		http.Error(w, `{"error":"back office unavailable"}`, http.StatusServiceUnavailable)
		return
	}
	h.office.Handler().ServeHTTP(w, r)
}

// execute runs one step, traces it and checks its expect clause.
func (h *Harness) execute(ctx context.Context, index int, st Step, result *Result) {
	ev := TraceEvent{Seq: h.clock.Next(), Action: st.Action, Outcome: "ok"}
	var (
		err     error
		report  outbox.Report
		drained bool
	)

	switch st.Action {
	case ActAddItem:
		err = h.reg.Dispatch(cart.AddItem{ProductID: st.Product, UnitID: st.Unit, Qty: st.Qty})
	case ActUpdateQuantity:
		err = h.reg.Dispatch(cart.UpdateQuantity{ProductID: st.Product, UnitID: st.Unit, Value: st.Qty, Op: cart.QtyOp(st.Op)})
	case ActChangeUnit:
		err = h.reg.Dispatch(cart.ChangeUnit{ProductID: st.Product, From: st.Unit, To: st.To})
	case ActRemoveItem:
		err = h.reg.Dispatch(cart.RemoveItem{ProductID: st.Product, UnitID: st.Unit})
	case ActClearCart:
		err = h.reg.Dispatch(cart.ClearCart{})
	case ActCreateCart:
		err = h.reg.Dispatch(cart.CreateCart{ID: st.Cart, Name: st.Name})
	case ActSetActive:
		err = h.reg.Dispatch(cart.SetActive{ID: st.Cart})
	case ActRemoveCart:
		err = h.reg.Dispatch(cart.RemoveCart{ID: st.Cart})
	case ActSetDiscount:
		err = h.reg.Dispatch(cart.SetDiscount{Type: cart.DiscountType(st.DiscountType), Value: st.Value})
	case ActSetOnline:
		h.up.Store(*st.Online)
	case ActAdvance:
		d, _ := time.ParseDuration(st.Duration)
		h.clock.Advance(d)
	case ActCheckout:
		var res checkout.Result
		res, err = h.reg.Checkout(ctx, register.CheckoutRequest{
			Currency: st.Currency,
			Received: st.Received,
			Customer: st.Customer,
		})
		if err == nil {
			ev.Outcome = string(res.Outcome)
			ev.SaleNumber = res.SaleNumber
			sale := res.Payload
			result.Sale = &sale
		}
	case ActDrain:
		report, err = h.reg.Drain(ctx)
		drained = true
		ev.Detail = fmt.Sprintf("delivered=%d failed=%d remaining=%d", report.Delivered, report.Failed, report.Remaining)
	}

	if err != nil {
		ev.Outcome = "error"
		ev.Error = failure.CodeOf(err)
		if ev.Error == "" {
			ev.Error = err.Error()
		}
	}
	result.AddTrace(ev)

	for _, msg := range checkExpect(st, ev, err, report, drained) {
		result.AddError(fmt.Sprintf("steps[%d] %s: %s", index, st.Action, msg))
	}
}

func checkExpect(st Step, ev TraceEvent, err error, report outbox.Report, drained bool) []string {
	exp := st.Expect
	if exp == nil {
		exp = &Expect{}
	}

	var msgs []string
	switch {
	case exp.Error == "" && err != nil:
		return []string{fmt.Sprintf("unexpected error: %v", err)}
	case exp.Error != "" && err == nil:
		return []string{fmt.Sprintf("expected error %s, step succeeded", exp.Error)}
	case exp.Error != "" && ev.Error != exp.Error:
		msgs = append(msgs, fmt.Sprintf("expected error %s, got %v", exp.Error, err))
	}

	if exp.Outcome != "" && ev.Outcome != exp.Outcome {
		msgs = append(msgs, fmt.Sprintf("expected outcome %s, got %s", exp.Outcome, ev.Outcome))
	}
	if exp.SaleNumber != "" && ev.SaleNumber != exp.SaleNumber {
		msgs = append(msgs, fmt.Sprintf("expected sale number %s, got %q", exp.SaleNumber, ev.SaleNumber))
	}
	if exp.Delivered != nil || exp.Remaining != nil {
		if !drained {
			return append(msgs, "delivered and remaining only apply to drain")
		}
		if exp.Delivered != nil && report.Delivered != *exp.Delivered {
			msgs = append(msgs, fmt.Sprintf("expected %d delivered, got %d", *exp.Delivered, report.Delivered))
		}
		if exp.Remaining != nil && report.Remaining != *exp.Remaining {
			msgs = append(msgs, fmt.Sprintf("expected %d remaining, got %d", *exp.Remaining, report.Remaining))
		}
	}
	return msgs
}

// capture records the register state assertions read.
func (h *Harness) capture(ctx context.Context, scenario *Scenario, result *Result) error {
	tracker := h.reg.Carts().Tracker()
	for _, p := range scenario.Products {
		for _, u := range p.Units {
			result.State.Stock[stockKey(p.ID, u.ID)] = tracker.Available(p.ID, u.ID)
		}
	}

	active, totals, _ := h.reg.Carts().Active()
	result.State.TotalBefore = totals.Before.String()
	result.State.Discount = totals.Discount.String()
	result.State.TotalAfter = totals.After.String()
	result.State.CartLines = len(active.Items)
	result.State.Carts = len(h.reg.Carts().State().Carts)

	pending, err := h.reg.Pending(ctx)
	if err != nil {
		return err
	}
	result.State.QueueLength = len(pending)
	result.State.SalesRecorded = len(h.office.Sales(h.company))
	return nil
}
