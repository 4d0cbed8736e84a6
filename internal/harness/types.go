package harness

import "github.com/roach88/cashier/internal/checkout"

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq    int64  `json:"seq"`
	Action string `json:"action"`
	// Outcome is "ok", the checkout outcome, or "error".
	Outcome    string `json:"outcome"`
	SaleNumber string `json:"sale_number,omitempty"`
	Error      string `json:"error,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the register state captured after the last step.
	State State `json:"state"`

	// Sale is the payload of the last settled checkout, nil if none settled.
	Sale *checkout.SalePayload `json:"sale,omitempty"`
}

// State is the final register state assertions are checked against.
type State struct {
	// Stock maps "product/unit" to available quantity.
	Stock         map[string]int64 `json:"stock"`
	TotalBefore   string           `json:"total_before"`
	Discount      string           `json:"discount"`
	TotalAfter    string           `json:"total_after"`
	Carts         int              `json:"carts"`
	CartLines     int              `json:"cart_lines"`
	QueueLength   int              `json:"queue_length"`
	SalesRecorded int              `json:"sales_recorded"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  State{Stock: make(map[string]int64)},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a trace event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

func stockKey(product, unit string) string { return product + "/" + unit }
