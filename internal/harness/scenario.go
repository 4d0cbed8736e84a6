package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/roach88/cashier/internal/cart"
	"github.com/roach88/cashier/internal/checkout"
	"github.com/roach88/cashier/internal/stock"
)

// DefaultNow is the wall time a scenario starts at when it names none.
var DefaultNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

// Scenario is a scripted register session.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	BaseCurrency string `yaml:"base_currency"`

	// Currency is the operator's default payment currency. Empty uses the
	// base currency.
	Currency string `yaml:"currency,omitempty"`

	// Now is the RFC 3339 wall time the register starts at.
	Now string `yaml:"now,omitempty"`

	// Online is whether the back office answers at the start. Default true.
	Online *bool `yaml:"online,omitempty"`

	Operator checkout.Operator `yaml:"operator"`

	// Rates are served by the back office.
	Rates []Rate `yaml:"rates,omitempty"`

	// Products are loaded before the first step.
	Products []stock.Product `yaml:"products"`

	Steps []Step `yaml:"steps"`

	// Assertions are checked against the state after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// Rate is one exchange rate the back office quotes.
type Rate struct {
	From string          `yaml:"from"`
	To   string          `yaml:"to"`
	Rate decimal.Decimal `yaml:"rate"`
}

// Step is one operator action. Which fields apply depends on Action.
type Step struct {
	Action string `yaml:"action"`

	Product string `yaml:"product,omitempty"`
	Unit    string `yaml:"unit,omitempty"`
	// To is the target unit of change_unit.
	To  string `yaml:"to,omitempty"`
	Qty int64  `yaml:"qty,omitempty"`
	// Op is inc, dec or set for update_quantity.
	Op string `yaml:"op,omitempty"`

	Cart string `yaml:"cart,omitempty"`
	Name string `yaml:"name,omitempty"`

	DiscountType string          `yaml:"discount_type,omitempty"`
	Value        decimal.Decimal `yaml:"value,omitempty"`

	Online   *bool  `yaml:"online,omitempty"`
	Duration string `yaml:"duration,omitempty"`

	Currency string             `yaml:"currency,omitempty"`
	Received decimal.Decimal    `yaml:"received,omitempty"`
	Customer *checkout.Customer `yaml:"customer,omitempty"`

	// Expect checks the step's result. Without it the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is what a step must produce. Only set fields are checked.
type Expect struct {
	// Error is the failure code the step must fail with.
	Error      string `yaml:"error,omitempty"`
	Outcome    string `yaml:"outcome,omitempty"`
	SaleNumber string `yaml:"sale_number,omitempty"`
	Delivered  *int   `yaml:"delivered,omitempty"`
	Remaining  *int   `yaml:"remaining,omitempty"`
}

// Assertion checks the final register state.
type Assertion struct {
	Type string `yaml:"type"`

	// Product and Unit select the selling unit (used by stock).
	Product string `yaml:"product,omitempty"`
	Unit    string `yaml:"unit,omitempty"`

	// Count is the expected number (used by every type except totals).
	Count int64 `yaml:"count"`

	// Before, Discount and After are decimal strings (used by totals).
	Before   string `yaml:"before,omitempty"`
	Discount string `yaml:"discount,omitempty"`
	After    string `yaml:"after,omitempty"`
}

// Step actions.
const (
	ActAddItem        = "add_item"
	ActUpdateQuantity = "update_quantity"
	ActChangeUnit     = "change_unit"
	ActRemoveItem     = "remove_item"
	ActClearCart      = "clear_cart"
	ActCreateCart     = "create_cart"
	ActSetActive      = "set_active"
	ActRemoveCart     = "remove_cart"
	ActSetDiscount    = "set_discount"
	ActSetOnline      = "set_online"
	ActAdvance        = "advance"
	ActCheckout       = "checkout"
	ActDrain          = "drain"
)

// Assertion type constants.
const (
	AssertStock         = "stock"
	AssertTotals        = "totals"
	AssertQueueLength   = "queue_length"
	AssertCarts         = "carts"
	AssertCartLines     = "cart_lines"
	AssertSalesRecorded = "sales_recorded"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// StartTime returns the parsed Now, or DefaultNow.
func (s *Scenario) StartTime() (time.Time, error) {
	if s.Now == "" {
		return DefaultNow, nil
	}
	t, err := time.Parse(time.RFC3339, s.Now)
	if err != nil {
		return time.Time{}, fmt.Errorf("now: %w", err)
	}
	return t.UTC(), nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.BaseCurrency == "" {
		return fmt.Errorf("base_currency is required")
	}
	if _, err := s.StartTime(); err != nil {
		return err
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, r := range s.Rates {
		if r.From == "" || r.To == "" || !r.Rate.IsPositive() {
			return fmt.Errorf("rates[%d]: from, to and a positive rate are required", i)
		}
	}
	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	needProduct := func() error {
		if st.Product == "" || st.Unit == "" {
			return fmt.Errorf("steps[%d]: product and unit are required for %s", index, st.Action)
		}
		return nil
	}

	switch st.Action {
	case ActAddItem, ActRemoveItem:
		return needProduct()
	case ActUpdateQuantity:
		if err := needProduct(); err != nil {
			return err
		}
		switch cart.QtyOp(st.Op) {
		case cart.QtyInc, cart.QtyDec, cart.QtySet:
		default:
			return fmt.Errorf("steps[%d]: op must be inc, dec or set", index)
		}
	case ActChangeUnit:
		if err := needProduct(); err != nil {
			return err
		}
		if st.To == "" {
			return fmt.Errorf("steps[%d]: to is required for change_unit", index)
		}
	case ActSetActive, ActRemoveCart:
		if st.Cart == "" {
			return fmt.Errorf("steps[%d]: cart is required for %s", index, st.Action)
		}
	case ActSetDiscount:
		switch cart.DiscountType(st.DiscountType) {
		case cart.DiscountFixed, cart.DiscountPercentage:
		default:
			return fmt.Errorf("steps[%d]: discount_type must be fixed or percentage", index)
		}
	case ActSetOnline:
		if st.Online == nil {
			return fmt.Errorf("steps[%d]: online is required for set_online", index)
		}
	case ActAdvance:
		if _, err := time.ParseDuration(st.Duration); err != nil {
			return fmt.Errorf("steps[%d]: duration: %w", index, err)
		}
	case ActClearCart, ActCreateCart, ActCheckout, ActDrain:
	case "":
		return fmt.Errorf("steps[%d]: action is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, st.Action)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertStock:
		if a.Product == "" || a.Unit == "" {
			return fmt.Errorf("assertions[%d]: product and unit are required for stock", index)
		}
	case AssertTotals:
		if a.Before == "" && a.Discount == "" && a.After == "" {
			return fmt.Errorf("assertions[%d]: totals needs before, discount or after", index)
		}
		for _, v := range []string{a.Before, a.Discount, a.After} {
			if v == "" {
				continue
			}
			if _, err := decimal.NewFromString(v); err != nil {
				return fmt.Errorf("assertions[%d]: %q is not a decimal", index, v)
			}
		}
	case AssertQueueLength, AssertCarts, AssertCartLines, AssertSalesRecorded:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
