package harness

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AssertionError is returned when an assertion fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s -> %s", ev.Seq, ev.Action, ev.Outcome)
		if ev.SaleNumber != "" {
			fmt.Fprintf(&buf, " %s", ev.SaleNumber)
		}
		if ev.Error != "" {
			fmt.Fprintf(&buf, " (%s)", ev.Error)
		}
		buf.WriteString("\n")
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against the result's captured
// state and returns one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var msgs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			msgs = append(msgs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return msgs
}

func evaluate(result *Result, a Assertion) error {
	st := result.State
	fail := func(expected, actual string) error {
		return &AssertionError{Type: a.Type, Expected: expected, Actual: actual, Trace: result.Trace}
	}
	count := func(what string, got int) error {
		if int64(got) != a.Count {
			return fail(fmt.Sprintf("%d %s", a.Count, what), fmt.Sprintf("%d %s", got, what))
		}
		return nil
	}

	switch a.Type {
	case AssertStock:
		got, ok := st.Stock[stockKey(a.Product, a.Unit)]
		if !ok {
			return fail(fmt.Sprintf("%s/%s in the catalog", a.Product, a.Unit), "not found")
		}
		if got != a.Count {
			return fail(fmt.Sprintf("%d available of %s/%s", a.Count, a.Product, a.Unit), fmt.Sprintf("%d", got))
		}
	case AssertTotals:
		for _, f := range []struct{ name, want, got string }{
			{"before", a.Before, st.TotalBefore},
			{"discount", a.Discount, st.Discount},
			{"after", a.After, st.TotalAfter},
		} {
			if f.want == "" {
				continue
			}
			if !decimal.RequireFromString(f.want).Equal(decimal.RequireFromString(f.got)) {
				return fail(fmt.Sprintf("total %s %s", f.name, f.want), f.got)
			}
		}
	case AssertQueueLength:
		return count("queued sales", st.QueueLength)
	case AssertCarts:
		return count("carts", st.Carts)
	case AssertCartLines:
		return count("lines in the active cart", st.CartLines)
	case AssertSalesRecorded:
		return count("sales recorded by the back office", st.SalesRecorded)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
