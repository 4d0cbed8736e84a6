package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/cashier/internal/canonical"
)

// RunWithGolden executes a scenario and compares the last sale payload
// against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can check Pass and the trace as well.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the result's last sale payload against a golden
// file without re-running the scenario. The test fails if no sale settled.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	if result.Sale == nil {
		t.Fatalf("scenario %s settled no sale to compare", name)
		return nil
	}

	saleJSON, err := canonical.Marshal(result.Sale)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, saleJSON)
	return nil
}
