package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err, "failed to load scenario %s", name)
	return s
}

func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "scenario should pass: errors=%v", result.Errors)
			assert.Len(t, result.Trace, len(s.Steps))
		})
	}
}

func TestGolden_OnlineCheckout(t *testing.T) {
	result, err := RunWithGolden(t, load(t, "online_checkout"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors=%v", result.Errors)
}

func TestGolden_OfflineCheckout(t *testing.T) {
	result, err := RunWithGolden(t, load(t, "offline_checkout"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors=%v", result.Errors)
	assert.Equal(t, "queued", result.Trace[1].Outcome)
}

func TestRun_Deterministic(t *testing.T) {
	s := load(t, "offline_then_sync")

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, first.Sale, second.Sale)
}

func TestRun_TraceRecordsErrors(t *testing.T) {
	result, err := Run(load(t, "checkout_validation"))
	require.NoError(t, err)

	require.True(t, result.Pass, "errors=%v", result.Errors)
	assert.Equal(t, TraceEvent{Seq: 1, Action: "checkout", Outcome: "error", Error: "EMPTY_CART"}, result.Trace[0])
	assert.Equal(t, "committed", result.Trace[len(result.Trace)-1].Outcome)
}

func TestRun_ReportsUnmetExpectations(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: wrong_expectations
description: "Every expectation here is wrong"
base_currency: YER
operator: {cashierId: c1, branchId: b1, companyId: acme}
products:
  - {id: A, name: Item A, units: [{id: unit, name: Unit, price: "10", stock: 1}]}
steps:
  - {action: add_item, product: A, unit: unit, qty: 1, expect: {error: OUT_OF_STOCK}}
  - {action: add_item, product: B, unit: unit}
  - action: checkout
    received: 10
    expect: {outcome: queued}
assertions:
  - {type: queue_length, count: 1}
  - {type: stock, product: A, unit: unit, count: 1}
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], "expected error OUT_OF_STOCK, step succeeded")
	assert.Contains(t, result.Errors[1], "UNKNOWN_PRODUCT")
	assert.Contains(t, result.Errors[2], "expected outcome queued, got committed")
	assert.Contains(t, result.Errors[3], "queued sales")
	assert.Contains(t, result.Errors[4], "available of A/unit")
}
