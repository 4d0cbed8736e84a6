package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
name: minimal
description: "Minimal scenario"
base_currency: YER
products: []
steps:
  - {action: clear_cart}
assertions:
  - {type: carts, count: 1}
`

func TestParseScenario_Minimal(t *testing.T) {
	s, err := ParseScenario([]byte(minimal))
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)

	start, err := s.StartTime()
	require.NoError(t, err)
	assert.Equal(t, DefaultNow, start)
}

func TestParseScenario_StartTime(t *testing.T) {
	s, err := ParseScenario([]byte(minimal + "now: \"2026-06-01T12:00:00+02:00\"\n"))
	require.NoError(t, err)
	start, err := s.StartTime()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC), start)
}

func TestParseScenario_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown field", minimal + "flow_token: x\n", "failed to parse YAML"},
		{"missing name", "description: d\nbase_currency: YER\nsteps: [{action: drain}]\nassertions: [{type: carts}]\n", "name is required"},
		{"missing base", "name: n\ndescription: d\nsteps: [{action: drain}]\nassertions: [{type: carts}]\n", "base_currency is required"},
		{"bad now", minimal + "now: yesterday\n", "now:"},
		{"no steps", "name: n\ndescription: d\nbase_currency: YER\nsteps: []\nassertions: [{type: carts}]\n", "steps list is required"},
		{"no assertions", "name: n\ndescription: d\nbase_currency: YER\nsteps: [{action: drain}]\nassertions: []\n", "assertions list is required"},
		{"unknown action", "name: n\ndescription: d\nbase_currency: YER\nsteps: [{action: dance}]\nassertions: [{type: carts}]\n", `unknown action "dance"`},
		{"add without unit", "name: n\ndescription: d\nbase_currency: YER\nsteps: [{action: add_item, product: A}]\nassertions: [{type: carts}]\n", "product and unit are required"},
		{"bad op", "name: n\ndescription: d\nbase_currency: YER\nsteps: [{action: update_quantity, product: A, unit: u, op: double}]\nassertions: [{type: carts}]\n", "op must be"},
		{"bad discount", "name: n\ndescription: d\nbase_currency: YER\nsteps: [{action: set_discount, discount_type: bogo}]\nassertions: [{type: carts}]\n", "discount_type"},
		{"online missing", "name: n\ndescription: d\nbase_currency: YER\nsteps: [{action: set_online}]\nassertions: [{type: carts}]\n", "online is required"},
		{"bad duration", "name: n\ndescription: d\nbase_currency: YER\nsteps: [{action: advance, duration: soon}]\nassertions: [{type: carts}]\n", "duration"},
		{"bad rate", minimal + "rates: [{from: YER, to: USD, rate: 0}]\n", "positive rate"},
		{"unknown assertion", "name: n\ndescription: d\nbase_currency: YER\nsteps: [{action: drain}]\nassertions: [{type: vibes}]\n", `unknown assertion type "vibes"`},
		{"stock without product", "name: n\ndescription: d\nbase_currency: YER\nsteps: [{action: drain}]\nassertions: [{type: stock}]\n", "product and unit are required for stock"},
		{"empty totals", "name: n\ndescription: d\nbase_currency: YER\nsteps: [{action: drain}]\nassertions: [{type: totals}]\n", "totals needs"},
		{"non-decimal total", "name: n\ndescription: d\nbase_currency: YER\nsteps: [{action: drain}]\nassertions: [{type: totals, after: lots}]\n", "not a decimal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}

func TestLoadScenario_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minimal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o644))
	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Len(t, s.Steps, 1)
}
