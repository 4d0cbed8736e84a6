package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/cashier/internal/ids"
)

var _ ids.Generator = (*SequentialIDs)(nil)

func TestSequentialIDs(t *testing.T) {
	gen := NewSequentialIDs("cart")
	assert.Equal(t, "cart-1", gen.Generate())
	assert.Equal(t, "cart-2", gen.Generate())
	assert.Equal(t, "cart-3", gen.Generate())
}

func TestSequentialIDs_DefaultPrefix(t *testing.T) {
	assert.Equal(t, "id-1", NewSequentialIDs("").Generate())
}
