package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := Validation(CodeDuplicateLine, "product %s already has unit %s", "p1", "box")
	assert.Equal(t, "DUPLICATE_LINE: product p1 already has unit box", err.Error())

	wrapped := Network(CodeSubmitFailed, "process sale", errors.New("connection refused"))
	assert.Equal(t, "SUBMIT_FAILED: process sale: connection refused", wrapped.Error())
}

func TestPredicates_SeeThroughWrapping(t *testing.T) {
	base := Persistence(CodeStoreWrite, "save ui state", errors.New("disk full"))
	err := fmt.Errorf("checkout: %w", base)

	assert.True(t, IsPersistence(err))
	assert.False(t, IsValidation(err))
	assert.False(t, IsNetwork(err))
	assert.True(t, HasCode(err, CodeStoreWrite))
	assert.Equal(t, KindPersistence, KindOf(err))
}

func TestPredicates_PlainError(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, Kind(""), KindOf(err))
	assert.Equal(t, "", CodeOf(err))
	assert.False(t, HasCode(err, CodeEmptyCart))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("timeout")
	err := Network(CodeRateUnavailable, "fetch rate", cause)
	assert.ErrorIs(t, err, cause)
}
