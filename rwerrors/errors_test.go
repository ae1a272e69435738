package rwerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorNames(t *testing.T) {
	wrapped := fmt.Errorf("remap ymm31: %w", ErrNoFreeRegister)

	assert.Equal(t, "NoFreeRegister", GetErrorName(wrapped))
	assert.Equal(t, "R2", GetErrorCode(wrapped))
	assert.Equal(t, "R2_NoFreeRegister", GetErrorCodeWithName(wrapped))
	assert.Equal(t, "No Error", GetErrorName(nil))
	assert.Equal(t, "", GetErrorCode(nil))
	assert.Equal(t, "plain", GetErrorName(errors.New("plain")))
	assert.Equal(t, []string{"ExhaustedSlots", "NoFreePair"}, GetErrorNames([]error{ErrExhaustedSlots, ErrNoFreePair}))
}

func TestIsAllocation(t *testing.T) {
	assert.True(t, IsAllocation(fmt.Errorf("x: %w", ErrExhaustedSlots)))
	assert.True(t, IsAllocation(ErrNoFreePair))
	assert.False(t, IsAllocation(ErrNotSupported))
	assert.False(t, IsAllocation(nil))
}
