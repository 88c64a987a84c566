package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFaultBudget_ExhaustsAtLimit(t *testing.T) {
	b := NewFaultBudget(3)

	require.NoError(t, b.Charge("LuaRules"))
	require.NoError(t, b.Charge("LuaRules"))
	assert.Equal(t, 1, b.Remaining())

	err := b.Charge("LuaRules")
	require.Error(t, err)
	assert.True(t, IsBudgetExhaustedError(err))
	assert.True(t, IsBudgetError(err))
	assert.Equal(t, 0, b.Remaining())

	var be *BudgetExhaustedError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "LuaRules", be.Handle)
	assert.Equal(t, 3, be.Faults)
	assert.Equal(t, 3, be.Limit)

	assert.Error(t, b.Charge("LuaRules"), "stays exhausted")
}

func TestFaultBudget_Unlimited(t *testing.T) {
	b := NewFaultBudget(-1)
	for i := 0; i < 100; i++ {
		require.NoError(t, b.Charge("LuaUI"))
	}
	assert.Equal(t, 100, b.Current())
	assert.Equal(t, -1, b.Remaining())
}

func TestFaultBudget_Reset(t *testing.T) {
	b := NewFaultBudget(1)
	require.Error(t, b.Charge("LuaUI"))

	b.Reset()
	assert.Equal(t, 0, b.Current())
	assert.Equal(t, 1, b.Limit())
}

func TestBudgetError_Wrapped(t *testing.T) {
	err := fmt.Errorf("frame 12: %w", &BudgetExhaustedError{Handle: "LuaGaia", Faults: 10, Limit: 10})
	assert.True(t, IsBudgetError(err))
	assert.Contains(t, err.Error(), "LuaGaia exhausted its fault budget")
}

func TestHostError_Codes(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", hostError(ErrCodeNotLoaded, "LuaUI", nil))
	assert.True(t, IsNotLoadedError(err))
	assert.False(t, IsLoadError(err))
	assert.Equal(t, "NOT_LOADED: handle not loaded (handle=LuaUI)", hostError(ErrCodeNotLoaded, "LuaUI", nil).Error())

	cause := fmt.Errorf("boom")
	he := hostError(ErrCodeLoadFailed, "LuaRules", cause)
	assert.ErrorIs(t, he, cause)
	assert.True(t, IsLoadError(he))
	assert.True(t, IsBudgetError(hostError(ErrCodeFaultBudget, "x", nil)))
}
