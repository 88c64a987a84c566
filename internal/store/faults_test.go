package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spring/spring-sub006/internal/capability"
)

func TestRecordFault_OrderedBySeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first, err := s.RecordFault(ctx, createTestFault("LuaRules", "GameFrame", 3, true))
	require.NoError(t, err)
	second, err := s.RecordFault(ctx, createTestFault("LuaUI", "Update", 1, false))
	require.NoError(t, err)
	assert.Greater(t, second, first)

	all, err := s.Faults(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "GameFrame", all[0].Func)
	assert.Equal(t, "Update", all[1].Func)

	ui, err := s.Faults(ctx, "LuaUI")
	require.NoError(t, err)
	require.Len(t, ui, 1)
	assert.False(t, ui[0].Fatal)
}

func TestRecordFault_PreservesFields(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	f := createTestFault("LuaRules", "AllowCommand", 42, true)
	f.Trace = "stack traceback:\n\t[G]: in function 'error'"
	f.Synced = false
	f.Capability = capability.None().WithCtrl(3)

	_, err := s.RecordFault(ctx, f)
	require.NoError(t, err)

	got, err := s.Faults(ctx, "LuaRules")
	require.NoError(t, err)
	require.Len(t, got, 1)

	f.Seq = got[0].Seq
	assert.Equal(t, f, got[0])
}

func TestFatalCount(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i, fatal := range []bool{true, false, true, true} {
		_, err := s.RecordFault(ctx, createTestFault("LuaRules", "GameFrame", int64(i), fatal))
		require.NoError(t, err)
	}

	n, err := s.FatalCount(ctx, "LuaRules")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.FatalCount(ctx, "LuaGaia")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCapabilityJSON(t *testing.T) {
	data, err := marshalCapability(capability.All())
	require.NoError(t, err)
	assert.Contains(t, data, `"full_control":true`)

	back, err := unmarshalCapability(data)
	require.NoError(t, err)
	assert.Equal(t, capability.All(), back)

	empty, err := unmarshalCapability("")
	require.NoError(t, err)
	assert.Equal(t, capability.None(), empty)

	_, err = unmarshalCapability("{not json")
	assert.Error(t, err)
}
