package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func eval(t *testing.T, L *lua.LState, src string) lua.LValue {
	t.Helper()
	require.NoError(t, L.DoString("return "+src))
	v := L.Get(-1)
	L.Pop(1)
	return v
}

func TestCopy_RoundTripAcrossStates(t *testing.T) {
	from := lua.NewState()
	defer from.Close()
	to := lua.NewState()
	defer to.Close()

	src := eval(t, from, `{1, 2, "three", nested = {ok = true, n = 4.5}, [10] = false}`)
	v, err := Copy(src)
	require.NoError(t, err)

	to.SetGlobal("v", v.Lua(to))
	require.NoError(t, to.DoString(`
		assert(v[1] == 1 and v[2] == 2 and v[3] == "three")
		assert(v.nested.ok == true and v.nested.n == 4.5)
		assert(v[10] == false)
		assert(#v == 3)
	`))
}

func TestCopy_Scalars(t *testing.T) {
	for _, tc := range []struct {
		in   lua.LValue
		want Value
	}{
		{lua.LNil, Nil},
		{lua.LTrue, Bool(true)},
		{lua.LNumber(3), Number(3)},
		{lua.LString("x"), String("x")},
	} {
		got, err := Copy(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestCopy_RejectsUnsupported(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	_, err := Copy(eval(t, L, `function() end`))
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Copy(L.NewUserData())
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Copy(eval(t, L, `{ f = print }`))
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Copy(eval(t, L, `{ [{}] = 1 }`))
	assert.NoError(t, err, "table keys are values too")
}

func TestCopy_Cycles(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	require.NoError(t, L.DoString(`t = {}; t.self = t`))
	_, err := Copy(L.GetGlobal("t"))
	assert.ErrorIs(t, err, ErrCyclic)

	// Shared but acyclic references are copied twice.
	require.NoError(t, L.DoString(`s = {}; d = {a = s, b = s}`))
	v, err := Copy(L.GetGlobal("d"))
	require.NoError(t, err)
	assert.Len(t, v.Fields, 2)
}

func TestCopy_CanonicalOrder(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	v, err := Copy(eval(t, L, `{ z = 1, a = 2, [2] = "b", [1] = "a", [true] = 0 }`))
	require.NoError(t, err)

	var keys []any
	for _, f := range v.Fields {
		keys = append(keys, f.Key.Go())
	}
	assert.Equal(t, []any{1.0, 2.0, "a", "z", true}, keys)
}

func TestFromGo(t *testing.T) {
	v, err := FromGo(map[string]any{"team": 3, "name": "red", "units": []any{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"team": 3.0, "name": "red", "units": []any{1.0, 2.0}}, v.Go())

	_, err = FromGo(struct{}{})
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = FromGoAll([]any{1, make(chan int)})
	assert.ErrorIs(t, err, ErrUnsupported)
}
