package bridge

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	lua "github.com/yuin/gopher-lua"
)

var (
	// ErrUnsupported is returned for values that cannot cross states.
	ErrUnsupported = errors.New("bridge: unsupported value type")

	// ErrCyclic is returned for tables that contain themselves.
	ErrCyclic = errors.New("bridge: cyclic table")
)

// Kind is the type of a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindNumber
	KindString
	KindTable
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindTable:
		return "table"
	}
	return "unknown"
}

// Value is a state-independent copy of a Lua value.
type Value struct {
	Kind   Kind
	Bool   bool
	Num    float64
	Str    string
	Fields []Field // KindTable only, in canonical key order
}

// Field is one key/value pair of a copied table.
type Field struct {
	Key Value
	Val Value
}

// Nil is the nil Value.
var Nil = Value{}

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Number returns a number Value.
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// String returns a string Value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Copy deep-copies v out of its Lua state.
func Copy(v lua.LValue) (Value, error) {
	return copyValue(v, make(map[*lua.LTable]bool))
}

// CopyAll copies every value of vs. The first failure aborts the copy.
func CopyAll(vs []lua.LValue) ([]Value, error) {
	out := make([]Value, len(vs))
	for i, v := range vs {
		c, err := Copy(v)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out[i] = c
	}
	return out, nil
}

func copyValue(v lua.LValue, onPath map[*lua.LTable]bool) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Nil, nil
	case *lua.LNilType:
		return Nil, nil
	case lua.LBool:
		return Bool(bool(x)), nil
	case lua.LNumber:
		return Number(float64(x)), nil
	case lua.LString:
		return String(string(x)), nil
	case *lua.LTable:
		return copyTable(x, onPath)
	}
	return Nil, fmt.Errorf("%w: %s", ErrUnsupported, v.Type())
}

func copyTable(t *lua.LTable, onPath map[*lua.LTable]bool) (Value, error) {
	if onPath[t] {
		return Nil, ErrCyclic
	}
	onPath[t] = true
	defer delete(onPath, t)

	var (
		fields []Field
		err    error
	)
	t.ForEach(func(k, v lua.LValue) {
		if err != nil {
			return
		}
		var kc, vc Value
		if kc, err = copyValue(k, onPath); err != nil {
			err = fmt.Errorf("key: %w", err)
			return
		}
		if vc, err = copyValue(v, onPath); err != nil {
			return
		}
		fields = append(fields, Field{Key: kc, Val: vc})
	})
	if err != nil {
		return Nil, err
	}
	sortFields(fields)
	return Value{Kind: KindTable, Fields: fields}, nil
}

// sortFields orders table fields canonically: numbers ascending, then
// strings, then booleans (false first). Lua map iteration order is not
// stable, copies must be.
func sortFields(fs []Field) {
	rank := func(v Value) int {
		switch v.Kind {
		case KindNumber:
			return 0
		case KindString:
			return 1
		case KindBool:
			return 2
		}
		return 3
	}
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i].Key, fs[j].Key
		if ra, rb := rank(a), rank(b); ra != rb {
			return ra < rb
		}
		switch a.Kind {
		case KindNumber:
			return a.Num < b.Num
		case KindString:
			return a.Str < b.Str
		case KindBool:
			return !a.Bool && b.Bool
		}
		return false
	})
}

// Lua rebuilds v inside L.
func (v Value) Lua(L *lua.LState) lua.LValue {
	switch v.Kind {
	case KindBool:
		return lua.LBool(v.Bool)
	case KindNumber:
		return lua.LNumber(v.Num)
	case KindString:
		return lua.LString(v.Str)
	case KindTable:
		t := L.CreateTable(arrayLen(v.Fields), len(v.Fields))
		for _, f := range v.Fields {
			t.RawSet(f.Key.Lua(L), f.Val.Lua(L))
		}
		return t
	}
	return lua.LNil
}

// LuaAll rebuilds every value of vs inside L.
func LuaAll(L *lua.LState, vs []Value) []lua.LValue {
	out := make([]lua.LValue, len(vs))
	for i, v := range vs {
		out[i] = v.Lua(L)
	}
	return out
}

func arrayLen(fs []Field) int {
	n := 0
	for _, f := range fs {
		if f.Key.Kind != KindNumber || f.Key.Num != float64(n+1) {
			break
		}
		n++
	}
	return n
}

// FromGo converts a Go value into a Value. Supported: nil, bool, the
// integer and float types, string, []any, map[string]any, Value, and
// lua.LValue (copied).
func FromGo(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Nil, nil
	case Value:
		return x, nil
	case lua.LValue:
		return Copy(x)
	case bool:
		return Bool(x), nil
	case int:
		return Number(float64(x)), nil
	case int8:
		return Number(float64(x)), nil
	case int16:
		return Number(float64(x)), nil
	case int32:
		return Number(float64(x)), nil
	case int64:
		return Number(float64(x)), nil
	case uint:
		return Number(float64(x)), nil
	case uint8:
		return Number(float64(x)), nil
	case uint16:
		return Number(float64(x)), nil
	case uint32:
		return Number(float64(x)), nil
	case uint64:
		return Number(float64(x)), nil
	case float32:
		return Number(float64(x)), nil
	case float64:
		return Number(x), nil
	case string:
		return String(x), nil
	case []byte:
		return String(string(x)), nil
	case []any:
		fields := make([]Field, 0, len(x))
		for i, e := range x {
			ev, err := FromGo(e)
			if err != nil {
				return Nil, err
			}
			fields = append(fields, Field{Key: Number(float64(i + 1)), Val: ev})
		}
		return Value{Kind: KindTable, Fields: fields}, nil
	case map[string]any:
		fields := make([]Field, 0, len(x))
		for k, e := range x {
			ev, err := FromGo(e)
			if err != nil {
				return Nil, err
			}
			fields = append(fields, Field{Key: String(k), Val: ev})
		}
		sortFields(fields)
		return Value{Kind: KindTable, Fields: fields}, nil
	}
	return Nil, fmt.Errorf("%w: %T", ErrUnsupported, v)
}

// FromGoAll converts every element of vs.
func FromGoAll(vs []any) ([]Value, error) {
	out := make([]Value, len(vs))
	for i, v := range vs {
		c, err := FromGo(v)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out[i] = c
	}
	return out, nil
}

// Go converts v to plain Go values. Tables whose keys are exactly 1..n
// become []any; other tables become map[string]any with keys formatted.
func (v Value) Go() any {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Num
	case KindString:
		return v.Str
	case KindTable:
		if n := arrayLen(v.Fields); n == len(v.Fields) && n > 0 {
			out := make([]any, n)
			for i, f := range v.Fields {
				out[i] = f.Val.Go()
			}
			return out
		}
		out := make(map[string]any, len(v.Fields))
		for _, f := range v.Fields {
			out[f.Key.keyString()] = f.Val.Go()
		}
		return out
	}
	return nil
}

func (v Value) keyString() string {
	switch v.Kind {
	case KindNumber:
		if v.Num == math.Trunc(v.Num) && math.Abs(v.Num) < 1e15 {
			return strconv.FormatInt(int64(v.Num), 10)
		}
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindString:
		return v.Str
	case KindBool:
		return strconv.FormatBool(v.Bool)
	}
	return "nil"
}
