package script

import (
	"errors"
	"fmt"
	"math"

	"github.com/tidwall/gjson"
	lua "github.com/yuin/gopher-lua"
)

const maxJSONDepth = 64

var errTooDeep = errors.New("table nesting too deep or cyclic")

// toGoValue converts a Lua value into something encoding/json can marshal.
// A table whose keys are exactly 1..n becomes an array; any other non-empty
// table becomes an object with stringified keys. An empty table encodes as {}.
func toGoValue(v lua.LValue, depth int) (any, error) {
	if depth > maxJSONDepth {
		return nil, errTooDeep
	}
	switch val := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(val), nil
	case lua.LNumber:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("cannot encode number %v", f)
		}
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), nil
		}
		return f, nil
	case lua.LString:
		return string(val), nil
	case *lua.LTable:
		return tableToGo(val, depth)
	default:
		return nil, fmt.Errorf("cannot encode %s", v.Type())
	}
}

func tableToGo(t *lua.LTable, depth int) (any, error) {
	n := t.MaxN()
	count := 0
	t.ForEach(func(lua.LValue, lua.LValue) { count++ })

	if n > 0 && count == n {
		arr := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			item, err := toGoValue(t.RawGetInt(i), depth+1)
			if err != nil {
				return nil, err
			}
			arr = append(arr, item)
		}
		return arr, nil
	}

	obj := make(map[string]any, count)
	var err error
	t.ForEach(func(k, v lua.LValue) {
		if err != nil {
			return
		}
		var key string
		switch kk := k.(type) {
		case lua.LString:
			key = string(kk)
		case lua.LNumber:
			key = kk.String()
		default:
			err = fmt.Errorf("cannot encode %s table key", k.Type())
			return
		}
		var item any
		item, err = toGoValue(v, depth+1)
		obj[key] = item
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// fromJSON converts a gjson result into Lua values. JSON null becomes nil, so
// null object members disappear and null array items leave holes.
func fromJSON(L *lua.LState, r gjson.Result) lua.LValue {
	switch r.Type {
	case gjson.Null:
		return lua.LNil
	case gjson.False:
		return lua.LFalse
	case gjson.True:
		return lua.LTrue
	case gjson.Number:
		return lua.LNumber(r.Num)
	case gjson.String:
		return lua.LString(r.Str)
	}

	t := L.NewTable()
	if r.IsArray() {
		i := 1
		r.ForEach(func(_, value gjson.Result) bool {
			t.RawSetInt(i, fromJSON(L, value))
			i++
			return true
		})
		return t
	}
	r.ForEach(func(key, value gjson.Result) bool {
		t.RawSetString(key.String(), fromJSON(L, value))
		return true
	})
	return t
}
