package script

import (
	"math"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"

	"github.com/torosent/wrkr/internal/pbwire"
)

const (
	builderTypeName = "wrkr.pb.builder"
	scannerTypeName = "wrkr.pb.scanner"

	maxFieldTag = 1<<29 - 1
)

type builderObject struct{ b *pbwire.Builder }

type scannerObject struct{ s *pbwire.Scanner }

// registerPb installs the Pb table and uuid_v4 as globals.
func registerPb(L *lua.LState) {
	bmt := L.NewTypeMetatable(builderTypeName)
	L.SetField(bmt, "__index", L.SetFuncs(L.NewTable(), builderMethods))

	smt := L.NewTypeMetatable(scannerTypeName)
	scanMethods := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{"next": scannerNext})
	for name, parse := range valueParsers {
		L.SetField(scanMethods, name, L.NewFunction(parseArg(2, parse)))
	}
	L.SetField(smt, "__index", scanMethods)

	pb := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"Builder":           pbNewBuilder,
		"Scanner":           pbNewScanner,
		"pack_grpc_frame":   pbPackFrame,
		"unpack_grpc_frame": pbUnpackFrame,
	})
	for name, parse := range valueParsers {
		L.SetField(pb, name, L.NewFunction(parseArg(1, parse)))
	}
	L.SetGlobal("Pb", pb)
	L.SetGlobal("uuid_v4", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(uuid.NewString()))
		return 1
	}))
}

func pbNewBuilder(L *lua.LState) int {
	ud := L.NewUserData()
	ud.Value = &builderObject{b: pbwire.NewBuilder()}
	L.SetMetatable(ud, L.GetTypeMetatable(builderTypeName))
	L.Push(ud)
	return 1
}

// pbNewScanner scans data, optionally restricted to the 1-based window
// starting at start and spanning length bytes.
func pbNewScanner(L *lua.LState) int {
	data := []byte(L.CheckString(1))
	start := L.OptInt(2, 1) - 1
	if start < 0 {
		start = 0
	}
	end := len(data)
	if L.GetTop() >= 3 && L.Get(3) != lua.LNil {
		end = start + L.CheckInt(3)
	}
	if start > len(data) || end > len(data) || end < start {
		L.RaiseError("Index out of bounds")
		return 0
	}
	L.Push(newScannerObject(L, pbwire.NewScanner(data[start:end])))
	return 1
}

func newScannerObject(L *lua.LState, s *pbwire.Scanner) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = &scannerObject{s: s}
	L.SetMetatable(ud, L.GetTypeMetatable(scannerTypeName))
	return ud
}

func pbPackFrame(L *lua.LState) int {
	frame, err := pbwire.PackFrame([]byte(L.CheckString(1)), L.ToBool(2))
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	L.Push(lua.LString(frame))
	return 1
}

func pbUnpackFrame(L *lua.LState) int {
	compressed, payload := pbwire.UnpackFrame([]byte(L.CheckString(1)))
	L.Push(lua.LBool(compressed))
	L.Push(lua.LString(payload))
	return 2
}

var builderMethods = map[string]lua.LGFunction{
	"bool": builderSetter(func(L *lua.LState, b *pbwire.Builder, tag int32) {
		b.Bool(tag, L.ToBool(3))
	}),
	"float": builderSetter(func(L *lua.LState, b *pbwire.Builder, tag int32) {
		b.Float(tag, float32(L.CheckNumber(3)))
	}),
	"double": builderSetter(func(L *lua.LState, b *pbwire.Builder, tag int32) {
		b.Double(tag, float64(L.CheckNumber(3)))
	}),
	"int32": builderSetter(func(L *lua.LState, b *pbwire.Builder, tag int32) {
		b.Int32(tag, int32(checkInteger(L, 3, math.MinInt32, math.MaxInt32+1)))
	}),
	"int64": builderSetter(func(L *lua.LState, b *pbwire.Builder, tag int32) {
		b.Int64(tag, int64(checkInteger(L, 3, math.MinInt64, 1<<63)))
	}),
	"uint64": builderSetter(func(L *lua.LState, b *pbwire.Builder, tag int32) {
		b.Uint64(tag, uint64(checkInteger(L, 3, 0, 1<<64)))
	}),
	"sint32": builderSetter(func(L *lua.LState, b *pbwire.Builder, tag int32) {
		b.Sint32(tag, int32(checkInteger(L, 3, math.MinInt32, math.MaxInt32+1)))
	}),
	"sint64": builderSetter(func(L *lua.LState, b *pbwire.Builder, tag int32) {
		b.Sint64(tag, int64(checkInteger(L, 3, math.MinInt64, 1<<63)))
	}),
	"string": builderSetter(func(L *lua.LState, b *pbwire.Builder, tag int32) {
		b.String(tag, L.CheckString(3))
	}),
	"bytes": builderSetter(func(L *lua.LState, b *pbwire.Builder, tag int32) {
		b.Bytes(tag, []byte(L.CheckString(3)))
	}),
	"message": builderSetter(func(L *lua.LState, b *pbwire.Builder, tag int32) {
		if ud, ok := L.Get(3).(*lua.LUserData); ok {
			if nested, ok := ud.Value.(*builderObject); ok {
				b.Message(tag, nested.b.Encoded())
				return
			}
		}
		b.Message(tag, []byte(L.CheckString(3)))
	}),
	"raw_bytes": func(L *lua.LState) int {
		self := checkBuilder(L)
		self.b.Raw([]byte(L.CheckString(2)))
		L.Push(L.Get(1))
		return 1
	},
	"as_bytes": func(L *lua.LState) int {
		L.Push(lua.LString(checkBuilder(L).b.Encoded()))
		return 1
	},
	"as_grpc_frame": func(L *lua.LState) int {
		frame, err := checkBuilder(L).b.GRPCFrame(L.ToBool(2))
		if err != nil {
			L.RaiseError("%v", err)
			return 0
		}
		L.Push(lua.LString(frame))
		return 1
	},
}

// builderSetter wraps a typed setter taking (self, tag, value). Setters return
// the builder so calls can be chained.
func builderSetter(set func(L *lua.LState, b *pbwire.Builder, tag int32)) lua.LGFunction {
	return func(L *lua.LState) int {
		self := checkBuilder(L)
		tag := checkInteger(L, 2, 1, maxFieldTag+1)
		set(L, self.b, int32(tag))
		L.Push(L.Get(1))
		return 1
	}
}

// checkInteger returns argument n as an integral number in [lo, hi). Lua
// numbers are doubles, so fractions and out-of-range values are rejected
// rather than truncated or wrapped.
func checkInteger(L *lua.LState, n int, lo, hi float64) float64 {
	v := float64(L.CheckNumber(n))
	if v != math.Trunc(v) {
		L.ArgError(n, "integer expected, got fraction")
	}
	if v < lo || v >= hi {
		L.ArgError(n, "integer out of range")
	}
	return v
}

func checkBuilder(L *lua.LState) *builderObject {
	ud := L.CheckUserData(1)
	if b, ok := ud.Value.(*builderObject); ok {
		return b
	}
	L.ArgError(1, "Pb.Builder expected")
	return nil
}

func checkScanner(L *lua.LState) *scannerObject {
	ud := L.CheckUserData(1)
	if s, ok := ud.Value.(*scannerObject); ok {
		return s
	}
	L.ArgError(1, "Pb.Scanner expected")
	return nil
}

// scannerNext returns {tag, wire_type, bytes} for the next field, also
// reachable by name, or nil at the end of the buffer.
func scannerNext(L *lua.LState) int {
	f, ok := checkScanner(L).s.Next()
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	t := L.CreateTable(3, 3)
	t.RawSetInt(1, lua.LNumber(f.Tag))
	t.RawSetInt(2, lua.LNumber(f.WireType))
	t.RawSetInt(3, lua.LString(f.Bytes))
	t.RawSetString("tag", lua.LNumber(f.Tag))
	t.RawSetString("wire_type", lua.LNumber(f.WireType))
	t.RawSetString("bytes", lua.LString(f.Bytes))
	L.Push(t)
	return 1
}

type valueParser func(b []byte) (lua.LValue, error)

var valueParsers = map[string]valueParser{
	"parse_bool": func(b []byte) (lua.LValue, error) {
		v, err := pbwire.ParseBool(b)
		return lua.LBool(v), err
	},
	"parse_float": func(b []byte) (lua.LValue, error) {
		v, err := pbwire.ParseFloat(b)
		return lua.LNumber(v), err
	},
	"parse_double": func(b []byte) (lua.LValue, error) {
		v, err := pbwire.ParseDouble(b)
		return lua.LNumber(v), err
	},
	"parse_uint": func(b []byte) (lua.LValue, error) {
		v, err := pbwire.ParseUint(b)
		return lua.LNumber(v), err
	},
	"parse_int": func(b []byte) (lua.LValue, error) {
		v, err := pbwire.ParseInt(b)
		return lua.LNumber(v), err
	},
	"parse_sint32": func(b []byte) (lua.LValue, error) {
		v, err := pbwire.ParseSint32(b)
		return lua.LNumber(v), err
	},
	"parse_sint64": func(b []byte) (lua.LValue, error) {
		v, err := pbwire.ParseSint64(b)
		return lua.LNumber(v), err
	},
	"parse_string": func(b []byte) (lua.LValue, error) {
		return lua.LString(pbwire.ParseString(b)), nil
	},
}

// parseArg adapts a parser to read its bytes from argument n, so the same
// parser serves both Pb.parse_x(bytes) and scanner:parse_x(bytes).
func parseArg(n int, parse valueParser) lua.LGFunction {
	return func(L *lua.LState) int {
		v, err := parse([]byte(L.CheckString(n)))
		if err != nil {
			L.RaiseError("%v", err)
			return 0
		}
		L.Push(v)
		return 1
	}
}
