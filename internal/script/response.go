package script

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	lua "github.com/yuin/gopher-lua"

	"github.com/torosent/wrkr/internal/grpcclient"
	"github.com/torosent/wrkr/internal/httpclient"
	"github.com/torosent/wrkr/internal/pbwire"
)

const responseTypeName = "wrkr.response"

var responseMethods = map[string]lua.LGFunction{
	"status":                 respStatus,
	"header":                 respHeader,
	"text":                   respText,
	"json":                   respJSON,
	"json_path":              respJSONPath,
	"check_body":             respCheckBody,
	"check_body_resp":        respCheckBodyResp,
	"check_body_resp_prefix": respCheckBodyRespPrefix,
	"equals":                 respEquals,
	"grpc_scanner":           respGRPCScanner,
	"grpc_status":            respGRPCStatus,
	"error":                  respError,
}

func responseMetatable(L *lua.LState) lua.LValue {
	if mt, ok := L.GetTypeMetatable(responseTypeName).(*lua.LTable); ok {
		return mt
	}
	methods := L.SetFuncs(L.NewTable(), responseMethods)
	mt := L.NewTypeMetatable(responseTypeName)
	L.SetField(mt, "__index", L.NewFunction(func(L *lua.LState) int {
		r := checkResponse(L, 1)
		switch key := L.CheckString(2); key {
		case "headers":
			t := L.NewTable()
			for k, v := range r.Headers() {
				t.RawSetString(strings.ToLower(k), lua.LString(v))
			}
			L.Push(t)
		case "bytes":
			L.Push(lua.LString(r.Body()))
		default:
			L.Push(methods.RawGetString(key))
		}
		return 1
	}))
	L.SetField(mt, "__eq", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(checkResponse(L, 1).Equal(checkResponse(L, 2))))
		return 1
	}))
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		r := checkResponse(L, 1)
		L.Push(lua.LString("response(" + strconv.Itoa(r.Status()) + ")"))
		return 1
	}))
	return mt
}

func newResponseObject(L *lua.LState, r *httpclient.Response) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = r
	L.SetMetatable(ud, responseMetatable(L))
	return ud
}

func checkResponse(L *lua.LState, n int) *httpclient.Response {
	ud := L.CheckUserData(n)
	if r, ok := ud.Value.(*httpclient.Response); ok {
		return r
	}
	L.ArgError(n, "response expected")
	return nil
}

func respStatus(L *lua.LState) int {
	L.Push(lua.LNumber(checkResponse(L, 1).Status()))
	return 1
}

func respHeader(L *lua.LState) int {
	v, ok := checkResponse(L, 1).Header(L.CheckString(2))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(v))
	return 1
}

func respText(L *lua.LState) int {
	L.Push(lua.LString(checkResponse(L, 1).Body()))
	return 1
}

func respJSON(L *lua.LState) int {
	body := checkResponse(L, 1).Body()
	if !gjson.ValidBytes(body) {
		L.RaiseError("JSON decode error: response body is not valid JSON")
		return 0
	}
	L.Push(fromJSON(L, gjson.ParseBytes(body)))
	return 1
}

// respJSONPath evaluates a gjson path such as "items.0.name" against the body.
func respJSONPath(L *lua.LState) int {
	r := checkResponse(L, 1)
	res := gjson.GetBytes(r.Body(), L.CheckString(2))
	if !res.Exists() {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(fromJSON(L, res))
	return 1
}

func respCheckBody(L *lua.LState) int {
	r := checkResponse(L, 1)
	L.Push(lua.LBool(r.BodyEquals([]byte(L.CheckString(2)))))
	return 1
}

func respCheckBodyResp(L *lua.LState) int {
	r := checkResponse(L, 1)
	L.Push(lua.LBool(r.BodyEquals(checkResponse(L, 2).Body())))
	return 1
}

func respCheckBodyRespPrefix(L *lua.LState) int {
	r := checkResponse(L, 1)
	other := checkResponse(L, 2)
	n := L.CheckInt(3)
	L.Push(lua.LBool(r.BodyHasPrefixOf(other, n)))
	return 1
}

func respEquals(L *lua.LState) int {
	L.Push(lua.LBool(checkResponse(L, 1).Equal(checkResponse(L, 2))))
	return 1
}

// respGRPCScanner decodes the body as one gRPC frame and returns a Scanner
// over its payload, or nil when the body is not a complete frame.
func respGRPCScanner(L *lua.LState) int {
	payload, ok := pbwire.DecodeFrame(checkResponse(L, 1).Body())
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(newScannerObject(L, pbwire.NewScanner(payload)))
	return 1
}

func respGRPCStatus(L *lua.LState) int {
	v, ok := checkResponse(L, 1).Header(grpcclient.StatusHeader)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	code, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		L.Push(lua.LString(v))
		return 1
	}
	L.Push(lua.LString(grpcclient.CodeName(code)))
	return 1
}

func respError(L *lua.LState) int {
	msg := checkResponse(L, 1).Err()
	if msg == "" {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(msg))
	return 1
}
