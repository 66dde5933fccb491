package script

import (
	"encoding/json"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/torosent/wrkr/internal/grpcclient"
	"github.com/torosent/wrkr/internal/httpclient"
)

const ctxTypeName = "wrkr.ctx"

var ctxMethods = map[string]lua.LGFunction{
	"vu":                 ctxVU,
	"track_status_codes": ctxTrackStatusCodes,
	"pace":               ctxPace,
	"assert":             ctxAssert,
	"get":                ctxGet,
	"post":               ctxPost,
	"http":               ctxHTTP,
	"grpc":               ctxGRPC,
}

func newCtxObject(L *lua.LState, inst *luaInstance) *lua.LUserData {
	methods := L.SetFuncs(L.NewTable(), ctxMethods)

	mt := L.NewTypeMetatable(ctxTypeName)
	L.SetField(mt, "__index", L.NewFunction(func(L *lua.LState) int {
		self := checkCtx(L)
		key := L.CheckString(2)
		if key == "vars" {
			L.Push(self.vars)
			return 1
		}
		L.Push(methods.RawGetString(key))
		return 1
	}))
	L.SetField(mt, "__newindex", L.NewFunction(func(L *lua.LState) int {
		self := checkCtx(L)
		key := L.CheckString(2)
		if key != "vars" {
			L.RaiseError("cannot assign ctx.%s", key)
			return 0
		}
		self.vars = L.Get(3)
		return 0
	}))

	ud := L.NewUserData()
	ud.Value = inst
	L.SetMetatable(ud, mt)
	return ud
}

func checkCtx(L *lua.LState) *luaInstance {
	ud := L.CheckUserData(1)
	if inst, ok := ud.Value.(*luaInstance); ok {
		return inst
	}
	L.ArgError(1, "ctx expected")
	return nil
}

func ctxVU(L *lua.LState) int {
	L.Push(lua.LNumber(checkCtx(L).env.VU))
	return 1
}

func ctxTrackStatusCodes(L *lua.LState) int {
	checkCtx(L).trackStatus = L.ToBool(2)
	return 0
}

func ctxPace(L *lua.LState) int {
	self := checkCtx(L)
	d := time.Duration(float64(L.CheckNumber(2)) * float64(time.Millisecond))
	if d <= 0 {
		return 0
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-self.ctx.Done():
	}
	return 0
}

func ctxAssert(L *lua.LState) int {
	checkCtx(L)
	if L.ToBool(2) {
		return 0
	}
	L.Error(lua.LString(L.OptString(3, "assertion failed")), 0)
	return 0
}

func ctxGet(L *lua.LState) int {
	self := checkCtx(L)
	resp := self.env.HTTP.Do(self.ctx, httpclient.Request{
		Method:          "GET",
		URL:             L.OptString(2, "/"),
		SkipStatusCheck: !self.trackStatus,
	}, self.env.Stats)
	L.Push(newResponseObject(L, resp))
	return 1
}

func ctxPost(L *lua.LState) int {
	self := checkCtx(L)
	req := httpclient.Request{
		Method:          "POST",
		URL:             L.OptString(2, "/"),
		SkipStatusCheck: !self.trackStatus,
	}
	setBody(L, &req, L.Get(3))
	resp := self.env.HTTP.Do(self.ctx, req, self.env.Stats)
	L.Push(newResponseObject(L, resp))
	return 1
}

// ctxHTTP takes an options table: method, url, headers, body. A table body is
// sent as JSON.
func ctxHTTP(L *lua.LState) int {
	self := checkCtx(L)
	opts := L.CheckTable(2)
	req := httpclient.Request{
		Method:          lua.LVAsString(opts.RawGetString("method")),
		URL:             lua.LVAsString(opts.RawGetString("url")),
		Headers:         stringMap(opts.RawGetString("headers")),
		SkipStatusCheck: !self.trackStatus,
	}
	setBody(L, &req, opts.RawGetString("body"))
	resp := self.env.HTTP.Do(self.ctx, req, self.env.Stats)
	L.Push(newResponseObject(L, resp))
	return 1
}

// ctxGRPC takes an options table: method, body, metadata, target, timeout_ms.
func ctxGRPC(L *lua.LState) int {
	self := checkCtx(L)
	opts := L.CheckTable(2)
	if self.env.GRPC == nil {
		L.RaiseError("gRPC is not available for this run")
		return 0
	}
	call := grpcclient.Call{
		Target:   lua.LVAsString(opts.RawGetString("target")),
		Method:   lua.LVAsString(opts.RawGetString("method")),
		Body:     luaBytes(opts.RawGetString("body")),
		Metadata: stringMap(opts.RawGetString("metadata")),
	}
	if ms, ok := opts.RawGetString("timeout_ms").(lua.LNumber); ok && ms > 0 {
		call.Timeout = time.Duration(float64(ms) * float64(time.Millisecond))
	}
	resp := self.env.GRPC.Invoke(self.ctx, call, self.env.Stats)
	L.Push(newResponseObject(L, resp))
	return 1
}

func setBody(L *lua.LState, req *httpclient.Request, body lua.LValue) {
	switch b := body.(type) {
	case *lua.LNilType:
	case lua.LString:
		req.Body = []byte(string(b))
	case lua.LNumber:
		req.Body = []byte(b.String())
	case *lua.LTable:
		v, err := toGoValue(b, 0)
		if err != nil {
			L.RaiseError("JSON encode error: %v", err)
			return
		}
		data, err := json.Marshal(v)
		if err != nil {
			L.RaiseError("JSON encode error: %v", err)
			return
		}
		req.Body = data
		req.JSON = true
	case *lua.LUserData:
		if bld, ok := b.Value.(*builderObject); ok {
			req.Body = bld.b.Encoded()
			return
		}
		L.RaiseError("unsupported request body type %s", body.Type())
	default:
		L.RaiseError("unsupported request body type %s", body.Type())
	}
}

func stringMap(v lua.LValue) map[string]string {
	t, ok := v.(*lua.LTable)
	if !ok {
		return nil
	}
	out := make(map[string]string)
	t.ForEach(func(k, v lua.LValue) {
		out[lua.LVAsString(k)] = lua.LVAsString(v)
	})
	return out
}

func luaBytes(v lua.LValue) []byte {
	switch b := v.(type) {
	case lua.LString:
		return []byte(string(b))
	case *lua.LUserData:
		if bld, ok := b.Value.(*builderObject); ok {
			return bld.b.Encoded()
		}
	}
	return nil
}
