package script

import (
	"context"
	"errors"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

type luaProgram struct {
	name  string
	proto *lua.FunctionProto
}

// Compile parses and compiles a Lua scenario. The result can be instantiated
// any number of times concurrently.
func Compile(name, source string) (Program, error) {
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, &CompileError{Name: name, Err: err}
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, &CompileError{Name: name, Err: err}
	}
	return &luaProgram{name: name, proto: proto}, nil
}

func (p *luaProgram) Name() string { return p.name }

func (p *luaProgram) NewInstance(env Env) (Instance, error) {
	if env.HTTP == nil {
		return nil, errors.New("script instance requires an HTTP executor")
	}
	if env.Stats == nil {
		return nil, errors.New("script instance requires a stats collector")
	}

	L := lua.NewState()
	inst := &luaInstance{
		L:           L,
		env:         env,
		ctx:         context.Background(),
		vars:        L.NewTable(),
		trackStatus: true,
	}
	registerPb(L)
	inst.ctxUD = newCtxObject(L, inst)

	L.Push(L.NewFunctionFromProto(p.proto))
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		L.Close()
		return nil, err
	}
	L.SetTop(0)
	return inst, nil
}

type luaInstance struct {
	L     *lua.LState
	env   Env
	ctxUD *lua.LUserData

	// ctx is only valid during Call.
	ctx         context.Context
	vars        lua.LValue
	trackStatus bool
}

func (i *luaInstance) VU() int { return i.env.VU }

func (i *luaInstance) HasHook(h Hook) bool {
	_, ok := i.L.GetGlobal(string(h)).(*lua.LFunction)
	return ok
}

func (i *luaInstance) Call(ctx context.Context, h Hook) error {
	fn, ok := i.L.GetGlobal(string(h)).(*lua.LFunction)
	if !ok {
		return nil
	}
	i.ctx = ctx
	defer func() { i.ctx = context.Background() }()

	err := i.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, i.ctxUD)
	i.L.SetTop(0)
	return err
}

func (i *luaInstance) Close() {
	i.L.Close()
}
