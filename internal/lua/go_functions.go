package lua

import (
	lua "github.com/yuin/gopher-lua"

	"smart-roll-call/internal/radio"
)

// registerGoFunctions exposes Go helpers to the given Lua state.
func (f *Filter) registerGoFunctions(L *lua.LState) {
	L.SetGlobal("print", L.NewFunction(f.luaPrint))
	L.SetGlobal("is_local_mac", L.NewFunction(luaIsLocalMAC))
	L.SetGlobal("normalize_mac", L.NewFunction(luaNormalizeMAC))
}

func (f *Filter) luaPrint(L *lua.LState) int {
	f.logger.Info("filter script", "script", f.path, "msg", L.ToString(1))
	return 0
}

func luaIsLocalMAC(L *lua.LState) int {
	L.Push(lua.LBool(radio.LocallyAdministered(L.CheckString(1))))
	return 1
}

// normalize_mac returns nil for malformed input.
func luaNormalizeMAC(L *lua.LState) int {
	mac, ok := radio.NormalizeMAC(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(mac))
	return 1
}
