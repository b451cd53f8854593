// Package lua runs operator-supplied Lua scripts that decide whether a
// newly associated client should be reported.
//
// A filter script defines a global function:
//
//	function should_report(mac, info)
//	  -- info.signal, info.connected_seconds, info.locally_administered
//	  return true
//	end
package lua

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// DefaultTimeout bounds a single should_report call.
const DefaultTimeout = 100 * time.Millisecond

// ClientInfo is what a script sees about a candidate client.
type ClientInfo struct {
	Signal              int
	Connected           time.Duration
	LocallyAdministered bool
}

// Filter evaluates a filter script. A Filter with an empty path, or whose
// file does not exist, allows every client. Script errors fail open.
type Filter struct {
	path    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewFilter creates a filter for the script at path.
func NewFilter(path string, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{path: path, timeout: DefaultTimeout, logger: logger}
}

// Allow reports whether mac should be reported. Each call runs in a fresh
// Lua state so scripts cannot leak state between clients, and edits to the
// file take effect on the next join.
func (f *Filter) Allow(ctx context.Context, mac string, info ClientInfo) bool {
	if f == nil || f.path == "" {
		return true
	}
	if _, err := os.Stat(f.path); errors.Is(err, os.ErrNotExist) {
		return true
	}

	allow, err := f.eval(ctx, mac, info)
	if err != nil {
		f.logger.Warn("filter script failed, allowing client",
			"script", f.path,
			"mac", mac,
			"error", err,
		)
		return true
	}
	if !allow {
		f.logger.Debug("filter script suppressed client", "mac", mac)
	}
	return allow
}

func (f *Filter) eval(ctx context.Context, mac string, info ClientInfo) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)
	f.registerGoFunctions(L)

	if err := L.DoFile(f.path); err != nil {
		return false, fmt.Errorf("load: %w", err)
	}

	fn, ok := L.GetGlobal("should_report").(*lua.LFunction)
	if !ok {
		return false, errors.New("script does not define should_report")
	}

	tbl := L.NewTable()
	tbl.RawSetString("signal", lua.LNumber(info.Signal))
	tbl.RawSetString("connected_seconds", lua.LNumber(info.Connected.Seconds()))
	tbl.RawSetString("locally_administered", lua.LBool(info.LocallyAdministered))

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, lua.LString(mac), tbl); err != nil {
		return false, fmt.Errorf("should_report: %w", err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	return lua.LVAsBool(ret), nil
}
