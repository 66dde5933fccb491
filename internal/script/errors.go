package script

import (
	"errors"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// CompileError reports a script that failed to parse or compile.
type CompileError struct {
	Name string
	Err  error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s: %v", e.Name, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// CleanErrorMessage reduces an interpreter error to a single readable line:
// the error value without the traceback, minus any "runtime error: " prefix.
func CleanErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		msg = apiErr.Object.String()
	}
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	msg = strings.TrimSpace(msg)
	return strings.TrimPrefix(msg, "runtime error: ")
}
