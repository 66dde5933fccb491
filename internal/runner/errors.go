package runner

import (
	"errors"
	"fmt"

	"github.com/torosent/wrkr/internal/script"
)

// ErrScenarioMissing is returned when the script does not define scenario.
var ErrScenarioMissing = errors.New("script must define a scenario function")

// HookError reports a failed lifecycle hook. VU is 0 for global hooks.
type HookError struct {
	Hook script.Hook
	VU   int
	Err  error
}

func (e *HookError) Error() string {
	if e.VU == 0 {
		return fmt.Sprintf("%s failed: %s", e.Hook, script.CleanErrorMessage(e.Err))
	}
	return fmt.Sprintf("%s failed on vu %d: %s", e.Hook, e.VU, script.CleanErrorMessage(e.Err))
}

func (e *HookError) Unwrap() error { return e.Err }
