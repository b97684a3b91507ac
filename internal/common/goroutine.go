// -----------------------------------------------------------------------
// SafeGo - panic-isolated background goroutines
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"runtime"

	"github.com/ternarybob/arbor"
)

// SafeGo runs fn in a goroutine that survives panics. Event fan-out, audit
// appends, and scheduler sweeps must never take the process down; a panic is
// logged with its stack and the goroutine ends there.
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	go func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			buf := make([]byte, 8192)
			n := runtime.Stack(buf, false)
			if logger != nil {
				logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(buf[:n])).
					Msg("Background goroutine panicked")
			}
		}()
		fn()
	}()
}
