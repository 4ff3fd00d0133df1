package processes

import (
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/sys/unix"
)

// SignalKiller terminates processes by pid.
type SignalKiller struct {
	Signal unix.Signal // Defaults to SIGTERM
}

// Kill sends the signal to pid. A pid that no longer exists counts as killed.
func (k SignalKiller) Kill(pid string) error {
	n, err := strconv.Atoi(pid)
	if err != nil {
		return fmt.Errorf("invalid pid %q: %w", pid, err)
	}
	// 0 and negative values address process groups
	if n <= 0 {
		return fmt.Errorf("invalid pid %q", pid)
	}

	sig := k.Signal
	if sig == 0 {
		sig = unix.SIGTERM
	}
	if err := unix.Kill(n, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return fmt.Errorf("failed to signal pid %d: %w", n, err)
	}
	return nil
}
