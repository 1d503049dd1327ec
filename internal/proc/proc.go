// Package proc answers whether a recorded process is still alive and asks
// it to stop. The lock and the daemon PID file both identify their owner by PID.
package proc

import "os"

// Self reports whether pid is the calling process
func Self(pid int) bool {
	return pid == os.Getpid()
}
