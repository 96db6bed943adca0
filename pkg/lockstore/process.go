package lockstore

import (
	"os"
	"syscall"
)

// processAlive reports whether pid refers to a live process, used only to
// decide whether a same-host stale lock may be stolen. No pack library
// covers process liveness, so this stays on the standard library.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}
