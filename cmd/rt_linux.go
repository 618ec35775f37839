//go:build linux

package cmd

import "golang.org/x/sys/unix"

// lockMemory keeps the process resident so page faults cannot stretch a pulse.
func lockMemory() error {
	return unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE)
}
