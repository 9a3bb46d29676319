//go:build !windows

package logger

import (
	"syscall"
	"unsafe"
)

// ioctlReadTermios is the ioctl number for fetching terminal attributes;
// it differs between Linux and the BSD-derived kernels (Darwin included).
const ioctlReadTermios = termiosIoctl

// isTerminal reports whether fd refers to an interactive terminal, so the
// text handler knows whether it's safe to emit ANSI color codes.
func isTerminal(fd uintptr) bool {
	var termios syscall.Termios
	_, _, err := syscall.Syscall6(
		syscall.SYS_IOCTL,
		fd,
		ioctlReadTermios,
		uintptr(unsafe.Pointer(&termios)),
		0, 0, 0,
	)
	return err == 0
}
