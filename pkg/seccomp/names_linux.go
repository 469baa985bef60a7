package seccomp

import (
	"github.com/elastic/go-seccomp-bpf/arch"
)

var info, errInfo = arch.GetInfo("")

// SyscallName resolves a syscall number to its name on the native
// architecture.
func SyscallName(nr int) (string, bool) {
	if errInfo != nil {
		return "", false
	}
	n, ok := info.SyscallNumbers[nr]
	return n, ok
}

// SyscallNumber resolves a syscall name to its number on the native
// architecture.
func SyscallNumber(name string) (int, bool) {
	if errInfo != nil {
		return 0, false
	}
	n, ok := info.SyscallNames[name]
	return n, ok
}
