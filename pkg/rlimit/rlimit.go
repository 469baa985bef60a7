// Package rlimit provides the ordered resource limit list applied to the
// sandboxed program with prlimit(2) on linux.
package rlimit

import (
	"fmt"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// RLimit is a single resource limit, applied in list order.
type RLimit struct {
	// Res is the resource type (e.g. unix.RLIMIT_CPU)
	Res int
	// Rlim is the limit applied to that resource
	Rlim syscall.Rlimit
}

// RLimits synthesizes the ordered limit list from the command-line surface.
// Zero values leave the corresponding resource untouched.
type RLimits struct {
	CPU          uint64 // in s; the hard limit is one second above the soft one
	FileSize     uint64 // in bytes (RLIMIT_FSIZE)
	AddressSpace uint64 // in bytes (RLIMIT_AS)
	Stack        uint64 // in bytes (RLIMIT_STACK)
	ProcCount    uint64 // RLIMIT_NPROC
	DisableCore  bool   // set RLIMIT_CORE to 0
}

func getRlimit(cur, max uint64) syscall.Rlimit {
	return syscall.Rlimit{Cur: cur, Max: max}
}

// PrepareRLimit creates the rlimit list in application order.
func (r *RLimits) PrepareRLimit() []RLimit {
	var ret []RLimit
	if r.CPU > 0 {
		ret = append(ret, RLimit{
			Res:  unix.RLIMIT_CPU,
			Rlim: getRlimit(r.CPU, r.CPU+1),
		})
	}
	if r.FileSize > 0 {
		ret = append(ret, RLimit{
			Res:  unix.RLIMIT_FSIZE,
			Rlim: getRlimit(r.FileSize, r.FileSize),
		})
	}
	if r.AddressSpace > 0 {
		ret = append(ret, RLimit{
			Res:  unix.RLIMIT_AS,
			Rlim: getRlimit(r.AddressSpace, r.AddressSpace),
		})
	}
	if r.Stack > 0 {
		ret = append(ret, RLimit{
			Res:  unix.RLIMIT_STACK,
			Rlim: getRlimit(r.Stack, r.Stack),
		})
	}
	if r.ProcCount > 0 {
		ret = append(ret, RLimit{
			Res:  unix.RLIMIT_NPROC,
			Rlim: getRlimit(r.ProcCount, r.ProcCount),
		})
	}
	if r.DisableCore {
		ret = append(ret, RLimit{
			Res:  unix.RLIMIT_CORE,
			Rlim: getRlimit(0, 0),
		})
	}
	return ret
}

func (r RLimit) String() string {
	if r.Res == unix.RLIMIT_CPU {
		return fmt.Sprintf("CPU[%d s:%d s]", r.Rlim.Cur, r.Rlim.Max)
	}
	t := "Res"
	switch r.Res {
	case unix.RLIMIT_FSIZE:
		t = "File"
	case unix.RLIMIT_AS:
		t = "AddressSpace"
	case unix.RLIMIT_STACK:
		t = "Stack"
	case unix.RLIMIT_NPROC:
		t = "Proc"
	case unix.RLIMIT_CORE:
		t = "Core"
	}
	return fmt.Sprintf("%s[%s:%s]", t, sizeString(r.Rlim.Cur), sizeString(r.Rlim.Max))
}

func (r RLimits) String() string {
	var sb strings.Builder
	sb.WriteString("RLimits[")
	for i, rl := range r.PrepareRLimit() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(rl.String())
	}
	sb.WriteString("]")
	return sb.String()
}

func sizeString(t uint64) string {
	switch {
	case t < 1<<10:
		return fmt.Sprintf("%d B", t)
	case t < 1<<20:
		return fmt.Sprintf("%.1f KiB", float64(t)/float64(1<<10))
	case t < 1<<30:
		return fmt.Sprintf("%.1f MiB", float64(t)/float64(1<<20))
	default:
		return fmt.Sprintf("%.1f GiB", float64(t)/float64(1<<30))
	}
}
