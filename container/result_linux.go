package container

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"omegajail/meta"
	"omegajail/pkg/seccomp"
	"omegajail/sigsys"
)

// buildRecord maps the collected run state onto the result record, with the
// reporting precedence seccomp denial > signal (including the synthesized
// SIGXCPU for wall-clock timeouts) > exit status.
func buildRecord(usage *unix.Rusage, wall time.Duration, memBytes int64,
	denial sigsys.Denial, status unix.WaitStatus, exitSignal int) *meta.Record {
	rec := &meta.Record{
		TimeUsec:     usage.Utime.Sec*1000000 + usage.Utime.Usec,
		SysTimeUsec:  usage.Stime.Sec*1000000 + usage.Stime.Usec,
		WallTimeUsec: wall.Microseconds(),
		MemoryBytes:  memBytes,
	}

	switch {
	case denial.Evidence != sigsys.EvidenceNone:
		rec.Kind = meta.TerminalSignal
		rec.Signal = meta.SignalSys
		if name, ok := seccomp.SyscallName(denial.Syscall); ok {
			rec.Syscall = name
		} else {
			rec.Syscall = fmt.Sprintf("#%d", denial.Syscall)
		}

	case status.Signaled() || exitSignal != -1:
		s := exitSignal
		if s == -1 {
			s = int(status.Signal())
		}
		if name, ok := meta.SignalName(s); ok {
			rec.Kind = meta.TerminalSignal
			rec.Signal = name
		} else {
			rec.Kind = meta.TerminalSignalNumber
			rec.SignalNumber = s
		}

	case status.Exited():
		rec.Kind = meta.TerminalStatus
		rec.Status = status.ExitStatus()
	}
	return rec
}

// accountMemory computes the reported peak memory: the rusage maximum RSS,
// pinned to the configured limit when the memory cgroup recorded a refusal
// (so out-of-memory verdicts are unambiguous), minus the configured runtime
// overhead.
func accountMemory(maxRSSKiB int64, failcnt uint64, limitBytes int64, vmBytes uint64) int64 {
	maxRSS := maxRSSKiB * 1024
	if failcnt > 0 {
		maxRSS = limitBytes
	}
	maxRSS -= int64(vmBytes)
	if maxRSS < 0 {
		maxRSS = 0
	}
	return maxRSS
}
