package container

import (
	"sync/atomic"
	"time"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"omegajail/sigsys"
)

// waitResult is the outcome of superviseChild.
type waitResult struct {
	status     unix.WaitStatus
	usage      unix.Rusage
	exited     bool
	exitSignal int // -1, or a signal recorded from an rlimit stop / the deadline
	denial     sigsys.Denial
	wall       time.Duration
}

// superviseChild runs the wait loop: reap and dispatch ptrace stops until
// the child is gone or the wall-clock deadline passes, then sweep the
// process tree and drain the remaining children. The calling goroutine must
// stay locked to the OS thread that started the child so the ptrace
// requests are accepted.
func superviseChild(log *zap.Logger, childPid int, timeout time.Duration, disableSandboxing bool) *waitResult {
	res := &waitResult{exitSignal: -1, denial: sigsys.None}

	var (
		attached    bool
		deadlineHit atomic.Bool
		status      unix.WaitStatus
		usage       unix.Rusage
	)

	start := time.Now()
	timerStop := make(chan struct{})
	defer close(timerStop)
	if timeout > 0 {
		go func() {
			t := time.NewTimer(timeout)
			defer t.Stop()
			select {
			case <-t.C:
				// crossing the deadline is indistinguishable from SIGXCPU
				// downstream; the kill wakes the blocked wait below
				deadlineHit.Store(true)
				killAll(childPid, disableSandboxing)
			case <-timerStop:
			}
		}()
	}

	for !res.exited {
		pid, err := unix.Wait4(-1, &status, unix.WALL, &usage)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			log.Warn("init: wait4", zap.Error(err))
			break
		}

		if status.Stopped() {
			if !attached {
				if err := unix.PtraceSetOptions(pid, unix.PTRACE_O_TRACESECCOMP|unix.PTRACE_O_EXITKILL); err != nil {
					log.Warn("init: ptrace setoptions", zap.Error(err))
				}
				attached = true
			}
			switch sig := status.StopSignal(); sig {
			case unix.SIGSYS:
				// extract the syscall that raised it, then put the
				// process down
				if nr, err := ptraceSigsysSyscall(pid); err != nil {
					log.Warn("init: ptrace getsiginfo", zap.Error(err))
				} else {
					res.denial = sigsys.Reconcile(res.denial,
						sigsys.Denial{Evidence: sigsys.EvidencePtrace, Syscall: nr})
				}
				unix.Kill(pid, unix.SIGKILL)

			case unix.SIGXCPU, unix.SIGXFSZ:
				// resource-limit signals terminate the run
				res.exitSignal = int(sig)
				unix.Kill(pid, unix.SIGKILL)

			case unix.SIGSTOP, unix.SIGTRAP:
				// the stop we arranged before the program started, or a
				// signal injected by ptrace: suppress
				if err := unix.PtraceCont(pid, 0); err != nil {
					log.Warn("init: ptrace cont", zap.Error(err))
				}

			default:
				// anything else is delivered normally
				if err := unix.PtraceCont(pid, int(sig)); err != nil {
					log.Warn("init: ptrace cont", zap.Error(err))
				}
			}
			continue
		}

		if pid == childPid {
			res.status = status
			res.usage = usage
			res.exited = true
		}
	}

	if deadlineHit.Load() {
		res.exitSignal = int(unix.SIGXCPU)
	}

	// sweep every process left in the namespace (or the session group when
	// not sandboxed) and drain
	killAll(childPid, disableSandboxing)
	for {
		pid, err := unix.Wait4(-1, &status, 0, &usage)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			break
		}
		if res.exited || pid != childPid {
			continue
		}
		res.status = status
		res.usage = usage
		res.exited = true
	}

	res.wall = time.Since(start)
	return res
}

// killAll sweeps the supervised processes: inside the pid namespace -1 is
// safe and reaches every descendant; without sandboxing only the child's
// session group is targeted.
func killAll(childPid int, disableSandboxing bool) {
	if disableSandboxing {
		unix.Kill(-childPid, unix.SIGKILL)
	} else {
		unix.Kill(-1, unix.SIGKILL)
	}
}

// sigsysSiginfo is the SIGSYS flavor of siginfo_t on 64-bit, padded to the
// kernel's full 128 bytes.
type sigsysSiginfo struct {
	Signo    int32
	Errno    int32
	Code     int32
	_        int32
	CallAddr uintptr
	Syscall  int32
	Arch     uint32
	_        [96]byte
}

// ptraceSigsysSyscall extracts si_syscall from a SIGSYS stop.
func ptraceSigsysSyscall(pid int) (int, error) {
	var si sigsysSiginfo
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, unix.PTRACE_GETSIGINFO,
		uintptr(pid), 0, uintptr(unsafe.Pointer(&si)), 0, 0)
	if errno != 0 {
		return -1, errno
	}
	return int(si.Syscall), nil
}
