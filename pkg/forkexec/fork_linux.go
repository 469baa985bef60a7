package forkexec

import (
	"syscall"
	"unsafe" // required for go:linkname.

	"golang.org/x/sys/unix"
)

//go:linkname beforeFork syscall.runtime_BeforeFork
func beforeFork()

//go:linkname afterFork syscall.runtime_AfterFork
func afterFork()

//go:linkname afterForkInChild syscall.runtime_AfterForkInChild
func afterForkInChild()

// Start clones the new process and drives it up to execve. It returns the
// child pid: with Ptrace set, right after the sync ack, without waiting for
// the child to stop itself with SIGSTOP; otherwise once execve has happened.
// The calling goroutine must be locked to its OS thread when Ptrace is set.
func (r *Runner) Start() (int, error) {
	argv0, argv, env, err := prepareExec(r.Args, r.Env)
	if err != nil {
		return 0, err
	}

	workdir, err := syscallStringFromString(r.WorkDir)
	if err != nil {
		return 0, err
	}

	hostname, err := syscallStringFromString(r.HostName)
	if err != nil {
		return 0, err
	}

	domainname, err := syscallStringFromString(r.DomainName)
	if err != nil {
		return 0, err
	}

	comm, err := syscallStringFromString(r.Comm)
	if err != nil {
		return 0, err
	}

	var notify *notifyMsg
	if r.Seccomp != nil && r.SeccompNotify {
		notify = prepareNotifyMsg()
	}

	// socketpair p is used to notify the child that the uid / gid mapping
	// has been set up, to run SyncFunc at a known point, and to deliver
	// child-side setup errors
	p, err := syscall.Socketpair(syscall.AF_LOCAL, syscall.SOCK_STREAM|syscall.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, err
	}

	// fork in child
	pid, err1 := forkAndExecInChild(r, argv0, argv, env, workdir, hostname, domainname, comm, notify, p)

	// restore all signals
	afterFork()
	syscall.ForkLock.Unlock()

	return syncWithChild(r, p, int(pid), err1)
}

func syncWithChild(r *Runner, p [2]int, pid int, err1 syscall.Errno) (int, error) {
	var (
		r1          uintptr
		err2        syscall.Errno
		err         error
		unshareUser = r.CloneFlags&unix.CLONE_NEWUSER == unix.CLONE_NEWUSER
	)

	// sync with child
	unix.Close(p[1])

	// clone syscall failed
	if err1 != 0 {
		unix.Close(p[0])
		return 0, syscall.Errno(err1)
	}

	// synchronize with child for uid / gid map
	if unshareUser {
		if err = writeIDMaps(r, pid); err != nil {
			err2 = err.(syscall.Errno)
		}
		syscall.RawSyscall(syscall.SYS_WRITE, uintptr(p[0]), uintptr(unsafe.Pointer(&err2)), uintptr(unsafe.Sizeof(err2)))
	}

	r1, _, err1 = syscall.RawSyscall(syscall.SYS_READ, uintptr(p[0]), uintptr(unsafe.Pointer(&err2)), uintptr(unsafe.Sizeof(err2)))
	// child returned error code
	if r1 != unsafe.Sizeof(err2) || err2 != 0 || err1 != 0 {
		err = handlePipeError(r1, err2)
		goto fail
	}

	// if SyncFunc fails, then fail the child immediately
	if r.SyncFunc != nil {
		if err = r.SyncFunc(pid); err != nil {
			goto fail
		}
	}
	// otherwise, ack the child (err1 == 0)
	syscall.RawSyscall(syscall.SYS_WRITE, uintptr(p[0]), uintptr(unsafe.Pointer(&err1)), uintptr(unsafe.Sizeof(err1)))

	// if the child stops itself before seccomp with SIGSTOP, do not wait
	// until execve
	if r.Ptrace {
		// wait the final sync in another goroutine to avoid SIGPIPE
		go func() {
			var buf syscall.Errno
			syscall.RawSyscall(syscall.SYS_READ, uintptr(p[0]), uintptr(unsafe.Pointer(&buf)), uintptr(unsafe.Sizeof(buf)))
			unix.Close(p[0])
		}()
		return pid, nil
	}

	// if anything is read the child failed after the sync (the socket is
	// close_on_exec so a successful execve reads zero bytes)
	r1, _, err1 = syscall.RawSyscall(syscall.SYS_READ, uintptr(p[0]), uintptr(unsafe.Pointer(&err2)), uintptr(unsafe.Sizeof(err2)))
	unix.Close(p[0])
	if r1 != 0 || err1 != 0 {
		err = handlePipeError(r1, err2)
		goto failAfterClose
	}
	return pid, nil

fail:
	unix.Close(p[0])

failAfterClose:
	handleChildFailed(pid)
	return 0, err
}

// handlePipeError converts the errno read from the child into a ChildError
// when all of it arrived. Only the errno is read, so Location and Index stay
// unset.
func handlePipeError(r1 uintptr, errCtl syscall.Errno) error {
	if r1 >= uintptr(unsafe.Sizeof(errCtl)) {
		return ChildError{Err: errCtl}
	}
	return syscall.EPIPE
}

func handleChildFailed(pid int) {
	var wstatus syscall.WaitStatus
	// make sure the child died
	syscall.Kill(pid, syscall.SIGKILL)
	// child failed; wait for it to avoid a zombie
	_, err := syscall.Wait4(pid, &wstatus, 0, nil)
	for err == syscall.EINTR {
		_, err = syscall.Wait4(pid, &wstatus, 0, nil)
	}
}
