package container

import (
	"fmt"
	"os"
	"runtime"
	"syscall"
	"unsafe"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sys/unix"

	"omegajail/meta"
	"omegajail/pkg/forkexec"
	"omegajail/pkg/scoped"
	"omegajail/sigsys"
)

// Init turns the current process into the in-container init when it was
// launched with the sentinel argument; otherwise it is a no-op. Call it
// from main's init function so the re-executed binary never runs the
// supervisor path.
//
// Init never returns once it takes over. Its own failures are logged, not
// propagated: the metadata record is the source of truth, and a record
// without a terminal block marks an infrastructure failure.
func Init() {
	if len(os.Args) < 2 || os.Args[1] != InitArg {
		return
	}

	// bound our own resource usage inside the container
	runtime.GOMAXPROCS(initMaxProc)

	log := NewLogger(zapcore.AddSync(os.NewFile(uintptr(LoggingFd), "log")))

	payloadFile := os.NewFile(uintptr(PayloadFd), "payload")
	p, err := ReadPayload(payloadFile)
	payloadFile.Close()
	if err != nil {
		log.Error("init: read payload", zap.Error(err))
		os.Exit(1)
	}

	os.Exit(run(p, log))
}

func run(p *Payload, log *zap.Logger) int {
	if err := setProcTitle(initComm); err != nil {
		log.Warn("init: set process title", zap.Error(err))
	}

	if !p.DisableSandboxing {
		if err := remountRootReadOnly(); err != nil {
			log.Error("init: remount", zap.Error(err))
			return 1
		}
		if p.SetupLoopback {
			// loopback is a convenience, not a guarantee
			if err := setupLoopback(); err != nil {
				log.Warn("init: loopback", zap.Error(err))
			}
		}
	}
	if p.Chroot != "" {
		if err := unix.Chroot(p.Chroot); err != nil {
			log.Error("init: chroot", zap.String("dir", p.Chroot), zap.Error(err))
			return 1
		}
		if err := unix.Chdir("/"); err != nil {
			log.Error("init: chdir /", zap.Error(err))
			return 1
		}
	}
	if p.Chdir != "" {
		if err := unix.Chdir(p.Chdir); err != nil {
			log.Error("init: chdir", zap.String("dir", p.Chdir), zap.Error(err))
			return 1
		}
	}
	if err := redirectStdio(p); err != nil {
		log.Error("init: redirect stdio", zap.Error(err))
		return 1
	}

	cgs, err := installCgroups(p)
	if err != nil {
		log.Error("init: install cgroups", zap.Error(err))
		return 1
	}

	notify := p.MetaMode && p.SeccompNotify && len(p.Filter) > 0

	// the untrusted program must not retain any of the well-known
	// descriptors; in notify mode the child holds the sigsys socket just
	// long enough to hand the listener fd out and closes it itself
	closeFds := []int{LoggingFd, MetaFd}
	if !notify {
		closeFds = append(closeFds, SigsysFd)
	}

	var prog *syscall.SockFprog
	if len(p.Filter) > 0 {
		prog = p.Filter.SockFprog()
	}

	r := &forkexec.Runner{
		Args:          p.Args,
		Env:           p.Env,
		RLimits:       p.RLimits,
		Files:         []uintptr{0, 1, 2},
		Comm:          p.Comm,
		SetSid:        p.DisableSandboxing,
		CloseFds:      closeFds,
		Seccomp:       prog,
		SeccompNotify: notify,
		NotifySocket:  SigsysFd,
		Ptrace:        p.MetaMode,
		NoNewPrivs:    !p.DisableSandboxing,
		DropCaps:      !p.DisableSandboxing,
		SyncFunc:      cgs.addProc,
	}

	// ptrace requests must come from the thread that owns the tracee
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	childPid, err := r.Start()
	if err != nil {
		log.Error("init: start child", zap.Error(err))
		if p.MetaMode {
			writeMeta(log, &meta.Record{Kind: meta.TerminalNone})
		}
		return 1
	}

	// from here on, returns mean nothing; keep going as far as possible
	if p.MetaMode {
		sendChildPidfd(log, childPid)
	}

	enterOwnJail(p, log)

	res := superviseChild(log, childPid, p.WallTimeLimit, p.DisableSandboxing)

	// consult the classifier only after the reap so the syscall name
	// reflects the causally final event; the user-notification value
	// overrides the ptrace one
	if p.MetaMode {
		unix.Shutdown(SigsysFd, unix.SHUT_WR)
		if nr, ok := sigsys.ReceiveExitSyscall(SigsysFd); ok {
			res.denial = sigsys.Reconcile(res.denial,
				sigsys.Denial{Evidence: sigsys.EvidenceUserNotify, Syscall: nr})
		}
	}

	memBytes := accountMemory(res.usage.Maxrss, cgs.memoryFailcnt(),
		p.MemoryLimitBytes, p.VMMemoryBytes)
	cgs.cleanup()

	rec := buildRecord(&res.usage, res.wall, memBytes, res.denial, res.status, res.exitSignal)
	if p.MetaMode {
		writeMeta(log, rec)
	}
	return rec.ExitCode()
}

// sendChildPidfd hands the child's process handle to the classifier.
// Failure is logged but non-fatal: the ptrace channel still identifies
// denied syscalls.
func sendChildPidfd(log *zap.Logger, pid int) {
	raw, err := unix.PidfdOpen(pid, 0)
	if err != nil {
		log.Warn("init: pidfd_open", zap.Error(err))
		return
	}
	pidfd := scoped.NewFD(raw)
	defer pidfd.Close()
	if err := unix.Sendmsg(SigsysFd, []byte{sigsys.TagPidfd}, unix.UnixRights(pidfd.Get()), nil, 0); err != nil {
		log.Warn("init: send child pidfd", zap.Error(err))
	}
}

// enterOwnJail reduces init itself: the configured identity, no new privs,
// empty ambient set, empty capability sets.
func enterOwnJail(p *Payload, log *zap.Logger) {
	if p.InitGID >= 0 {
		if err := unix.Setgid(p.InitGID); err != nil {
			log.Warn("init: setgid", zap.Error(err))
		}
	}
	if p.InitUID >= 0 {
		if err := unix.Setuid(p.InitUID); err != nil {
			log.Warn("init: setuid", zap.Error(err))
		}
	}
	if p.DisableSandboxing {
		return
	}
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		log.Warn("init: no_new_privs", zap.Error(err))
	}
	if err := unix.Prctl(unix.PR_CAP_AMBIENT, unix.PR_CAP_AMBIENT_CLEAR_ALL, 0, 0, 0); err != nil {
		log.Warn("init: clear ambient caps", zap.Error(err))
	}
	if err := dropCapabilities(); err != nil {
		log.Warn("init: drop caps", zap.Error(err))
	}
}

func dropCapabilities() error {
	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	return unix.Capset(&hdr, &data[0])
}

func setProcTitle(title string) error {
	b, err := unix.BytePtrFromString(title)
	if err != nil {
		return err
	}
	return unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(b)), 0, 0, 0)
}

// remountRootReadOnly freezes the container's view of the file system: the
// root bind mount turns read-only and /tmp loses device and setuid
// semantics while staying writable.
func remountRootReadOnly() error {
	if err := unix.Mount("", "/", "", unix.MS_RDONLY|unix.MS_REMOUNT|unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("container: remount / read-only: %w", err)
	}
	if err := unix.Mount("", "/tmp", "", unix.MS_NODEV|unix.MS_NOSUID|unix.MS_REMOUNT, ""); err != nil {
		return fmt.Errorf("container: remount /tmp: %w", err)
	}
	return nil
}

func writeMeta(log *zap.Logger, rec *meta.Record) {
	f := os.NewFile(uintptr(MetaFd), "meta")
	if f == nil {
		return
	}
	if _, err := rec.WriteTo(f); err != nil {
		log.Error("init: write metadata", zap.Error(err))
	}
	if err := f.Close(); err != nil {
		log.Error("init: close metadata", zap.Error(err))
	}
}
