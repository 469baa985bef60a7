package forkexec

import (
	"syscall"

	"omegajail/pkg/mount"
	"omegajail/pkg/rlimit"
)

// Runner is the configuration for one clone/exec: the exec path and argv,
// the descriptor table, and everything applied between clone and execve.
type Runner struct {
	// argv and env for the execve syscall of the child process
	Args []string
	Env  []string

	// if ExecFile is defined, execveat(fd, "", ..., AT_EMPTY_PATH) is used
	ExecFile uintptr

	// POSIX resource limits applied with prlimit(2), in order
	RLimits []rlimit.RLimit

	// file descriptor map for the new process, from 0 to len - 1
	Files []uintptr

	// work path set by chdir(dir) after mounts
	WorkDir string

	// seccomp syscall filter loaded right before execve
	Seccomp *syscall.SockFprog

	// SeccompNotify loads the filter with SECCOMP_FILTER_FLAG_NEW_LISTENER
	// and sends the listener fd over NotifySocket as an SCM_RIGHTS message
	// tagged 'n'; both descriptors are closed before execve.
	SeccompNotify bool
	NotifySocket  uintptr

	// clone flags for new namespaces; only namespace flags are honored
	CloneFlags uintptr

	// mount syscalls performed after unshare of the mount namespace;
	// requires CAP_SYS_ADMIN inside the namespace
	Mounts []mount.SyscallParams

	// HostName and DomainName are set after unshare of UTS
	HostName, DomainName string

	// Comm sets the process title with prctl(PR_SET_NAME)
	Comm string

	// SetSid creates a new session so the process group can be killed as a
	// unit
	SetSid bool

	// CloseFds are closed right after the descriptor table is in place;
	// the untrusted program must not retain them
	CloseFds []int

	// UIDMappings / GIDMappings for an unshared user namespace
	UIDMappings []syscall.SysProcIDMap
	GIDMappings []syscall.SysProcIDMap

	// GIDMappingsEnableSetgroups allows the setgroups syscall; denied when
	// GIDMappings is nil
	GIDMappingsEnableSetgroups bool

	// Credential holds the user and group identity to assume. Secure bits
	// keep capabilities across the identity change so mounts still work;
	// DropCaps is the explicit surrender.
	Credential *syscall.Credential

	// ptrace makes the child call ptrace(PTRACE_TRACEME) and stop itself
	// with SIGSTOP before the seccomp filter is loaded, so the tracer can
	// attach options first. The tracer thread must be locked to its OS
	// thread.
	Ptrace bool

	// no_new_privs is set automatically whenever a seccomp filter is given
	NoNewPrivs bool

	// DropCaps empties the effective, permitted and inheritable capability
	// sets before execve
	DropCaps bool

	// SyncFunc runs in the parent with the child pid while the child is
	// parked before ptrace/seccomp/execve; an error aborts the child. The
	// cgroup membership writes ride on this hook so they are complete
	// before the program starts.
	SyncFunc func(int) error
}
