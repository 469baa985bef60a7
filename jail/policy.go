// Package jail translates a Policy into a fully configured sandbox and
// launches it: namespaces, uid/gid mapping, mount staging, well-known
// descriptors, the in-container init, and the SIGSYS classifier.
package jail

import (
	"errors"
	"time"

	"omegajail/pkg/rlimit"
)

// Detector selects how denied syscalls are identified.
type Detector int

// Detector values.
const (
	// DetectorNotify uses the seccomp user-notification fd, with ptrace as
	// the fallback.
	DetectorNotify Detector = iota
	// DetectorPtrace relies on the SIGSYS ptrace stop alone.
	DetectorPtrace
	// DetectorNone loads the filter with the trap action, the same as
	// DetectorPtrace; in metadata mode the SIGSYS ptrace stop still
	// supplies the syscall, so denials are not reported without a name.
	DetectorNone
)

// ParseDetector maps the command-line spelling.
func ParseDetector(s string) (Detector, error) {
	switch s {
	case "notify":
		return DetectorNotify, nil
	case "ptrace":
		return DetectorPtrace, nil
	case "none":
		return DetectorNone, nil
	}
	return 0, errors.New("jail: sigsys detector must be notify, ptrace or none")
}

// BindMount is a caller-requested bind mount inside the container.
type BindMount struct {
	Source, Target string
	Writable       bool
}

// Policy is the complete description of one run. It is immutable after
// construction; the parts init needs cross the clone boundary as the
// payload.
type Policy struct {
	DisableSandboxing bool

	// Comm renames the untrusted process.
	Comm string
	// ScriptBasename selects the per-script cgroup.
	ScriptBasename string

	MemoryLimitBytes int64  // cgroup memory limit; -1 disables it
	VMMemoryBytes    uint64 // runtime overhead discounted from measured RSS

	RLimits       []rlimit.RLimit
	WallTimeLimit time.Duration // 0 means no deadline

	StdinRedirect  string
	StdoutRedirect string
	StderrRedirect string

	Chdir  string
	Chroot string

	// MetaFile enables metadata mode; empty runs the program without
	// supervision records.
	MetaFile string

	SeccompPolicyFile string
	SigsysDetector    Detector

	Binds         []BindMount
	SetupLoopback bool

	// Args is the untrusted program's full argv; Args[0] is the exec path.
	Args []string
}

// Validate rejects policies that cannot be launched.
func (p *Policy) Validate() error {
	if len(p.Args) == 0 {
		return errors.New("jail: no program to run")
	}
	return nil
}
