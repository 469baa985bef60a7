package container

import (
	"encoding/gob"
	"fmt"
	"io"
	"time"

	"omegajail/pkg/cgroup"
	"omegajail/pkg/rlimit"
	"omegajail/pkg/seccomp"
)

// Payload is everything init needs to build the child and supervise it. It
// is written by the supervisor as a gob blob onto PayloadFd before the
// clone and is read-only afterwards.
type Payload struct {
	DisableSandboxing bool
	MetaMode          bool

	Comm       string
	CgroupType cgroup.Type
	// CgroupPath is the unified (v2) or pids (v1) cgroup directory; empty
	// skips that cgroup (the v1 memory cgroup depends on MemoryCgroupPath).
	CgroupPath string
	// MemoryCgroupPath is the v1 memory cgroup directory; empty on v2 or
	// when no memory limit is set.
	MemoryCgroupPath string
	MemoryLimitBytes int64  // -1 disables the cgroup memory limit
	VMMemoryBytes    uint64 // discounted from measured RSS

	RLimits       []rlimit.RLimit
	WallTimeLimit time.Duration // 0 means no deadline

	Chroot string
	Chdir  string

	// Sandboxed runs stage redirection targets under /mnt/stdio; the
	// booleans say which names exist there. Disabled-sandboxing runs open
	// the host paths directly.
	StdinStaged, StdoutStaged, StderrStaged bool
	StdinHost, StdoutHost, StderrHost       string

	// Args is the full argv of the untrusted program, Args[0] the exec path.
	Args []string
	Env  []string

	Filter        seccomp.Filter
	SeccompNotify bool

	// InitUID / InitGID are the identity init assumes for itself after the
	// fork (-1 keeps the current one). The child's identity was already
	// decided at the clone.
	InitUID, InitGID int

	SetupLoopback bool
}

// WritePayload gob-encodes the payload.
func WritePayload(w io.Writer, p *Payload) error {
	if err := gob.NewEncoder(w).Encode(p); err != nil {
		return fmt.Errorf("container: encode payload: %w", err)
	}
	return nil
}

// ReadPayload decodes a payload written by WritePayload.
func ReadPayload(r io.Reader) (*Payload, error) {
	p := new(Payload)
	if err := gob.NewDecoder(r).Decode(p); err != nil {
		return nil, fmt.Errorf("container: decode payload: %w", err)
	}
	return p, nil
}
