package mount

import (
	"os"

	"golang.org/x/sys/unix"
)

const (
	bind   = unix.MS_BIND | unix.MS_NOSUID
	roBind = bind | unix.MS_RDONLY
	mFlag  = unix.MS_NOEXEC | unix.MS_NOSUID | unix.MS_NODEV
)

// StdioDir is the tmpfs used to stage stdio redirection targets; it is
// detached again once the streams are open.
const StdioDir = "/mnt/stdio"

// Builder collects the mount set for a jail.
type Builder struct {
	Mounts []Mount
}

// NewBuilder creates an empty mount builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// NewJailBuilder returns the mount set every sandboxed run gets: a fresh
// read-only /proc, a private /tmp, and the 4 KiB staging tmpfs for stdio.
func NewJailBuilder() *Builder {
	return NewBuilder().
		WithProc().
		WithTmpfs("/tmp", "size=64m,mode=1777").
		WithTmpfs(StdioDir, "size=4096,mode=555")
}

// WithProc mounts a read-only proc at /proc.
func (b *Builder) WithProc() *Builder {
	b.Mounts = append(b.Mounts, Mount{
		Source: "proc",
		Target: "/proc",
		FsType: "proc",
		Flags:  unix.MS_RDONLY | mFlag,
	})
	return b
}

// WithTmpfs adds a tmpfs mount with the given mount data.
func (b *Builder) WithTmpfs(target, data string) *Builder {
	b.Mounts = append(b.Mounts, Mount{
		Source: "tmpfs",
		Target: target,
		FsType: "tmpfs",
		Flags:  mFlag,
		Data:   data,
	})
	return b
}

// WithBind adds a bind mount. Read-only binds are remounted by the child to
// make the flag effective. Non-directory sources get a file node as the
// mount target.
func (b *Builder) WithBind(source, target string, readonly bool) *Builder {
	var flags uintptr = bind
	if readonly {
		flags = roBind
	}
	makeNod := false
	if st, err := os.Stat(source); err == nil && !st.IsDir() {
		makeNod = true
	}
	b.Mounts = append(b.Mounts, Mount{
		Source:  source,
		Target:  target,
		Flags:   flags,
		MakeNod: makeNod,
	})
	return b
}

// Build creates the syscall parameter sequence for forkexec.
func (b *Builder) Build() ([]SyscallParams, error) {
	ret := make([]SyscallParams, 0, len(b.Mounts))
	for _, m := range b.Mounts {
		sp, err := m.ToSyscall()
		if err != nil {
			return nil, err
		}
		ret = append(ret, *sp)
	}
	return ret, nil
}
