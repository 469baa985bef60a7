// Package mount builds the mount operations performed inside the new mount
// namespace, in the raw-syscall-friendly form consumed by forkexec.
package mount

import (
	"fmt"
	"syscall"
)

// Mount defines a single mount syscall.
type Mount struct {
	Source, Target, FsType, Data string
	Flags                        uintptr
	// MakeNod marks a bind mount whose target is a file or socket rather
	// than a directory; the child creates a plain file node for it.
	MakeNod bool
}

// SyscallParams is the null-terminated form of a Mount.
type SyscallParams struct {
	Source, Target, FsType, Data *byte
	Flags                        uintptr
	Prefixes                     []*byte
	MakeNod                      bool
}

// ToSyscall converts a Mount to SyscallParams.
func (m *Mount) ToSyscall() (*SyscallParams, error) {
	var data *byte
	source, err := syscall.BytePtrFromString(m.Source)
	if err != nil {
		return nil, err
	}
	target, err := syscall.BytePtrFromString(m.Target)
	if err != nil {
		return nil, err
	}
	fsType, err := syscall.BytePtrFromString(m.FsType)
	if err != nil {
		return nil, err
	}
	if m.Data != "" {
		data, err = syscall.BytePtrFromString(m.Data)
		if err != nil {
			return nil, err
		}
	}
	prefixes, err := arrayPtrFromStrings(pathPrefix(m.Target))
	if err != nil {
		return nil, err
	}
	return &SyscallParams{
		Source:   source,
		Target:   target,
		FsType:   fsType,
		Flags:    m.Flags,
		Data:     data,
		Prefixes: prefixes,
		MakeNod:  m.MakeNod,
	}, nil
}

func (m Mount) String() string {
	switch {
	case m.Flags&syscall.MS_BIND == syscall.MS_BIND:
		flag := "rw"
		if m.Flags&syscall.MS_RDONLY == syscall.MS_RDONLY {
			flag = "ro"
		}
		return fmt.Sprintf("bind[%s:%s:%s]", m.Source, m.Target, flag)

	case m.FsType == "tmpfs":
		return fmt.Sprintf("tmpfs[%s,%s]", m.Target, m.Data)

	case m.FsType == "proc":
		return "proc[]"

	default:
		return fmt.Sprintf("mount[%s,%s:%s:%x,%s]", m.FsType, m.Source, m.Target, m.Flags, m.Data)
	}
}

// pathPrefix returns every directory component of path, deepest last, so
// the child can mkdir the chain before mounting.
func pathPrefix(path string) []string {
	ret := make([]string, 0)
	for i := 1; i < len(path); i++ {
		if path[i] == '/' {
			ret = append(ret, path[:i])
		}
	}
	ret = append(ret, path)
	return ret
}

func arrayPtrFromStrings(strs []string) ([]*byte, error) {
	ptrs := make([]*byte, 0, len(strs))
	for _, s := range strs {
		b, err := syscall.BytePtrFromString(s)
		if err != nil {
			return nil, err
		}
		ptrs = append(ptrs, b)
	}
	return ptrs, nil
}
