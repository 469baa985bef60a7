// Package cgroup creates and owns the control-group directories used to
// limit and account the sandboxed program.
//
// A Scoped handle removes its directory on Close unless ownership was
// transferred away with Release; limit files written through it are locked
// read-only afterwards so the program cannot lift its own limits.
package cgroup

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Type is the cgroup hierarchy flavor of the system.
type Type int

// Cgroup hierarchy flavors.
const (
	TypeV1 Type = iota + 1
	TypeV2
)

func (t Type) String() string {
	switch t {
	case TypeV1:
		return "v1"
	case TypeV2:
		return "v2"
	}
	return "invalid"
}

const basePath = "/sys/fs/cgroup"

const (
	dirPerm  = 0o755
	filePerm = 0o644
	lockPerm = 0o444
)

// DetectType returns the cgroup hierarchy flavor mounted at /sys/fs/cgroup.
func DetectType() Type {
	var st unix.Statfs_t
	if err := unix.Statfs(basePath, &st); err != nil {
		// fallback to v1 if the mount point is not available
		return TypeV1
	}
	if st.Type == unix.CGROUP2_SUPER_MAGIC {
		return TypeV2
	}
	return TypeV1
}

// Scoped is a created (or opened) cgroup directory. The directory exists
// between construction and Release or Close; Close without Release removes
// it.
type Scoped struct {
	path string
}

// Create makes the cgroup directory at path, tolerating a directory another
// invocation already created.
func Create(path string) (*Scoped, error) {
	if err := os.Mkdir(path, dirPerm); err != nil && !os.IsExist(err) {
		return nil, fmt.Errorf("cgroup: create %s: %w", path, err)
	}
	return &Scoped{path: path}, nil
}

// Path returns the cgroup directory, or the empty string after Release.
func (s *Scoped) Path() string {
	return s.path
}

// Valid reports whether the handle still owns a directory.
func (s *Scoped) Valid() bool {
	return s != nil && s.path != ""
}

// Release forgets the path; the directory is the kernel's to reclaim once
// it is empty.
func (s *Scoped) Release() {
	s.path = ""
}

// Close removes the directory unless Released. Removal only succeeds once
// every process inside has been reaped, which is the caller's ordering
// obligation.
func (s *Scoped) Close() error {
	if !s.Valid() {
		return nil
	}
	path := s.path
	s.path = ""
	return os.Remove(path)
}

// WriteFile writes data to a control file inside the cgroup.
func (s *Scoped) WriteFile(name, data string) error {
	p := filepath.Join(s.path, name)
	f, err := os.OpenFile(p, os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("cgroup: open %s: %w", p, err)
	}
	_, err = f.WriteString(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("cgroup: write %s: %w", p, err)
	}
	return nil
}

// LockFile chmods a control file to 0444 so the limit cannot be rewritten.
func (s *Scoped) LockFile(name string) error {
	p := filepath.Join(s.path, name)
	if err := os.Chmod(p, lockPerm); err != nil {
		return fmt.Errorf("cgroup: lock %s: %w", p, err)
	}
	return nil
}

// ReadUint reads a single unsigned integer control file, e.g.
// memory.failcnt.
func (s *Scoped) ReadUint(name string) (uint64, error) {
	p := filepath.Join(s.path, name)
	b, err := os.ReadFile(p)
	if err != nil {
		return 0, fmt.Errorf("cgroup: read %s: %w", p, err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cgroup: parse %s: %w", p, err)
	}
	return v, nil
}

// EnableControllers writes "+name ..." into the cgroup.subtree_control of
// the unified cgroup at path so child groups get those controllers.
func EnableControllers(path string, controllers ...string) error {
	msg := "+" + strings.Join(controllers, " +")
	p := filepath.Join(path, "cgroup.subtree_control")
	if err := os.WriteFile(p, []byte(msg), filePerm); err != nil {
		return fmt.Errorf("cgroup: enable controllers %s: %w", p, err)
	}
	return nil
}
