package forkexec

import (
	"golang.org/x/sys/unix"
)

// consts missing from the syscall package
const (
	_SECCOMP_SET_MODE_FILTER = 1

	_SECCOMP_FILTER_FLAG_TSYNC        = 1
	_SECCOMP_FILTER_FLAG_NEW_LISTENER = 1 << 3

	// UnshareFlags is the namespace set a jail may request
	UnshareFlags = unix.CLONE_NEWIPC | unix.CLONE_NEWNET | unix.CLONE_NEWNS |
		unix.CLONE_NEWPID | unix.CLONE_NEWUSER | unix.CLONE_NEWUTS | unix.CLONE_NEWCGROUP

	// read-only bind mounts need a remount for the flag to take effect
	bindRo = unix.MS_BIND | unix.MS_RDONLY

	// descriptors 0-6 carry well-known meaning across the clone boundary
	// and must never be used as scratch space during the fd shuffle
	wellKnownFds = 7

	_SECURE_NOROOT                 = 1 << 0
	_SECURE_NOROOT_LOCKED          = 1 << 1
	_SECURE_NO_SETUID_FIXUP        = 1 << 2
	_SECURE_NO_SETUID_FIXUP_LOCKED = 1 << 3
	_SECURE_KEEP_CAPS_LOCKED       = 1 << 5
)

// used by the child for mount bookkeeping
var (
	none  = [...]byte{'n', 'o', 'n', 'e', 0}
	slash = [...]byte{'/', 0}
	empty = [...]byte{0}

	// go does not allow constant uintptr to be negative...
	_AT_FDCWD = unix.AT_FDCWD

	// drop all capabilities
	dropCapHeader = unix.CapUserHeader{
		Version: unix.LINUX_CAPABILITY_VERSION_3,
		Pid:     0,
	}

	dropCapData = [2]unix.CapUserData{}

	setGIDAllow = []byte("allow")
	setGIDDeny  = []byte("deny")
)
