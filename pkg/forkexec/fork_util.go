package forkexec

import (
	"syscall"
	"unsafe"
)

// prepareExec prepares execve parameters
func prepareExec(args, env []string) (*byte, []*byte, []*byte, error) {
	// make exec args0
	argv0, err := syscall.BytePtrFromString(args[0])
	if err != nil {
		return nil, nil, nil, err
	}
	// make exec args
	argv, err := syscall.SlicePtrFromStrings(args)
	if err != nil {
		return nil, nil, nil, err
	}
	// make env
	envv, err := syscall.SlicePtrFromStrings(env)
	if err != nil {
		return nil, nil, nil, err
	}
	return argv0, argv, envv, nil
}

// prepareFds prepares the fd shuffle array. The scratch area starts above
// the well-known descriptors so the shuffle never clobbers them.
func prepareFds(files []uintptr) ([]int, int) {
	fd := make([]int, len(files))
	nextfd := len(files)
	for i, ufd := range files {
		if nextfd < int(ufd) {
			nextfd = int(ufd)
		}
		fd[i] = int(ufd)
	}
	if nextfd < wellKnownFds {
		nextfd = wellKnownFds
	}
	nextfd++
	return fd, nextfd
}

// syscallStringFromString prepares *byte for a non-empty string, nil
// otherwise
func syscallStringFromString(str string) (*byte, error) {
	if str != "" {
		return syscall.BytePtrFromString(str)
	}
	return nil, nil
}

// notifyMsg is the pre-built sendmsg(2) argument used by the child to pass
// the seccomp listener fd out. Everything is laid out before clone; the
// child only stores the fd number into the control message and issues the
// raw syscall.
type notifyMsg struct {
	tag  [1]byte
	iov  syscall.Iovec
	msg  syscall.Msghdr
	cmsg [24]byte // cmsghdr (16 bytes on 64-bit) + int fd + padding
	fd   *int32
}

// notifyTag identifies the listener-fd message on the sigsys socket.
const notifyTag = 'n'

func prepareNotifyMsg() *notifyMsg {
	n := &notifyMsg{}
	n.tag[0] = notifyTag
	n.iov.Base = &n.tag[0]
	n.iov.SetLen(1)

	hdr := (*syscall.Cmsghdr)(unsafe.Pointer(&n.cmsg[0]))
	hdr.Level = syscall.SOL_SOCKET
	hdr.Type = syscall.SCM_RIGHTS
	hdr.SetLen(syscall.CmsgLen(4))
	n.fd = (*int32)(unsafe.Pointer(&n.cmsg[syscall.CmsgLen(0)]))

	n.msg.Iov = &n.iov
	n.msg.Iovlen = 1
	n.msg.Control = &n.cmsg[0]
	n.msg.SetControllen(syscall.CmsgSpace(4))
	return n
}
