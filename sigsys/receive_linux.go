package sigsys

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// receiveTimeoutMsec bounds how long init waits for the classifier's
// answer after the child has been reaped, so a kernel that stopped
// notifying cannot hang the run.
const receiveTimeoutMsec = 1000

// ReceiveExitSyscall reads the syscall number the classifier published on
// the sigsys socket. It waits at most one second for readability, then
// reads exactly one native-endian int without blocking. It reports no value
// on timeout, zero-length read or short read.
func ReceiveExitSyscall(fd int) (int, bool) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return 0, false
	}
	defer unix.Close(epfd)

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return 0, false
	}

	events := make([]unix.EpollEvent, 1)
	n, err := unix.EpollWait(epfd, events, receiveTimeoutMsec)
	for err == unix.EINTR {
		n, err = unix.EpollWait(epfd, events, receiveTimeoutMsec)
	}
	if err != nil || n == 0 {
		return 0, false
	}
	if events[0].Fd != int32(fd) {
		return 0, false
	}

	var buf [4]byte
	m, _, err := unix.Recvfrom(fd, buf[:], unix.MSG_DONTWAIT)
	if err != nil || m != len(buf) {
		return 0, false
	}
	return int(int32(binary.NativeEndian.Uint32(buf[:]))), true
}
