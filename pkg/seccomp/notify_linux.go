package seccomp

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// seccomp user-notification ABI from linux/seccomp.h. x/sys/unix carries
// the flag constants but not the structures or ioctl request values.

// NotifData is the syscall description inside a notification.
type NotifData struct {
	NR                 int32
	Arch               uint32
	InstructionPointer uint64
	Args               [6]uint64
}

// Notif is a single notification read from the listener fd.
type Notif struct {
	ID    uint64
	Pid   uint32
	Flags uint32
	Data  NotifData
}

// NotifResp is the answer written back for a notification.
type NotifResp struct {
	ID    uint64
	Val   int64
	Error int32
	Flags uint32
}

// ioctl request values: _IOWR('!', nr, size) with the struct sizes fixed by
// the ABI (80 and 24 bytes).
const (
	ioctlNotifRecv = 0xc0502100
	ioctlNotifSend = 0xc0182101
)

// RecvNotif reads the next notification from the listener fd, blocking
// until one arrives. The kernel requires the struct to be zeroed before
// every attempt.
func RecvNotif(fd int) (*Notif, error) {
	for {
		var n Notif
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), ioctlNotifRecv, uintptr(unsafe.Pointer(&n)))
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return nil, errno
		}
		return &n, nil
	}
}

// SendNotifResp answers a notification.
func SendNotifResp(fd int, resp *NotifResp) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), ioctlNotifSend, uintptr(unsafe.Pointer(resp)))
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return errno
		}
		return nil
	}
}
