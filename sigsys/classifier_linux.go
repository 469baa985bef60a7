package sigsys

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"omegajail/pkg/scoped"
	"omegajail/pkg/seccomp"
	"omegajail/pkg/unixsocket"
)

// Message tags on the sigsys socket. The pidfd comes from init right after
// the fork; the listener fd comes from the child itself just before execve.
// The two arrive in either order.
const (
	TagPidfd  = 'p'
	TagNotify = 'n'
)

// Run drives the classifier: collect the child's pidfd and the seccomp
// listener fd from soc, serve notifications until the child is gone, then
// publish the last observed syscall number back over soc as a native-endian
// int. Everything degrades gracefully; on any failure the ptrace-derived
// number in init remains authoritative.
func Run(soc *unixsocket.Socket, log *zap.Logger) {
	pidfd, notifFd := scoped.NewFD(-1), scoped.NewFD(-1)
	defer func() {
		pidfd.Close()
		notifFd.Close()
	}()

	buf := make([]byte, 1)
	for !pidfd.Valid() || !notifFd.Valid() {
		n, msg, err := soc.RecvMsg(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn("sigsys: receive fd message", zap.Error(err))
			}
			break
		}
		if n == 0 && len(msg.Fds) == 0 {
			// peer shut down; no more descriptors are coming
			break
		}
		if len(msg.Fds) != 1 {
			for _, fd := range msg.Fds {
				unix.Close(fd)
			}
			continue
		}
		switch buf[0] {
		case TagPidfd:
			pidfd.Close()
			pidfd = scoped.NewFD(msg.Fds[0])
		case TagNotify:
			notifFd.Close()
			notifFd = scoped.NewFD(msg.Fds[0])
		default:
			unix.Close(msg.Fds[0])
		}
	}

	last := int32(-1)
	if pidfd.Valid() && notifFd.Valid() {
		childPid, err := pidfdPid(pidfd.Get())
		if err != nil {
			log.Warn("sigsys: resolve pidfd", zap.Error(err))
			childPid = -1
		}
		last = serve(notifFd.Get(), pidfd.Get(), childPid, log)
	}

	if last >= 0 {
		var b [4]byte
		binary.NativeEndian.PutUint32(b[:], uint32(last))
		if err := soc.SendMsg(b[:], nil); err != nil {
			log.Warn("sigsys: publish exit syscall", zap.Error(err))
		}
	}
}

// serve reads notifications until the child dies. Each denial is answered
// with ENOSYS and followed by a SIGSYS through the pidfd, so the ptrace
// loop in init observes the same terminal stop the trap channel would have
// produced.
func serve(notifFd, pidfd, childPid int, log *zap.Logger) int32 {
	last := int32(-1)
	for {
		fds := []unix.PollFd{
			{Fd: int32(notifFd), Events: unix.POLLIN},
			{Fd: int32(pidfd), Events: unix.POLLIN},
		}
		if _, err := unix.Poll(fds, -1); err != nil {
			if err == unix.EINTR {
				continue
			}
			log.Warn("sigsys: poll", zap.Error(err))
			return last
		}
		if fds[0].Revents&unix.POLLIN != 0 {
			n, err := seccomp.RecvNotif(notifFd)
			if err == unix.ENOENT {
				// the denied task died between poll and recv
				continue
			}
			if err != nil {
				return last
			}
			if childPid > 0 && int(n.Pid) != childPid {
				// not the process this run supervises
				answerNotif(notifFd, n)
				continue
			}
			last = n.Data.NR
			log.Warn("sigsys: denied syscall",
				zap.Uint32("pid", n.Pid), zap.Int32("syscall", n.Data.NR))
			answerNotif(notifFd, n)
			if err := unix.PidfdSendSignal(pidfd, unix.SIGSYS, nil, 0); err != nil && err != unix.ESRCH {
				log.Warn("sigsys: deliver SIGSYS", zap.Error(err))
			}
			continue
		}
		if fds[1].Revents != 0 || fds[0].Revents&(unix.POLLHUP|unix.POLLERR) != 0 {
			// child is gone
			return last
		}
	}
}

func answerNotif(notifFd int, n *seccomp.Notif) {
	resp := seccomp.NotifResp{
		ID:    n.ID,
		Error: -int32(unix.ENOSYS),
	}
	// ENOENT here means the task already died; nothing to answer
	if err := seccomp.SendNotifResp(notifFd, &resp); err != nil && err != unix.ENOENT {
		// single-shot answer, best effort
		_ = err
	}
}

// pidfdPid resolves the pid behind a pidfd from /proc/self/fdinfo.
func pidfdPid(pidfd int) (int, error) {
	f, err := os.Open(fmt.Sprintf("/proc/self/fdinfo/%d", pidfd))
	if err != nil {
		return -1, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "Pid:") {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Pid:")))
		if err != nil {
			return -1, err
		}
		return pid, nil
	}
	if err := sc.Err(); err != nil {
		return -1, err
	}
	return -1, fmt.Errorf("sigsys: no Pid field in fdinfo for fd %d", pidfd)
}
