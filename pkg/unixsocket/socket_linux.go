// Package unixsocket wraps Linux SOCK_SEQPACKET unix sockets to send and
// receive messages together with file descriptors passed as SCM_RIGHTS.
package unixsocket

import (
	"fmt"
	"net"
	"os"
	"syscall"
)

// oob size default to page size
const oobSize = 4 << 10

// Socket wraps a unix socket connection
type Socket struct {
	*net.UnixConn
	sendBuff []byte
	recvBuff []byte
}

// Msg is the oob part of a message
type Msg struct {
	Fds []int // unix rights
}

func newSocket(conn *net.UnixConn) *Socket {
	return &Socket{
		UnixConn: conn,
		sendBuff: make([]byte, oobSize),
		recvBuff: make([]byte, oobSize),
	}
}

// NewSocket creates a Socket from an existing unix socket fd (created by
// socketpair or inherited across exec) and marks it close_on_exec to avoid
// leaking it further. SOCK_SEQPACKET is required for reliable message
// boundaries.
func NewSocket(fd int) (*Socket, error) {
	syscall.SetNonblock(fd, true)
	syscall.CloseOnExec(fd)

	file := os.NewFile(uintptr(fd), "unix-socket")
	if file == nil {
		return nil, fmt.Errorf("NewSocket: %d is not a valid fd", fd)
	}
	defer file.Close()

	conn, err := net.FileConn(file)
	if err != nil {
		return nil, err
	}

	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("NewSocket: %d is not a valid unix socket connection", fd)
	}
	return newSocket(unixConn), nil
}

// NewSocketPair creates a connected SOCK_SEQPACKET unix socket pair.
func NewSocketPair() (*Socket, *Socket, error) {
	fd, err := syscall.Socketpair(syscall.AF_LOCAL, syscall.SOCK_SEQPACKET|syscall.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("NewSocketPair: socketpair: %w", err)
	}

	ins, err := NewSocket(fd[0])
	if err != nil {
		syscall.Close(fd[0])
		syscall.Close(fd[1])
		return nil, nil, fmt.Errorf("NewSocketPair: %w", err)
	}

	outs, err := NewSocket(fd[1])
	if err != nil {
		ins.Close()
		syscall.Close(fd[1])
		return nil, nil, fmt.Errorf("NewSocketPair: %w", err)
	}
	return ins, outs, nil
}

// SendMsg sends b together with the fds encoded as a single SCM_RIGHTS
// control message.
func (s *Socket) SendMsg(b []byte, fds []int) error {
	var oob []byte
	if len(fds) > 0 {
		oob = syscall.UnixRights(fds...)
	}
	if _, _, err := s.WriteMsgUnix(b, oob, nil); err != nil {
		return fmt.Errorf("SendMsg: %w", err)
	}
	return nil
}

// RecvMsg receives a message into b and decodes any SCM_RIGHTS control
// messages into Msg.Fds. A zero-length message with no oob data signals
// that the peer shut down the connection.
func (s *Socket) RecvMsg(b []byte) (int, *Msg, error) {
	n, oobn, _, _, err := s.ReadMsgUnix(b, s.recvBuff)
	if err != nil {
		return 0, nil, fmt.Errorf("RecvMsg: %w", err)
	}

	msgs, err := syscall.ParseSocketControlMessage(s.recvBuff[:oobn])
	if err != nil {
		return 0, nil, fmt.Errorf("RecvMsg: parse control message: %w", err)
	}
	msg := new(Msg)
	for _, m := range msgs {
		if m.Header.Level != syscall.SOL_SOCKET || m.Header.Type != syscall.SCM_RIGHTS {
			continue
		}
		fds, err := syscall.ParseUnixRights(&m)
		if err != nil {
			return 0, nil, fmt.Errorf("RecvMsg: parse unix rights: %w", err)
		}
		msg.Fds = append(msg.Fds, fds...)
	}
	return n, msg, nil
}
