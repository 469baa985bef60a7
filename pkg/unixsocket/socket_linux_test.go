package unixsocket

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendRecvMsg(t *testing.T) {
	a, b, err := NewSocketPair()
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.SendMsg([]byte("hello"), nil))

	buf := make([]byte, 16)
	n, msg, err := b.RecvMsg(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	assert.Empty(t, msg.Fds)
}

func TestSendRecvFd(t *testing.T) {
	a, b, err := NewSocketPair()
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	require.NoError(t, a.SendMsg([]byte{'p'}, []int{int(r.Fd())}))

	buf := make([]byte, 1)
	n, msg, err := b.RecvMsg(buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, byte('p'), buf[0])
	require.Len(t, msg.Fds, 1)

	// the passed descriptor refers to the same pipe
	passed := os.NewFile(uintptr(msg.Fds[0]), "passed")
	defer passed.Close()
	_, err = w.WriteString("x")
	require.NoError(t, err)
	one := make([]byte, 1)
	_, err = passed.Read(one)
	require.NoError(t, err)
	assert.Equal(t, byte('x'), one[0])
}

func TestNewSocketRejectsNonSocket(t *testing.T) {
	f, err := os.Open(os.DevNull)
	require.NoError(t, err)
	defer f.Close()
	_, err = NewSocket(int(f.Fd()))
	assert.Error(t, err)
}
