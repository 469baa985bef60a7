package scoped

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestFDCloseOnce(t *testing.T) {
	p := make([]int, 2)
	if err := unix.Pipe(p); err != nil {
		t.Fatal(err)
	}
	defer unix.Close(p[1])

	fd := NewFD(p[0])
	assert.True(t, fd.Valid())
	assert.Equal(t, p[0], fd.Get())
	assert.NoError(t, fd.Close())
	assert.False(t, fd.Valid())
	// second close must not touch the (possibly reused) descriptor
	assert.NoError(t, fd.Close())
}

func TestFDRelease(t *testing.T) {
	p := make([]int, 2)
	if err := unix.Pipe(p); err != nil {
		t.Fatal(err)
	}
	defer unix.Close(p[1])

	fd := NewFD(p[0])
	raw := fd.Release()
	assert.Equal(t, p[0], raw)
	assert.False(t, fd.Valid())
	assert.NoError(t, fd.Close())

	// the descriptor is still open and owned by the caller now
	var buf [1]byte
	_, err := unix.Write(p[1], buf[:])
	assert.NoError(t, err)
	_, err = unix.Read(raw, buf[:])
	assert.NoError(t, err)
	assert.NoError(t, unix.Close(raw))
}

func TestFDEmpty(t *testing.T) {
	fd := NewFD(-1)
	assert.False(t, fd.Valid())
	assert.NoError(t, fd.Close())
	assert.Equal(t, -1, fd.Release())
}
