package mount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestJailBuilderDefaults(t *testing.T) {
	b := NewJailBuilder()
	require.Len(t, b.Mounts, 3)
	assert.Equal(t, "/proc", b.Mounts[0].Target)
	assert.NotZero(t, b.Mounts[0].Flags&unix.MS_RDONLY)
	assert.Equal(t, "/tmp", b.Mounts[1].Target)
	assert.Equal(t, StdioDir, b.Mounts[2].Target)
	assert.Equal(t, "size=4096,mode=555", b.Mounts[2].Data)
}

func TestWithBind(t *testing.T) {
	b := NewBuilder().WithBind("/etc/passwd", StdioDir+"/stdin", true)
	require.Len(t, b.Mounts, 1)
	m := b.Mounts[0]
	assert.NotZero(t, m.Flags&unix.MS_BIND)
	assert.NotZero(t, m.Flags&unix.MS_RDONLY)

	b = NewBuilder().WithBind("/tmp/out", StdioDir+"/stdout", false)
	assert.Zero(t, b.Mounts[0].Flags&unix.MS_RDONLY)
}

func TestToSyscallPrefixes(t *testing.T) {
	m := Mount{Source: "tmpfs", Target: "/mnt/stdio", FsType: "tmpfs", Data: "size=4096"}
	sp, err := m.ToSyscall()
	require.NoError(t, err)
	// /mnt then /mnt/stdio
	require.Len(t, sp.Prefixes, 2)
	assert.NotNil(t, sp.Source)
	assert.NotNil(t, sp.Data)
}

func TestString(t *testing.T) {
	assert.Equal(t, "proc[]", Mount{Source: "proc", Target: "/proc", FsType: "proc"}.String())
	assert.Contains(t, Mount{Source: "/a", Target: "/b", Flags: unix.MS_BIND | unix.MS_RDONLY}.String(), "ro")
	assert.Contains(t, Mount{Source: "tmpfs", Target: "/tmp", FsType: "tmpfs", Data: "size=64m"}.String(), "tmpfs[")
}
