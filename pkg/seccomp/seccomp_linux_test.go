package seccomp

import (
	"testing"
	"unsafe"

	libseccomp "github.com/elastic/go-seccomp-bpf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const testPolicy = `
default_action: trap
syscalls:
  - action: allow
    names:
      - read
      - write
      - close
      - exit_group
      - execve
`

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy([]byte(testPolicy))
	require.NoError(t, err)
	assert.Equal(t, libseccomp.ActionTrap, p.DefaultAction)
	require.Len(t, p.Syscalls, 1)
	assert.Equal(t, libseccomp.ActionAllow, p.Syscalls[0].Action)
	assert.Contains(t, p.Syscalls[0].Names, "execve")
}

func TestParsePolicyErrors(t *testing.T) {
	_, err := ParsePolicy([]byte("default_action: banish\n"))
	assert.Error(t, err)

	_, err = ParsePolicy([]byte("default_action: trap\nsyscalls:\n  - action: allow\n"))
	assert.Error(t, err)

	_, err = ParsePolicy([]byte(":"))
	assert.Error(t, err)
}

func TestCompile(t *testing.T) {
	p, err := ParsePolicy([]byte(testPolicy))
	require.NoError(t, err)

	f, err := Compile(p, false)
	require.NoError(t, err)
	require.NotEmpty(t, f)
	prog := f.SockFprog()
	assert.Equal(t, uint16(len(f)), prog.Len)

	hasTrap := false
	for _, in := range f {
		if in.Code == opRetK && in.K&unix.SECCOMP_RET_ACTION_FULL == unix.SECCOMP_RET_TRAP {
			hasTrap = true
		}
		assert.NotEqual(t, uint32(unix.SECCOMP_RET_USER_NOTIF), in.K&unix.SECCOMP_RET_ACTION_FULL)
	}
	assert.True(t, hasTrap, "default trap action missing from filter")
}

func TestCompileNotify(t *testing.T) {
	p, err := ParsePolicy([]byte(testPolicy))
	require.NoError(t, err)

	f, err := Compile(p, true)
	require.NoError(t, err)

	hasNotif := false
	for _, in := range f {
		if in.Code == opRetK {
			action := in.K & unix.SECCOMP_RET_ACTION_FULL
			assert.NotEqual(t, uint32(unix.SECCOMP_RET_TRAP), action)
			if action == unix.SECCOMP_RET_USER_NOTIF {
				hasNotif = true
			}
		}
	}
	assert.True(t, hasNotif, "user_notif action missing from notify filter")
}

func TestSyscallName(t *testing.T) {
	nr, ok := SyscallNumber("mount")
	require.True(t, ok)
	name, ok := SyscallName(nr)
	require.True(t, ok)
	assert.Equal(t, "mount", name)

	_, ok = SyscallName(1 << 20)
	assert.False(t, ok)
}

func TestNotifABISizes(t *testing.T) {
	assert.Equal(t, uintptr(80), unsafe.Sizeof(Notif{}))
	assert.Equal(t, uintptr(24), unsafe.Sizeof(NotifResp{}))
}
