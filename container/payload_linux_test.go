package container

import (
	"bytes"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"omegajail/pkg/cgroup"
	"omegajail/pkg/rlimit"
	"omegajail/pkg/seccomp"
)

func TestPayloadRoundTrip(t *testing.T) {
	want := &Payload{
		MetaMode:         true,
		Comm:             "submission",
		CgroupType:       cgroup.TypeV2,
		CgroupPath:       "/sys/fs/cgroup/omegajail/cpp",
		MemoryLimitBytes: 64 << 20,
		VMMemoryBytes:    1 << 20,
		RLimits: []rlimit.RLimit{
			{Res: unix.RLIMIT_CPU, Rlim: syscall.Rlimit{Cur: 1, Max: 2}},
		},
		WallTimeLimit: 1500 * time.Millisecond,
		Chdir:         "/home",
		StdoutStaged:  true,
		Args:          []string{"/usr/bin/main", "case-1"},
		Env:           []string{"HOME=/home", "PATH=/usr/bin"},
		Filter: seccomp.Filter{
			{Code: 0x06, K: 0x7fff0000},
		},
		SeccompNotify: true,
		InitUID:       -1,
		InitGID:       -1,
		SetupLoopback: true,
	}

	var b bytes.Buffer
	require.NoError(t, WritePayload(&b, want))
	got, err := ReadPayload(&b)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadPayloadGarbage(t *testing.T) {
	_, err := ReadPayload(bytes.NewReader([]byte("not a payload")))
	assert.Error(t, err)
}
