package rlimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestPrepareRLimitOrder(t *testing.T) {
	r := RLimits{
		CPU:          2,
		FileSize:     64 << 20,
		AddressSpace: 256 << 20,
		ProcCount:    1,
		DisableCore:  true,
	}
	l := r.PrepareRLimit()
	res := make([]int, 0, len(l))
	for _, rl := range l {
		res = append(res, rl.Res)
	}
	assert.Equal(t, []int{unix.RLIMIT_CPU, unix.RLIMIT_FSIZE, unix.RLIMIT_AS,
		unix.RLIMIT_NPROC, unix.RLIMIT_CORE}, res)
}

func TestPrepareRLimitCPUHard(t *testing.T) {
	r := RLimits{CPU: 3}
	l := r.PrepareRLimit()
	if assert.Len(t, l, 1) {
		assert.Equal(t, uint64(3), l[0].Rlim.Cur)
		assert.Equal(t, uint64(4), l[0].Rlim.Max)
	}
}

func TestPrepareRLimitEmpty(t *testing.T) {
	r := RLimits{}
	assert.Empty(t, r.PrepareRLimit())
}

func TestRLimitString(t *testing.T) {
	r := RLimits{CPU: 1, FileSize: 1 << 20, DisableCore: true}
	s := r.String()
	assert.Contains(t, s, "CPU[1 s:2 s]")
	assert.Contains(t, s, "File[1.0 MiB:1.0 MiB]")
	assert.Contains(t, s, "Core[0 B:0 B]")
}
