package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"omegajail/jail"
)

func TestParseArgsFull(t *testing.T) {
	pol, err := parseArgs([]string{
		"--comm", "submission",
		"--chdir", "/home",
		"--stdin", "/tmp/case.in",
		"--stdout", "/tmp/case.out",
		"--meta", "/tmp/meta",
		"--script-basename", "cpp",
		"--time-limit", "1500",
		"--extra-wall-time-limit", "500",
		"--output-limit", "1048576",
		"--memory-limit", "268435456",
		"--cgroup-memory-limit", "67108864",
		"--seccomp-script", "/var/lib/omegajail/policies/cpp.yml",
		"--bind", "/var/lib/testcases:/cases",
		"--bind", "/tmp/scratch:/scratch:1",
		"--", "/usr/bin/main", "case-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "submission", pol.Comm)
	assert.Equal(t, "cpp", pol.ScriptBasename)
	assert.Equal(t, []string{"/usr/bin/main", "case-1"}, pol.Args)
	assert.Equal(t, "/tmp/meta", pol.MetaFile)
	assert.Equal(t, int64(67108864), pol.MemoryLimitBytes)
	assert.Equal(t, 2*time.Second, pol.WallTimeLimit)
	assert.Equal(t, jail.DetectorNotify, pol.SigsysDetector)

	require.Len(t, pol.Binds, 2)
	assert.False(t, pol.Binds[0].Writable)
	assert.True(t, pol.Binds[1].Writable)

	// rlimits in application order: CPU (rounded up), FSIZE, AS, CORE
	require.Len(t, pol.RLimits, 4)
	assert.Equal(t, unix.RLIMIT_CPU, pol.RLimits[0].Res)
	assert.Equal(t, uint64(2), pol.RLimits[0].Rlim.Cur)
	assert.Equal(t, unix.RLIMIT_FSIZE, pol.RLimits[1].Res)
	assert.Equal(t, unix.RLIMIT_AS, pol.RLimits[2].Res)
	assert.Equal(t, uint64(268435456), pol.RLimits[2].Rlim.Cur)
	assert.Equal(t, unix.RLIMIT_CORE, pol.RLimits[3].Res)
}

func TestParseArgsMinimal(t *testing.T) {
	pol, err := parseArgs([]string{"--", "/bin/true"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/true"}, pol.Args)
	assert.Zero(t, pol.WallTimeLimit)
	assert.Empty(t, pol.MetaFile)
	assert.Equal(t, int64(-1), pol.MemoryLimitBytes)
	// core dumps are always disabled
	require.Len(t, pol.RLimits, 1)
	assert.Equal(t, unix.RLIMIT_CORE, pol.RLimits[0].Res)
}

func TestParseArgsNoProgram(t *testing.T) {
	_, err := parseArgs([]string{"--meta", "/tmp/meta"})
	assert.Error(t, err)
}

func TestParseArgsBadBind(t *testing.T) {
	_, err := parseArgs([]string{"--bind", "/only-one-part", "--", "/bin/true"})
	assert.Error(t, err)

	_, err = parseArgs([]string{"--bind", "/a:/b:rw", "--", "/bin/true"})
	assert.Error(t, err)
}

func TestParseArgsBadDetector(t *testing.T) {
	_, err := parseArgs([]string{"--sigsys-detector", "perf", "--", "/bin/true"})
	assert.Error(t, err)
}
