package jail

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"omegajail/pkg/cgroup"
)

func TestParseDetector(t *testing.T) {
	d, err := ParseDetector("notify")
	require.NoError(t, err)
	assert.Equal(t, DetectorNotify, d)

	d, err = ParseDetector("ptrace")
	require.NoError(t, err)
	assert.Equal(t, DetectorPtrace, d)

	_, err = ParseDetector("perf")
	assert.Error(t, err)
}

func TestPolicyValidate(t *testing.T) {
	assert.Error(t, (&Policy{}).Validate())
	assert.NoError(t, (&Policy{Args: []string{"/bin/true"}}).Validate())
}

func TestCredentialPlanUserNamespace(t *testing.T) {
	sudo := &sudoInfo{UID: 1500, GID: 1500}
	flags, cred, uidMap, gidMap := credentialPlan(&Policy{}, sudo)
	assert.NotZero(t, flags&unix.CLONE_NEWUSER)
	assert.NotZero(t, flags&unix.CLONE_NEWPID)
	assert.NotZero(t, flags&unix.CLONE_NEWNET)
	require.NotNil(t, cred)
	assert.Equal(t, uint32(targetUID), cred.Uid)
	require.Len(t, uidMap, 1)
	assert.Equal(t, targetUID, uidMap[0].ContainerID)
	assert.Equal(t, 1500, uidMap[0].HostID)
	require.Len(t, gidMap, 1)
}

func TestCredentialPlanSudo(t *testing.T) {
	sudo := &sudoInfo{FromSudo: true, UID: 1500, GID: 1500}
	flags, cred, uidMap, gidMap := credentialPlan(&Policy{}, sudo)
	assert.Zero(t, flags&unix.CLONE_NEWUSER)
	assert.NotZero(t, flags&unix.CLONE_NEWPID)
	require.NotNil(t, cred)
	assert.Equal(t, uint32(1500), cred.Uid)
	assert.Nil(t, uidMap)
	assert.Nil(t, gidMap)
}

func TestCredentialPlanDisabled(t *testing.T) {
	flags, cred, _, _ := credentialPlan(&Policy{DisableSandboxing: true}, &sudoInfo{})
	assert.Zero(t, flags)
	assert.Nil(t, cred)
}

func TestPlanCgroupsV2(t *testing.T) {
	root := t.TempDir()
	v2Root := filepath.Join(root, "omegajail")
	require.NoError(t, os.Mkdir(v2Root, 0o775))
	// pre-create the script dir so the plan takes the existing-dir path
	// and leaves cgroup.subtree_control alone
	scriptDir := filepath.Join(v2Root, "cpp")
	require.NoError(t, os.Mkdir(scriptDir, 0o775))

	plan, err := planCgroupsAt(cgroup.TypeV2, "cpp", -1, true,
		v2Root, filepath.Join(root, "pids"), filepath.Join(root, "memory"))
	require.NoError(t, err)
	assert.Equal(t, scriptDir, plan.Path)
	assert.Equal(t, []string{v2Root}, plan.Binds)
	assert.Empty(t, plan.MemoryPath)
}

func TestPlanCgroupsV2UnwritableRoot(t *testing.T) {
	root := t.TempDir()
	plan, err := planCgroupsAt(cgroup.TypeV2, "cpp", -1, true,
		filepath.Join(root, "missing"), filepath.Join(root, "pids"), filepath.Join(root, "memory"))
	require.NoError(t, err)
	assert.Empty(t, plan.Path)
	assert.Empty(t, plan.Binds)
}

func TestPlanCgroupsV1(t *testing.T) {
	root := t.TempDir()
	pidsRoot := filepath.Join(root, "pids")
	memRoot := filepath.Join(root, "memory")
	require.NoError(t, os.MkdirAll(filepath.Join(pidsRoot, "cpp"), 0o775))
	require.NoError(t, os.MkdirAll(memRoot, 0o775))

	plan, err := planCgroupsAt(cgroup.TypeV1, "cpp", 64<<20, true,
		filepath.Join(root, "omegajail"), pidsRoot, memRoot)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(pidsRoot, "cpp"), plan.Path)
	assert.Equal(t, filepath.Join(memRoot, "cpp"), plan.MemoryPath)
	assert.Equal(t, []string{pidsRoot, memRoot}, plan.Binds)
}

func TestPlanCgroupsV1MissingMemoryRoot(t *testing.T) {
	root := t.TempDir()
	_, err := planCgroupsAt(cgroup.TypeV1, "cpp", 64<<20, true,
		filepath.Join(root, "omegajail"), filepath.Join(root, "pids"), filepath.Join(root, "memory"))
	assert.Error(t, err)
}

func TestStageStdioCreatesWritableTargets(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	require.NoError(t, os.WriteFile(out, []byte("stale"), 0o644))

	pol := &Policy{
		StdoutRedirect: out,
		StderrRedirect: filepath.Join(dir, "err"),
	}
	stag, err := stageStdio(pol)
	require.NoError(t, err)
	assert.False(t, stag.StdinStaged)
	assert.True(t, stag.StdoutStaged)
	assert.True(t, stag.StderrStaged)

	// the writable targets exist and are truncated
	st, err := os.Stat(out)
	require.NoError(t, err)
	assert.Zero(t, st.Size())
	_, err = os.Stat(filepath.Join(dir, "err"))
	assert.NoError(t, err)
}

func TestStageStdioMissingInput(t *testing.T) {
	pol := &Policy{StdinRedirect: filepath.Join(t.TempDir(), "nope")}
	_, err := stageStdio(pol)
	assert.Error(t, err)
}

func TestStageStdioDisabledCreatesButDoesNotStage(t *testing.T) {
	dir := t.TempDir()
	pol := &Policy{
		DisableSandboxing: true,
		StdoutRedirect:    filepath.Join(dir, "out"),
	}
	stag, err := stageStdio(pol)
	require.NoError(t, err)
	assert.False(t, stag.StdoutStaged)
	_, err = os.Stat(filepath.Join(dir, "out"))
	assert.NoError(t, err)
}

func TestBuildPayload(t *testing.T) {
	pol := &Policy{
		Comm:             "sub",
		MemoryLimitBytes: 64 << 20,
		WallTimeLimit:    2 * time.Second,
		MetaFile:         "/tmp/meta",
		StdoutRedirect:   "/tmp/out",
		Args:             []string{"/usr/bin/main"},
	}
	plan := &cgroupPlan{Path: "/sys/fs/cgroup/omegajail/cpp"}
	stag := &stdioStaging{StdoutStaged: true}
	sudo := &sudoInfo{UID: 1000, GID: 1000}

	p := buildPayload(pol, plan, stag, nil, sudo, []string{"PATH=/usr/bin"}, true, cgroup.TypeV2)
	assert.True(t, p.MetaMode)
	assert.Equal(t, plan.Path, p.CgroupPath)
	assert.Equal(t, 2*time.Second, p.WallTimeLimit)
	assert.True(t, p.StdoutStaged)
	assert.Empty(t, p.StdoutHost)
	assert.Equal(t, -1, p.InitUID)

	// non-meta runs carry no supervision state
	p = buildPayload(pol, plan, stag, nil, sudo, nil, false, cgroup.TypeV2)
	assert.False(t, p.MetaMode)
	assert.Empty(t, p.CgroupPath)
	assert.Zero(t, p.WallTimeLimit)
}

func TestBuildPayloadSudoAndDisabled(t *testing.T) {
	pol := &Policy{
		DisableSandboxing: true,
		StdoutRedirect:    "/tmp/out",
		Args:              []string{"/usr/bin/main"},
	}
	sudo := &sudoInfo{FromSudo: true, UID: 1500, GID: 1500}
	p := buildPayload(pol, &cgroupPlan{}, &stdioStaging{}, nil, sudo, nil, false, cgroup.TypeV1)
	assert.True(t, p.DisableSandboxing)
	assert.Equal(t, "/tmp/out", p.StdoutHost)
	assert.False(t, p.StdoutStaged)
	assert.Equal(t, 1500, p.InitUID)
	assert.Equal(t, 1500, p.InitGID)
}

func TestSetEnvironment(t *testing.T) {
	t.Setenv("OMEGAJAIL_TEST_LEAK", "1")
	env := setEnvironment()
	assert.ElementsMatch(t, childEnv, env)
	_, leaked := os.LookupEnv("OMEGAJAIL_TEST_LEAK")
	assert.False(t, leaked)
}

func TestDetectSudoWithoutEnv(t *testing.T) {
	t.Setenv("SUDO_USER", "")
	os.Unsetenv("SUDO_USER")
	s, err := detectSudo()
	require.NoError(t, err)
	assert.False(t, s.FromSudo)
	assert.Equal(t, os.Getuid(), s.UID)
}
