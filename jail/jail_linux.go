package jail

import (
	"os"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sys/unix"

	"omegajail/container"
	"omegajail/pkg/cgroup"
	"omegajail/pkg/forkexec"
	"omegajail/pkg/mount"
	"omegajail/pkg/seccomp"
	"omegajail/pkg/unixsocket"
	"omegajail/sigsys"
)

const jailHostname = "omegajail"

// container uid/gid when a user namespace is entered
const (
	targetUID = 1000
	targetGID = 1000
)

// Run builds the jail for pol, launches init, drives the SIGSYS classifier,
// and awaits the result. The return value is the process exit code: any
// setup failure is a single non-zero status with no metadata written; after
// launch the status is whatever init exits with.
func Run(pol *Policy) int {
	log := container.NewLogger(zapcore.AddSync(os.Stderr))
	defer log.Sync()

	if err := pol.Validate(); err != nil {
		log.Error("jail: invalid policy", zap.Error(err))
		return 1
	}

	sudo, err := detectSudo()
	if err != nil {
		log.Error("jail: detect sudo", zap.Error(err))
		return 1
	}
	// open caller-named files with the invoking user's identity only
	if err := sudo.dropPrivileges(); err != nil {
		log.Error("jail: drop privileges", zap.Error(err))
		return 1
	}

	env := setEnvironment()
	if err := pinCPUAffinity(); err != nil {
		log.Error("jail: pin cpu affinity", zap.Error(err))
		return 1
	}

	metaMode := pol.MetaFile != ""

	var filter seccomp.Filter
	if pol.SeccompPolicyFile != "" {
		policy, err := seccomp.LoadPolicy(pol.SeccompPolicyFile)
		if err != nil {
			log.Error("jail: load seccomp policy", zap.Error(err))
			return 1
		}
		notify := metaMode && !pol.DisableSandboxing && pol.SigsysDetector == DetectorNotify
		filter, err = seccomp.Compile(policy, notify)
		if err != nil {
			log.Error("jail: compile seccomp policy", zap.Error(err))
			return 1
		}
	}

	var metaFile *os.File
	if metaMode {
		metaFile, err = os.OpenFile(pol.MetaFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			log.Error("jail: open meta file", zap.Error(err))
			return 1
		}
		defer metaFile.Close()
	}

	stag, err := stageStdio(pol)
	if err != nil {
		log.Error("jail: stage stdio", zap.Error(err))
		return 1
	}

	ct := cgroup.DetectType()
	plan := &cgroupPlan{}
	if metaMode {
		plan, err = planCgroups(ct, pol.ScriptBasename, pol.MemoryLimitBytes, !pol.DisableSandboxing)
		if err != nil {
			log.Error("jail: plan cgroups", zap.Error(err))
			return 1
		}
	}

	var mounts []mount.SyscallParams
	if !pol.DisableSandboxing {
		b := mount.NewJailBuilder()
		for _, bm := range pol.Binds {
			b.WithBind(bm.Source, bm.Target, !bm.Writable)
		}
		if stag.StdinStaged {
			b.WithBind(pol.StdinRedirect, mount.StdioDir+"/stdin", true)
		}
		if stag.StdoutStaged {
			b.WithBind(pol.StdoutRedirect, mount.StdioDir+"/stdout", false)
		}
		if stag.StderrStaged {
			b.WithBind(pol.StderrRedirect, mount.StdioDir+"/stderr", false)
		}
		for _, p := range plan.Binds {
			b.WithBind(p, p, false)
		}
		mounts, err = b.Build()
		if err != nil {
			log.Error("jail: build mounts", zap.Error(err))
			return 1
		}
	}

	// the sigsys socket pair: one end goes into the container at the
	// well-known slot, the other feeds the classifier
	var (
		supSock  *unixsocket.Socket
		childEnd *os.File
	)
	if metaMode {
		ins, outs, err := unixsocket.NewSocketPair()
		if err != nil {
			log.Error("jail: sigsys socket pair", zap.Error(err))
			return 1
		}
		childEnd, err = outs.File()
		outs.Close()
		if err != nil {
			ins.Close()
			log.Error("jail: dup sigsys socket", zap.Error(err))
			return 1
		}
		supSock = ins
	}

	// the payload crosses the clone boundary on its own descriptor
	payload := buildPayload(pol, plan, stag, filter, sudo, env, metaMode, ct)
	pr, pw, err := os.Pipe()
	if err != nil {
		log.Error("jail: payload pipe", zap.Error(err))
		return 1
	}
	if err := container.WritePayload(pw, payload); err != nil {
		pw.Close()
		log.Error("jail: write payload", zap.Error(err))
		return 1
	}
	pw.Close()
	defer pr.Close()

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		log.Error("jail: open devnull", zap.Error(err))
		return 1
	}
	defer devNull.Close()

	// launch init by descriptor so the re-exec is immune to path games
	// inside the mount namespace
	execFile, err := os.Open("/proc/self/exe")
	if err != nil {
		log.Error("jail: open self executable", zap.Error(err))
		return 1
	}
	defer execFile.Close()

	files := []uintptr{0, 1, 2, os.Stderr.Fd()}
	if metaFile != nil {
		files = append(files, metaFile.Fd())
	} else {
		files = append(files, devNull.Fd())
	}
	if childEnd != nil {
		files = append(files, childEnd.Fd())
	} else {
		files = append(files, devNull.Fd())
	}
	files = append(files, pr.Fd())

	cloneFlags, cred, uidMap, gidMap := credentialPlan(pol, sudo)

	r := &forkexec.Runner{
		Args:        []string{os.Args[0], container.InitArg},
		ExecFile:    execFile.Fd(),
		Env:         env,
		Files:       files,
		CloneFlags:  cloneFlags,
		Mounts:      mounts,
		HostName:    jailHostname,
		DomainName:  jailHostname,
		SetSid:      true,
		NoNewPrivs:  !pol.DisableSandboxing,
		Credential:  cred,
		UIDMappings: uidMap,
		GIDMappings: gidMap,
	}

	// root only to enter the namespaces
	if err := sudo.regainPrivileges(); err != nil {
		log.Error("jail: regain privileges", zap.Error(err))
		return 1
	}

	pid, err := r.Start()
	if err != nil {
		log.Error("jail: launch init", zap.Error(err))
		return 1
	}

	// the descriptors belong to init now
	if childEnd != nil {
		childEnd.Close()
	}
	if metaFile != nil {
		metaFile.Close()
	}
	pr.Close()

	if supSock != nil {
		done := make(chan struct{})
		go func() {
			defer close(done)
			sigsys.Run(supSock, log)
		}()
		<-done
		supSock.Close()
	}

	return awaitInit(pid)
}

// credentialPlan decides namespaces and identity: under sudo the program
// runs as the invoking user inside everything but a user namespace; without
// sudo a user namespace maps a fixed unprivileged identity onto the caller.
func credentialPlan(pol *Policy, sudo *sudoInfo) (uintptr, *syscall.Credential, []syscall.SysProcIDMap, []syscall.SysProcIDMap) {
	if pol.DisableSandboxing {
		return 0, nil, nil, nil
	}
	flags := uintptr(unix.CLONE_NEWNS | unix.CLONE_NEWPID | unix.CLONE_NEWUTS |
		unix.CLONE_NEWIPC | unix.CLONE_NEWNET | unix.CLONE_NEWCGROUP)
	if sudo.FromSudo {
		return flags, &syscall.Credential{Uid: uint32(sudo.UID), Gid: uint32(sudo.GID)}, nil, nil
	}
	flags |= unix.CLONE_NEWUSER
	uidMap := []syscall.SysProcIDMap{{ContainerID: targetUID, HostID: sudo.UID, Size: 1}}
	gidMap := []syscall.SysProcIDMap{{ContainerID: targetGID, HostID: sudo.GID, Size: 1}}
	return flags, &syscall.Credential{Uid: targetUID, Gid: targetGID}, uidMap, gidMap
}

func buildPayload(pol *Policy, plan *cgroupPlan, stag *stdioStaging, filter seccomp.Filter,
	sudo *sudoInfo, env []string, metaMode bool, ct cgroup.Type) *container.Payload {
	p := &container.Payload{
		DisableSandboxing: pol.DisableSandboxing,
		MetaMode:          metaMode,
		Comm:              pol.Comm,
		CgroupType:        ct,
		MemoryLimitBytes:  pol.MemoryLimitBytes,
		VMMemoryBytes:     pol.VMMemoryBytes,
		RLimits:           pol.RLimits,
		Chroot:            pol.Chroot,
		Chdir:             pol.Chdir,
		Args:              pol.Args,
		Env:               env,
		Filter:            filter,
		SeccompNotify:     pol.SigsysDetector == DetectorNotify,
		InitUID:           -1,
		InitGID:           -1,
		SetupLoopback:     pol.SetupLoopback,
	}
	if metaMode {
		p.CgroupPath = plan.Path
		p.MemoryCgroupPath = plan.MemoryPath
		p.WallTimeLimit = pol.WallTimeLimit
	}
	if sudo.FromSudo {
		p.InitUID = sudo.UID
		p.InitGID = sudo.GID
	}
	if pol.DisableSandboxing {
		p.StdinHost = pol.StdinRedirect
		p.StdoutHost = pol.StdoutRedirect
		p.StderrHost = pol.StderrRedirect
	} else {
		p.StdinStaged = stag.StdinStaged
		p.StdoutStaged = stag.StdoutStaged
		p.StderrStaged = stag.StderrStaged
	}
	return p
}

func awaitInit(pid int) int {
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 1
		}
		break
	}
	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		return 128 + int(ws.Signal())
	}
	return 1
}
