package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"omegajail/jail"
	"omegajail/pkg/rlimit"
)

func parseArgs(argv []string) (*jail.Policy, error) {
	fs := pflag.NewFlagSet("omegajail", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: omegajail [options...] -- program [args...]\n\n%s", fs.FlagUsages())
	}

	var (
		comm     = fs.String("comm", "", "process title for the untrusted program")
		chdir    = fs.String("chdir", "", "working directory inside the jail")
		chroot   = fs.String("chroot", "", "chroot to this directory before running")
		stdin    = fs.String("stdin", "", "redirect stdin from this file or stdio-mux socket")
		stdout   = fs.String("stdout", "", "redirect stdout to this file or stdio-mux socket")
		stderr   = fs.String("stderr", "", "redirect stderr to this file or stdio-mux socket")
		metaPath = fs.String("meta", "", "write the metadata record to this file")
		basename = fs.String("script-basename", "", "cgroup name for this script")

		timeLimit = fs.Uint64("time-limit", 0, "CPU time limit in msec; also drives the wall-clock deadline")
		extraWall = fs.Uint64("extra-wall-time-limit", 1000, "slack added to the wall-clock deadline in msec")

		outputLimit       = fs.Uint64("output-limit", 0, "output size limit in bytes (RLIMIT_FSIZE)")
		memoryLimit       = fs.Int64("memory-limit", -1, "address space limit in bytes, -1 disables")
		cgroupMemoryLimit = fs.Int64("cgroup-memory-limit", -1, "cgroup memory limit in bytes, -1 disables")
		vmMemorySize      = fs.Uint64("vm-memory-size", 0, "runtime overhead discounted from reported memory, in bytes")
		stackLimit        = fs.Uint64("stack-limit", 0, "stack size limit in bytes")
		nprocLimit        = fs.Uint64("nproc-limit", 0, "process count limit")

		seccompScript = fs.String("seccomp-script", "", "seccomp policy file for the program")
		detector      = fs.String("sigsys-detector", "notify", "how denied syscalls are identified: notify, ptrace or none")

		binds    = fs.StringArray("bind", nil, "bind mount src:dst[:1] into the jail; a trailing :1 makes it writable")
		loopback = fs.Bool("loopback", true, "bring the loopback interface up inside the jail")

		disableSandboxing = fs.Bool("disable-sandboxing", false, "run without namespaces, mounts or seccomp")
	)

	if err := fs.Parse(argv); err != nil {
		return nil, err
	}
	program := fs.Args()
	if len(program) == 0 {
		fs.Usage()
		return nil, fmt.Errorf("omegajail: no program to run")
	}

	det, err := jail.ParseDetector(*detector)
	if err != nil {
		return nil, err
	}

	bindMounts, err := parseBinds(*binds)
	if err != nil {
		return nil, err
	}

	rl := rlimit.RLimits{
		FileSize:    *outputLimit,
		Stack:       *stackLimit,
		ProcCount:   *nprocLimit,
		DisableCore: true,
	}
	if *memoryLimit >= 0 {
		rl.AddressSpace = uint64(*memoryLimit)
	}
	var wall time.Duration
	if *timeLimit > 0 {
		rl.CPU = (*timeLimit + 999) / 1000
		wall = time.Duration(*timeLimit+*extraWall) * time.Millisecond
	}

	return &jail.Policy{
		DisableSandboxing: *disableSandboxing,
		Comm:              *comm,
		ScriptBasename:    *basename,
		MemoryLimitBytes:  *cgroupMemoryLimit,
		VMMemoryBytes:     *vmMemorySize,
		RLimits:           rl.PrepareRLimit(),
		WallTimeLimit:     wall,
		StdinRedirect:     *stdin,
		StdoutRedirect:    *stdout,
		StderrRedirect:    *stderr,
		Chdir:             *chdir,
		Chroot:            *chroot,
		MetaFile:          *metaPath,
		SeccompPolicyFile: *seccompScript,
		SigsysDetector:    det,
		Binds:             bindMounts,
		SetupLoopback:     *loopback,
		Args:              program,
	}, nil
}

func parseBinds(specs []string) ([]jail.BindMount, error) {
	var ret []jail.BindMount
	for _, s := range specs {
		parts := strings.Split(s, ":")
		switch len(parts) {
		case 2:
			ret = append(ret, jail.BindMount{Source: parts[0], Target: parts[1]})
		case 3:
			if parts[2] != "1" {
				return nil, fmt.Errorf("omegajail: bind %q: the third field must be 1", s)
			}
			ret = append(ret, jail.BindMount{Source: parts[0], Target: parts[1], Writable: true})
		default:
			return nil, fmt.Errorf("omegajail: bind %q: expected src:dst[:1]", s)
		}
	}
	return ret, nil
}
