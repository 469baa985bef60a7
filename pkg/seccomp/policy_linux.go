package seccomp

import (
	"fmt"
	"os"
	"syscall"

	libseccomp "github.com/elastic/go-seccomp-bpf"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

// policyFile is the on-disk YAML policy format:
//
//	default_action: trap
//	syscalls:
//	  - action: allow
//	    names: [read, write, exit_group]
type policyFile struct {
	DefaultAction string         `yaml:"default_action"`
	Syscalls      []syscallGroup `yaml:"syscalls"`
}

type syscallGroup struct {
	Action string   `yaml:"action"`
	Names  []string `yaml:"names"`
}

// LoadPolicy reads a YAML policy file into an assemblable policy.
func LoadPolicy(path string) (*libseccomp.Policy, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seccomp: read policy %s: %w", path, err)
	}
	return ParsePolicy(b)
}

// ParsePolicy parses the YAML policy format.
func ParsePolicy(b []byte) (*libseccomp.Policy, error) {
	var pf policyFile
	if err := yaml.Unmarshal(b, &pf); err != nil {
		return nil, fmt.Errorf("seccomp: parse policy: %w", err)
	}
	defAction, err := parseAction(pf.DefaultAction)
	if err != nil {
		return nil, err
	}
	p := &libseccomp.Policy{
		DefaultAction: defAction,
	}
	for _, g := range pf.Syscalls {
		action, err := parseAction(g.Action)
		if err != nil {
			return nil, err
		}
		if len(g.Names) == 0 {
			return nil, fmt.Errorf("seccomp: syscall group with action %q has no names", g.Action)
		}
		p.Syscalls = append(p.Syscalls, libseccomp.SyscallGroup{
			Action: action,
			Names:  g.Names,
		})
	}
	return p, nil
}

func parseAction(s string) (libseccomp.Action, error) {
	switch s {
	case "allow":
		return libseccomp.ActionAllow, nil
	case "errno":
		return libseccomp.ActionErrno, nil
	case "trace":
		return libseccomp.ActionTrace, nil
	case "trap":
		return libseccomp.ActionTrap, nil
	case "log":
		return libseccomp.ActionLog, nil
	case "kill_thread":
		return libseccomp.ActionKillThread, nil
	case "kill", "kill_process":
		return libseccomp.ActionKillProcess, nil
	}
	return 0, fmt.Errorf("seccomp: unknown action %q", s)
}

// opRetK is BPF_RET|BPF_K; x/net/bpf does not export opcode values.
const opRetK = 0x06

// Compile assembles the policy into a kernel-loadable filter. When notify is
// set every trap return is rewritten to user_notif so denials wake the
// classifier's listener fd instead of raising SIGSYS directly (the policy
// assembler has no user_notif spelling).
func Compile(p *libseccomp.Policy, notify bool) (Filter, error) {
	insns, err := p.Assemble()
	if err != nil {
		return nil, fmt.Errorf("seccomp: assemble policy: %w", err)
	}
	raw, err := bpf.Assemble(insns)
	if err != nil {
		return nil, fmt.Errorf("seccomp: assemble bpf: %w", err)
	}
	filter := make(Filter, 0, len(raw))
	for _, in := range raw {
		k := in.K
		if notify && in.Op == opRetK &&
			k&unix.SECCOMP_RET_ACTION_FULL == unix.SECCOMP_RET_TRAP {
			k = unix.SECCOMP_RET_USER_NOTIF | (k & unix.SECCOMP_RET_DATA)
		}
		filter = append(filter, syscall.SockFilter{
			Code: in.Op,
			Jt:   in.Jt,
			Jf:   in.Jf,
			K:    k,
		})
	}
	return filter, nil
}
