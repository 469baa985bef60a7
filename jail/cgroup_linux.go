package jail

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"omegajail/pkg/cgroup"
)

// Cgroup layout. v2 keeps one delegated subtree per script; v1 splits
// across the pids and memory controllers. The memory cgroup is
// parameterized by script basename so concurrent invocations cannot
// collide.
const (
	cgroupV2Root     = "/sys/fs/cgroup/omegajail"
	cgroupV1PidsRoot = "/sys/fs/cgroup/pids/omegajail"
	cgroupV1MemRoot  = "/sys/fs/cgroup/memory/omegajail"
)

// cgroupPlan is the supervisor's half of cgroup setup: the paths init will
// create or open, and the roots bind-mounted into the container.
type cgroupPlan struct {
	Path       string
	MemoryPath string
	Binds      []string
}

func planCgroups(ct cgroup.Type, basename string, memLimit int64, sandboxed bool) (*cgroupPlan, error) {
	return planCgroupsAt(ct, basename, memLimit, sandboxed,
		cgroupV2Root, cgroupV1PidsRoot, cgroupV1MemRoot)
}

func planCgroupsAt(ct cgroup.Type, basename string, memLimit int64, sandboxed bool,
	v2Root, pidsRoot, memRoot string) (*cgroupPlan, error) {
	plan := &cgroupPlan{}
	if basename != "" {
		if ct == cgroup.TypeV2 {
			// a delegated root the runner can write is required; without
			// one the run proceeds unaccounted
			if unix.Access(v2Root, unix.W_OK) == nil {
				p := filepath.Join(v2Root, basename)
				switch err := os.Mkdir(p, 0o775); {
				case err == nil:
					if cerr := cgroup.EnableControllers(p, "memory"); cerr != nil {
						return nil, cerr
					}
				case !os.IsExist(err):
					return nil, fmt.Errorf("jail: create %s: %w", p, err)
				}
				plan.Path = p
				if sandboxed {
					plan.Binds = append(plan.Binds, v2Root)
				}
			}
		} else {
			p := filepath.Join(pidsRoot, basename)
			if unix.Access(p, unix.W_OK) == nil {
				plan.Path = p
				if sandboxed {
					plan.Binds = append(plan.Binds, pidsRoot)
				}
			}
		}
	}

	if memLimit >= 0 && ct == cgroup.TypeV1 {
		if _, err := os.Stat(memRoot); err != nil {
			return nil, fmt.Errorf("jail: memory cgroup root %s unavailable: %w", memRoot, err)
		}
		base := basename
		if base == "" {
			base = "omegajail"
		}
		plan.MemoryPath = filepath.Join(memRoot, base)
		if sandboxed {
			plan.Binds = append(plan.Binds, memRoot)
		}
	}
	return plan, nil
}
