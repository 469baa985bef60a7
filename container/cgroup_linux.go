package container

import (
	"fmt"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"

	"omegajail/pkg/cgroup"
)

// cgroups holds the control groups init installed for one run. The memory
// cgroup stays owned by init through the reap so memory.failcnt can be
// consulted; the others are removed or released per hierarchy flavor.
type cgroups struct {
	unified *cgroup.Scoped // v2 unified subtree
	pids    *cgroup.Scoped // v1 pids controller
	memory  *cgroup.Scoped // v1 memory controller
}

// installCgroups creates the configured cgroups and writes the locked limit
// files. With sandboxing disabled the configured unified or pids cgroup is
// still created, no memory limit is written, and init is marked as a child
// subreaper so descendants of the session leader still get reaped.
func installCgroups(p *Payload) (*cgroups, error) {
	cg := &cgroups{}
	if p.CgroupPath != "" {
		var err error
		if p.CgroupType == cgroup.TypeV2 {
			cg.unified, err = cgroup.Create(p.CgroupPath)
		} else {
			cg.pids, err = cgroup.Create(p.CgroupPath)
		}
		if err != nil {
			return nil, err
		}
	}

	if p.DisableSandboxing {
		if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
			return nil, fmt.Errorf("container: set child subreaper: %w", err)
		}
		return cg, nil
	}

	if p.MemoryLimitBytes >= 0 {
		limit := strconv.FormatInt(p.MemoryLimitBytes, 10)
		if cg.unified != nil {
			if err := cg.unified.WriteFile("memory.max", limit); err != nil {
				return nil, err
			}
			if err := cg.unified.LockFile("memory.max"); err != nil {
				return nil, err
			}
		} else if p.MemoryCgroupPath != "" {
			// the per-script parent may not exist yet
			parent, err := cgroup.Create(filepath.Dir(p.MemoryCgroupPath))
			if err != nil {
				return nil, err
			}
			parent.Release()
			cg.memory, err = cgroup.Create(p.MemoryCgroupPath)
			if err != nil {
				return nil, err
			}
			if err := cg.memory.WriteFile("memory.limit_in_bytes", limit); err != nil {
				return nil, err
			}
			if err := cg.memory.LockFile("memory.limit_in_bytes"); err != nil {
				return nil, err
			}
		}
	}
	return cg, nil
}

// addProc writes pid into every installed cgroup and locks the membership
// files. It runs on the forkexec sync point, so membership is complete
// before the program's first instruction.
func (c *cgroups) addProc(pid int) error {
	if c.unified != nil {
		// the kernel parses the leading '+' away
		if err := c.unified.WriteFile("cgroup.procs", "+"+strconv.Itoa(pid)+"\n"); err != nil {
			return err
		}
		if err := c.unified.LockFile("cgroup.procs"); err != nil {
			return err
		}
		return nil
	}
	for _, s := range []*cgroup.Scoped{c.pids, c.memory} {
		if !s.Valid() {
			continue
		}
		if err := s.WriteFile("tasks", strconv.Itoa(pid)+"\n"); err != nil {
			return err
		}
		if err := s.LockFile("tasks"); err != nil {
			return err
		}
	}
	return nil
}

// memoryFailcnt reads the v1 memory.failcnt counter; zero without a v1
// memory cgroup.
func (c *cgroups) memoryFailcnt() uint64 {
	if !c.memory.Valid() {
		return 0
	}
	v, err := c.memory.ReadUint("memory.failcnt")
	if err != nil {
		return 0
	}
	return v
}

// cleanup runs after the reap: the v1 controllers are removed, the unified
// subtree is released for the kernel to reclaim once empty.
func (c *cgroups) cleanup() {
	if c.unified != nil {
		c.unified.Release()
	}
	if c.memory.Valid() {
		c.memory.Close()
	}
	if c.pids.Valid() {
		c.pids.Close()
	}
}
