package jail

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// stdioStaging records which streams were staged for in-container opening.
type stdioStaging struct {
	StdinStaged  bool
	StdoutStaged bool
	StderrStaged bool
}

// stageStdio prepares the redirection targets while the effective identity
// is still the invoking user: writable targets are created and truncated,
// readable ones are probed. Socket endpoints (ENXIO) are left for init to
// connect inside the container.
//
// With sandboxing disabled only the create/truncate side effect happens
// here; init opens the host paths itself. The handles are dropped on
// purpose (the open guarantees the file exists for the caller even when
// the program never writes).
func stageStdio(pol *Policy) (*stdioStaging, error) {
	s := &stdioStaging{}
	if pol.DisableSandboxing {
		for _, p := range []string{pol.StdoutRedirect, pol.StderrRedirect} {
			if p == "" {
				continue
			}
			if err := stageFile(p, true); err != nil {
				return nil, err
			}
		}
		return s, nil
	}

	if pol.StdinRedirect != "" {
		if err := stageFile(pol.StdinRedirect, false); err != nil {
			return nil, err
		}
		s.StdinStaged = true
	}
	if pol.StdoutRedirect != "" {
		if err := stageFile(pol.StdoutRedirect, true); err != nil {
			return nil, err
		}
		s.StdoutStaged = true
	}
	if pol.StderrRedirect != "" {
		if err := stageFile(pol.StderrRedirect, true); err != nil {
			return nil, err
		}
		s.StderrStaged = true
	}
	return s, nil
}

func stageFile(path string, writable bool) error {
	var (
		fd  int
		err error
	)
	if writable {
		fd, err = unix.Open(path, unix.O_WRONLY|unix.O_CREAT|unix.O_NOFOLLOW|unix.O_TRUNC, 0o644)
	} else {
		fd, err = unix.Open(path, unix.O_RDONLY|unix.O_NOFOLLOW, 0)
	}
	if err != nil {
		if err == unix.ENXIO {
			// a muxed stdio socket: connected from inside the container
			return nil
		}
		return fmt.Errorf("jail: open %s: %w", path, err)
	}
	return unix.Close(fd)
}
