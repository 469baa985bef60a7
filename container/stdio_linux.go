package container

import (
	"fmt"

	"golang.org/x/sys/unix"

	"omegajail/pkg/mount"
)

// warnBanner is written to the redirected stderr of unsandboxed runs.
const warnBanner = "WARNING: Running with --disable-sandboxing\n"

// redirectStdio attaches the standard descriptors to their destinations.
// Sandboxed runs open the names staged under /mnt/stdio and then detach the
// staging tmpfs so the origin paths never show up in /proc/self/mountinfo;
// unsandboxed runs open the host paths directly. It runs in init before the
// fork, so the child inherits the finished descriptor table.
func redirectStdio(p *Payload) error {
	if p.DisableSandboxing {
		if p.StdinHost != "" {
			if err := openStdio(p.StdinHost, 0, false); err != nil {
				return err
			}
		}
		if p.StdoutHost != "" {
			if err := openStdio(p.StdoutHost, 1, true); err != nil {
				return err
			}
		}
		if p.StderrHost != "" {
			if err := openStdio(p.StderrHost, 2, true); err != nil {
				return err
			}
			// best effort
			unix.Write(2, []byte(warnBanner))
		}
		return nil
	}

	if !p.StdinStaged && !p.StdoutStaged && !p.StderrStaged {
		return nil
	}
	if p.StdinStaged {
		if err := openStdio(mount.StdioDir+"/stdin", 0, false); err != nil {
			return err
		}
	}
	if p.StdoutStaged {
		if err := openStdio(mount.StdioDir+"/stdout", 1, true); err != nil {
			return err
		}
	}
	if p.StderrStaged {
		if err := openStdio(mount.StdioDir+"/stderr", 2, true); err != nil {
			return err
		}
	}
	// the descriptors are open in the right namespace now; drop the
	// staging mount so the original paths are not disclosed
	if err := unix.Unmount(mount.StdioDir, unix.MNT_DETACH); err != nil {
		return fmt.Errorf("container: detach %s: %w", mount.StdioDir, err)
	}
	return nil
}

// openFileFD opens a redirection target. ENXIO means the path names a unix
// SOCK_SEQPACKET endpoint (a stdio-mux socket): connect to it and shut down
// the unused half instead.
func openFileFD(path string, writable bool) (int, error) {
	flags := unix.O_RDONLY
	if writable {
		flags = unix.O_WRONLY
	}
	fd, err := unix.Open(path, flags|unix.O_NOFOLLOW, 0)
	if err == nil {
		return fd, nil
	}
	if err != unix.ENXIO {
		return -1, err
	}

	fd, err = unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return -1, err
	}
	how := unix.SHUT_RD
	if !writable {
		how = unix.SHUT_WR
	}
	if err := unix.Shutdown(fd, how); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func openStdio(path string, target int, writable bool) error {
	fd, err := openFileFD(path, writable)
	if err != nil {
		return fmt.Errorf("container: open %s as fd %d: %w", path, target, err)
	}
	if fd == target {
		return nil
	}
	if err := unix.Dup2(fd, target); err != nil {
		unix.Close(fd)
		return fmt.Errorf("container: dup2 %s as fd %d: %w", path, target, err)
	}
	return unix.Close(fd)
}
