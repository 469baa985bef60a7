package jail

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"syscall"
)

// sudoInfo captures whether the supervisor was started through sudo and the
// identity of the invoking user. The program must never run anything as
// root on the user's behalf: caller-named files are opened with the
// invoking user's credentials, and root is reacquired only to enter the
// namespaces.
type sudoInfo struct {
	FromSudo bool
	UID, GID int
}

func detectSudo() (*sudoInfo, error) {
	caller := os.Getenv("SUDO_USER")
	if caller == "" {
		return &sudoInfo{UID: os.Getuid(), GID: os.Getgid()}, nil
	}
	u, err := user.Lookup(caller)
	if err != nil {
		return nil, fmt.Errorf("jail: user %s not found: %w", caller, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return nil, fmt.Errorf("jail: bad uid for %s: %w", caller, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return nil, fmt.Errorf("jail: bad gid for %s: %w", caller, err)
	}
	return &sudoInfo{FromSudo: true, UID: uid, GID: gid}, nil
}

// dropPrivileges switches the effective identity to the invoking user.
func (s *sudoInfo) dropPrivileges() error {
	if !s.FromSudo {
		return nil
	}
	if err := syscall.Setegid(s.GID); err != nil {
		return fmt.Errorf("jail: setegid: %w", err)
	}
	if err := syscall.Seteuid(s.UID); err != nil {
		return fmt.Errorf("jail: seteuid: %w", err)
	}
	return nil
}

// regainPrivileges becomes root again to set the jail up.
func (s *sudoInfo) regainPrivileges() error {
	if !s.FromSudo {
		return nil
	}
	if err := syscall.Seteuid(0); err != nil {
		return fmt.Errorf("jail: seteuid 0: %w", err)
	}
	if err := syscall.Setegid(0); err != nil {
		return fmt.Errorf("jail: setegid 0: %w", err)
	}
	return nil
}
