package container

import (
	"fmt"

	"github.com/vishvananda/netlink"
)

// setupLoopback brings lo up inside the fresh network namespace so programs
// touching 127.0.0.1 get a connection error instead of ENODEV. Nothing
// beyond loopback is ever configured.
func setupLoopback() error {
	lo, err := netlink.LinkByName("lo")
	if err != nil {
		return fmt.Errorf("container: find loopback: %w", err)
	}
	if err := netlink.LinkSetUp(lo); err != nil {
		return fmt.Errorf("container: loopback up: %w", err)
	}
	return nil
}
