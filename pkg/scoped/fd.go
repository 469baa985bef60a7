// Package scoped provides owning handles for raw kernel resources.
//
// Each handle acquires its resource on construction and releases it exactly
// once on Close. Release transfers ownership (for example into a child
// process) and empties the handle so a later Close is a no-op.
package scoped

import "golang.org/x/sys/unix"

const invalidFD = -1

// FD owns a raw kernel file descriptor.
type FD struct {
	fd int
}

// NewFD wraps fd into an owning handle. Negative values produce an empty
// handle.
func NewFD(fd int) *FD {
	if fd < 0 {
		fd = invalidFD
	}
	return &FD{fd: fd}
}

// Valid reports whether the handle still owns a descriptor.
func (f *FD) Valid() bool {
	return f.fd != invalidFD
}

// Get returns the descriptor without transferring ownership.
func (f *FD) Get() int {
	return f.fd
}

// Release returns the raw descriptor and empties the handle.
func (f *FD) Release() int {
	fd := f.fd
	f.fd = invalidFD
	return fd
}

// Close closes the descriptor if it is still owned.
func (f *FD) Close() error {
	if f.fd == invalidFD {
		return nil
	}
	fd := f.fd
	f.fd = invalidFD
	return unix.Close(fd)
}
