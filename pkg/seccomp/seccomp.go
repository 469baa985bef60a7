// Package seccomp loads seccomp policy files and compiles them into the BPF
// filter installed on the sandboxed program, and carries the
// user-notification plumbing used to identify denied syscalls.
package seccomp
