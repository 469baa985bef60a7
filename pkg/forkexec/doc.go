// Package forkexec runs a subprocess with raw clone(2): optionally inside a
// fresh namespace set with mounts, uid/gid maps and hostname applied, with
// rlimits, a seccomp filter, and ptrace attachment established between clone
// and execve.
//
// unshare cgroup namespace requires kernel >= 4.6
// seccomp user notification requires kernel >= 5.0
// pidfd_open requires kernel >= 5.3
package forkexec
