// Package meta implements the machine-readable result record written by the
// sandbox init process and read back by callers.
//
// The record is a fixed sequence of key:value lines: time, time-sys,
// time-wall and mem (all written once, in that order), followed by exactly
// one terminal block that is either an exit status, a signal (by name, or by
// number when outside the known set), or a SIGSYS denial together with the
// offending syscall. A record without a terminal block marks an
// infrastructure failure.
package meta

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// TerminalKind discriminates the terminal block of a Record.
type TerminalKind int

// Terminal block kinds.
const (
	// TerminalNone marks a truncated record.
	TerminalNone TerminalKind = iota
	// TerminalStatus is a normal exit with a status code.
	TerminalStatus
	// TerminalSignal is a termination by a signal with a known name.
	TerminalSignal
	// TerminalSignalNumber is a termination by a signal outside the known set.
	TerminalSignalNumber
)

// Record is a result record, either built for writing or parsed back.
type Record struct {
	TimeUsec     int64 // user CPU time in microseconds
	SysTimeUsec  int64 // system CPU time in microseconds
	WallTimeUsec int64 // wall clock in microseconds
	MemoryBytes  int64 // peak RSS after accounting adjustments

	Kind         TerminalKind
	Status       int    // valid for TerminalStatus
	Signal       string // valid for TerminalSignal, e.g. "SIGSEGV"
	SignalNumber int    // valid for TerminalSignalNumber
	Syscall      string // set only alongside Signal == "SIGSYS"; "#<nr>" when unknown
}

// WriteTo writes the record in its wire form. A TerminalNone record emits
// the timing block only.
func (r *Record) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "time:%d\ntime-sys:%d\ntime-wall:%d\nmem:%d\n",
		r.TimeUsec, r.SysTimeUsec, r.WallTimeUsec, r.MemoryBytes)
	switch r.Kind {
	case TerminalStatus:
		fmt.Fprintf(&b, "status:%d\n", r.Status)
	case TerminalSignal:
		fmt.Fprintf(&b, "signal:%s\n", r.Signal)
		if r.Signal == SignalSys {
			fmt.Fprintf(&b, "syscall:%s\n", r.Syscall)
		}
	case TerminalSignalNumber:
		fmt.Fprintf(&b, "signal_number:%d\n", r.SignalNumber)
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// ExitCode maps the record to the supervisor exit code: the signal number on
// signal termination (SIGSYS for denials) and the exit status otherwise.
func (r *Record) ExitCode() int {
	switch r.Kind {
	case TerminalStatus:
		return r.Status
	case TerminalSignal:
		n, ok := SignalNumber(r.Signal)
		if !ok {
			return 1
		}
		return n
	case TerminalSignalNumber:
		return r.SignalNumber
	}
	return 0
}

// Parse reads a record back from its wire form. It enforces the fixed key
// order, at most one terminal block, and that syscall only follows
// signal:SIGSYS. A record that ends after the timing block parses as
// TerminalNone.
func Parse(r io.Reader) (*Record, error) {
	rec := &Record{Kind: TerminalNone}
	sc := bufio.NewScanner(r)

	timingKeys := []string{"time", "time-sys", "time-wall", "mem"}
	timingDst := []*int64{&rec.TimeUsec, &rec.SysTimeUsec, &rec.WallTimeUsec, &rec.MemoryBytes}
	for i, key := range timingKeys {
		k, v, err := scanLine(sc)
		if err != nil {
			return nil, err
		}
		if k != key {
			return nil, fmt.Errorf("meta: expected key %q, got %q", key, k)
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("meta: bad %s value %q: %w", key, v, err)
		}
		*timingDst[i] = n
	}

	k, v, err := scanLine(sc)
	if err == io.EOF {
		return rec, nil
	}
	if err != nil {
		return nil, err
	}
	switch k {
	case "status":
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("meta: bad status value %q: %w", v, err)
		}
		rec.Kind = TerminalStatus
		rec.Status = n
	case "signal":
		rec.Kind = TerminalSignal
		rec.Signal = v
		if v == SignalSys {
			sk, sv, err := scanLine(sc)
			if err != nil {
				return nil, fmt.Errorf("meta: signal:SIGSYS without syscall")
			}
			if sk != "syscall" {
				return nil, fmt.Errorf("meta: expected key syscall, got %q", sk)
			}
			rec.Syscall = sv
		}
	case "signal_number":
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("meta: bad signal_number value %q: %w", v, err)
		}
		rec.Kind = TerminalSignalNumber
		rec.SignalNumber = n
	default:
		return nil, fmt.Errorf("meta: unexpected key %q", k)
	}

	if _, _, err := scanLine(sc); err != io.EOF {
		return nil, fmt.Errorf("meta: trailing content after terminal block")
	}
	return rec, nil
}

func scanLine(sc *bufio.Scanner) (key, value string, err error) {
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", "", err
		}
		return "", "", io.EOF
	}
	line := sc.Text()
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", fmt.Errorf("meta: malformed line %q", line)
	}
	return line[:idx], line[idx+1:], nil
}
