package meta

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteStatus(t *testing.T) {
	r := Record{
		TimeUsec:     12000,
		SysTimeUsec:  3000,
		WallTimeUsec: 20000,
		MemoryBytes:  1 << 20,
		Kind:         TerminalStatus,
		Status:       42,
	}
	var b bytes.Buffer
	_, err := r.WriteTo(&b)
	require.NoError(t, err)
	assert.Equal(t, "time:12000\ntime-sys:3000\ntime-wall:20000\nmem:1048576\nstatus:42\n", b.String())
}

func TestWriteSigsys(t *testing.T) {
	r := Record{
		Kind:    TerminalSignal,
		Signal:  "SIGSYS",
		Syscall: "mount",
	}
	var b bytes.Buffer
	_, err := r.WriteTo(&b)
	require.NoError(t, err)
	assert.Equal(t, "time:0\ntime-sys:0\ntime-wall:0\nmem:0\nsignal:SIGSYS\nsyscall:mount\n", b.String())
}

func TestWriteSignalNumber(t *testing.T) {
	r := Record{Kind: TerminalSignalNumber, SignalNumber: 63}
	var b bytes.Buffer
	_, err := r.WriteTo(&b)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(b.String(), "signal_number:63\n"))
}

func TestRoundTrip(t *testing.T) {
	records := []Record{
		{TimeUsec: 1, SysTimeUsec: 2, WallTimeUsec: 3, MemoryBytes: 4, Kind: TerminalStatus, Status: 0},
		{TimeUsec: 500000, SysTimeUsec: 1000, WallTimeUsec: 510000, MemoryBytes: 64 << 20, Kind: TerminalSignal, Signal: "SIGKILL"},
		{Kind: TerminalSignal, Signal: "SIGSYS", Syscall: "mount"},
		{Kind: TerminalSignal, Signal: "SIGSYS", Syscall: "#4095"},
		{Kind: TerminalSignal, Signal: "SIGXCPU"},
		{Kind: TerminalSignal, Signal: "SIGABRT"},
		{Kind: TerminalSignalNumber, SignalNumber: 48},
		{Kind: TerminalNone, WallTimeUsec: 99},
	}
	for _, want := range records {
		var b bytes.Buffer
		_, err := want.WriteTo(&b)
		require.NoError(t, err)
		first := b.String()

		got, err := Parse(strings.NewReader(first))
		require.NoError(t, err, "record %+v", want)
		assert.Equal(t, &want, got)

		// re-serializing yields the same bytes
		var b2 bytes.Buffer
		_, err = got.WriteTo(&b2)
		require.NoError(t, err)
		assert.Equal(t, first, b2.String())
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, in := range []string{
		"",
		"time:1\n",
		"time:1\ntime-sys:2\ntime-wall:3\nmem:x\n",
		"time-sys:1\ntime:2\ntime-wall:3\nmem:4\n",
		"time:1\ntime-sys:2\ntime-wall:3\nmem:4\nbogus:1\n",
		"time:1\ntime-sys:2\ntime-wall:3\nmem:4\nstatus:0\nsignal:SIGKILL\n",
		"time:1\ntime-sys:2\ntime-wall:3\nmem:4\nsignal:SIGSYS\n",
		"time:1\ntime-sys:2\ntime-wall:3\nmem:4\nsignal:SIGKILL\nsyscall:mount\n",
	} {
		_, err := Parse(strings.NewReader(in))
		assert.Error(t, err, "input %q", in)
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 42, (&Record{Kind: TerminalStatus, Status: 42}).ExitCode())
	assert.Equal(t, 31, (&Record{Kind: TerminalSignal, Signal: "SIGSYS"}).ExitCode())
	assert.Equal(t, 24, (&Record{Kind: TerminalSignal, Signal: "SIGXCPU"}).ExitCode())
	assert.Equal(t, 9, (&Record{Kind: TerminalSignal, Signal: "SIGKILL"}).ExitCode())
	assert.Equal(t, 63, (&Record{Kind: TerminalSignalNumber, SignalNumber: 63}).ExitCode())
	assert.Equal(t, 0, (&Record{}).ExitCode())
}

func TestSignalTable(t *testing.T) {
	name, ok := SignalName(31)
	require.True(t, ok)
	assert.Equal(t, "SIGSYS", name)

	n, ok := SignalNumber("SIGXCPU")
	require.True(t, ok)
	assert.Equal(t, 24, n)

	_, ok = SignalName(63)
	assert.False(t, ok)
}
