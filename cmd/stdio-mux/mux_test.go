package main

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgsMappings(t *testing.T) {
	cfg, err := parseArgs([]string{
		"-o", "/tmp/run.mux",
		"--close-stdout-when-ready",
		"--mapping", "main:1048576:/tmp/main",
		"--mapping", "checker:4096:/tmp/checker",
		"/run/stdio.sock",
	})
	require.NoError(t, err)
	assert.Equal(t, "/run/stdio.sock", cfg.socketPath)
	assert.Equal(t, "/tmp/run.mux", cfg.output)
	assert.True(t, cfg.closeStdoutWhenReady)
	require.Len(t, cfg.mappings, 2)
	assert.Equal(t, uint64(1048576), cfg.mappings["main"].limit)
	assert.Equal(t, "/tmp/checker", cfg.mappings["checker"].path)
}

func TestParseArgsErrors(t *testing.T) {
	_, err := parseArgs([]string{})
	assert.Error(t, err)

	_, err = parseArgs([]string{"--close-stdout-when-ready", "/run/s.sock"})
	assert.Error(t, err)

	_, err = parseArgs([]string{"--mapping", "main:x:/tmp/main", "/run/s.sock"})
	assert.Error(t, err)

	_, err = parseArgs([]string{"--mapping", "main:10", "/run/s.sock"})
	assert.Error(t, err)
}

func TestWriteMessageFrame(t *testing.T) {
	var b bytes.Buffer
	w := &muxWriter{w: &b}

	ts := time.UnixMicro(0x123456789a)
	require.NoError(t, w.writeMessage(7, ts, []byte("hello\n")))

	frame := b.Bytes()
	require.Len(t, frame, 12+6)
	assert.Equal(t, uint32(7), binary.NativeEndian.Uint32(frame[0:4]))
	combined := binary.NativeEndian.Uint64(frame[4:12])
	assert.Equal(t, uint64(6), combined&0xffff)
	assert.Equal(t, uint64(0x123456789a), combined>>16)
	assert.Equal(t, "hello\n", string(frame[12:]))
}

func TestWriteMessageAnnouncement(t *testing.T) {
	var b bytes.Buffer
	w := &muxWriter{w: &b}
	require.NoError(t, w.writeMessage(1, time.Time{}, []byte("main")))
	combined := binary.NativeEndian.Uint64(b.Bytes()[4:12])
	// announcements carry no timestamp
	assert.Zero(t, combined>>16)
}

func TestWriteMessageTooLarge(t *testing.T) {
	var b bytes.Buffer
	w := &muxWriter{w: &b}
	assert.Error(t, w.writeMessage(1, time.Now(), make([]byte, maxMessage+1)))
}
