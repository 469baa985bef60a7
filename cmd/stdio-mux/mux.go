package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sys/unix"
)

// maxMessage bounds a single frame payload; SOCK_SEQPACKET preserves the
// sender's write boundaries below this.
const maxMessage = 4096

// mapping routes a connecting program (identified by its comm) to a
// per-stream copy of its output with a byte limit.
type mapping struct {
	comm  string
	limit uint64
	path  string
}

type config struct {
	socketPath           string
	output               string
	closeStdoutWhenReady bool
	mappings             map[string]*mapping
}

func parseArgs(argv []string) (*config, error) {
	fs := pflag.NewFlagSet("stdio-mux", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: stdio-mux [options...] <socket path>\n\n%s", fs.FlagUsages())
	}
	var (
		output     = fs.StringP("output", "o", "", "write the multiplexed output to FILE instead of stdout")
		closeReady = fs.Bool("close-stdout-when-ready", false, "close stdout once the socket accepts connections; requires --output")
		mappings   = fs.StringArray("mapping", nil, "NAME:LIMIT:PATH writes a program's streams to PATH.{out,err} capped at LIMIT bytes")
	)
	if err := fs.Parse(argv); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, fmt.Errorf("stdio-mux: exactly one socket path expected")
	}
	if *closeReady && *output == "" {
		return nil, fmt.Errorf("stdio-mux: --close-stdout-when-ready requires --output")
	}

	cfg := &config{
		socketPath:           fs.Arg(0),
		output:               *output,
		closeStdoutWhenReady: *closeReady,
		mappings:             make(map[string]*mapping),
	}
	for _, s := range *mappings {
		parts := strings.Split(s, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("stdio-mux: mapping %q: expected NAME:LIMIT:PATH", s)
		}
		limit, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("stdio-mux: mapping %q: bad limit: %w", s, err)
		}
		cfg.mappings[parts[0]] = &mapping{comm: parts[0], limit: limit, path: parts[2]}
	}
	return cfg, nil
}

// muxWriter serializes frames from the per-connection goroutines.
//
// Frame layout (12-byte header, packed): a uint32 stream id, then a uint64
// whose low 16 bits hold the payload length and whose upper 48 bits hold a
// microsecond timestamp.
type muxWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (m *muxWriter) writeMessage(streamID uint32, ts time.Time, msg []byte) error {
	if len(msg) > maxMessage {
		return fmt.Errorf("stdio-mux: message of %d bytes exceeds frame limit", len(msg))
	}
	var stamp uint64
	if !ts.IsZero() {
		stamp = uint64(ts.UnixMicro())
	}
	var hdr [12]byte
	binary.NativeEndian.PutUint32(hdr[0:4], streamID)
	binary.NativeEndian.PutUint64(hdr[4:12], stamp<<16|uint64(len(msg)))

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := m.w.Write(msg)
	return err
}

type muxServer struct {
	cfg      *config
	out      *muxWriter
	log      *zap.Logger
	streams  atomic.Uint32
	streamFd sync.Map // comm -> *atomic.Uint32 counting opened redirect fds
}

func serve(cfg *config) error {
	log := newLogger()
	defer log.Sync()

	out := io.Writer(os.Stdout)
	if cfg.output != "" {
		f, err := os.OpenFile(cfg.output, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("stdio-mux: open output: %w", err)
		}
		defer f.Close()
		out = f
	}

	if err := os.Remove(cfg.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("stdio-mux: clean up stale socket: %w", err)
	}
	l, err := net.ListenUnix("unixpacket", &net.UnixAddr{Name: cfg.socketPath, Net: "unixpacket"})
	if err != nil {
		return fmt.Errorf("stdio-mux: listen: %w", err)
	}
	defer os.Remove(cfg.socketPath)

	if cfg.closeStdoutWhenReady {
		os.Stdout.Close()
	}

	srv := &muxServer{cfg: cfg, out: &muxWriter{w: out}, log: log}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, unix.SIGINT, unix.SIGTERM)
	go func() {
		<-stop
		log.Info("stdio-mux: received signal, quitting")
		l.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := l.AcceptUnix()
		if err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv.handle(conn)
		}()
	}
	wg.Wait()
	return nil
}

func (s *muxServer) handle(conn *net.UnixConn) {
	defer conn.Close()

	comm := peerComm(conn)
	streamID := s.streams.Add(1)

	// this side never speaks
	conn.CloseWrite()

	var (
		redirect  *os.File
		hasLimit  bool
		remaining uint64
	)
	if m, ok := s.cfg.mappings[comm]; ok {
		counterAny, _ := s.streamFd.LoadOrStore(comm, new(atomic.Uint32))
		n := counterAny.(*atomic.Uint32).Add(1)
		suffix := ".err"
		if n%2 == 1 {
			suffix = ".out"
		}
		path := m.path + suffix
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			s.log.Error("stdio-mux: open redirect stream", zap.String("path", path), zap.Error(err))
		} else {
			redirect = f
			defer f.Close()
		}
		hasLimit = true
		remaining = m.limit
	} else {
		s.log.Error("stdio-mux: no mapping for program", zap.String("comm", comm))
	}

	// announce the stream: the first frame carries the comm as payload
	if err := s.out.writeMessage(streamID, time.Time{}, []byte(comm)); err != nil {
		s.log.Error("stdio-mux: write announcement", zap.Error(err))
		return
	}

	buf := make([]byte, maxMessage)
	for {
		if hasLimit && remaining == 0 {
			return
		}
		readBuf := buf
		if hasLimit && remaining < uint64(len(readBuf)) {
			readBuf = buf[:remaining]
		}
		n, err := conn.Read(readBuf)
		if n > 0 {
			if werr := s.out.writeMessage(streamID, time.Now(), readBuf[:n]); werr != nil {
				s.log.Error("stdio-mux: write message", zap.Error(werr))
				return
			}
			if redirect != nil {
				if _, werr := redirect.Write(readBuf[:n]); werr != nil {
					s.log.Error("stdio-mux: write redirect", zap.Error(werr))
				}
			}
			if hasLimit {
				remaining -= uint64(n)
				if remaining == 0 {
					s.log.Info("stdio-mux: output limit exceeded", zap.String("comm", comm))
					return
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				s.log.Error("stdio-mux: read", zap.String("comm", comm), zap.Error(err))
			}
			return
		}
	}
}

// peerComm resolves the connecting process's comm via SO_PEERCRED.
func peerComm(conn *net.UnixConn) string {
	raw, err := conn.SyscallConn()
	if err != nil {
		return ""
	}
	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil || credErr != nil {
		return ""
	}
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", cred.Pid))
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(b), "\n\x00")
}

func newLogger() *zap.Logger {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = zapcore.OmitKey
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(os.Stderr), zapcore.InfoLevel)
	return zap.New(core)
}
