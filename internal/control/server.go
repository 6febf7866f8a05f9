package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/yegors/handsfree/internal/pipeline"
	"github.com/yegors/handsfree/pkg/logger"
)

// Import logger functions
var (
	String = logger.String
	Int    = logger.Int
	Error  = logger.Error
)

// ErrDaemonRunning means another daemon owns the socket
var ErrDaemonRunning = errors.New("daemon already running")

const (
	eventBuffer = 256
	writeWait   = 5 * time.Second
)

// Server accepts control connections on a Unix socket
type Server struct {
	path   string
	ctrl   Controller
	events Events
	logger *logger.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewServer creates a control server. events may be nil, in which case
// subscribe is refused.
func NewServer(path string, ctrl Controller, events Events, log *logger.Logger) *Server {
	return &Server{
		path:   path,
		ctrl:   ctrl,
		events: events,
		logger: log.Named("control").With(String("socket", path)),
		conns:  make(map[net.Conn]struct{}),
	}
}

// Listen binds the socket. A stale socket left by a crashed daemon is
// removed; a live one yields ErrDaemonRunning.
func (s *Server) Listen() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	if _, err := os.Stat(s.path); err == nil {
		if conn, err := net.DialTimeout("unix", s.path, time.Second); err == nil {
			conn.Close()
			return fmt.Errorf("%w: %s", ErrDaemonRunning, s.path)
		}
		if err := os.Remove(s.path); err != nil {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("failed to listen on control socket: %w", err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("failed to restrict control socket: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Serve accepts connections until ctx is done. Listen must be called first.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("control server not listening")
	}

	s.logger.Info("Control socket listening")

	go func() {
		<-ctx.Done()
		s.shutdown()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.logger.Warn("Failed to accept control connection", Error(err))
			continue
		}

		if !s.track(conn) {
			conn.Close()
			continue
		}
		go s.handle(ctx, conn)
	}
}

// track registers conn for shutdown. It returns false once shutdown has
// started, as the connection would never be closed.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
	}
	for conn := range s.conns {
		conn.Close()
	}
	os.Remove(s.path)
}

// connWriter serialises responses and events on one connection
type connWriter struct {
	mu   sync.Mutex
	conn net.Conn
	enc  *json.Encoder
}

func (w *connWriter) write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.enc.Encode(v)
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()

	w := &connWriter{conn: conn, enc: json.NewEncoder(conn)}
	var unsubscribe func()
	defer func() {
		if unsubscribe != nil {
			unsubscribe()
		}
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)

	for scanner.Scan() {
		var cmd Command
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			if werr := w.write(Response{Error: "invalid command: " + err.Error(), Code: CodeUnknownCommand}); werr != nil {
				return
			}
			continue
		}

		s.logger.Debug("Received control command", String("cmd", cmd.Cmd))

		if cmd.Cmd == CmdSubscribe {
			if s.events == nil {
				if err := w.write(Response{Error: "events unavailable", Code: CodeInternal}); err != nil {
					return
				}
				continue
			}
			if unsubscribe == nil {
				unsubscribe = s.subscribe(w, cmd.Events)
			}
			if err := w.write(Response{OK: true}); err != nil {
				return
			}
			continue
		}

		resp, err := Execute(ctx, s.ctrl, cmd.Cmd)
		if err != nil {
			s.logger.Info("Control command failed", String("cmd", cmd.Cmd), Error(err))
		}
		if err := w.write(resp); err != nil {
			return
		}
	}
}

// subscribe forwards pipeline events to the connection through a bounded
// queue. Events are dropped when the client falls behind.
func (s *Server) subscribe(w *connWriter, filter []string) func() {
	queue := make(chan Event, eventBuffer)
	done := make(chan struct{})

	wants := func(name string) bool {
		return len(filter) == 0 || slices.Contains(filter, name)
	}
	push := func(ev Event) {
		select {
		case <-done:
		case queue <- ev:
		default:
			s.logger.Debug("Subscriber queue full, dropping event", String("event", ev.Event))
		}
	}

	var offs []func()
	if wants(EventTranscript) {
		offs = append(offs, s.events.OnTranscript(func(r pipeline.TranscriptResult) { push(transcriptEvent(r)) }))
	}
	if wants(EventLifecycle) {
		offs = append(offs, s.events.OnLifecycle(func(e pipeline.LifecycleEvent) { push(lifecycleEvent(e)) }))
	}
	if wants(EventError) {
		offs = append(offs, s.events.OnError(func(e pipeline.ErrorEvent) { push(errorEvent(e)) }))
	}
	if wants(EventWarning) {
		offs = append(offs, s.events.OnWarning(func(e pipeline.Warning) { push(warningEvent(e)) }))
	}
	if wants(EventLevel) {
		offs = append(offs, s.events.OnLevel(func(e pipeline.LevelEvent) { push(levelEvent(e)) }))
	}

	go func() {
		for {
			select {
			case <-done:
				return
			case ev := <-queue:
				if err := w.write(ev); err != nil {
					w.conn.Close()
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			for _, off := range offs {
				off()
			}
			close(done)
		})
	}
}
