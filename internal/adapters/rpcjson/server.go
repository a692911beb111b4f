package rpcjson

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const socketIdleTimeout = 5 * time.Minute

// SocketServer serves newline-delimited JSON-RPC on a unix socket. Socket
// callers authenticate per request through the "token" param.
type SocketServer struct {
	dispatcher  *Dispatcher
	listener    net.Listener
	path        string
	idleTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// ListenSocket binds path with owner-only permissions and starts serving.
func ListenSocket(path string, dispatcher *Dispatcher) (*SocketServer, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("rpc socket path is required")
	}
	if err := prepareSocketPath(path); err != nil {
		return nil, err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("restrict %s: %w", path, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &SocketServer{
		dispatcher:  dispatcher,
		listener:    ln,
		path:        path,
		idleTimeout: socketIdleTimeout,
		ctx:         ctx,
		cancel:      cancel,
		conns:       make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// prepareSocketPath creates the parent directory and clears a socket left by
// an earlier run. Any other kind of file is refused.
func prepareSocketPath(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	info, err := os.Lstat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return err
	case info.Mode()&os.ModeSocket == 0:
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	return os.Remove(path)
}

func (s *SocketServer) Path() string { return s.path }

// Close stops accepting, hangs up on every client and waits for in-flight
// calls to return.
func (s *SocketServer) Close() error {
	s.cancel()
	err := s.listener.Close()

	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	_ = os.Remove(s.path)
	return err
}

func (s *SocketServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.dispatcher.log.WithError(err).Warn("rpc socket accept failed")
			}
			return
		}
		if !s.track(conn) {
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.serveConn(conn)
		}()
	}
}

func (s *SocketServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *SocketServer) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *SocketServer) serveConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	dec := json.NewDecoder(bufio.NewReader(conn))
	enc := json.NewEncoder(conn)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		var req Request
		if err := dec.Decode(&req); err != nil {
			if !hungUp(err) {
				_ = enc.Encode(errorResponse(nil, CodeParseError, "parse error"))
			}
			return
		}
		if err := enc.Encode(s.dispatcher.Dispatch(s.ctx, req, nil)); err != nil {
			return
		}
	}
}

func hungUp(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
