// Package tcpserver exposes a line-oriented TCP endpoint for operators and
// health probes.
//
// Commands are case-insensitive, one per line:
//
//	PING       replies PONG
//	STATUS     replies OK followed by the active target description
//	PREFERRED  replies ON or OFF
//	QUIT       replies BYE and closes the session
package tcpserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/maloquacious/stockroom/internal/logger"
)

// IdleTimeout closes sessions that send nothing for this long.
const IdleTimeout = 5 * time.Minute

// Status is what the server reports about the database manager.
type Status interface {
	ActiveTargetDescription() string
	IsUsingPreferredExternalTarget() bool
}

// Server implements lifecycle.Service.
type Server struct {
	addr   string
	status Status
	log    logger.Logger

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// New creates a server that listens on addr once started.
func New(addr string, status Status, log logger.Logger) *Server {
	return &Server{addr: addr, status: status, log: logger.OrDefault(log)}
}

func (s *Server) Name() string { return "tcp" }

// Start binds the listener and accepts sessions in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return errors.New("tcp server already started")
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("tcp listener bind failed: %w", err)
	}
	s.ln = ln
	s.conns = map[net.Conn]struct{}{}

	s.wg.Add(1)
	go s.accept(ln)
	s.log.Info("tcp server listening on %s", ln.Addr())
	return nil
}

// Stop closes the listener and every open session, then waits for the
// session goroutines or for ctx to end.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.ln = nil
	if ln == nil {
		s.mu.Unlock()
		return nil
	}
	_ = ln.Close()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

func (s *Server) accept(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Error("tcp accept: %v", err)
			}
			return
		}
		s.mu.Lock()
		if s.ln == nil {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	s.log.Debug("tcp session from %s", conn.RemoteAddr())
	scanner := bufio.NewScanner(conn)
	w := bufio.NewWriter(conn)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(IdleTimeout))
		if !scanner.Scan() {
			return
		}
		reply, closeAfter := s.reply(scanner.Text())
		if reply == "" {
			continue
		}
		if _, err := w.WriteString(reply + "\n"); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
		if closeAfter {
			return
		}
	}
}

// reply maps one request line to its response. Blank lines get no reply.
func (s *Server) reply(line string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(line)) {
	case "":
		return "", false
	case "PING":
		return "PONG", false
	case "STATUS":
		return "OK " + s.status.ActiveTargetDescription(), false
	case "PREFERRED":
		if s.status.IsUsingPreferredExternalTarget() {
			return "ON", false
		}
		return "OFF", false
	case "QUIT":
		return "BYE", true
	default:
		return "ERR unknown command", false
	}
}
