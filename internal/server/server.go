// Package server wires together the taskManager's connection acceptor and
// the four per-type hello-frame handlers, supervised alongside the
// dispatcher under one cancellable lifecycle.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"taskmanager/internal/config"
	"taskmanager/internal/dispatcher"
	"taskmanager/internal/logsink"
	"taskmanager/internal/protocol"
	"taskmanager/internal/registry"
)

// maxAcceptedConnections bounds how many connections the listener holds
// open at once. Monitors and parked workers are long-lived, so without a
// ceiling a large fleet could exhaust file descriptors before any of it
// misbehaves.
const maxAcceptedConnections = 8192

// Server accepts connections on the taskManager's listen port and routes
// each to its hello-frame handler.
type Server struct {
	cfg  config.Config
	reg  *registry.Registry
	sink *logsink.Sink
	log  *logrus.Entry

	readyMu sync.Mutex
	addr    string
	ready   chan struct{}
}

// New creates a Server. The Registry and Sink are expected to already be
// constructed by the caller (cmd/taskmanager) from cfg.
func New(cfg config.Config, reg *registry.Registry, sink *logsink.Sink, log *logrus.Entry) *Server {
	return &Server{cfg: cfg, reg: reg, sink: sink, log: log, ready: make(chan struct{})}
}

// Addr returns the bound listen address once Run has started listening,
// or "" beforehand. Tests use WaitReady to avoid racing on this.
func (s *Server) Addr() string {
	s.readyMu.Lock()
	defer s.readyMu.Unlock()
	return s.addr
}

// WaitReady blocks until the listener is bound (Addr is safe to call
// afterward) or ctx is canceled.
func (s *Server) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the listener, the dispatcher, and the accept loop, and blocks
// until ctx is canceled or a fatal error occurs.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.TaskManager.Interface, s.cfg.TaskManager.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	ln = netutil.LimitListener(ln, maxAcceptedConnections)

	s.readyMu.Lock()
	s.addr = ln.Addr().String()
	s.readyMu.Unlock()
	close(s.ready)

	s.log.Infof("TaskManager serving on %s", ln.Addr())
	s.sink.Info(fmt.Sprintf("TaskManager serving on %s", ln.Addr()), "")

	g, gctx := errgroup.WithContext(ctx)

	disp := dispatcher.New(s.reg, s.log.WithField("component", "dispatcher"))
	g.Go(func() error { return disp.Run(gctx) })

	g.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})

	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("accept: %w", err)
			}
			go s.handleConn(gctx, conn)
		}
	})

	return g.Wait()
}

// handleConn reads the single hello frame that opens every connection and
// routes it to the matching handler. A panic in any handler is recovered
// here so one misbehaving connection can never take down the process.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("recovered from panic handling connection from %s: %v", conn.RemoteAddr(), r)
			conn.Close()
		}
	}()

	reader := bufio.NewReader(conn)
	line, err := protocol.ReadLine(reader)
	if err != nil {
		s.log.Debugf("closing connection from %s: failed to read hello frame: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	var ht protocol.HelloType
	if err := json.Unmarshal(line, &ht); err != nil || ht.Type == "" {
		s.log.Debugf("closing connection from %s: malformed or missing hello type", conn.RemoteAddr())
		conn.Close()
		return
	}

	switch ht.Type {
	case protocol.TypeMonitor:
		s.handleMonitor(ctx, conn, reader, line)
	case protocol.TypeWorker:
		s.handleWorker(conn, line)
	case protocol.TypeWorkerQuery:
		s.handleQuery(conn)
	case protocol.TypeTaskRequest:
		s.handleTaskRequest(ctx, conn, reader, line)
	default:
		s.log.Debugf("closing connection from %s: unknown hello type %q", conn.RemoteAddr(), ht.Type)
		conn.Close()
	}
}
