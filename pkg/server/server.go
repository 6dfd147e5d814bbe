// Package server implements the line-oriented TCP chat server.
package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"linechat/pkg/store"
)

// Server owns the listening socket, the session registry, and the accept
// loop. One goroutine accepts; each accepted connection gets its own session
// goroutine.
type Server struct {
	cfg      Config
	registry *Registry
	store    store.CredentialStore
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc

	// nextID numbers sessions before they authenticate. Process-wide,
	// starts at zero, never reset.
	nextID atomic.Uint64
}

// New creates a new Server instance. The caller retains ownership of the
// store and closes it after Run returns.
func New(cfg Config, st store.CredentialStore) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		registry: NewRegistry(st, cfg.HashPasswords),
		store:    st,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Registry returns the session registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start binds the listener and launches the accept loop and metrics endpoint.
// A bind failure is fatal; nothing is started.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.listener = ln
	slog.Info("server listening", "addr", ln.Addr().String())

	go s.acceptLoop(ln)
	s.startMetricsHTTP()
	s.startPeriodicLog(60 * time.Second)
	return nil
}

// Run starts the server and blocks until a shutdown signal or a console
// "stop" line arrives.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
	case <-watchConsole(os.Stdin):
	case <-s.ctx.Done():
	}

	slog.Info("shutting down...")
	s.Shutdown()
	return nil
}

// Shutdown stops accepting connections and force-closes every live session,
// unblocking their reads. Safe to call more than once.
func (s *Server) Shutdown() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	for _, sess := range s.registry.Sessions() {
		sess.Close()
	}
	slog.Info("shutdown complete")
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				slog.Error("accept failed", "err", err)
				continue
			}
		}

		connectionsTotal.Inc()
		slog.Debug("connection accepted", "remote", conn.RemoteAddr().String())

		sess := NewSession(conn, s.nextID.Add(1)-1, s.registry)
		s.registry.Add(sess)
		go sess.Run()
	}
}

// startPeriodicLog logs an activity summary on an interval until shutdown.
func (s *Server) startPeriodicLog(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				names := s.registry.ActiveNames()
				slog.Info("activity", "active_clients", len(names), "names", strings.Join(names, ","))
			}
		}
	}()
}

// watchConsole echoes console input and closes the returned channel when a
// line containing "stop" arrives.
func watchConsole(r io.Reader) <-chan struct{} {
	stopped := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := scanner.Text()
			fmt.Println(line)
			if strings.Contains(line, "stop") {
				close(stopped)
				return
			}
		}
	}()
	return stopped
}
