// Package server hosts the UDP listener loop that feeds raw packets into
// the dispatcher and writes its replies back, plus the metrics endpoint
// that exposes cache and stats snapshots. The read loop is adapted from
// mosdns's pkg/server/udp.go: one shared socket read concurrently
// by a small pool of worker goroutines rather than pkg/server/udp.go's
// goroutine-per-datagram spawn, and stripped of destination-address
// control-message handling (a single-homed listener never needs it) and
// of the dns.Msg unpack/pack step, since the dispatcher works on raw
// bytes end to end.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/swiftdns/swiftdns/internal/dispatcher"
	"github.com/swiftdns/swiftdns/internal/mlog"
	"github.com/swiftdns/swiftdns/internal/pool"
	"github.com/swiftdns/swiftdns/internal/safeclose"
)

// ErrServerClosed is returned by ListenAndServe after Shutdown.
var ErrServerClosed = errors.New("server: closed")

const (
	maxUDPPacket = 4096

	// fallbackWorkers is used when runtime.NumCPU reports nothing useful.
	fallbackWorkers = 4

	// socketBufferSize matches dns_server.cpp's constructor: both the
	// receive and send buffers are sized to 1MiB so a burst of queries
	// doesn't overflow the kernel socket buffer under load.
	socketBufferSize = 1 << 20
)

// Server owns one UDP listener and the worker pool that serves it.
type Server struct {
	Addr       string
	Dispatcher *dispatcher.Dispatcher

	sc     *safeclose.SafeClose
	conn   net.PacketConn
	closed atomic.Bool
}

// New builds a Server bound to addr (not yet listening).
func New(addr string, d *dispatcher.Dispatcher) *Server {
	return &Server{
		Addr:       addr,
		Dispatcher: d,
		sc:         safeclose.New(),
	}
}

// WorkerCount returns runtime.NumCPU(), falling back to fallbackWorkers
// when the runtime can't report a usable core count. Exported so the
// startup banner can log the same figure ListenAndServe acts on.
func WorkerCount() int {
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return fallbackWorkers
}

// ListenAndServe opens the UDP socket and blocks, fanning reads out
// across WorkerCount() worker goroutines that all read the same shared
// socket, until Shutdown is called or a fatal read error occurs.
func (s *Server) ListenAndServe() error {
	conn, err := net.ListenPacket("udp", s.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.Addr, err)
	}
	s.conn = conn
	defer s.sc.Done()
	tuneSocketBuffers(conn)

	workers := WorkerCount()
	mlog.L().Info("udp listener started", zap.String("addr", s.Addr), zap.Int("workers", workers))

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if err := s.readLoop(conn); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	if s.closed.Load() {
		return ErrServerClosed
	}
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return ErrServerClosed
}

// readLoop is one worker's read-handle-repeat cycle over the shared
// socket. It returns nil once the listener has been closed intentionally
// and a non-nil error on any other read failure.
func (s *Server) readLoop(conn net.PacketConn) error {
	for {
		buf := pool.GetBuf(maxUDPPacket)
		n, remoteAddr, err := conn.ReadFrom(buf.Bytes())
		if err != nil {
			buf.Release()
			if s.closed.Load() {
				return nil
			}
			return fmt.Errorf("server: read: %w", err)
		}

		req := make([]byte, n)
		copy(req, buf.Bytes()[:n])
		buf.Release()

		s.handleOne(req, remoteAddr)
	}
}

// tuneSocketBuffers sizes the listening socket's kernel buffers per
// dns_server.cpp's constructor. Not every net.PacketConn implementation
// supports this (only *net.UDPConn does), so failures are logged, not
// fatal.
func tuneSocketBuffers(conn net.PacketConn) {
	type buffered interface {
		SetReadBuffer(bytes int) error
		SetWriteBuffer(bytes int) error
	}
	b, ok := conn.(buffered)
	if !ok {
		return
	}
	if err := b.SetReadBuffer(socketBufferSize); err != nil {
		mlog.L().Warn("failed to set udp read buffer", zap.Error(err))
	}
	if err := b.SetWriteBuffer(socketBufferSize); err != nil {
		mlog.L().Warn("failed to set udp write buffer", zap.Error(err))
	}
}

func (s *Server) handleOne(req []byte, remoteAddr net.Addr) {
	clientIP := clientAddrToNetip(remoteAddr)
	resp := s.Dispatcher.Handle(context.Background(), req, clientIP)
	if resp == nil {
		return
	}
	if _, err := s.conn.WriteTo(resp, remoteAddr); err != nil {
		mlog.L().Warn("failed to write response", zap.Stringer("client", remoteAddr), zap.Error(err))
	}
}

func clientAddrToNetip(addr net.Addr) netip.Addr {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return netip.Addr{}
	}
	ip, ok := netip.AddrFromSlice(udpAddr.IP)
	if !ok {
		return netip.Addr{}
	}
	return ip.Unmap()
}

// Shutdown closes the listener and waits for every worker goroutine to
// drain its in-flight request.
func (s *Server) Shutdown() error {
	s.closed.Store(true)
	if s.conn != nil {
		s.conn.Close()
	}
	s.sc.CloseWait()
	return nil
}
