package gb28181

import (
	"errors"
	"log/slog"
	"net"
	"sync"
)

// Listener accepts GB28181 media TCP connections and spawns one MediaConn
// per accepted connection. Sessions are expected to already be registered
// (by the signaling/INVITE side, keyed by the SSRC negotiated in the SDP
// answer) before their media transport connects. Grounded on
// internal/rtmp/server.Server's Start/acceptLoop/Stop shape, simplified:
// GB28181 media connections need no handshake before MediaConn.Serve.
type Listener struct {
	addr     string
	registry *Registry
	logger   *slog.Logger

	mu      sync.Mutex
	l       net.Listener
	closing bool
	wg      sync.WaitGroup
}

func NewListener(addr string, registry *Registry, logger *slog.Logger) *Listener {
	return &Listener{
		addr:     addr,
		registry: registry,
		logger:   logger.With("component", "gb28181_listener"),
	}
}

// Start begins accepting connections in a background goroutine. Safe to
// call only once.
func (ln *Listener) Start() error {
	ln.mu.Lock()
	if ln.l != nil {
		ln.mu.Unlock()
		return errors.New("gb28181: listener already started")
	}
	l, err := net.Listen("tcp", ln.addr)
	if err != nil {
		ln.mu.Unlock()
		return err
	}
	ln.l = l
	ln.mu.Unlock()

	ln.logger.Info("gb28181 media listener started", "addr", l.Addr().String())
	ln.wg.Add(1)
	go ln.acceptLoop()
	return nil
}

func (ln *Listener) acceptLoop() {
	defer ln.wg.Done()
	for {
		ln.mu.Lock()
		l := ln.l
		closing := ln.closing
		ln.mu.Unlock()
		if l == nil {
			return
		}
		conn, err := l.Accept()
		if err != nil {
			if closing || errors.Is(err, net.ErrClosed) {
				return
			}
			ln.logger.Warn("gb28181 accept error", "error", err)
			return
		}
		go ln.serve(conn)
	}
}

func (ln *Listener) serve(conn net.Conn) {
	mc := NewMediaConn(conn, ln.registry, ln.logger)
	if err := mc.Serve(); err != nil {
		ln.logger.Warn("gb28181 media connection ended", "remote", conn.RemoteAddr(), "error", err)
	}
	conn.Close()
}

// Stop closes the listener and waits for the accept loop to exit. In-flight
// MediaConn goroutines are not force-closed: each will end on its own once
// its underlying connection is dropped by the device.
func (ln *Listener) Stop() error {
	ln.mu.Lock()
	if ln.l == nil {
		ln.mu.Unlock()
		return nil
	}
	ln.closing = true
	l := ln.l
	ln.l = nil
	ln.mu.Unlock()

	err := l.Close()
	ln.wg.Wait()
	return err
}

func (ln *Listener) Addr() net.Addr {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	if ln.l == nil {
		return nil
	}
	return ln.l.Addr()
}
