package server

// RTMP Server Listener
// ---------------------
// A minimal TCP listener + connection manager integrating the handshake +
// control burst + connection lifecycle implemented in the conn package with
// command dispatch and media forwarding. Generalized onto
// internal/livesource.Registry/Source (shared with WHIP/GB28181 ingest) and
// internal/posthook.Manager (shared lifecycle-event dispatch) instead of the
// package-local Registry/hooks.HookManager the teacher originally paired
// with this listener.
//
//   - Listen on configured address (default :1935)
//   - Accept loop spawning a goroutine per connection (via conn.Accept)
//   - Track active connections in a concurrent-safe map
//   - Graceful shutdown: stop accepting, close all connections, wait
//   - Exposed methods for tests: Start, Stop, Addr, ConnectionCount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/brightwing/streamcore/internal/edge"
	"github.com/brightwing/streamcore/internal/livesource"
	"github.com/brightwing/streamcore/internal/logger"
	"github.com/brightwing/streamcore/internal/posthook"
	"github.com/brightwing/streamcore/internal/rtmp/client"
	iconn "github.com/brightwing/streamcore/internal/rtmp/conn"
)

// Config holds server configuration knobs.
type Config struct {
	ListenAddr        string
	ChunkSize         uint32 // defaulted to 4096 but not read; the control burst uses internal/rtmp/conn's fixed chunk size
	WindowAckSize     uint32 // defaulted to 2,500,000 but not read; the control burst uses internal/rtmp/conn's fixed window size
	RecordAll         bool
	RecordDir         string
	LogLevel          string
	RelayDestinations    []string      // RTMP push targets fanned out via internal/edge.Forwarder
	EdgeOrigins          []string      // origin servers pulled from on a local play-miss (internal/edge.Ingester)
	EdgeUpstreamProtocol edge.Protocol // wire format used to pull from EdgeOrigins (default ProtocolRTMP)

	// VhostPolicy gates connect/publish/play on vhost-enabled and referer
	// checks (spec.md §4.6 step 6). Nil imposes no restriction.
	VhostPolicy *VhostPolicy

	// OriginClusterCoworkers, if non-empty, are queried via /api/v1/clusters
	// to redirect a play-miss to whichever coworker holds the publisher
	// (spec.md §4.6 "Redirect behavior (origin cluster)").
	OriginClusterCoworkers []string

	// EdgeTokenTraverse, when true, replays a connecting client's tcUrl as
	// a throwaway connect against EdgeOrigins before accepting the local
	// connect (spec.md §4.6 "Token-traverse edge auth").
	EdgeTokenTraverse bool

	// PublishNormalTimeout/Publish1stPktTimeout bound publisher idle time
	// (spec.md's Publishing-loop idle-kickoff). Zero disables the watchdog.
	PublishNormalTimeout time.Duration
	Publish1stPktTimeout time.Duration

	// Hook configuration (all optional).
	HookScripts     []string // event_type=script_path pairs
	HookWebhooks    []string // event_type=webhook_url pairs
	HookStdioFormat string   // "json", "env", or "" (disabled)
	HookTimeout     string   // timeout duration
	HookQueueDepth  int      // pending-hook backlog before TriggerEvent blocks

	// Registry, Tokens, and Hooks let a caller share the live-source
	// registry, publish-token table, and post-hook manager with other
	// protocol front ends (internal/httplive, internal/webrtcingest,
	// internal/gb28181) wired into the same process, so e.g. a WHIP
	// publish and an RTMP play land on the same Source. Left nil, each
	// is created fresh (the original single-protocol behavior).
	Registry *livesource.Registry
	Tokens   *livesource.PublishTokens
	Hooks    *posthook.Manager
}

// applyDefaults fills zero values with sensible defaults.
func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":1935"
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = 4096
	} // matches control burst constant
	if c.WindowAckSize == 0 {
		c.WindowAckSize = 2_500_000
	} // matches control burst
	if c.RecordDir == "" {
		c.RecordDir = "recordings"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.PublishNormalTimeout == 0 {
		c.PublishNormalTimeout = 5 * time.Second
	}
	if c.Publish1stPktTimeout == 0 {
		c.Publish1stPktTimeout = 20 * time.Second
	}
}

// Server encapsulates listener + active connection tracking.
type Server struct {
	cfg       Config
	l         net.Listener
	log       *slog.Logger
	registry  *livesource.Registry
	tokens    *livesource.PublishTokens
	recorders *recorderRegistry
	hooks     *posthook.Manager
	forwarder *edge.Forwarder // nil if no relay destinations configured
	edge      *edgeManager

	mu          sync.RWMutex
	conns       map[string]*iconn.Connection
	acceptingWg sync.WaitGroup // waits for accept loop exit
	closing     bool
}

// New creates a new, unstarted Server instance.
func New(cfg Config) *Server {
	cfg.applyDefaults()
	log := logger.Logger().With("component", "rtmp_server")

	var forwarder *edge.Forwarder
	if len(cfg.RelayDestinations) > 0 {
		clientFactory := func(url string) (edge.RTMPClient, error) { return client.New(url) }
		forwarder = edge.NewForwarder(log, clientFactory)
		for _, dest := range cfg.RelayDestinations {
			if err := forwarder.AddDestination(dest); err != nil {
				log.Error("failed to register relay destination", "url", dest, "error", err)
			}
		}
	}

	registry := cfg.Registry
	if registry == nil {
		registry = livesource.NewRegistry()
	}
	tokens := cfg.Tokens
	if tokens == nil {
		tokens = livesource.NewPublishTokens()
	}
	hooks := cfg.Hooks
	if hooks == nil {
		hooks = initializeHookManager(cfg, log)
	}

	return &Server{
		cfg:       cfg,
		registry:  registry,
		tokens:    tokens,
		recorders: newRecorderRegistry(cfg.RecordDir),
		hooks:     hooks,
		forwarder: forwarder,
		edge:      newEdgeManager(cfg.EdgeOrigins, cfg.EdgeUpstreamProtocol, registry, log),
		conns:     make(map[string]*iconn.Connection),
		log:       log,
	}
}

// Registry returns the server's live-source registry, for sharing with
// other protocol front ends wired into the same process.
func (s *Server) Registry() *livesource.Registry { return s.registry }

// Tokens returns the server's publish-token table, for sharing with other
// protocol front ends that acquire the same single-publisher-per-stream
// invariant (e.g. internal/webrtcingest's WHIP publish).
func (s *Server) Tokens() *livesource.PublishTokens { return s.tokens }

// Hooks returns the server's post-hook manager, for sharing with other
// protocol front ends that fire the same lifecycle events.
func (s *Server) Hooks() *posthook.Manager { return s.hooks }

// Start begins listening and launches the accept loop. It's safe to call
// only once; repeated calls return an error.
func (s *Server) Start() error {
	if s == nil {
		return errors.New("nil server")
	}
	s.mu.Lock()
	if s.l != nil {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.l = ln
	s.mu.Unlock()

	s.log.Info("RTMP server listening", "addr", ln.Addr().String())
	s.acceptingWg.Add(1)
	go s.acceptLoop()
	return nil
}

// acceptLoop runs until listener close. Each successful accept performs the
// RTMP handshake via conn.Accept which internally sends the control burst.
func (s *Server) acceptLoop() {
	defer s.acceptingWg.Done()
	for {
		s.mu.RLock()
		l := s.l
		s.mu.RUnlock()
		if l == nil {
			return
		}
		raw, err := l.Accept()
		if err != nil {
			s.mu.RLock()
			closing := s.closing
			s.mu.RUnlock()
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if closing || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept error", "error", err)
			return
		}
		// conn.Accept expects a net.Listener; wrap the already-accepted conn.
		single := &singleConnListener{conn: raw}
		c, err := iconn.Accept(single)
		if err != nil { // handshake failure already logged; continue accepting.
			continue
		}
		s.mu.Lock()
		s.conns[c.ID()] = c
		s.mu.Unlock()
		s.log.Info("connection registered", "conn_id", c.ID(), "remote", raw.RemoteAddr().String())

		clientAddr, _ := raw.RemoteAddr().(*net.TCPAddr)
		s.hooks.TriggerEvent(*posthook.NewEvent(posthook.EventConnectionAccept).
			WithConnID(c.ID()).
			WithData("client_ip", addrIP(clientAddr)).
			WithData("client_port", addrPort(clientAddr)))

		cleanup := attachCommandHandling(c, s.registry, s.tokens, s.recorders, s.hooks, s.forwarderConsumer(), s.edge, &s.cfg, s.log)
		c.SetCloseHandler(func() {
			cleanup()
			s.mu.Lock()
			delete(s.conns, c.ID())
			s.mu.Unlock()
			s.hooks.TriggerEvent(*posthook.NewEvent(posthook.EventConnectionClose).WithConnID(c.ID()))
		})
		// Start readLoop after the message/close handlers are attached to
		// avoid a race where the first message arrives before they're set.
		c.Start()
	}
}

// forwarderConsumer returns s.forwarder as a livesource.Consumer, or nil if
// no relay destinations are configured. Returning a nil *edge.Forwarder
// through the interface would make a non-nil-looking Consumer, so this is
// kept as an explicit helper rather than a field access.
func (s *Server) forwarderConsumer() livesource.Consumer {
	if s.forwarder == nil {
		return nil
	}
	return s.forwarder
}

func addrIP(a *net.TCPAddr) string {
	if a == nil {
		return ""
	}
	return a.IP.String()
}

func addrPort(a *net.TCPAddr) int {
	if a == nil {
		return 0
	}
	return a.Port
}

// Stop gracefully shuts down the server: stops accepting new connections,
// closes all active ones, waits for accept loop completion.
func (s *Server) Stop() error {
	if s == nil {
		return errors.New("nil server")
	}
	s.mu.Lock()
	if s.l == nil {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	l := s.l
	s.l = nil
	s.mu.Unlock()
	_ = l.Close()

	s.mu.RLock()
	conns := make([]*iconn.Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()
	for _, c := range conns {
		_ = c.Close()
	}

	s.recorders.CloseAll(s.log)
	s.edge.Stop()

	if s.forwarder != nil {
		if err := s.forwarder.Close(); err != nil {
			s.log.Error("error closing relay forwarder", "error", err)
		}
	}

	if s.hooks != nil {
		if err := s.hooks.Close(); err != nil {
			s.log.Error("error closing hook manager", "error", err)
		}
	}

	s.acceptingWg.Wait()
	s.log.Info("RTMP server stopped")
	return nil
}

// Addr returns the bound listener address (nil if not started).
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.l == nil {
		return nil
	}
	return s.l.Addr()
}

// ConnectionCount returns current number of tracked active connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// singleConnListener is a tiny adapter implementing net.Listener for a single
// pre-accepted net.Conn. It returns the conn once then permanently errors.
type singleConnListener struct{ conn net.Conn }

func (s *singleConnListener) Accept() (net.Conn, error) {
	if s.conn == nil {
		return nil, errors.New("no conn")
	}
	c := s.conn
	s.conn = nil
	return c, nil
}
func (s *singleConnListener) Close() error {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	return nil
}
func (s *singleConnListener) Addr() net.Addr {
	if s.conn != nil {
		return s.conn.LocalAddr()
	}
	return &net.TCPAddr{}
}

// initializeHookManager creates and configures the hook manager from the
// server config, registering any configured shell/webhook hooks.
func initializeHookManager(cfg Config, log *slog.Logger) *posthook.Manager {
	hookCfg := posthook.Config{
		Timeout:     cfg.HookTimeout,
		QueueDepth:  cfg.HookQueueDepth,
		StdioFormat: cfg.HookStdioFormat,
	}
	if hookCfg.Timeout == "" {
		hookCfg.Timeout = "30s"
	}
	if hookCfg.QueueDepth == 0 {
		hookCfg.QueueDepth = 256
	}

	mgr := posthook.NewManager(hookCfg, log)

	if err := registerShellHooks(mgr, cfg.HookScripts, log); err != nil {
		log.Error("failed to register shell hooks", "error", err)
	}
	if err := registerWebhookHooks(mgr, cfg.HookWebhooks, log); err != nil {
		log.Error("failed to register webhook hooks", "error", err)
	}
	return mgr
}

// registerShellHooks parses and registers shell hooks from event_type=script_path pairs.
func registerShellHooks(mgr *posthook.Manager, scripts []string, log *slog.Logger) error {
	for i, script := range scripts {
		parts := strings.SplitN(script, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid shell hook format: %s", script)
		}
		eventType := posthook.EventType(parts[0])
		scriptPath := parts[1]
		hook := posthook.NewShellHook(fmt.Sprintf("shell_%d", i), scriptPath, 30*time.Second)
		if err := mgr.RegisterHook(eventType, hook); err != nil {
			return fmt.Errorf("register shell hook %s: %w", script, err)
		}
		log.Info("registered shell hook", "event_type", eventType, "script_path", scriptPath)
	}
	return nil
}

// registerWebhookHooks parses and registers webhooks from event_type=webhook_url pairs.
func registerWebhookHooks(mgr *posthook.Manager, webhooks []string, log *slog.Logger) error {
	for i, webhook := range webhooks {
		parts := strings.SplitN(webhook, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid webhook hook format: %s", webhook)
		}
		eventType := posthook.EventType(parts[0])
		url := parts[1]
		hook := posthook.NewWebhookHook(fmt.Sprintf("webhook_%d", i), url, 30*time.Second)
		if err := mgr.RegisterHook(eventType, hook); err != nil {
			return fmt.Errorf("register webhook hook %s: %w", webhook, err)
		}
		log.Info("registered webhook hook", "event_type", eventType, "webhook_url", url)
	}
	return nil
}
