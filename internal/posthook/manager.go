package posthook

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Manager dispatches events to registered hooks.
//
// The teacher's executionPool (internal/rtmp/server/hooks/manager.go)
// spawned one goroutine per hook invocation, bounded only by a semaphore
// on concurrency. That gives no ordering guarantee: two events submitted
// back-to-back by the same caller can have their hook executions complete
// in either order, which breaks a consumer that expects, e.g., a
// publish_start notification to always be observed before the
// publish_stop that followed it. Manager instead runs a single consumer
// goroutine draining one FIFO channel, so tasks submitted by a caller run
// in the order they were submitted (spec.md's Testable Property for the
// async post-hook worker).
type Manager struct {
	mu        sync.RWMutex
	hooks     map[EventType][]Hook
	stdioHook *StdioHook
	logger    *slog.Logger
	config    Config
	timeout   time.Duration

	tasks  chan task
	done   chan struct{}
	closed bool
}

type task struct {
	hook  Hook
	event Event
}

func NewManager(config Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	timeout, err := time.ParseDuration(config.Timeout)
	if err != nil {
		logger.Warn("invalid hook timeout, using default", "timeout", config.Timeout, "error", err)
		timeout = 30 * time.Second
	}
	depth := config.QueueDepth
	if depth <= 0 {
		depth = 256
	}

	m := &Manager{
		hooks:   make(map[EventType][]Hook),
		logger:  logger,
		config:  config,
		timeout: timeout,
		tasks:   make(chan task, depth),
		done:    make(chan struct{}),
	}

	if config.StdioFormat != "" {
		m.EnableStdioOutput(config.StdioFormat)
	}

	go m.run()
	return m
}

// run is the single consumer: it drains tasks strictly in submission
// order, one at a time, so no two hook executions ever race each other.
func (m *Manager) run() {
	defer close(m.done)
	for t := range m.tasks {
		m.execute(t.hook, t.event)
	}
}

func (m *Manager) execute(hook Hook, event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	start := time.Now()
	err := hook.Execute(ctx, event)
	elapsed := time.Since(start)

	if err != nil {
		m.logger.Error("hook execution failed",
			"hook_type", hook.Type(), "hook_id", hook.ID(),
			"event_type", event.Type, "duration_ms", elapsed.Milliseconds(), "error", err)
		return
	}
	m.logger.Debug("hook executed",
		"hook_type", hook.Type(), "hook_id", hook.ID(),
		"event_type", event.Type, "duration_ms", elapsed.Milliseconds())
}

func (m *Manager) RegisterHook(eventType EventType, hook Hook) error {
	if hook == nil {
		return fmt.Errorf("posthook: cannot register nil hook")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[eventType] = append(m.hooks[eventType], hook)
	m.logger.Info("hook registered", "event_type", eventType, "hook_type", hook.Type(), "hook_id", hook.ID())
	return nil
}

func (m *Manager) UnregisterHook(eventType EventType, hookID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	hooks := m.hooks[eventType]
	for i, h := range hooks {
		if h.ID() == hookID {
			m.hooks[eventType] = append(hooks[:i], hooks[i+1:]...)
			m.logger.Info("hook unregistered", "event_type", eventType, "hook_id", hookID)
			return true
		}
	}
	return false
}

// TriggerEvent enqueues every hook registered for event.Type. Submission
// here establishes the order in which Execute calls happen, regardless of
// how many hooks are registered or how long any individual hook takes.
func (m *Manager) TriggerEvent(event Event) {
	m.mu.RLock()
	hooks := make([]Hook, len(m.hooks[event.Type]))
	copy(hooks, m.hooks[event.Type])
	stdio := m.stdioHook
	closed := m.closed
	m.mu.RUnlock()

	if closed {
		return
	}
	if stdio != nil {
		hooks = append(hooks, stdio)
	}
	if len(hooks) == 0 {
		return
	}

	m.logger.Debug("triggering event", "event_type", event.Type, "hook_count", len(hooks), "event", event.String())
	for _, h := range hooks {
		m.tasks <- task{hook: h, event: event}
	}
}

func (m *Manager) EnableStdioOutput(format string) error {
	if format != "json" && format != "env" {
		return fmt.Errorf("posthook: unsupported stdio format: %s", format)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stdioHook = NewStdioHook("stdio", format)
	m.logger.Info("stdio output enabled", "format", format)
	return nil
}

func (m *Manager) DisableStdioOutput() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stdioHook = nil
}

// Close stops accepting new events and waits for the queue to drain.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.tasks)
	<-m.done
	m.logger.Info("posthook manager closed")
	return nil
}
