package posthook

import "context"

// Hook represents a handler that can be executed when an event occurs.
type Hook interface {
	Execute(ctx context.Context, event Event) error
	Type() string
	ID() string
}

// Config is the configuration for the hook manager.
type Config struct {
	// Timeout for hook execution (default: 30s).
	Timeout string `json:"timeout"`

	// QueueDepth bounds the pending-task backlog before TriggerEvent blocks
	// the caller (backpressure instead of unbounded memory growth).
	QueueDepth int `json:"queue_depth"`

	// StdioFormat enables structured output to stdout/stderr: "json",
	// "env", or "" to disable.
	StdioFormat string `json:"stdio_format"`
}

func DefaultConfig() Config {
	return Config{
		Timeout:     "30s",
		QueueDepth:  256,
		StdioFormat: "",
	}
}
