package posthook

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// StdioHook writes event data to stdout/stderr in a structured format,
// for operators piping server output into another process instead of
// wiring an HTTP callback. Grounded on the teacher's StdioHook.
type StdioHook struct {
	id     string
	format string // "json" or "env"
	output *os.File
}

func NewStdioHook(id, format string) *StdioHook {
	return &StdioHook{id: id, format: format, output: os.Stderr}
}

func (h *StdioHook) SetOutput(output *os.File) *StdioHook {
	h.output = output
	return h
}

func (h *StdioHook) Execute(ctx context.Context, event Event) error {
	switch h.format {
	case "json":
		return h.outputJSON(event)
	case "env":
		return h.outputEnv(event)
	default:
		return fmt.Errorf("stdio hook %s: unsupported format: %s", h.id, h.format)
	}
}

func (h *StdioHook) Type() string { return "stdio" }
func (h *StdioHook) ID() string   { return h.id }

func (h *StdioHook) outputJSON(event Event) error {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("stdio hook %s: marshal: %w", h.id, err)
	}
	_, err = fmt.Fprintf(h.output, "STREAM_EVENT: %s\n", string(jsonData))
	return err
}

func (h *StdioHook) outputEnv(event Event) error {
	lines := []string{
		"# Stream event: " + string(event.Type),
		fmt.Sprintf("STREAM_EVENT_TYPE=%s", event.Type),
		fmt.Sprintf("STREAM_TIMESTAMP=%d", event.Timestamp),
	}
	if event.ConnID != "" {
		lines = append(lines, "STREAM_CONN_ID="+event.ConnID)
	}
	if event.StreamKey != "" {
		lines = append(lines, "STREAM_KEY="+event.StreamKey)
	}
	for key, value := range event.Data {
		lines = append(lines, fmt.Sprintf("STREAM_%s=%v", strings.ToUpper(key), value))
	}
	lines = append(lines, "")

	for _, line := range lines {
		if _, err := fmt.Fprintln(h.output, line); err != nil {
			return fmt.Errorf("stdio hook %s: write: %w", h.id, err)
		}
	}
	return nil
}
