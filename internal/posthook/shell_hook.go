package posthook

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ShellHook runs a local script with the event exposed as environment
// variables (and optionally as JSON on stdin), for operators who want a
// recording/transcoding trigger without standing up an HTTP endpoint.
// Grounded on the teacher's ShellHook.
type ShellHook struct {
	id       string
	command  string
	args     []string
	env      []string
	passJSON bool
	timeout  time.Duration
}

func NewShellHook(id, scriptPath string, timeout time.Duration) *ShellHook {
	return &ShellHook{id: id, command: "/bin/bash", args: []string{scriptPath}, timeout: timeout}
}

func NewShellHookWithCommand(id, command string, args []string, timeout time.Duration) *ShellHook {
	return &ShellHook{id: id, command: command, args: args, timeout: timeout}
}

func (h *ShellHook) SetPassJSON(passJSON bool) *ShellHook {
	h.passJSON = passJSON
	return h
}

func (h *ShellHook) SetEnv(env []string) *ShellHook {
	h.env = env
	return h
}

func (h *ShellHook) Execute(ctx context.Context, event Event) error {
	execCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, h.command, h.args...)
	cmd.Env = append(cmd.Env, h.buildEnvironment(event)...)

	if h.passJSON {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("shell hook %s: stdin pipe: %w", h.id, err)
		}
		go func() {
			defer stdin.Close()
			_ = json.NewEncoder(stdin).Encode(event)
		}()
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("shell hook %s: execution failed: %w", h.id, err)
	}
	return nil
}

func (h *ShellHook) Type() string { return "shell" }
func (h *ShellHook) ID() string   { return h.id }

func (h *ShellHook) buildEnvironment(event Event) []string {
	env := make([]string, 0, len(h.env)+4+len(event.Data))
	env = append(env, h.env...)
	env = append(env, "STREAM_EVENT_TYPE="+string(event.Type))
	env = append(env, fmt.Sprintf("STREAM_TIMESTAMP=%d", event.Timestamp))
	if event.ConnID != "" {
		env = append(env, "STREAM_CONN_ID="+event.ConnID)
	}
	if event.StreamKey != "" {
		env = append(env, "STREAM_KEY="+event.StreamKey)
	}
	for key, value := range event.Data {
		env = append(env, fmt.Sprintf("STREAM_%s=%v", strings.ToUpper(key), value))
	}
	return env
}
