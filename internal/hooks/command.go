package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultCommandTimeout bounds a command hook without its own timeout.
const DefaultCommandTimeout = 10 * time.Second

// Command is a shell command run for an event. The payload is written to
// its stdin as JSON and the event name is exported as COMPASS_EVENT.
type Command struct {
	Command string
	Timeout time.Duration
}

// CommandHandler returns a Handler that runs c through "sh -c".
func CommandHandler(c Command) Handler {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	return func(ctx context.Context, p Payload) error {
		input, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encoding payload: %w", err)
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, "sh", "-c", c.Command)
		cmd.Stdin = bytes.NewReader(input)
		cmd.Env = append(cmd.Environ(), "COMPASS_EVENT="+p.Event)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%q timed out after %s", c.Command, timeout)
			}
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return fmt.Errorf("%q exited %d: %s", c.Command, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
			}
			return fmt.Errorf("running %q: %w", c.Command, err)
		}
		return nil
	}
}

// RegisterCommands adds one CommandHandler per command under event.
func (m *Manager) RegisterCommands(event string, cmds []Command) {
	for i, c := range cmds {
		m.On(event, fmt.Sprintf("command-%d", i), CommandHandler(c))
	}
}
