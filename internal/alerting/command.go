package alerting

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandNotifier runs a shell command per event, for desktop notifications
// or site-local hooks. Placeholders in the template are substituted before
// execution.
type CommandNotifier struct {
	Command string // e.g. "notify-send 'contimg' '{{.Message}}'"
}

// Notify implements Notifier.
func (c *CommandNotifier) Notify(ctx context.Context, ev Event) error {
	cmdStr := templateEvent(c.Command, ev)
	cmd := exec.CommandContext(ctx, "sh", "-c", cmdStr)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("alerting: command: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// templateEvent replaces placeholders in the command template with event values.
func templateEvent(command string, ev Event) string {
	r := strings.NewReplacer(
		"{{.GroupKey}}", ev.GroupKey,
		"{{.Type}}", ev.Type,
		"{{.Detail}}", ev.Detail,
		"{{.Message}}", ev.Message(),
	)
	return r.Replace(command)
}
