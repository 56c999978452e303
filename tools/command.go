package tools

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/zanbei/agentx/definition"
	"github.com/zanbei/agentx/errors"
)

type shellArgs struct {
	Command string `json:"command" jsonschema:"required"`
}

// ShellTool runs allowlisted commands. The build's environment overrides are
// passed to the child process.
type ShellTool struct {
	allowedCommands []string
	env             definition.Env
}

func (t *ShellTool) Name() string { return "shell" }
func (t *ShellTool) Description() string {
	if len(t.allowedCommands) == 0 {
		return "Executes a shell command. No commands are currently allowed. Args: command (string)."
	}

	allowedList := "Allowed command patterns:\n"
	for _, cmd := range t.allowedCommands {
		allowedList += fmt.Sprintf("- %s\n", cmd)
	}

	return fmt.Sprintf("Executes a shell command. Args: command (string).\n%s", allowedList)
}

func (t *ShellTool) InputSchema() map[string]any { return SchemaFor[shellArgs]() }

func (t *ShellTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	a, err := decodeArgs[shellArgs](args)
	if err != nil || a.Command == "" {
		return "", errors.New("missing or invalid 'command' argument")
	}

	if !isCommandAllowed(a.Command, t.allowedCommands) {
		return "", errors.New("command '%s' is not in the list of allowed commands", a.Command)
	}

	parts := strings.Fields(a.Command)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Env = append(os.Environ(), t.envList()...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", errors.Wrapf(err, "command execution failed. Output:\n%s", string(output))
	}

	return fmt.Sprintf("Command executed successfully. Output:\n%s", string(output)), nil
}

func (t *ShellTool) envList() []string {
	keys := make([]string, 0, len(t.env))
	for k := range t.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+t.env[k])
	}
	return out
}
