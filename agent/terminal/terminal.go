package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/zanbei/agentx/agent"
	"github.com/zanbei/agentx/errors"
)

// Verbosity controls how much tool activity is printed.
type Verbosity string

const (
	VerbosityNone Verbosity = "none"
	VerbosityInfo Verbosity = "info"
	VerbosityAll  Verbosity = "all"
)

// ParseVerbosity maps a flag value to a Verbosity.
func ParseVerbosity(s string) (Verbosity, error) {
	switch v := Verbosity(strings.ToLower(s)); v {
	case VerbosityNone, VerbosityInfo, VerbosityAll:
		return v, nil
	case "":
		return VerbosityInfo, nil
	}
	return "", errors.New("unknown verbosity %q (want none, info or all)", s)
}

// RunFunc starts one execution for a user message.
type RunFunc func(ctx context.Context, userMessage string) iter.Seq2[agent.Event, error]

// Terminal handles the terminal/CLI interaction mode for an agent
type Terminal struct {
	in        io.Reader
	out       io.Writer
	verbosity Verbosity
}

// New creates a new Terminal instance
func New(in io.Reader, out io.Writer, verbosity Verbosity) *Terminal {
	return &Terminal{in: in, out: out, verbosity: verbosity}
}

// Run processes initialPrompt, if any, then reads messages from the input
// until EOF or an exit command. With no input reader only the initial
// prompt is processed.
func (t *Terminal) Run(ctx context.Context, run RunFunc, initialPrompt string) error {
	if initialPrompt != "" {
		if err := t.processTurn(ctx, run, initialPrompt); err != nil {
			return err
		}
	}
	if t.in == nil {
		return nil
	}

	scanner := bufio.NewScanner(t.in)
	for {
		fmt.Fprint(t.out, "You: ")
		if !scanner.Scan() {
			// EOF or read error ends the session
			break
		}

		userInput := strings.TrimSpace(scanner.Text())
		if userInput == "" {
			continue
		}
		if userInput == "/quit" || userInput == "/exit" {
			break
		}

		if err := t.processTurn(ctx, run, userInput); err != nil {
			fmt.Fprintf(t.out, "Error: %v\n", err)
		}
	}
	return scanner.Err()
}

// processTurn renders a single execution
func (t *Terminal) processTurn(ctx context.Context, run RunFunc, userInput string) error {
	streaming := false
	endLine := func() {
		if streaming {
			fmt.Fprintln(t.out)
			streaming = false
		}
	}
	defer endLine()

	for ev, err := range run(ctx, userInput) {
		if err != nil {
			endLine()
			return err
		}
		switch e := ev.(type) {
		case agent.TextEvent:
			if !streaming {
				fmt.Fprint(t.out, "Agent: ")
				streaming = true
			}
			fmt.Fprint(t.out, e.Data)
		case agent.MessageEvent:
			endLine()
			t.renderTools(e)
		}
	}
	return nil
}

func (t *Terminal) renderTools(e agent.MessageEvent) {
	switch t.verbosity {
	case VerbosityInfo:
		for _, tu := range e.Message.ToolUses() {
			fmt.Fprintf(t.out, "Agent calls tool `%s`\n", tu.Name)
		}
	case VerbosityAll:
		for _, tu := range e.Message.ToolUses() {
			fmt.Fprintf(t.out, "Agent calls tool `%s` with args: %v\n", tu.Name, tu.Input)
		}
		for _, r := range e.Message.ToolResults() {
			fmt.Fprintf(t.out, "Tool %s (%s) output: %s\n", r.ToolUseID, r.Status, r.Text())
		}
	}
}
