// Package terminal renders an agent run to a terminal.
//
// A Terminal drives one execution per user message and prints the run as it
// happens: text fragments are written as they stream in, and tool activity
// is shown according to the configured verbosity.
//
// # Usage
//
//	term := terminal.New(os.Stdin, os.Stdout, terminal.VerbosityInfo)
//	err := term.Run(ctx, func(ctx context.Context, msg string) iter.Seq2[agent.Event, error] {
//	    return executor.Execute(ctx, agentID, msg, pipeline.NewChatID(), true)
//	}, initialPrompt)
//
// An initial prompt is processed first. After that the terminal reads one
// message per line until EOF or an exit command (/quit, /exit).
//
// # Verbosity Levels
//
//   - None: No tool execution information is displayed
//   - Info: Tool names are displayed when called
//   - All: Tool names, arguments, and results are displayed
package terminal
