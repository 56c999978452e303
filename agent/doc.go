// Package agent provides the reasoning loop that every built agent runs.
//
// An Agent pairs a model client with a system prompt and a resolved tool
// set. Each cycle of the loop calls the model with the conversation so far,
// expands the model's turn into stream events, and, when the model asks for
// tools, executes them and feeds the results back as the next user turn.
// The loop ends when the model finishes its turn or MaxCycles is reached.
//
// # Events
//
// RunStreaming yields a closed set of event variants:
//
//   - InitEvent: loop start-up markers (init_event_loop, start, start_event_loop)
//   - StreamEvent: model stream items wrapped as {"event": {...}}
//   - TextEvent: a generated text fragment plus loop state
//   - ToolUseEvent: the tool invocation being streamed plus loop state
//   - MessageEvent: a finalized user or assistant message
//   - ResultEvent: the final stop reason, message and loop metrics
//
// MessageEvent is the only role-bearing variant; it is what the execution
// pipeline persists.
//
// Loop state carries process-local handles (the agent itself, the cycle's
// OpenTelemetry span, the cycle trace). Normalize and NormalizeMap drop those
// handles, render cycle ids as strings and replace anything that cannot be
// JSON encoded with its string form. Normalization is idempotent.
//
// # Usage
//
//	a := agent.New(client, agent.Config{
//	    Name:         "helper",
//	    SystemPrompt: "You are a helpful assistant.",
//	    Tools:        resolved,
//	})
//	defer a.Close()
//
//	for ev, err := range a.RunStreaming(ctx, "what is 2+2?") {
//	    if err != nil {
//	        // terminal failure
//	    }
//	    wire := agent.Normalize(ev)
//	    // ...
//	}
//
// # Subpackages
//
// agent/terminal: renders a run's events to a terminal for the chat command.
package agent
