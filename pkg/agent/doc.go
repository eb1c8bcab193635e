// Package agent runs the observe, prompt, parse, dispatch loop that drives a
// vision-capable model against the device.
//
// Invariants:
//
//   - One Run owns one session.State; runs for different session ids proceed
//     concurrently on a shared Runner.
//   - Every run is registered in the session registry for its whole lifetime,
//     so Cancel(sessionID) reaches it at any suspension point.
//   - Cancellation is the only error Run returns; every other ending is a
//     final message.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{...})
//	msg, err := runner.Run(ctx, agent.RunParams{
//		SessionID: "sess-1",
//		Task:      "Open settings and turn on dark mode",
//		MaxSteps:  20,
//	})
package agent
