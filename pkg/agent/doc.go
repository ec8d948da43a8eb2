// Package agent runs one named agent against the completion provider.
//
// Invariants:
//   - Every attempt takes a credential from the pool and reports its outcome back.
//   - Transient and rate-limited failures rotate to the next credential up to the attempt
//     ceiling; an auth failure is retried once; unknown failures are not retried.
//   - Cancellation of the caller's context stops retries immediately.
//   - The invoker never emits stream events; callers translate its Output.
//
// Usage:
//
//	inv, _ := agent.NewInvoker(agent.Config{Pool: pool, Factory: factory, Registry: agent.NewRegistry()})
//	out, err := inv.Run(ctx, agent.RunRequest{AgentID: agent.IDSQL, Prompt: "...", Tools: provider})
package agent
