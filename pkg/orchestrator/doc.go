// Package orchestrator turns one chat message into a sequence of agent calls and streams
// typed progress events back to the caller.
//
// A turn moves through classify, context, route, execute and compose. Events are sent on a
// bounded channel in the order steps complete; the channel is closed when the turn ends.
// Fatal failures end the stream with exactly one terminal ErrorEvent and no FinalResponse.
// Cancelling the turn's context stops the pipeline at the next suspension point and closes
// the channel without further events.
//
// Terminal is not part of an ErrorEvent's wire form. Transports mark the end of a turn
// when the channel closes, so clients see the terminal error as the last event before
// the end marker.
package orchestrator
