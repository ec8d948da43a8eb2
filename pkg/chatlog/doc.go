// Package chatlog persists chat transcripts as JSONL files, one file per chat.
//
// Invariants:
// - Chat ids are validated and path-safe.
// - Writes for the same chat are serialized.
// - Corrupt lines are skipped on load, never fatal.
//
// Usage:
//
//	log, _ := chatlog.New("/tmp/insightx/transcripts")
//	_ = log.Append(ctx, "chat-1", chatlog.Message{Role: "user", Content: "hello"})
//	history, _ := log.Load(ctx, "chat-1")
package chatlog
