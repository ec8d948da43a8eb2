// Package gateway exposes orchestrated turns over HTTP.
//
// Routes:
//   - POST /api/chat/stream     SSE stream of turn events, terminated by "data: [DONE]"
//   - GET  /ws/chat             websocket variant, one turn per inbound message
//   - GET  /api/chats/{chatID}  stored transcript of a chat
//   - GET  /api/admin/keys      credential pool status (admin token)
//   - POST /api/admin/keys/reset
//   - GET  /metrics, /healthz
package gateway
