// Package live serves an HTTP view of a running recorder.
//
// Routes:
//
//	GET /api/health, /api/version   public
//	GET /api/session, /api/topics   current session and its workers
//	GET /api/events                 SSE: worker and session lifecycle
//	GET /api/logs/stream?since=N&module=M  SSE: buffered then live log lines
//	GET /api/logs/levels            module log levels
//	PUT /api/logs/levels/{module}   change a level at runtime
//	GET /ws/frames?topic=T          WebSocket: JSON header, then binary payload
//	GET /metrics                    Prometheus
//
// The frame feed receives records after the journal accepted them. Each
// client has a small queue; a client that falls behind loses frames, and
// the loss is counted in camlog_live_frames_dropped_total.
package live
