// Package ws implements the alert banner stream.
//
// Hub keeps a set of WebSocket clients. Fired alerts are pushed to every
// client as they happen; a full snapshot of the watchlist and recent alerts
// is sent on connect and then every interval.
//
// Message format:
//
//	{"event": "alert",    "data": { /* alerts.Alert */ }}
//	{"event": "snapshot", "data": {"generated_at": ..., "watchlist": [...], "alerts": [...]}}
//
// The upgrader accepts all origins. The endpoint is mounted at /ws/stream.
package ws
