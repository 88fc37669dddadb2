package protocol

// WebSocket event names pushed from server to client.
const (
	// EventReaction carries one dispatch attempt (sent, removed, rate_limited, error).
	EventReaction = "reaction"
	EventShutdown = "shutdown"
)
