package models

import "time"

// Stream names carried by OutputChunk
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
	StreamExit   = "exit"
)

// OutputChunk is one piece of live output published on the relay
type OutputChunk struct {
	SessionID   string    `json:"sessionId"`
	ExecutionID string    `json:"executionId"`
	Stream      string    `json:"stream"`
	Data        string    `json:"data"`
	Seq         uint64    `json:"seq"`
	Timestamp   time.Time `json:"timestamp"`
}

// Session is the descriptor returned by createSession
type Session struct {
	ID                string    `json:"sessionId"`
	WorkspaceID       string    `json:"workspaceId,omitempty"`
	RunningExecutions int       `json:"runningExecutions"`
	CreatedAt         time.Time `json:"createdAt"`
	LastActiveAt      time.Time `json:"lastActiveAt"`
}

// FileEntry is one item of a session workspace listing
type FileEntry struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	IsDir   bool      `json:"isDir"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// Stats is the introspection snapshot returned by getStats
type Stats struct {
	ActiveSessions    int       `json:"activeSessions"`
	RunningExecutions int       `json:"runningExecutions"`
	LiveContainers    int       `json:"liveContainers"`
	TotalExecutions   int64     `json:"totalExecutions"`
	CacheHits         int64     `json:"cacheHits"`
	CacheMisses       int64     `json:"cacheMisses"`
	SafetyViolations  int64     `json:"safetyViolations"`
	Timeouts          int64     `json:"timeouts"`
	Failures          int64     `json:"failures"`
	CacheEnabled      bool      `json:"cacheEnabled"`
	StartedAt         time.Time `json:"startedAt"`
	UptimeSeconds     int64     `json:"uptimeSeconds"`
}

// KillResult reports the outcome of killProcess
type KillResult struct {
	ProcessID string `json:"processId"`
	Found     bool   `json:"found"`
	Message   string `json:"message,omitempty"`
}

// CleanupResult reports the outcome of a session cleanup
type CleanupResult struct {
	SessionID         string `json:"sessionId"`
	Found             bool   `json:"found"`
	CancelledRunning  int    `json:"cancelledRunning"`
	WorkspaceReleased bool   `json:"workspaceReleased"`
}
