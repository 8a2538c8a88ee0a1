package models

import (
	"time"
)

// Language selects how an execution payload is interpreted inside the container
type Language string

const (
	LanguageShell  Language = "shell"
	LanguagePython Language = "python"
	LanguageNode   Language = "node"
)

// Valid reports whether the language is one the sandbox knows how to run
func (l Language) Valid() bool {
	switch l {
	case LanguageShell, LanguagePython, LanguageNode:
		return true
	}
	return false
}

// ExecutionRequest describes one unit of work for the sandbox
type ExecutionRequest struct {
	// Command is the fully-formed invocation as a shell would read it. It
	// becomes /bin/sh -c Command when Argv is empty.
	Command string `json:"command"`
	// Argv is passed to the container as its entrypoint. Interpreter requests
	// carry the payload as a single argument instead of an escaped string.
	// The safety gate inspects it space-joined, and it is the cache key source.
	Argv      []string `json:"argv,omitempty"`
	Language  Language `json:"language"`
	SessionID string   `json:"sessionId"`
	TimeoutMs int      `json:"timeoutMs"`
}

// ExecutionResult is produced once per ExecutionRequest
type ExecutionResult struct {
	Success     bool   `json:"success"`
	ExitCode    int    `json:"exitCode"`
	Stdout      string `json:"stdout"`
	Stderr      string `json:"stderr"`
	TimedOut    bool   `json:"timedOut,omitempty"`
	Killed      bool   `json:"killed,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
	ExecutionID string `json:"executionId,omitempty"`
	DurationMs  int64  `json:"durationMs"`
}

// Workspace is a directory owned by exactly one execution or session
type Workspace struct {
	ID string `json:"id"`
	// HostPath is the bind-mount source as the container engine sees it
	HostPath string `json:"hostPath"`
	// LocalPath is the same directory as this process sees it
	LocalPath string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// ResourceLimits bounds a single container
type ResourceLimits struct {
	MemoryBytes int64 `json:"memoryBytes"`
	NanoCPUs    int64 `json:"nanoCpus"`
	PidsLimit   int64 `json:"pidsLimit"`
}

// ContainerSpec is everything the runtime adapter needs to create a container
type ContainerSpec struct {
	Image       string            `json:"image"`
	Argv        []string          `json:"argv"`
	WorkingDir  string            `json:"workingDir"`
	Workspace   *Workspace        `json:"workspace"`
	Limits      ResourceLimits    `json:"limits"`
	Env         []string          `json:"env,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	SessionID   string            `json:"sessionId"`
	ExecutionID string            `json:"executionId"`
}

// ContainerState constants
const (
	ContainerCreated = "created"
	ContainerRunning = "running"
	ContainerExited  = "exited"
	ContainerFailed  = "failed"
)

// ContainerHandle represents one running or exited container
type ContainerHandle struct {
	ID             string         `json:"id"`
	SessionID      string         `json:"sessionId"`
	ExecutionID    string         `json:"executionId"`
	ResourceLimits ResourceLimits `json:"resourceLimits"`
	Mount          string         `json:"mount"`
	NetworkMode    string         `json:"networkMode"`
	State          string         `json:"state"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// ExecutionRecord is the history row written after a non-cached execution
type ExecutionRecord struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	Language    Language  `json:"language"`
	CommandHash string    `json:"commandHash"`
	ExitCode    int       `json:"exitCode"`
	Success     bool      `json:"success"`
	TimedOut    bool      `json:"timedOut"`
	DurationMs  int64     `json:"durationMs"`
	OutputKey   string    `json:"outputKey,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
