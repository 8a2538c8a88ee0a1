package services

import (
	"context"
	"io"
	"time"

	"sandbox-runner-server/models"
)

// Labels put on every container this service creates
const (
	LabelManaged   = "sandbox.managed"
	LabelSession   = "sandbox.session"
	LabelExecution = "sandbox.execution"

	ContainerWorkDir = "/workspace"
	NetworkModeNone  = "none"
)

// ContainerRuntime creates, drives and removes single-use containers. One
// instance is shared by every execution in the process.
type ContainerRuntime interface {
	// Create builds a stopped container from spec.
	Create(ctx context.Context, spec *models.ContainerSpec) (*models.ContainerHandle, error)
	// Attach streams the container's stdout/stderr into the writers until the
	// container exits or ctx ends. It must be called before Start. The
	// returned channel yields once when the stream is drained.
	Attach(ctx context.Context, containerID string, stdout, stderr io.Writer) (<-chan error, error)
	Start(ctx context.Context, containerID string) error
	// Wait blocks until the container is no longer running and returns its exit code.
	Wait(ctx context.Context, containerID string) (int, error)
	// Kill sends SIGKILL. A missing or stopped container is not an error.
	Kill(ctx context.Context, containerID string) error
	// Remove force-removes the container. A missing container is not an error.
	Remove(ctx context.Context, containerID string) error
	// ListManaged returns every container labelled as ours, including ones
	// from previous runs of the process and from other processes sharing the
	// daemon.
	ListManaged(ctx context.Context) ([]ManagedContainer, error)
	// Live is the number of containers created and not yet removed.
	Live() int
	Ping(ctx context.Context) error
	Close() error
}

// ManagedContainer is a container found by its managed label
type ManagedContainer struct {
	ID          string
	ExecutionID string
	CreatedAt   time.Time
}
