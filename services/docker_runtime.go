package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog/log"

	"sandbox-runner-server/models"
)

const (
	imagePullTimeout = 10 * time.Minute
	tmpfsOptions     = "rw,noexec,nosuid,size=64m"
)

// DockerRuntime implements ContainerRuntime on the Docker Engine API.
type DockerRuntime struct {
	client *client.Client

	mu    sync.Mutex
	live  map[string]*models.ContainerHandle
	pulls map[string]*imagePull

	// pull downloads one image; replaced in tests.
	pull func(ctx context.Context, ref string) error
}

// imagePull is one in-flight download shared by every caller that needs ref.
type imagePull struct {
	done chan struct{}
	err  error
}

// NewDockerRuntime connects to the daemon at host (or DOCKER_HOST / the
// default socket when empty) and verifies it answers.
func NewDockerRuntime(ctx context.Context, host string) (*DockerRuntime, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	d := &DockerRuntime{
		client: cli,
		live:   make(map[string]*models.ContainerHandle),
		pulls:  make(map[string]*imagePull),
	}
	d.pull = d.dockerPull

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := d.Ping(pingCtx); err != nil {
		cli.Close()
		return nil, err
	}
	return d, nil
}

func (d *DockerRuntime) Create(ctx context.Context, spec *models.ContainerSpec) (*models.ContainerHandle, error) {
	if spec.Workspace == nil {
		return nil, fmt.Errorf("container spec has no workspace")
	}
	cfg, hostCfg := buildContainerConfig(spec)
	name := "sandbox-" + spec.ExecutionID

	resp, err := d.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil && errdefs.IsNotFound(err) {
		if pullErr := d.pullImage(ctx, spec.Image); pullErr != nil {
			return nil, fmt.Errorf("pull image %s: %w", spec.Image, pullErr)
		}
		resp, err = d.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	}
	if err != nil {
		return nil, err
	}

	handle := &models.ContainerHandle{
		ID:             resp.ID,
		SessionID:      spec.SessionID,
		ExecutionID:    spec.ExecutionID,
		ResourceLimits: spec.Limits,
		Mount:          spec.Workspace.HostPath + ":" + spec.WorkingDir,
		NetworkMode:    string(hostCfg.NetworkMode),
		State:          models.ContainerCreated,
		CreatedAt:      time.Now().UTC(),
	}

	d.mu.Lock()
	d.live[resp.ID] = handle
	d.mu.Unlock()

	for _, w := range resp.Warnings {
		log.Warn().Str("container_id", resp.ID).Msg(w)
	}
	return handle, nil
}

func (d *DockerRuntime) Attach(ctx context.Context, containerID string, stdout, stderr io.Writer) (<-chan error, error) {
	hijacked, err := d.client.ContainerAttach(ctx, containerID, container.AttachOptions{
		Stream: true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, err
	}

	// The hijacked connection ignores ctx once established.
	stop := context.AfterFunc(ctx, hijacked.Close)

	done := make(chan error, 1)
	go func() {
		defer stop()
		defer hijacked.Close()
		// Docker multiplexes both streams with 8-byte frame headers.
		_, err := stdcopy.StdCopy(stdout, stderr, hijacked.Reader)
		done <- err
	}()
	return done, nil
}

func (d *DockerRuntime) Start(ctx context.Context, containerID string) error {
	if err := d.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		d.setState(containerID, models.ContainerFailed)
		return err
	}
	d.setState(containerID, models.ContainerRunning)
	return nil
}

func (d *DockerRuntime) Wait(ctx context.Context, containerID string) (int, error) {
	statusCh, errCh := d.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		d.setState(containerID, models.ContainerFailed)
		return -1, err
	case status := <-statusCh:
		d.setState(containerID, models.ContainerExited)
		if status.Error != nil && status.Error.Message != "" {
			return int(status.StatusCode), errors.New(status.Error.Message)
		}
		return int(status.StatusCode), nil
	}
}

func (d *DockerRuntime) Kill(ctx context.Context, containerID string) error {
	err := d.client.ContainerKill(ctx, containerID, "SIGKILL")
	if err == nil || errdefs.IsNotFound(err) || errdefs.IsConflict(err) {
		return nil
	}
	return err
}

func (d *DockerRuntime) Remove(ctx context.Context, containerID string) error {
	err := d.client.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil && !errdefs.IsNotFound(err) {
		return err
	}

	d.mu.Lock()
	delete(d.live, containerID)
	d.mu.Unlock()
	return nil
}

func (d *DockerRuntime) ListManaged(ctx context.Context) ([]ManagedContainer, error) {
	containers, err := d.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelManaged+"=true")),
	})
	if err != nil {
		return nil, err
	}
	managed := make([]ManagedContainer, 0, len(containers))
	for _, c := range containers {
		managed = append(managed, ManagedContainer{
			ID:          c.ID,
			ExecutionID: c.Labels[LabelExecution],
			CreatedAt:   time.Unix(c.Created, 0).UTC(),
		})
	}
	return managed, nil
}

func (d *DockerRuntime) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

func (d *DockerRuntime) Ping(ctx context.Context) error {
	if _, err := d.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unavailable: %w", err)
	}
	return nil
}

func (d *DockerRuntime) Close() error {
	return d.client.Close()
}

func (d *DockerRuntime) setState(containerID, state string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h, ok := d.live[containerID]; ok {
		h.State = state
	}
}

// pullImage waits for ref to be pulled, starting the pull if nobody else
// has. The pull outlives ctx so an impatient caller does not waste the
// download for the next one.
func (d *DockerRuntime) pullImage(ctx context.Context, ref string) error {
	d.mu.Lock()
	if d.pulls == nil {
		d.pulls = make(map[string]*imagePull)
	}
	p, ok := d.pulls[ref]
	if !ok {
		p = &imagePull{done: make(chan struct{})}
		d.pulls[ref] = p
		go d.runPull(ref, p)
	}
	d.mu.Unlock()

	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *DockerRuntime) runPull(ref string, p *imagePull) {
	pullCtx, cancel := context.WithTimeout(context.Background(), imagePullTimeout)
	defer cancel()

	log.Info().Str("image", ref).Msg("pulling sandbox image")
	p.err = d.pull(pullCtx, ref)
	if p.err != nil {
		log.Error().Err(p.err).Str("image", ref).Msg("image pull failed")
	}

	d.mu.Lock()
	delete(d.pulls, ref)
	d.mu.Unlock()
	close(p.done)
}

func (d *DockerRuntime) dockerPull(ctx context.Context, ref string) error {
	reader, err := d.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	// The pull only completes once its progress stream is drained.
	_, err = io.Copy(io.Discard, reader)
	return err
}

// buildContainerConfig is the single place isolation settings are decided.
func buildContainerConfig(spec *models.ContainerSpec) (*container.Config, *container.HostConfig) {
	labels := make(map[string]string, len(spec.Labels)+3)
	for k, v := range spec.Labels {
		labels[k] = v
	}
	// Set last so the reaper can always find our containers.
	labels[LabelManaged] = "true"
	labels[LabelSession] = spec.SessionID
	labels[LabelExecution] = spec.ExecutionID

	workDir := spec.WorkingDir
	if workDir == "" {
		workDir = ContainerWorkDir
	}

	cfg := &container.Config{
		Image:           spec.Image,
		Entrypoint:      spec.Argv,
		WorkingDir:      workDir,
		Env:             spec.Env,
		Labels:          labels,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: true,
	}

	hostCfg := &container.HostConfig{
		NetworkMode:    NetworkModeNone,
		SecurityOpt:    []string{"no-new-privileges"},
		CapDrop:        []string{"ALL"},
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": tmpfsOptions},
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: spec.Workspace.HostPath,
			Target: workDir,
		}},
		Resources: container.Resources{
			Memory:     spec.Limits.MemoryBytes,
			MemorySwap: spec.Limits.MemoryBytes,
			NanoCPUs:   spec.Limits.NanoCPUs,
		},
	}
	if spec.Limits.PidsLimit > 0 {
		pids := spec.Limits.PidsLimit
		hostCfg.Resources.PidsLimit = &pids
	}
	return cfg, hostCfg
}
