package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docker/docker/api/types/mount"

	"sandbox-runner-server/models"
)

func TestBuildContainerConfigIsolation(t *testing.T) {
	spec := &models.ContainerSpec{
		Image:       "sandbox:test",
		Argv:        []string{"/bin/sh", "-c", "echo hi"},
		Workspace:   &models.Workspace{ID: "w1", HostPath: "/srv/ws/w1", LocalPath: "/tmp/ws/w1"},
		Limits:      models.ResourceLimits{MemoryBytes: 256 << 20, NanoCPUs: 5e8, PidsLimit: 32},
		Env:         []string{"HOME=/workspace"},
		Labels:      map[string]string{"team": "qa"},
		SessionID:   "s1",
		ExecutionID: "e1",
	}

	cfg, host := buildContainerConfig(spec)

	if cfg.Image != "sandbox:test" {
		t.Errorf("Image = %q", cfg.Image)
	}
	if len(cfg.Entrypoint) != 3 || cfg.Entrypoint[2] != "echo hi" {
		t.Errorf("Entrypoint = %q, want the argv unchanged", cfg.Entrypoint)
	}
	if len(cfg.Cmd) != 0 {
		t.Errorf("Cmd = %q, want empty", cfg.Cmd)
	}
	if cfg.WorkingDir != ContainerWorkDir {
		t.Errorf("WorkingDir = %q", cfg.WorkingDir)
	}
	if !cfg.NetworkDisabled || string(host.NetworkMode) != NetworkModeNone {
		t.Errorf("network: disabled=%v mode=%q", cfg.NetworkDisabled, host.NetworkMode)
	}

	for k, want := range map[string]string{
		LabelManaged:   "true",
		LabelSession:   "s1",
		LabelExecution: "e1",
		"team":         "qa",
	} {
		if cfg.Labels[k] != want {
			t.Errorf("label %s = %q, want %q", k, cfg.Labels[k], want)
		}
	}

	if len(host.SecurityOpt) != 1 || host.SecurityOpt[0] != "no-new-privileges" {
		t.Errorf("SecurityOpt = %v", host.SecurityOpt)
	}
	if len(host.CapDrop) != 1 || host.CapDrop[0] != "ALL" {
		t.Errorf("CapDrop = %v", host.CapDrop)
	}
	if !host.ReadonlyRootfs {
		t.Error("root filesystem is writable")
	}
	if _, ok := host.Tmpfs["/tmp"]; !ok {
		t.Error("no /tmp tmpfs")
	}

	if len(host.Mounts) != 1 {
		t.Fatalf("Mounts = %+v, want exactly one", host.Mounts)
	}
	m := host.Mounts[0]
	if m.Type != mount.TypeBind || m.Source != "/srv/ws/w1" || m.Target != ContainerWorkDir || m.ReadOnly {
		t.Errorf("mount = %+v", m)
	}

	if host.Memory != 256<<20 || host.MemorySwap != host.Memory {
		t.Errorf("memory = %d swap = %d", host.Memory, host.MemorySwap)
	}
	if host.NanoCPUs != 5e8 {
		t.Errorf("NanoCPUs = %d", host.NanoCPUs)
	}
	if host.PidsLimit == nil || *host.PidsLimit != 32 {
		t.Errorf("PidsLimit = %v", host.PidsLimit)
	}
}

func TestBuildContainerConfigManagedLabelsWin(t *testing.T) {
	spec := &models.ContainerSpec{
		Image:       "sandbox:test",
		Argv:        []string{"true"},
		Workspace:   &models.Workspace{HostPath: "/w"},
		Labels:      map[string]string{LabelManaged: "false"},
		ExecutionID: "e1",
	}
	cfg, host := buildContainerConfig(spec)

	if host.PidsLimit != nil {
		t.Errorf("PidsLimit = %d, want unset", *host.PidsLimit)
	}
	if cfg.Labels[LabelManaged] != "true" {
		t.Errorf("managed label = %q, caller labels must not override it", cfg.Labels[LabelManaged])
	}
}

func TestPullImageSharedAndBoundedByCaller(t *testing.T) {
	release := make(chan struct{})
	var calls sync.Map
	var total atomic.Int32
	d := &DockerRuntime{
		live: make(map[string]*models.ContainerHandle),
		pull: func(ctx context.Context, ref string) error {
			total.Add(1)
			n, _ := calls.LoadOrStore(ref, new(atomic.Int32))
			n.(*atomic.Int32).Add(1)
			if ref == "slow:latest" {
				<-release
			}
			return nil
		},
	}

	// A caller with a short deadline gives up without waiting for the pull.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := d.pullImage(ctx, "slow:latest"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("caller held for %v", elapsed)
	}

	// Another image is not queued behind the slow one.
	if err := d.pullImage(context.Background(), "fast:latest"); err != nil {
		t.Errorf("fast pull: %v", err)
	}

	// Later callers join the pull that is still running.
	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- d.pullImage(context.Background(), "slow:latest")
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("joined pull: %v", err)
		}
	}

	n, _ := calls.Load("slow:latest")
	if got := n.(*atomic.Int32).Load(); got != 1 {
		t.Errorf("slow image pulled %d times, want 1", got)
	}
	if got := total.Load(); got != 2 {
		t.Errorf("total pulls = %d, want 2", got)
	}
}

func TestPullImageFailureIsNotSticky(t *testing.T) {
	var attempts atomic.Int32
	d := &DockerRuntime{
		pull: func(ctx context.Context, ref string) error {
			if attempts.Add(1) == 1 {
				return errors.New("registry unavailable")
			}
			return nil
		},
	}

	if err := d.pullImage(context.Background(), "img:1"); err == nil {
		t.Fatal("first pull succeeded, want the registry error")
	}
	if err := d.pullImage(context.Background(), "img:1"); err != nil {
		t.Errorf("retry after failure: %v", err)
	}
}
