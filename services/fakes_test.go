package services

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"sandbox-runner-server/models"
)

// runFunc plays the container's process. It returns the exit code; kill is
// closed when the container is killed or removed.
type runFunc func(spec *models.ContainerSpec, stdout, stderr io.Writer, kill <-chan struct{}) int

type fakeContainer struct {
	spec       *models.ContainerSpec
	stdout     io.Writer
	stderr     io.Writer
	attachDone chan error
	exit       chan int
	kill       chan struct{}
	killOnce   sync.Once
	createdAt  time.Time
}

func (c *fakeContainer) stop() { c.killOnce.Do(func() { close(c.kill) }) }

type fakeRuntime struct {
	mu         sync.Mutex
	containers map[string]*fakeContainer
	specs      []*models.ContainerSpec
	removed    []string
	killed     []string
	orphans    []ManagedContainer

	createErr error
	startErr  error
	run       runFunc
}

func newFakeRuntime(run runFunc) *fakeRuntime {
	if run == nil {
		run = func(*models.ContainerSpec, io.Writer, io.Writer, <-chan struct{}) int { return 0 }
	}
	return &fakeRuntime{containers: make(map[string]*fakeContainer), run: run}
}

func (f *fakeRuntime) Create(ctx context.Context, spec *models.ContainerSpec) (*models.ContainerHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := "ctr-" + spec.ExecutionID
	f.containers[id] = &fakeContainer{
		spec:       spec,
		attachDone: make(chan error, 1),
		exit:       make(chan int, 1),
		kill:       make(chan struct{}),
		createdAt:  time.Now().UTC(),
	}
	f.specs = append(f.specs, spec)
	return &models.ContainerHandle{
		ID:          id,
		SessionID:   spec.SessionID,
		ExecutionID: spec.ExecutionID,
		Mount:       spec.Workspace.HostPath,
		NetworkMode: NetworkModeNone,
		State:       models.ContainerCreated,
		CreatedAt:   time.Now(),
	}, nil
}

func (f *fakeRuntime) container(id string) (*fakeContainer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return nil, errors.New("no such container: " + id)
	}
	return c, nil
}

func (f *fakeRuntime) Attach(ctx context.Context, id string, stdout, stderr io.Writer) (<-chan error, error) {
	c, err := f.container(id)
	if err != nil {
		return nil, err
	}
	c.stdout, c.stderr = stdout, stderr
	return c.attachDone, nil
}

func (f *fakeRuntime) Start(ctx context.Context, id string) error {
	if f.startErr != nil {
		return f.startErr
	}
	c, err := f.container(id)
	if err != nil {
		return err
	}
	go func() {
		code := f.run(c.spec, c.stdout, c.stderr, c.kill)
		c.attachDone <- nil
		c.exit <- code
	}()
	return nil
}

func (f *fakeRuntime) Wait(ctx context.Context, id string) (int, error) {
	c, err := f.container(id)
	if err != nil {
		return -1, err
	}
	select {
	case code := <-c.exit:
		return code, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (f *fakeRuntime) Kill(ctx context.Context, id string) error {
	f.mu.Lock()
	c, ok := f.containers[id]
	f.killed = append(f.killed, id)
	f.mu.Unlock()
	if ok {
		c.stop()
	}
	return nil
}

func (f *fakeRuntime) Remove(ctx context.Context, id string) error {
	f.mu.Lock()
	c, ok := f.containers[id]
	delete(f.containers, id)
	f.removed = append(f.removed, id)
	for i, o := range f.orphans {
		if o.ID == id {
			f.orphans = append(f.orphans[:i], f.orphans[i+1:]...)
			break
		}
	}
	f.mu.Unlock()
	if ok {
		c.stop()
	}
	return nil
}

func (f *fakeRuntime) ListManaged(ctx context.Context) ([]ManagedContainer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	managed := append([]ManagedContainer(nil), f.orphans...)
	for id, c := range f.containers {
		managed = append(managed, ManagedContainer{
			ID:          id,
			ExecutionID: c.spec.ExecutionID,
			CreatedAt:   c.createdAt,
		})
	}
	sort.Slice(managed, func(i, j int) bool { return managed[i].ID < managed[j].ID })
	return managed, nil
}

func (f *fakeRuntime) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

func (f *fakeRuntime) Ping(ctx context.Context) error { return nil }
func (f *fakeRuntime) Close() error                   { return nil }

func (f *fakeRuntime) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.specs)
}

func (f *fakeRuntime) lastSpec() *models.ContainerSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.specs) == 0 {
		return nil
	}
	return f.specs[len(f.specs)-1]
}

// fakeCache is an in-memory ResultCache
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]models.ExecutionResult
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]models.ExecutionResult)}
}

func (c *fakeCache) Get(ctx context.Context, key string) (*models.ExecutionResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return &r, true
}

func (c *fakeCache) Set(ctx context.Context, key string, result *models.ExecutionResult, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = *result
	c.sets++
}

func (c *fakeCache) Enabled() bool { return true }

func (c *fakeCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// fakeHistory is an in-memory ExecutionHistory
type fakeHistory struct {
	mu      sync.Mutex
	records []models.ExecutionRecord
}

func (h *fakeHistory) RecordExecution(ctx context.Context, rec *models.ExecutionRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, *rec)
	return nil
}

func (h *fakeHistory) GetExecution(ctx context.Context, id string) (*models.ExecutionRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.records {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, ErrExecutionNotFound
}

func (h *fakeHistory) ListExecutions(ctx context.Context, sessionID string, limit int) ([]models.ExecutionRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []models.ExecutionRecord
	for i := len(h.records) - 1; i >= 0; i-- {
		if h.records[i].SessionID == sessionID {
			out = append(out, h.records[i])
		}
	}
	return out, nil
}

type testEnv struct {
	manager    *SandboxManager
	runtime    *fakeRuntime
	cache      *fakeCache
	workspaces *WorkspaceStore
	relay      *OutputRelay
}

func newTestEnv(t *testing.T, run runFunc, mutate func(*ManagerConfig, *ManagerDeps)) *testEnv {
	t.Helper()

	store, err := NewWorkspaceStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewWorkspaceStore: %v", err)
	}
	gate, err := NewSafetyGate(nil)
	if err != nil {
		t.Fatalf("NewSafetyGate: %v", err)
	}

	env := &testEnv{
		runtime:    newFakeRuntime(run),
		cache:      newFakeCache(),
		workspaces: store,
		relay:      NewOutputRelay(nil, nil),
	}
	cfg := ManagerConfig{
		Images:           map[models.Language]string{models.LanguageShell: "sandbox:test"},
		Limits:           models.ResourceLimits{MemoryBytes: 64 << 20, NanoCPUs: 1e9, PidsLimit: 64},
		DefaultTimeout:   5 * time.Second,
		MaxTimeout:       10 * time.Second,
		CacheTTL:         time.Minute,
		MaxOutputBytes:   1 << 20,
		SafetyCheckShell: true,
		CleanupTimeout:   time.Second,
	}
	deps := ManagerDeps{
		Runtime:    env.runtime,
		Cache:      env.cache,
		Workspaces: store,
		Gate:       gate,
		Relay:      env.relay,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	env.manager = NewSandboxManager(cfg, deps)
	t.Cleanup(func() {
		env.manager.Shutdown(context.Background())
		env.relay.Close()
	})
	return env
}

// echoArgs writes the last argv element followed by a newline, like a
// trivial "echo" program.
func echoArgs(spec *models.ContainerSpec, stdout, stderr io.Writer, kill <-chan struct{}) int {
	io.WriteString(stdout, spec.Argv[len(spec.Argv)-1]+"\n")
	return 0
}

// sleepUntilKilled blocks until the container is killed or removed.
func sleepUntilKilled(spec *models.ContainerSpec, stdout, stderr io.Writer, kill <-chan struct{}) int {
	<-kill
	return 137
}
