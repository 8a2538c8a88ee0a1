package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sandbox-runner-server/models"
)

const (
	// ExitCodeRejected is reported for executions stopped by the safety gate
	ExitCodeRejected = -1
	// ExitCodeTimeout matches coreutils timeout(1)
	ExitCodeTimeout = 124
	// ExitCodeKilled is 128+SIGKILL
	ExitCodeKilled = 137

	defaultCleanupTimeout  = 10 * time.Second
	streamDrainTimeout     = 2 * time.Second
	backgroundWriteTimeout = 5 * time.Second
)

// ManagerConfig holds the sandbox manager's tunables
type ManagerConfig struct {
	Images           map[models.Language]string
	Limits           models.ResourceLimits
	DefaultTimeout   time.Duration
	MaxTimeout       time.Duration
	CacheTTL         time.Duration
	MaxOutputBytes   int
	SafetyCheckShell bool
	// CleanupTimeout bounds container removal after an execution ends.
	CleanupTimeout time.Duration
}

// ManagerDeps are the collaborators injected into the manager. History and
// Archive are optional.
type ManagerDeps struct {
	Runtime    ContainerRuntime
	Cache      ResultCache
	Workspaces *WorkspaceStore
	Gate       *SafetyGate
	Relay      *OutputRelay
	History    ExecutionHistory
	Archive    StorageService
	Metrics    *Metrics
}

// ExecOptions are the caller options of the interpreter request builders
type ExecOptions struct {
	SessionID string
	TimeoutMs int
}

// SandboxManager runs requests in single-use containers: cache lookup, safety
// gate, workspace allocation, container run with live output relay, then a
// single teardown that reclaims the container and the workspace.
type SandboxManager struct {
	cfg        ManagerConfig
	runtime    ContainerRuntime
	cache      ResultCache
	workspaces *WorkspaceStore
	gate       *SafetyGate
	relay      *OutputRelay
	history    ExecutionHistory
	archive    StorageService
	metrics    *Metrics

	mu       sync.Mutex
	sessions map[string]*session
	running  map[string]*execution

	totalExecutions  atomic.Int64
	cacheHits        atomic.Int64
	cacheMisses      atomic.Int64
	safetyViolations atomic.Int64
	timeouts         atomic.Int64
	failures         atomic.Int64
	startedAt        time.Time

	bg sync.WaitGroup
}

type session struct {
	id         string
	workspace  *models.Workspace
	createdAt  time.Time
	lastActive time.Time
	running    int
}

type execution struct {
	id          string
	sessionID   string
	containerID string
	workspace   *models.Workspace
	startedAt   time.Time
	cancel      context.CancelFunc
	killed      atomic.Bool
	done        chan struct{}
}

func NewSandboxManager(cfg ManagerConfig, deps ManagerDeps) *SandboxManager {
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = defaultCleanupTimeout
	}
	if cfg.MaxTimeout < cfg.DefaultTimeout {
		cfg.MaxTimeout = cfg.DefaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = ResultTTL
	}
	if deps.Cache == nil {
		deps.Cache = NewResultCache(nil)
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}
	if deps.Relay == nil {
		deps.Relay = NewOutputRelay(nil, deps.Metrics.RelayDropped.Inc)
	}

	return &SandboxManager{
		cfg:        cfg,
		runtime:    deps.Runtime,
		cache:      deps.Cache,
		workspaces: deps.Workspaces,
		gate:       deps.Gate,
		relay:      deps.Relay,
		history:    deps.History,
		archive:    deps.Archive,
		metrics:    deps.Metrics,
		sessions:   make(map[string]*session),
		running:    make(map[string]*execution),
		startedAt:  time.Now().UTC(),
	}
}

// ExecuteShell runs command with /bin/sh.
func (m *SandboxManager) ExecuteShell(ctx context.Context, command string, opts ExecOptions) (*models.ExecutionResult, error) {
	return m.Execute(ctx, models.ExecutionRequest{
		Command:   command,
		Language:  models.LanguageShell,
		SessionID: opts.SessionID,
		TimeoutMs: opts.TimeoutMs,
	})
}

// ExecutePython runs code with python3 -c. The code travels as one argument;
// Command is only its rendered form for logs and records.
func (m *SandboxManager) ExecutePython(ctx context.Context, code string, opts ExecOptions) (*models.ExecutionResult, error) {
	return m.Execute(ctx, interpreterRequest(models.LanguagePython, "python3", "-c", code, opts))
}

// ExecuteNode runs code with node -e.
func (m *SandboxManager) ExecuteNode(ctx context.Context, code string, opts ExecOptions) (*models.ExecutionResult, error) {
	return m.Execute(ctx, interpreterRequest(models.LanguageNode, "node", "-e", code, opts))
}

func interpreterRequest(lang models.Language, interpreter, flag, code string, opts ExecOptions) models.ExecutionRequest {
	return models.ExecutionRequest{
		Command:   interpreter + " " + flag + " " + shellQuote(code),
		Argv:      []string{interpreter, flag, code},
		Language:  lang,
		SessionID: opts.SessionID,
		TimeoutMs: opts.TimeoutMs,
	}
}

// Execute runs one request to completion. Every call returns either a
// well-formed result, possibly describing a failed run, or an error wrapping
// ErrInvalidRequest, ErrWorkspaceAllocation or ErrContainerLaunch.
func (m *SandboxManager) Execute(ctx context.Context, req models.ExecutionRequest) (*models.ExecutionResult, error) {
	if err := m.prepare(&req); err != nil {
		return nil, err
	}

	key := CacheKey(req.Argv)
	if cached, ok := m.cache.Get(ctx, key); ok {
		m.cacheHits.Add(1)
		m.metrics.CacheRequests.WithLabelValues("hit").Inc()
		m.metrics.Executions.WithLabelValues(string(req.Language), OutcomeCached).Inc()
		log.Debug().Str("session_id", req.SessionID).Str("key", key).Msg("result cache hit")
		return cached, nil
	}
	if m.cache.Enabled() {
		m.cacheMisses.Add(1)
		m.metrics.CacheRequests.WithLabelValues("miss").Inc()
	}

	if req.Language != models.LanguageShell || m.cfg.SafetyCheckShell {
		// The raw argument vector, since Command quotes interpreter payloads.
		if verdict := m.gate.Check(strings.Join(req.Argv, " ")); !verdict.Allowed {
			return m.reject(&req, verdict), nil
		}
	}

	result, err := m.run(ctx, &req)
	if err != nil {
		return nil, err
	}

	if result.Success {
		m.storeResult(key, result)
	}
	return result, nil
}

func (m *SandboxManager) prepare(req *models.ExecutionRequest) error {
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		return fmt.Errorf("%w: sessionId is required", ErrInvalidRequest)
	}
	if req.Language == "" {
		req.Language = models.LanguageShell
	}
	if !req.Language.Valid() {
		return fmt.Errorf("%w: unsupported language %q", ErrInvalidRequest, req.Language)
	}
	if strings.TrimSpace(req.Command) == "" {
		return fmt.Errorf("%w: command is required", ErrInvalidRequest)
	}
	if req.TimeoutMs < 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidRequest)
	}
	if req.TimeoutMs == 0 {
		req.TimeoutMs = int(m.cfg.DefaultTimeout.Milliseconds())
	}
	if max := int(m.cfg.MaxTimeout.Milliseconds()); max > 0 && req.TimeoutMs > max {
		req.TimeoutMs = max
	}
	if len(req.Argv) == 0 {
		req.Argv = []string{"/bin/sh", "-c", req.Command}
	}
	return nil
}

func (m *SandboxManager) reject(req *models.ExecutionRequest, verdict SafetyVerdict) *models.ExecutionResult {
	m.safetyViolations.Add(1)
	m.metrics.SafetyViolations.WithLabelValues(verdict.Rule).Inc()
	m.metrics.Executions.WithLabelValues(string(req.Language), OutcomeRejected).Inc()

	log.Warn().
		Str("session_id", req.SessionID).
		Str("rule", verdict.Rule).
		Str("language", string(req.Language)).
		Msg("execution rejected by safety gate")

	msg := verdict.ViolationMessage()
	m.relay.Publish(models.OutputChunk{SessionID: req.SessionID, Stream: models.StreamStderr, Data: msg})
	m.relay.Publish(models.OutputChunk{SessionID: req.SessionID, Stream: models.StreamExit, Data: strconv.Itoa(ExitCodeRejected)})

	return &models.ExecutionResult{
		Success:  false,
		ExitCode: ExitCodeRejected,
		Stderr:   msg,
	}
}

// run drives the container lifecycle. Whatever step fails, the deferred
// teardown runs exactly once and reclaims what was acquired.
func (m *SandboxManager) run(ctx context.Context, req *models.ExecutionRequest) (*models.ExecutionResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
	exec := &execution{
		id:        uuid.New().String(),
		sessionID: req.SessionID,
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	seed := m.beginExecution(exec)

	var (
		ws     *models.Workspace
		handle *models.ContainerHandle
	)
	defer func() {
		cancel()
		m.teardown(exec, handle, ws)
		m.endExecution(exec)
	}()

	logger := log.With().Str("session_id", req.SessionID).Str("execution_id", exec.id).Logger()

	ws, err := m.workspaces.Allocate()
	if err != nil {
		m.failures.Add(1)
		logger.Error().Err(err).Msg("workspace allocation failed")
		return nil, err
	}
	m.setWorkspace(exec, ws)
	if seed != nil {
		if err := m.workspaces.Seed(ws, seed); err != nil {
			m.failures.Add(1)
			return nil, fmt.Errorf("%w: seed from session: %v", ErrWorkspaceAllocation, err)
		}
	}

	handle, err = m.runtime.Create(runCtx, m.containerSpec(req, exec, ws))
	if err != nil {
		return m.launchFailed(ctx, runCtx, req, exec, logger, "create", err)
	}
	m.setContainer(exec, handle.ID)
	logger = logger.With().Str("container_id", handle.ID).Logger()

	out := newOutputCollector(m.relay, req.SessionID, exec.id, m.cfg.MaxOutputBytes)
	streamDone, err := m.runtime.Attach(runCtx, handle.ID, out.Stdout(), out.Stderr())
	if err != nil {
		return m.launchFailed(ctx, runCtx, req, exec, logger, "attach", err)
	}
	if err := m.runtime.Start(runCtx, handle.ID); err != nil {
		return m.launchFailed(ctx, runCtx, req, exec, logger, "start", err)
	}

	exitCode, waitErr := m.runtime.Wait(runCtx, handle.ID)
	if waitErr == nil {
		select {
		case <-streamDone:
		case <-time.After(streamDrainTimeout):
			logger.Warn().Msg("output stream did not drain after exit")
		}
	}

	stdout, stderr, truncated := out.snapshot()
	result := &models.ExecutionResult{
		ExitCode:    exitCode,
		Stdout:      stdout,
		Stderr:      stderr,
		Truncated:   truncated,
		ExecutionID: exec.id,
		DurationMs:  time.Since(exec.startedAt).Milliseconds(),
	}

	// An exit code that was read is the outcome, even if the deadline passed
	// right after.
	switch {
	case waitErr != nil && timedOut(ctx, runCtx):
		markTimedOut(result, req.TimeoutMs)
	case exec.killed.Load() && (waitErr != nil || exitCode != 0):
		result.Killed = true
		result.ExitCode = ExitCodeKilled
		result.Stderr = appendNotice(result.Stderr, "Execution killed")
	case waitErr != nil && runCtx.Err() != nil:
		result.Killed = true
		result.ExitCode = ExitCodeKilled
		result.Stderr = appendNotice(result.Stderr, "Execution cancelled")
	case waitErr != nil:
		return m.launchFailed(ctx, runCtx, req, exec, logger, "wait", waitErr)
	}
	result.Success = result.ExitCode == 0 && !result.TimedOut && !result.Killed

	m.finish(req, exec, result, logger)
	return result, nil
}

func (m *SandboxManager) containerSpec(req *models.ExecutionRequest, exec *execution, ws *models.Workspace) *models.ContainerSpec {
	image := m.cfg.Images[req.Language]
	if image == "" {
		image = m.cfg.Images[models.LanguageShell]
	}
	return &models.ContainerSpec{
		Image:       image,
		Argv:        req.Argv,
		WorkingDir:  ContainerWorkDir,
		Workspace:   ws,
		Limits:      m.cfg.Limits,
		Env:         []string{"HOME=" + ContainerWorkDir},
		SessionID:   req.SessionID,
		ExecutionID: exec.id,
	}
}

// timedOut reports whether runCtx ended on its own deadline rather than
// because the caller went away.
func timedOut(ctx, runCtx context.Context) bool {
	return errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
}

func markTimedOut(result *models.ExecutionResult, timeoutMs int) {
	result.TimedOut = true
	result.ExitCode = ExitCodeTimeout
	result.Stderr = appendNotice(result.Stderr, fmt.Sprintf("Execution timed out after %dms", timeoutMs))
}

// launchFailed reports a runtime failure. An execution whose deadline passed
// while it was being launched, e.g. during an image pull, is reported as
// timed out, and one killed meanwhile as killed.
func (m *SandboxManager) launchFailed(ctx, runCtx context.Context, req *models.ExecutionRequest, exec *execution, logger zerolog.Logger, step string, err error) (*models.ExecutionResult, error) {
	if timedOut(ctx, runCtx) && !exec.killed.Load() {
		result := &models.ExecutionResult{
			ExecutionID: exec.id,
			DurationMs:  time.Since(exec.startedAt).Milliseconds(),
		}
		markTimedOut(result, req.TimeoutMs)
		logger.Warn().Err(err).Str("step", step).Msg("deadline passed before the container ran")
		m.finish(req, exec, result, logger)
		return result, nil
	}
	if exec.killed.Load() {
		result := &models.ExecutionResult{
			Killed:      true,
			ExitCode:    ExitCodeKilled,
			Stderr:      "Execution killed",
			ExecutionID: exec.id,
			DurationMs:  time.Since(exec.startedAt).Milliseconds(),
		}
		m.finish(req, exec, result, logger)
		return result, nil
	}
	m.failures.Add(1)
	m.metrics.Executions.WithLabelValues(string(req.Language), OutcomeLaunchErr).Inc()
	logger.Error().Err(err).Str("step", step).Msg("container launch failed")
	return nil, fmt.Errorf("%w: %s: %v", ErrContainerLaunch, step, err)
}

// teardown force-removes the container, then deletes the workspace. Both are
// best-effort; failures are logged and never change the result.
func (m *SandboxManager) teardown(exec *execution, handle *models.ContainerHandle, ws *models.Workspace) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CleanupTimeout)
	defer cancel()

	if handle != nil {
		if err := m.runtime.Remove(ctx, handle.ID); err != nil {
			m.metrics.CleanupFailures.WithLabelValues("container").Inc()
			log.Error().Err(err).
				Str("execution_id", exec.id).
				Str("container_id", handle.ID).
				Msg("failed to remove container")
		}
	}
	if ws != nil {
		if err := m.workspaces.Release(ws); err != nil {
			m.metrics.CleanupFailures.WithLabelValues("workspace").Inc()
			log.Error().Err(err).
				Str("execution_id", exec.id).
				Str("workspace", ws.LocalPath).
				Msg("failed to release workspace")
		}
	}
}

func (m *SandboxManager) finish(req *models.ExecutionRequest, exec *execution, result *models.ExecutionResult, logger zerolog.Logger) {
	m.totalExecutions.Add(1)
	outcome := OutcomeSuccess
	switch {
	case result.TimedOut:
		outcome = OutcomeTimeout
		m.timeouts.Add(1)
	case result.Killed:
		outcome = OutcomeKilled
		m.failures.Add(1)
	case !result.Success:
		outcome = OutcomeFailure
		m.failures.Add(1)
	}
	m.metrics.Executions.WithLabelValues(string(req.Language), outcome).Inc()
	m.metrics.ExecutionDuration.WithLabelValues(string(req.Language)).Observe(float64(result.DurationMs) / 1000)

	m.relay.Publish(models.OutputChunk{
		SessionID:   req.SessionID,
		ExecutionID: exec.id,
		Stream:      models.StreamExit,
		Data:        strconv.Itoa(result.ExitCode),
	})

	logger.Info().
		Str("language", string(req.Language)).
		Int("exit_code", result.ExitCode).
		Int64("duration_ms", result.DurationMs).
		Str("outcome", outcome).
		Msg("execution finished")

	if m.history == nil && m.archive == nil {
		return
	}
	rec := &models.ExecutionRecord{
		ID:          exec.id,
		SessionID:   req.SessionID,
		Language:    req.Language,
		CommandHash: CacheKey(req.Argv),
		ExitCode:    result.ExitCode,
		Success:     result.Success,
		TimedOut:    result.TimedOut,
		DurationMs:  result.DurationMs,
		CreatedAt:   exec.startedAt.UTC(),
	}
	combined := combinedOutput(result)
	m.background(func(ctx context.Context) {
		if m.archive != nil {
			key := GenerateOutputKey(req.SessionID, exec.id)
			if err := m.archive.SaveOutput(ctx, key, combined); err != nil {
				log.Warn().Err(err).Str("execution_id", exec.id).Msg("failed to archive output")
			} else {
				rec.OutputKey = key
			}
		}
		if m.history != nil {
			if err := m.history.RecordExecution(ctx, rec); err != nil {
				log.Warn().Err(err).Str("execution_id", exec.id).Msg("failed to record execution")
			}
		}
	})
}

// storeResult writes a copy of result to the cache without holding up the caller.
func (m *SandboxManager) storeResult(key string, result *models.ExecutionResult) {
	stored := *result
	m.background(func(ctx context.Context) {
		m.cache.Set(ctx, key, &stored, m.cfg.CacheTTL)
	})
}

func (m *SandboxManager) background(fn func(ctx context.Context)) {
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundWriteTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func combinedOutput(result *models.ExecutionResult) []byte {
	var b strings.Builder
	b.WriteString("=== stdout ===\n")
	b.WriteString(result.Stdout)
	b.WriteString("\n=== stderr ===\n")
	b.WriteString(result.Stderr)
	fmt.Fprintf(&b, "\n=== exit %d ===\n", result.ExitCode)
	return []byte(b.String())
}

func appendNotice(stderr, notice string) string {
	if stderr != "" && !strings.HasSuffix(stderr, "\n") {
		stderr += "\n"
	}
	return stderr + notice
}

// shellQuote renders s as a single POSIX shell word.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
