package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"sandbox-runner-server/models"
)

// beginExecution registers exec under its session, creating an implicit
// session on first use, and returns the session workspace to seed from.
func (m *SandboxManager) beginExecution(exec *execution) *models.Workspace {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	sess, ok := m.sessions[exec.sessionID]
	if !ok {
		sess = &session{id: exec.sessionID, createdAt: now}
		m.sessions[exec.sessionID] = sess
	}
	sess.running++
	sess.lastActive = now
	m.running[exec.id] = exec
	m.metrics.ActiveExecutions.Inc()
	return sess.workspace
}

func (m *SandboxManager) setWorkspace(exec *execution, ws *models.Workspace) {
	m.mu.Lock()
	exec.workspace = ws
	m.mu.Unlock()
}

func (m *SandboxManager) setContainer(exec *execution, containerID string) {
	m.mu.Lock()
	exec.containerID = containerID
	m.mu.Unlock()
}

func (m *SandboxManager) endExecution(exec *execution) {
	m.mu.Lock()
	delete(m.running, exec.id)
	if sess, ok := m.sessions[exec.sessionID]; ok {
		sess.running--
		sess.lastActive = time.Now().UTC()
	}
	m.mu.Unlock()

	m.metrics.ActiveExecutions.Dec()
	close(exec.done)
}

// CreateSession registers a session that owns a workspace for file
// operations. An empty id gets a generated one. A session id already used by
// executions is upgraded in place.
func (m *SandboxManager) CreateSession(ctx context.Context, sessionID string) (*models.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	m.mu.Lock()
	if sess, ok := m.sessions[sessionID]; ok && sess.workspace != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}
	m.mu.Unlock()

	ws, err := m.workspaces.Allocate()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	sess, ok := m.sessions[sessionID]
	switch {
	case !ok:
		sess = &session{id: sessionID, createdAt: now}
		m.sessions[sessionID] = sess
	case sess.workspace != nil:
		// Lost a race with a concurrent create.
		m.workspaces.Release(ws)
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}
	sess.workspace = ws
	sess.lastActive = now

	log.Info().Str("session_id", sessionID).Str("workspace", ws.LocalPath).Msg("session created")
	return sess.descriptor(), nil
}

func (s *session) descriptor() *models.Session {
	d := &models.Session{
		ID:                s.id,
		RunningExecutions: s.running,
		CreatedAt:         s.createdAt,
		LastActiveAt:      s.lastActive,
	}
	if s.workspace != nil {
		d.WorkspaceID = s.workspace.ID
	}
	return d
}

// sessionWorkspace returns the workspace of a created session.
func (m *SandboxManager) sessionWorkspace(sessionID string) (*models.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok || sess.workspace == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	sess.lastActive = time.Now().UTC()
	return sess.workspace, nil
}

// WriteFile stores content in the session workspace. Later executions in the
// session see it under /workspace.
func (m *SandboxManager) WriteFile(ctx context.Context, sessionID, filePath, content string) error {
	if strings.TrimSpace(filePath) == "" {
		return fmt.Errorf("%w: filePath is required", ErrInvalidRequest)
	}
	ws, err := m.sessionWorkspace(sessionID)
	if err != nil {
		return err
	}
	return m.workspaces.WriteFile(ws, filePath, []byte(content))
}

func (m *SandboxManager) ReadFile(ctx context.Context, sessionID, filePath string) (string, error) {
	if strings.TrimSpace(filePath) == "" {
		return "", fmt.Errorf("%w: path is required", ErrInvalidRequest)
	}
	ws, err := m.sessionWorkspace(sessionID)
	if err != nil {
		return "", err
	}
	data, err := m.workspaces.ReadFile(ws, filePath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (m *SandboxManager) ListFiles(ctx context.Context, sessionID, dir string) ([]models.FileEntry, error) {
	ws, err := m.sessionWorkspace(sessionID)
	if err != nil {
		return nil, err
	}
	return m.workspaces.ListFiles(ws, dir)
}

// CleanupSession cancels the session's in-flight executions, waits for their
// teardown and deletes the session workspace. Unknown sessions are reported
// with Found=false.
func (m *SandboxManager) CleanupSession(ctx context.Context, sessionID string) (*models.CleanupResult, error) {
	res := &models.CleanupResult{SessionID: sessionID}

	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return res, nil
	}
	delete(m.sessions, sessionID)
	var inflight []*execution
	for _, exec := range m.running {
		if exec.sessionID == sessionID {
			inflight = append(inflight, exec)
		}
	}
	ws := sess.workspace
	m.mu.Unlock()

	res.Found = true
	for _, exec := range inflight {
		exec.killed.Store(true)
		exec.cancel()
	}
	res.CancelledRunning = len(inflight)
	m.awaitExecutions(ctx, inflight)

	if ws != nil {
		if err := m.workspaces.Release(ws); err != nil {
			m.metrics.CleanupFailures.WithLabelValues("workspace").Inc()
			log.Error().Err(err).Str("session_id", sessionID).Str("workspace", ws.LocalPath).Msg("failed to release session workspace")
		} else {
			res.WorkspaceReleased = true
		}
	}

	log.Info().
		Str("session_id", sessionID).
		Int("cancelled", res.CancelledRunning).
		Msg("session cleaned up")
	return res, nil
}

// KillProcess stops a running execution by its execution id. The container
// is SIGKILLed; the execution's own teardown removes it. Unknown or finished
// ids are reported with Found=false.
func (m *SandboxManager) KillProcess(ctx context.Context, processID string) (*models.KillResult, error) {
	m.mu.Lock()
	exec, ok := m.running[processID]
	var containerID string
	if ok {
		containerID = exec.containerID
	}
	m.mu.Unlock()

	if !ok {
		return &models.KillResult{ProcessID: processID, Found: false, Message: "no running execution with this id"}, nil
	}

	exec.killed.Store(true)
	if containerID != "" {
		if err := m.runtime.Kill(ctx, containerID); err != nil {
			log.Warn().Err(err).Str("execution_id", processID).Str("container_id", containerID).Msg("kill failed")
		}
	}
	// Also covers a container that is created but not started yet.
	exec.cancel()

	log.Info().Str("execution_id", processID).Str("session_id", exec.sessionID).Msg("execution killed")
	return &models.KillResult{ProcessID: processID, Found: true, Message: "killed"}, nil
}

// GetStats returns a snapshot of the manager's counters
func (m *SandboxManager) GetStats() *models.Stats {
	m.mu.Lock()
	sessions := len(m.sessions)
	running := len(m.running)
	m.mu.Unlock()

	return &models.Stats{
		ActiveSessions:    sessions,
		RunningExecutions: running,
		LiveContainers:    m.runtime.Live(),
		TotalExecutions:   m.totalExecutions.Load(),
		CacheHits:         m.cacheHits.Load(),
		CacheMisses:       m.cacheMisses.Load(),
		SafetyViolations:  m.safetyViolations.Load(),
		Timeouts:          m.timeouts.Load(),
		Failures:          m.failures.Load(),
		CacheEnabled:      m.cache.Enabled(),
		StartedAt:         m.startedAt,
		UptimeSeconds:     int64(time.Since(m.startedAt).Seconds()),
	}
}

// Subscribe opens a live output subscription for a session
func (m *SandboxManager) Subscribe(sessionID string) *Subscription {
	return m.relay.Subscribe(sessionID, 0)
}

// ExecutionHistory lists a session's recorded executions, newest first.
// Execution looks up the history record of one finished execution
func (m *SandboxManager) Execution(ctx context.Context, executionID string) (*models.ExecutionRecord, error) {
	if m.history == nil {
		return nil, ErrHistoryDisabled
	}
	return m.history.GetExecution(ctx, executionID)
}

func (m *SandboxManager) ExecutionHistory(ctx context.Context, sessionID string, limit int) ([]models.ExecutionRecord, error) {
	if m.history == nil {
		return nil, ErrHistoryDisabled
	}
	return m.history.ListExecutions(ctx, sessionID, limit)
}

// ExecutionLog returns the archived combined output of an execution.
func (m *SandboxManager) ExecutionLog(ctx context.Context, sessionID, executionID string) ([]byte, error) {
	if m.archive == nil {
		return nil, ErrArchiveDisabled
	}
	return m.archive.GetOutput(ctx, GenerateOutputKey(sessionID, executionID))
}

// Shutdown cancels every in-flight execution, waits for their teardown and
// for pending background writes, bounded by ctx.
func (m *SandboxManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	inflight := make([]*execution, 0, len(m.running))
	for _, exec := range m.running {
		inflight = append(inflight, exec)
	}
	m.mu.Unlock()

	for _, exec := range inflight {
		exec.killed.Store(true)
		exec.cancel()
	}
	m.awaitExecutions(ctx, inflight)

	done := make(chan struct{})
	go func() {
		m.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	var workspaces []*models.Workspace
	for id, sess := range m.sessions {
		if sess.workspace != nil {
			workspaces = append(workspaces, sess.workspace)
		}
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	for _, ws := range workspaces {
		if err := m.workspaces.Release(ws); err != nil {
			log.Error().Err(err).Str("workspace", ws.LocalPath).Msg("failed to release session workspace")
		}
	}
	return nil
}

func (m *SandboxManager) awaitExecutions(ctx context.Context, execs []*execution) {
	for _, exec := range execs {
		select {
		case <-exec.done:
		case <-ctx.Done():
			log.Warn().Str("execution_id", exec.id).Msg("gave up waiting for execution teardown")
			return
		}
	}
}

// IdleSessions returns sessions without running executions whose last
// activity is before cutoff.
func (m *SandboxManager) IdleSessions(cutoff time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, sess := range m.sessions {
		if sess.running == 0 && sess.lastActive.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// OwnedWorkspaces returns the ids of every workspace held by a session or a
// running execution.
func (m *SandboxManager) OwnedWorkspaces() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	owned := make(map[string]bool, len(m.sessions)+len(m.running))
	for _, sess := range m.sessions {
		if sess.workspace != nil {
			owned[sess.workspace.ID] = true
		}
	}
	for _, exec := range m.running {
		if exec.workspace != nil {
			owned[exec.workspace.ID] = true
		}
	}
	return owned
}

// OwnedContainers returns the ids of containers held by running executions
func (m *SandboxManager) OwnedContainers() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	owned := make(map[string]bool, len(m.running))
	for _, exec := range m.running {
		if exec.containerID != "" {
			owned[exec.containerID] = true
		}
	}
	return owned
}

// RunningExecutions is the set of execution ids currently in flight. An id
// is registered before its container is created.
func (m *SandboxManager) RunningExecutions() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make(map[string]bool, len(m.running))
	for id := range m.running {
		ids[id] = true
	}
	return ids
}

// MaxContainerLifetime bounds how long any execution, in this process or
// another one sharing the daemon, keeps its container.
func (m *SandboxManager) MaxContainerLifetime() time.Duration {
	return m.cfg.MaxTimeout + m.cfg.CleanupTimeout
}

// Runtime returns the container runtime the manager drives
func (m *SandboxManager) Runtime() ContainerRuntime { return m.runtime }

// Workspaces returns the manager's workspace store
func (m *SandboxManager) Workspaces() *WorkspaceStore { return m.workspaces }
