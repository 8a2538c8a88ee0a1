package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"sandbox-runner-server/middleware"
	"sandbox-runner-server/models"
	"sandbox-runner-server/services"
)

// Sandbox is the part of services.SandboxManager the REST layer drives
type Sandbox interface {
	ExecuteShell(ctx context.Context, command string, opts services.ExecOptions) (*models.ExecutionResult, error)
	ExecutePython(ctx context.Context, code string, opts services.ExecOptions) (*models.ExecutionResult, error)
	ExecuteNode(ctx context.Context, code string, opts services.ExecOptions) (*models.ExecutionResult, error)
	CreateSession(ctx context.Context, sessionID string) (*models.Session, error)
	CleanupSession(ctx context.Context, sessionID string) (*models.CleanupResult, error)
	WriteFile(ctx context.Context, sessionID, filePath, content string) error
	ReadFile(ctx context.Context, sessionID, filePath string) (string, error)
	ListFiles(ctx context.Context, sessionID, dir string) ([]models.FileEntry, error)
	KillProcess(ctx context.Context, processID string) (*models.KillResult, error)
	GetStats() *models.Stats
	Execution(ctx context.Context, executionID string) (*models.ExecutionRecord, error)
	ExecutionHistory(ctx context.Context, sessionID string, limit int) ([]models.ExecutionRecord, error)
	ExecutionLog(ctx context.Context, sessionID, executionID string) ([]byte, error)
	Subscribe(sessionID string) *services.Subscription
}

type SandboxHandler struct {
	sandbox Sandbox
}

func NewSandboxHandler(sandbox Sandbox) *SandboxHandler {
	return &SandboxHandler{sandbox: sandbox}
}

// ExecuteShell godoc
// @Summary Execute a shell command
// @Description Run a command with /bin/sh in a fresh, network-less container
// @Tags execute
// @Accept json
// @Produce json
// @Param request body models.ExecuteShellRequest true "Command to run"
// @Success 200 {object} models.ExecutionResult
// @Failure 400 {object} models.ErrorResponse
// @Failure 429 {object} models.ErrorResponse
// @Failure 502 {object} models.ErrorResponse
// @Router /execute [post]
func (h *SandboxHandler) ExecuteShell(c *fiber.Ctx) error {
	var req models.ExecuteShellRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Command == "" {
		return badRequest(c, "command is required")
	}
	if req.SessionID == "" {
		return badRequest(c, "sessionId is required")
	}

	result, err := h.sandbox.ExecuteShell(middleware.GetXRayContext(c), req.Command, services.ExecOptions{
		SessionID: req.SessionID,
		TimeoutMs: req.Timeout,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(result)
}

// ExecutePython godoc
// @Summary Execute Python code
// @Description Run code with python3 -c in a fresh, network-less container
// @Tags execute
// @Accept json
// @Produce json
// @Param request body models.ExecuteCodeRequest true "Code to run"
// @Success 200 {object} models.ExecutionResult
// @Failure 400 {object} models.ErrorResponse
// @Failure 429 {object} models.ErrorResponse
// @Failure 502 {object} models.ErrorResponse
// @Router /execute/python [post]
func (h *SandboxHandler) ExecutePython(c *fiber.Ctx) error {
	return h.executeCode(c, h.sandbox.ExecutePython)
}

// ExecuteNode godoc
// @Summary Execute JavaScript code
// @Description Run code with node -e in a fresh, network-less container
// @Tags execute
// @Accept json
// @Produce json
// @Param request body models.ExecuteCodeRequest true "Code to run"
// @Success 200 {object} models.ExecutionResult
// @Failure 400 {object} models.ErrorResponse
// @Failure 429 {object} models.ErrorResponse
// @Failure 502 {object} models.ErrorResponse
// @Router /execute/node [post]
func (h *SandboxHandler) ExecuteNode(c *fiber.Ctx) error {
	return h.executeCode(c, h.sandbox.ExecuteNode)
}

type codeRunner func(ctx context.Context, code string, opts services.ExecOptions) (*models.ExecutionResult, error)

func (h *SandboxHandler) executeCode(c *fiber.Ctx, run codeRunner) error {
	var req models.ExecuteCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Code == "" {
		return badRequest(c, "code is required")
	}
	if req.SessionID == "" {
		return badRequest(c, "sessionId is required")
	}

	result, err := run(middleware.GetXRayContext(c), req.Code, services.ExecOptions{
		SessionID: req.SessionID,
		TimeoutMs: req.Timeout,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(result)
}

// CreateSession godoc
// @Summary Create a session
// @Description Create a session with its own file workspace. An empty sessionId gets a generated one.
// @Tags sessions
// @Accept json
// @Produce json
// @Param request body models.CreateSessionRequest false "Session to create"
// @Success 201 {object} models.Session
// @Failure 409 {object} models.ErrorResponse
// @Router /sessions [post]
func (h *SandboxHandler) CreateSession(c *fiber.Ctx) error {
	var req models.CreateSessionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
	}

	sess, err := h.sandbox.CreateSession(c.UserContext(), req.SessionID)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(sess)
}

// CleanupSession godoc
// @Summary Clean up a session
// @Description Cancel the session's running executions and delete its workspace
// @Tags sessions
// @Produce json
// @Param sessionId path string true "Session ID"
// @Success 200 {object} models.CleanupResult
// @Router /sessions/{sessionId} [delete]
func (h *SandboxHandler) CleanupSession(c *fiber.Ctx) error {
	res, err := h.sandbox.CleanupSession(c.UserContext(), c.Params("sessionId"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(res)
}

// WriteFile godoc
// @Summary Write a session file
// @Tags files
// @Accept json
// @Produce json
// @Param sessionId path string true "Session ID"
// @Param request body models.WriteFileRequest true "File to write"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /sessions/{sessionId}/files [post]
func (h *SandboxHandler) WriteFile(c *fiber.Ctx) error {
	var req models.WriteFileRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.FilePath == "" {
		return badRequest(c, "filePath is required")
	}

	sessionID := c.Params("sessionId")
	if err := h.sandbox.WriteFile(c.UserContext(), sessionID, req.FilePath, req.Content); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"success":   true,
		"sessionId": sessionID,
		"filePath":  req.FilePath,
		"size":      len(req.Content),
	})
}

// ReadFile godoc
// @Summary Read a session file
// @Tags files
// @Produce json
// @Param sessionId path string true "Session ID"
// @Param path query string true "File path relative to the workspace"
// @Success 200 {object} models.FileContentResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /sessions/{sessionId}/files/content [get]
func (h *SandboxHandler) ReadFile(c *fiber.Ctx) error {
	path := c.Query("path")
	if path == "" {
		return badRequest(c, "path is required")
	}

	sessionID := c.Params("sessionId")
	content, err := h.sandbox.ReadFile(c.UserContext(), sessionID, path)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(models.FileContentResponse{
		SessionID: sessionID,
		FilePath:  path,
		Content:   content,
	})
}

// ListFiles godoc
// @Summary List session files
// @Tags files
// @Produce json
// @Param sessionId path string true "Session ID"
// @Param dir query string false "Directory relative to the workspace"
// @Success 200 {array} models.FileEntry
// @Failure 404 {object} models.ErrorResponse
// @Router /sessions/{sessionId}/files [get]
func (h *SandboxHandler) ListFiles(c *fiber.Ctx) error {
	files, err := h.sandbox.ListFiles(c.UserContext(), c.Params("sessionId"), c.Query("dir"))
	if err != nil {
		return writeError(c, err)
	}
	if files == nil {
		files = []models.FileEntry{}
	}
	return c.JSON(files)
}

// KillProcess godoc
// @Summary Kill a running execution
// @Tags processes
// @Produce json
// @Param processId path string true "Execution ID"
// @Success 200 {object} models.KillResult
// @Router /processes/{processId}/kill [post]
func (h *SandboxHandler) KillProcess(c *fiber.Ctx) error {
	res, err := h.sandbox.KillProcess(c.UserContext(), c.Params("processId"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(res)
}

// GetStats godoc
// @Summary Service statistics
// @Tags stats
// @Produce json
// @Success 200 {object} models.Stats
// @Router /stats [get]
func (h *SandboxHandler) GetStats(c *fiber.Ctx) error {
	return c.JSON(h.sandbox.GetStats())
}

// ListExecutions godoc
// @Summary List a session's executions
// @Description Execution history, newest first. Requires the history database.
// @Tags history
// @Produce json
// @Param sessionId path string true "Session ID"
// @Param limit query int false "Number of results to return" default(20)
// @Success 200 {array} models.ExecutionRecord
// @Failure 501 {object} models.ErrorResponse
// @Router /sessions/{sessionId}/executions [get]
func (h *SandboxHandler) ListExecutions(c *fiber.Ctx) error {
	records, err := h.sandbox.ExecutionHistory(c.UserContext(), c.Params("sessionId"), c.QueryInt("limit", 20))
	if err != nil {
		return writeError(c, err)
	}
	if records == nil {
		records = []models.ExecutionRecord{}
	}
	return c.JSON(records)
}

// GetExecution godoc
// @Summary Get an execution record
// @Description History record of one finished execution. Requires the history database.
// @Tags history
// @Produce json
// @Param executionId path string true "Execution ID"
// @Success 200 {object} models.ExecutionRecord
// @Failure 404 {object} models.ErrorResponse
// @Failure 501 {object} models.ErrorResponse
// @Router /executions/{executionId} [get]
func (h *SandboxHandler) GetExecution(c *fiber.Ctx) error {
	rec, err := h.sandbox.Execution(c.UserContext(), c.Params("executionId"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(rec)
}

// GetExecutionLog godoc
// @Summary Archived execution output
// @Description Combined stdout/stderr of a finished execution. Requires the output archive.
// @Tags history
// @Produce plain
// @Param sessionId path string true "Session ID"
// @Param executionId path string true "Execution ID"
// @Success 200 {string} string
// @Failure 404 {object} models.ErrorResponse
// @Failure 501 {object} models.ErrorResponse
// @Router /sessions/{sessionId}/executions/{executionId}/log [get]
func (h *SandboxHandler) GetExecutionLog(c *fiber.Ctx) error {
	data, err := h.sandbox.ExecutionLog(c.UserContext(), c.Params("sessionId"), c.Params("executionId"))
	if err != nil {
		return writeError(c, err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Send(data)
}
