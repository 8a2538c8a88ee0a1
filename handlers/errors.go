package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"sandbox-runner-server/models"
	"sandbox-runner-server/services"
)

// errorStatus maps service errors to an HTTP status and a stable code
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrInvalidRequest):
		return fiber.StatusBadRequest, "invalid_request"
	case errors.Is(err, services.ErrPathOutsideWorkspace):
		return fiber.StatusBadRequest, "path_outside_workspace"
	case errors.Is(err, services.ErrSessionNotFound):
		return fiber.StatusNotFound, "session_not_found"
	case errors.Is(err, services.ErrFileNotFound):
		return fiber.StatusNotFound, "file_not_found"
	case errors.Is(err, services.ErrExecutionNotFound):
		return fiber.StatusNotFound, "execution_not_found"
	case errors.Is(err, services.ErrSessionExists):
		return fiber.StatusConflict, "session_exists"
	case errors.Is(err, services.ErrHistoryDisabled), errors.Is(err, services.ErrArchiveDisabled):
		return fiber.StatusNotImplemented, "disabled"
	case errors.Is(err, services.ErrContainerLaunch):
		return fiber.StatusBadGateway, "container_launch_failed"
	case errors.Is(err, services.ErrWorkspaceAllocation):
		return fiber.StatusInternalServerError, "workspace_allocation_failed"
	default:
		return fiber.StatusInternalServerError, "internal_error"
	}
}

func writeError(c *fiber.Ctx, err error) error {
	status, code := errorStatus(err)
	return c.Status(status).JSON(models.ErrorResponse{
		Error: err.Error(),
		Code:  code,
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
		Error: msg,
		Code:  "invalid_request",
	})
}
