package services

import "errors"

var (
	// ErrInvalidRequest is returned for malformed requests, e.g. a missing session id
	ErrInvalidRequest = errors.New("invalid request")
	// ErrWorkspaceAllocation is fatal for the request that hit it
	ErrWorkspaceAllocation = errors.New("workspace allocation failed")
	// ErrContainerLaunch means the runtime is unavailable or the image is unusable
	ErrContainerLaunch = errors.New("container launch failed")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrFileNotFound    = errors.New("file not found")
	// ErrExecutionNotFound is returned for ids history has no record of
	ErrExecutionNotFound = errors.New("execution not found")
	// ErrPathOutsideWorkspace is returned when a file path escapes its workspace
	ErrPathOutsideWorkspace = errors.New("path outside workspace")
	// ErrArchiveDisabled is returned by log lookups when no archive is configured
	ErrArchiveDisabled = errors.New("output archive disabled")
	// ErrHistoryDisabled is returned by history lookups when no database is configured
	ErrHistoryDisabled = errors.New("execution history disabled")
)
