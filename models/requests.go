package models

// ExecuteShellRequest represents the request body for shell execution
type ExecuteShellRequest struct {
	Command   string `json:"command"`
	SessionID string `json:"sessionId"`
	Timeout   int    `json:"timeout"`
}

// ExecuteCodeRequest represents the request body for python/node execution
type ExecuteCodeRequest struct {
	Code      string `json:"code"`
	SessionID string `json:"sessionId"`
	Timeout   int    `json:"timeout"`
}

// CreateSessionRequest represents the request body for creating a session
type CreateSessionRequest struct {
	SessionID string `json:"sessionId"`
}

// WriteFileRequest represents the request body for writing a session file
type WriteFileRequest struct {
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
}

// FileContentResponse is returned by the read file endpoint
type FileContentResponse struct {
	SessionID string `json:"sessionId"`
	FilePath  string `json:"filePath"`
	Content   string `json:"content"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
