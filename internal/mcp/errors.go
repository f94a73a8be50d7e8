// Package mcp implements the Model Context Protocol server that exposes the
// library to AI clients.
package mcp

import (
	"context"
	"errors"
	"fmt"

	shelferrors "github.com/Aman-CERP/shelf/internal/errors"
)

// Custom MCP error codes for shelf.
const (
	// ErrCodeIndexNotFound indicates the topic has no usable index.
	ErrCodeIndexNotFound = -32001

	// ErrCodeEmbeddingFailed indicates the embedding provider failed.
	ErrCodeEmbeddingFailed = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// ErrCodeNotFound indicates an unknown topic or book.
	ErrCodeNotFound = -32004

	// ErrCodeModelMismatch indicates the index was built by another embedder.
	ErrCodeModelMismatch = -32005

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	if se, ok := shelferrors.As(err); ok {
		return mapShelfError(se)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{
		Code:    ErrCodeInvalidParams,
		Message: msg,
	}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool '%s' not found.", name),
		Data:    map[string]any{"tool": name, "available": ToolNames()},
	}
}

// NewResourceNotFoundError creates an error for unknown resources.
func NewResourceNotFoundError(uri string) *MCPError {
	return &MCPError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("Resource '%s' not found.", uri),
		Data:    map[string]any{"uri": uri},
	}
}

// mapShelfError converts a ShelfError to an MCPError. The shelf error code,
// details and suggestion travel in Data.
func mapShelfError(se *shelferrors.ShelfError) *MCPError {
	data := map[string]any{"error_code": se.Code}
	for k, v := range se.Details {
		data[k] = v
	}
	if se.Suggestion != "" {
		data["suggestion"] = se.Suggestion
	}

	code := ErrCodeInternalError
	switch se.Code {
	case shelferrors.ErrCodeTopicNotFound, shelferrors.ErrCodeBookNotFound:
		code = ErrCodeNotFound
	case shelferrors.ErrCodeModelMismatch:
		code = ErrCodeModelMismatch
	case shelferrors.ErrCodeFileNotFound, shelferrors.ErrCodeIndexCorrupt, shelferrors.ErrCodeNoIndexedTopic:
		code = ErrCodeIndexNotFound
	case shelferrors.ErrCodeEmbeddingFailed:
		code = ErrCodeEmbeddingFailed
	default:
		switch se.Category {
		case shelferrors.CategoryNetwork:
			code = ErrCodeEmbeddingFailed
		case shelferrors.CategoryValidation:
			code = ErrCodeInvalidParams
		}
	}

	return &MCPError{Code: code, Message: se.Message, Data: data}
}
