// Package mcp exposes the knowledge store to MCP clients as tools and
// resources.
package mcp

import (
	"context"
	"errors"
	"fmt"

	docerrors "github.com/Aman-CERP/docindex/internal/errors"
)

// Application error codes, in the JSON-RPC server-error range.
const (
	ErrCodeNotFound          = -32001
	ErrCodeAlreadyExists     = -32002
	ErrCodeTimeout           = -32003
	ErrCodeUnavailable       = -32004
	ErrCodeUnsupportedFormat = -32005

	// Standard JSON-RPC error codes.
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError is a protocol error with a JSON-RPC code.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts an error into an MCPError. The suggestion of a
// DocError, such as the list of available collections, is appended to the
// message.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}
	if de, ok := docerrors.As(err); ok {
		return mapDocError(de)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: err.Error()}
	}
}

func mapDocError(de *docerrors.DocError) *MCPError {
	message := de.Message
	if de.Suggestion != "" {
		message = fmt.Sprintf("%s. %s", de.Message, de.Suggestion)
	}

	code := ErrCodeInternalError
	switch {
	case de.Code == docerrors.ErrCodeCollectionNotFound, de.Code == docerrors.ErrCodeElementNotFound,
		de.Code == docerrors.ErrCodeFileNotFound:
		code = ErrCodeNotFound
	case de.Code == docerrors.ErrCodeCollectionExists:
		code = ErrCodeAlreadyExists
	case de.Code == docerrors.ErrCodeUnsupportedFormat:
		code = ErrCodeUnsupportedFormat
	case de.Category == docerrors.CategoryValidation:
		code = ErrCodeInvalidParams
	case de.Code == docerrors.ErrCodeNetworkTimeout:
		code = ErrCodeTimeout
	case de.Category == docerrors.CategoryNetwork:
		code = ErrCodeUnavailable
	}
	return &MCPError{Code: code, Message: message}
}

// NewInvalidParamsError reports a bad tool argument.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError reports an unknown tool.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found.", name)}
}
