package api

import (
	"errors"
	"fmt"

	"github.com/lireddit/lireddit/internal/api/graph"
	"github.com/lireddit/lireddit/internal/posts"
	"github.com/lireddit/lireddit/internal/voting"
)

// Error represents an API error
type Error struct {
	Code    int
	Message string
}

// NewError creates a new API error
func NewError(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Code, e.Message)
}

// toRPCError maps a method error onto a JSON-RPC error. Unknown errors become
// a generic server error so storage details never reach the client.
func toRPCError(err error) *JSONRPCError {
	var apiErr *Error
	var paramsErr *graph.ParamsError

	switch {
	case errors.As(err, &apiErr):
		return &JSONRPCError{Code: apiErr.Code, Message: apiErr.Message}

	case errors.As(err, &paramsErr):
		return &JSONRPCError{Code: ErrInvalidParams, Message: "Invalid params", Data: paramsErr.Error()}

	case errors.Is(err, graph.ErrNotAuthenticated),
		errors.Is(err, voting.ErrUnauthorized),
		errors.Is(err, posts.ErrUnauthorized):
		return &JSONRPCError{Code: ErrNotAuthenticated, Message: "not authenticated"}

	case errors.Is(err, voting.ErrInvalidValue),
		errors.Is(err, voting.ErrPostNotFound),
		errors.Is(err, posts.ErrInvalidCursor):
		return &JSONRPCError{Code: ErrInvalidParams, Message: "Invalid params", Data: err.Error()}

	default:
		return &JSONRPCError{Code: ErrServerError, Message: "Server error"}
	}
}
