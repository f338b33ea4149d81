package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/lireddit/lireddit/pkg/logging"
	"github.com/lireddit/lireddit/pkg/telemetry"
)

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      interface{}   `json:"id"`
	Result  interface{}   `json:"result"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// MarshalJSON drops result from error responses; a successful null result is kept
func (r JSONRPCResponse) MarshalJSON() ([]byte, error) {
	type response JSONRPCResponse
	if r.Error != nil {
		return json.Marshal(struct {
			JSONRPC string        `json:"jsonrpc"`
			ID      interface{}   `json:"id"`
			Error   *JSONRPCError `json:"error"`
		}{r.JSONRPC, r.ID, r.Error})
	}
	return json.Marshal(response(r))
}

// JSONRPCError represents a JSON-RPC error
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// MaxBodyBytes bounds the size of one HTTP request body, batches included
const MaxBodyBytes = 1 << 20

// MethodHandler is a function that handles a JSON-RPC method
type MethodHandler func(ctx *gin.Context, params json.RawMessage) (interface{}, error)

// JSONRPCHandler handles JSON-RPC requests
type JSONRPCHandler struct {
	methods map[string]MethodHandler
	logger  *zap.Logger
}

// NewJSONRPCHandler creates a new JSON-RPC handler
func NewJSONRPCHandler() *JSONRPCHandler {
	return &JSONRPCHandler{
		methods: make(map[string]MethodHandler),
		logger:  logging.WithComponent("jsonrpc"),
	}
}

// RegisterMethod registers a method handler
func (h *JSONRPCHandler) RegisterMethod(method string, handler MethodHandler) {
	h.methods[method] = handler
}

// Handle handles a single JSON-RPC request or a batch. Calls in a batch run
// in order and share the request's identity and loaders.
func (h *JSONRPCHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes))
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, h.errorResponse(nil, ErrInvalidRequest, "Invalid Request", err))
		return
	}
	if err != nil || !json.Valid(body) {
		if err == nil {
			err = errors.New("malformed JSON")
		}
		c.JSON(http.StatusOK, h.errorResponse(nil, ErrParseError, "Parse error", err))
		return
	}

	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			c.JSON(http.StatusOK, h.errorResponse(nil, ErrParseError, "Parse error", err))
			return
		}
		if len(batch) == 0 {
			c.JSON(http.StatusOK, h.errorResponse(nil, ErrInvalidRequest, "Invalid Request", errors.New("empty batch")))
			return
		}

		responses := make([]JSONRPCResponse, 0, len(batch))
		for _, raw := range batch {
			responses = append(responses, h.call(c, raw))
		}
		c.JSON(http.StatusOK, responses)
		return
	}

	c.JSON(http.StatusOK, h.call(c, trimmed))
}

// call runs one request object
func (h *JSONRPCHandler) call(c *gin.Context, raw json.RawMessage) JSONRPCResponse {
	var req JSONRPCRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return h.errorResponse(nil, ErrInvalidRequest, "Invalid Request", err)
	}

	if req.JSONRPC != "2.0" {
		return h.errorResponse(req.ID, ErrInvalidRequest, "Invalid Request", errors.New("invalid jsonrpc version"))
	}

	handler, ok := h.methods[req.Method]
	if !ok {
		return h.errorResponse(req.ID, ErrMethodNotFound, "Method not found", errors.New("method "+req.Method+" not found"))
	}

	ctx, span := telemetry.StartSpan(c.Request.Context(), "jsonrpc."+req.Method)
	defer span.End()
	span.SetAttributes(attribute.String("rpc.method", req.Method))

	// handlers read identity and loaders from the request context
	orig := c.Request
	c.Request = orig.WithContext(ctx)
	result, err := handler(c, req.Params)
	c.Request = orig

	if err != nil {
		span.RecordError(err)
		rpcErr := toRPCError(err)
		if rpcErr.Code == ErrServerError {
			h.logger.Error("JSON-RPC method failed", zap.String("method", req.Method), zap.Error(err))
		} else {
			h.logger.Debug("JSON-RPC method rejected", zap.String("method", req.Method), zap.Error(err))
		}
		return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	}

	return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
}

// errorResponse builds an error response for failures before a method runs
func (h *JSONRPCHandler) errorResponse(id interface{}, code int, message string, err error) JSONRPCResponse {
	h.logger.Debug("JSON-RPC request rejected", zap.String("message", message), zap.Error(err))

	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    err.Error(),
		},
	}
}

// Standard JSON-RPC error codes
const (
	ErrParseError     = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternalError  = -32603
)

// Application error codes
const (
	ErrServerError       = -32000
	ErrNotAuthenticated  = -32001
	ErrRateLimitExceeded = -32029
)
