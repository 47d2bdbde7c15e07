package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"ricorrenti/internal/core"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	headers    map[string]string
	body       any
}

// errorBody is the payload of every error response.
type errorBody struct {
	Error string `json:"error"`
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Write sends the response.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	if b.body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(b.body); err != nil {
		slog.Error("Failed to encode JSON response", "error", err, "status", b.statusCode)
	}
}

// ErrorResponse creates an error response with the given status and message.
func ErrorResponse(statusCode int, message string) *JSONResponseBuilder {
	return NewJSONResponse().Status(statusCode).Body(errorBody{Error: message})
}

func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

func UnauthorizedError() *JSONResponseBuilder {
	return ErrorResponse(http.StatusUnauthorized, "unauthorized").Header("WWW-Authenticate", "Bearer")
}

func UnprocessableEntityError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusUnprocessableEntity, message)
}

func NotFoundError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, message)
}

func InternalServerError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, message)
}

// ErrorFor maps a domain error to its response.
func ErrorFor(err error) *JSONResponseBuilder {
	switch {
	case errors.Is(err, core.ErrInvalidRule),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrEmptyDescription),
		errors.Is(err, core.ErrEmptyOwner):
		return UnprocessableEntityError(err.Error())
	case errors.Is(err, core.ErrRuleNotFound), errors.Is(err, core.ErrInstanceNotFound):
		return NotFoundError(err.Error())
	case errors.Is(err, core.ErrStoreUnavailable):
		return ErrorResponse(http.StatusServiceUnavailable, "store unavailable")
	default:
		return InternalServerError("internal error")
	}
}
