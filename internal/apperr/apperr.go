// Package apperr defines the error taxonomy shared by the simulation
// service, provider adapters, and HTTP layer, and the single responder
// that maps any of them onto an HTTP envelope.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindNotFound           Kind = "not_found"
	KindPreconditionFailed Kind = "precondition_failed"
	KindConflict           Kind = "conflict"
	KindBusy               Kind = "busy"
	KindProviderClient     Kind = "provider_client_error"
	KindProviderTransient  Kind = "provider_transient_error"
	KindConfig             Kind = "config_error"
	KindInternal           Kind = "internal_error"
)

// Error is the typed error carried through the service layer. Handlers
// never need to pattern-match on message text, only on Kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func new_(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func Validation(msg string) *Error             { return new_(KindValidation, msg, nil) }
func NotFound(msg string) *Error                { return new_(KindNotFound, msg, nil) }
func PreconditionFailed(msg string) *Error      { return new_(KindPreconditionFailed, msg, nil) }
func Conflict(msg string) *Error                { return new_(KindConflict, msg, nil) }
func Busy(msg string) *Error                    { return new_(KindBusy, msg, nil) }
func ProviderClient(msg string, err error) *Error    { return new_(KindProviderClient, msg, err) }
func ProviderTransient(msg string, err error) *Error { return new_(KindProviderTransient, msg, err) }
func Config(msg string, err error) *Error       { return new_(KindConfig, msg, err) }
func Internal(msg string, err error) *Error     { return new_(KindInternal, msg, err) }

func statusFor(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case KindConflict:
		return http.StatusConflict
	case KindBusy:
		return http.StatusConflict
	case KindProviderClient:
		return http.StatusBadGateway
	case KindProviderTransient:
		return http.StatusServiceUnavailable
	case KindConfig:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ok and fail mirror the response envelope the rest of this codebase
// already used for chat endpoints: {code, message, data}.
func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "ok", "data": data})
}

func fail(c *gin.Context, status int, kind Kind, msg string) {
	c.JSON(status, gin.H{"code": 1, "message": msg, "data": nil, "error": kind})
}

// Respond writes a success envelope for nil errors, otherwise maps the
// error (typed or not) onto the matching HTTP status and envelope.
func Respond(c *gin.Context, data any, err error) {
	if err == nil {
		ok(c, data)
		return
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		fail(c, statusFor(appErr.Kind), appErr.Kind, appErr.Message)
		return
	}
	fail(c, http.StatusInternalServerError, KindInternal, err.Error())
}
