package runtime

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable error identifier surfaced in API responses.
type Kind string

const (
	GeneralUnknown       Kind = "general_unknown"
	GeneralRouteNotFound Kind = "general_route_not_found"
	GeneralUnauthorized  Kind = "general_unauthorized"
	ExecutionBadRequest  Kind = "execution_bad_request"
	ExecutionTimeout     Kind = "execution_timeout"
	ExecutionBadJSON     Kind = "execution_bad_json"
	RuntimeNotFound      Kind = "runtime_not_found"
	RuntimeConflict      Kind = "runtime_conflict"
	RuntimeFailed        Kind = "runtime_failed"
	RuntimeTimeout       Kind = "runtime_timeout"
	LogsTimeout          Kind = "logs_timeout"
	CommandTimeout       Kind = "command_timeout"
	CommandFailed        Kind = "command_failed"
)

var kindCodes = map[Kind]int{
	GeneralUnknown:       http.StatusInternalServerError,
	GeneralRouteNotFound: http.StatusNotFound,
	GeneralUnauthorized:  http.StatusUnauthorized,
	ExecutionBadRequest:  http.StatusBadRequest,
	ExecutionTimeout:     http.StatusGatewayTimeout,
	ExecutionBadJSON:     http.StatusBadRequest,
	RuntimeNotFound:      http.StatusNotFound,
	RuntimeConflict:      http.StatusConflict,
	RuntimeFailed:        http.StatusInternalServerError,
	RuntimeTimeout:       http.StatusGatewayTimeout,
	LogsTimeout:          http.StatusGatewayTimeout,
	CommandTimeout:       http.StatusGatewayTimeout,
	CommandFailed:        http.StatusInternalServerError,
}

// Error is the executor's typed failure. It renders as
// {type, message, code} at the HTTP boundary.
type Error struct {
	Kind    Kind
	Message string
	Code    int
}

func (e *Error) Error() string { return e.Message }

func NewError(kind Kind, message string) *Error {
	code, ok := kindCodes[kind]
	if !ok {
		code = http.StatusInternalServerError
	}
	return &Error{Kind: kind, Message: message, Code: code}
}

func Errorf(kind Kind, format string, args ...any) *Error {
	return NewError(kind, fmt.Sprintf(format, args...))
}

// AsError coerces any error into a typed one; unknown failures map to
// general_unknown without leaking anything beyond the message.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(GeneralUnknown, err.Error())
}
