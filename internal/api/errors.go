package api

import (
	"errors"
	"net/http"

	"github.com/samcharles93/qmatmul/internal/dispatch"
)

var (
	// ErrInvalidRequest marks a request body that does not describe a
	// launch: bad JSON, bad shapes or tensor lengths.
	ErrInvalidRequest = errors.New("invalid_request")
	// ErrRateLimited marks a launch refused because the server is over its
	// launch rate.
	ErrRateLimited = errors.New("rate_limited")
	// ErrLaunchRefused marks a well-formed request the dispatcher refused
	// before anything was enqueued.
	ErrLaunchRefused = errors.New("launch_refused")
)

type requestError struct {
	kind error
	msg  string
}

func (e requestError) Error() string { return e.msg }
func (e requestError) Unwrap() error { return e.kind }

func newInvalidRequest(msg string) error {
	return requestError{kind: ErrInvalidRequest, msg: msg}
}

func newRateLimited(msg string) error {
	return requestError{kind: ErrRateLimited, msg: msg}
}

// launchRefusedError carries the KernelInfo field the dispatcher rejected.
type launchRefusedError struct {
	field string
	err   error
}

func (e launchRefusedError) Error() string { return "launch refused: " + e.err.Error() }

func (e launchRefusedError) Unwrap() []error { return []error{ErrLaunchRefused, e.err} }

// refuseLaunch wraps a dispatch configuration error. Other errors are
// returned unchanged.
func refuseLaunch(err error) error {
	if !errors.Is(err, dispatch.ErrConfiguration) {
		return err
	}
	refused := launchRefusedError{err: err}
	var cfgErr *dispatch.ConfigError
	if errors.As(err, &cfgErr) {
		refused.field = cfgErr.Field
	}
	return refused
}

// errorResponse maps an error to its HTTP status and response body.
func errorResponse(err error) (int, ResponseError) {
	body := ResponseError{Message: err.Error()}
	var refused launchRefusedError
	switch {
	case errors.Is(err, ErrRateLimited):
		body.Type, body.Code = "rate_limit_error", "rate_limited"
		return http.StatusTooManyRequests, body
	case errors.Is(err, ErrInvalidRequest):
		body.Type = "invalid_request_error"
		return http.StatusBadRequest, body
	case errors.As(err, &refused):
		body.Type, body.Code, body.Param = "invalid_request_error", "launch_refused", refused.field
		return http.StatusBadRequest, body
	default:
		body.Type = "server_error"
		return http.StatusInternalServerError, body
	}
}
