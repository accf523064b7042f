package dispatch

import (
	"errors"
	"fmt"
)

// ErrConfiguration classifies every launch the host layer refuses before
// anything is enqueued.
var ErrConfiguration = errors.New("invalid kernel configuration")

var (
	ErrInputCount          = fmt.Errorf("%w: input count", ErrConfiguration)
	ErrOutputCount         = fmt.Errorf("%w: output count", ErrConfiguration)
	ErrNullWorkspace       = fmt.Errorf("%w: null workspace", ErrConfiguration)
	ErrUnsupportedDataType = fmt.Errorf("%w: unsupported data type", ErrConfiguration)
	ErrWorkspaceTooSmall   = fmt.Errorf("%w: workspace too small", ErrConfiguration)
	ErrBufferTooSmall      = fmt.Errorf("%w: buffer too small", ErrConfiguration)
	ErrInvalidShape        = fmt.Errorf("%w: invalid shape", ErrConfiguration)
	ErrInvalidBlockNum     = fmt.Errorf("%w: invalid block count", ErrConfiguration)
)

// ConfigError reports which KernelInfo field a configuration error is
// about.
type ConfigError struct {
	Field  string
	Detail string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Err, e.Field, e.Detail)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configError(kind error, field, format string, args ...any) error {
	return &ConfigError{Field: field, Detail: fmt.Sprintf(format, args...), Err: kind}
}
