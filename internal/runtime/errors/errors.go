package errors

import sterrors "errors"

var (
	ErrServiceRequired   = sterrors.New("syncflow: service is required")
	ErrPublisherRequired = sterrors.New("syncflow: publisher is required")
	ErrConfigRequired    = sterrors.New("syncflow: configuration is required")
	ErrResolverRequired  = sterrors.New("syncflow: identity resolver is required")
	ErrSourceRequired    = sterrors.New("syncflow: source system client is required")
	ErrValidatorRequired = sterrors.New("syncflow: schema validator is required")
	ErrHandlersRequired  = sterrors.New("syncflow: consumer handler table is required")
	ErrServiceNameNeeded = sterrors.New("syncflow: service name is required")

	ErrHandlerRequired      = sterrors.New("syncflow: handler is required")
	ErrHandlerNameRequired  = sterrors.New("syncflow: handler name is required")
	ErrConsumeQueueRequired = sterrors.New("syncflow: consume queue is required")
)

// ConfigValidationError marks an error produced while validating Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "syncflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
