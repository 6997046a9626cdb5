package runtime

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a worker that cannot be launched as configured.
// It is raised before anything is spawned and is never retried.
type ConfigurationError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("can't launch worker at %q: %s", e.Path, e.Reason)
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// DiagnosticMismatchError reports that the worker's diagnostic output at the
// end of an Expect scope differed from what the scope expected.
type DiagnosticMismatchError struct {
	Expected string
	Actual   string
}

func (e *DiagnosticMismatchError) Error() string {
	return fmt.Sprintf("unexpected diagnostic output: %q; should be %q", e.Actual, e.Expected)
}

// IsDiagnosticMismatch reports whether err is a DiagnosticMismatchError.
func IsDiagnosticMismatch(err error) bool {
	var mismatch *DiagnosticMismatchError
	return errors.As(err, &mismatch)
}
