package saga

import (
	"errors"
	"fmt"
)

// Failure is returned by Finalize and Retry when an attempt ends in the
// failed state. Everything the attempt wrote has been rolled back.
type Failure struct {
	AttemptID string
	State     State
	Component Component
	Message   string
	Err       error

	// FailedID is the failure ledger row, zero when only BackupPath was
	// written or when the attempt was a replay.
	FailedID   int64
	BackupPath string
	Log        []string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("checkout failed in %s while %s: %s", f.Component, f.State, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func (f *Failure) FailureComponent() string {
	return string(f.Component)
}

// stepError carries the component a state blames for its failure.
type stepError struct {
	component Component
	msg       string
	err       error
}

func (e *stepError) Error() string {
	return e.msg
}

func (e *stepError) Unwrap() error {
	return e.err
}

func fail(component Component, err error, format string, args ...any) error {
	return &stepError{component: component, msg: fmt.Sprintf(format, args...), err: err}
}

func componentOf(err error, fallback Component) (Component, string) {
	var se *stepError
	if errors.As(err, &se) {
		return se.component, se.msg
	}
	return fallback, err.Error()
}
