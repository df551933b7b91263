package shared

import (
	"errors"
	"fmt"
)

type ErrorSource int

const (
	ErrorSourceConfig ErrorSource = iota
	ErrorSourceProvider
	ErrorSourceScheduler
	ErrorSourceCheckpoint
	ErrorSourceEnvironment
	ErrorSourceUnknown
)

func (s ErrorSource) String() string {
	switch s {
	case ErrorSourceConfig:
		return "config"
	case ErrorSourceProvider:
		return "provider"
	case ErrorSourceScheduler:
		return "scheduler"
	case ErrorSourceCheckpoint:
		return "checkpoint"
	case ErrorSourceEnvironment:
		return "environment"
	default:
		return "unknown"
	}
}

type CadenceError struct {
	Source  ErrorSource
	Message string
	Err     error
}

func Errorf(source ErrorSource, format string, a ...any) *CadenceError {
	return &CadenceError{
		Source:  source,
		Message: fmt.Sprintf(format, a...),
	}
}

func Wrap(source ErrorSource, err error, format string, a ...any) *CadenceError {
	return &CadenceError{
		Source:  source,
		Message: fmt.Sprintf(format, a...),
		Err:     err,
	}
}

func (e *CadenceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Source, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Source, e.Message, e.Err.Error())
}

func (e *CadenceError) Unwrap() error {
	return e.Err
}

func (e *CadenceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func (e *CadenceError) As(target interface{}) bool {
	return errors.As(e.Err, target)
}

// SourceOf reports the source of the first CadenceError in err's chain.
func SourceOf(err error) ErrorSource {
	var ce *CadenceError
	if errors.As(err, &ce) {
		return ce.Source
	}
	return ErrorSourceUnknown
}
