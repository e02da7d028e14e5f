package universe

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Registry errors
var (
	ErrSealed                     = errors.New("universe is sealed")
	ErrLoaderAttached             = errors.New("universe already has a loader")
	ErrAlreadyRegistered          = errors.New("already registered")
	ErrNotRegistered              = errors.New("not registered")
	ErrForeignUniverse            = errors.New("value belongs to another universe")
	ErrDeinitializationNotAllowed = errors.New("archetype cannot be unloaded after seal")
)

// Component errors
var (
	ErrComponentExists   = errors.New("component kind already present")
	ErrComponentNotFound = errors.New("component kind not present")
	ErrKindMismatch      = errors.New("component kind mismatch")
)

// Builder errors
var (
	ErrMissingParameter   = errors.New("missing required parameter")
	ErrParameterMismatch  = errors.New("parameter type mismatch")
	ErrNoModelConstructor = errors.New("no usable model constructor")
	ErrNoFactory          = errors.New("builder has no factory")
)

// Subject names the kind of resource an error or failure is about.
type Subject uint8

const (
	SubjectEnumeration Subject = iota
	SubjectComponent
	SubjectModel
	SubjectArchetype
	SubjectModifier
)

func (s Subject) String() string {
	switch s {
	case SubjectEnumeration:
		return "enumeration"
	case SubjectComponent:
		return "component"
	case SubjectModel:
		return "model"
	case SubjectArchetype:
		return "archetype"
	case SubjectModifier:
		return "modifier"
	default:
		return fmt.Sprintf("subject(%d)", uint8(s))
	}
}

// ConfigureError reports that a type could not be configured this round.
// It is retryable.
type ConfigureError struct {
	Subject Subject
	Type    reflect.Type
	Err     error
}

func (e *ConfigureError) Error() string {
	return fmt.Sprintf("failed to configure %s %s: %v", e.Subject, typeName(e.Type), e.Err)
}

func (e *ConfigureError) Unwrap() error { return e.Err }

// MissingDependencyError reports dependencies that are not initialized yet.
// It is retryable.
type MissingDependencyError struct {
	Subject Subject
	Type    reflect.Type
	Missing []reflect.Type
}

func (e *MissingDependencyError) Error() string {
	names := make([]string, len(e.Missing))
	for i, t := range e.Missing {
		names[i] = typeName(t)
	}
	return fmt.Sprintf("missing dependencies for %s %s: [%s]", e.Subject, typeName(e.Type), strings.Join(names, ", "))
}

// CannotInitializeError reports that a type can never be initialized.
// It is fatal and never retried.
type CannotInitializeError struct {
	Subject Subject
	Type    reflect.Type
	Err     error
}

func (e *CannotInitializeError) Error() string {
	return fmt.Sprintf("cannot initialize %s %s: %v", e.Subject, typeName(e.Type), e.Err)
}

func (e *CannotInitializeError) Unwrap() error { return e.Err }

// Fatal wraps err as a CannotInitializeError.
func Fatal(subject Subject, t reflect.Type, err error) error {
	return &CannotInitializeError{Subject: subject, Type: t, Err: err}
}

// Retry wraps err as a ConfigureError.
func Retry(subject Subject, t reflect.Type, err error) error {
	return &ConfigureError{Subject: subject, Type: t, Err: err}
}

// IsFatal reports whether err, or anything it wraps, is a CannotInitializeError.
func IsFatal(err error) bool {
	var target *CannotInitializeError
	return errors.As(err, &target)
}

// IsRetryable reports whether err is non-nil and not fatal.
func IsRetryable(err error) bool {
	return err != nil && !IsFatal(err)
}

// Classify returns err wrapped in the retryable family unless it already carries a
// classification.
func Classify(subject Subject, t reflect.Type, err error) error {
	if err == nil {
		return nil
	}
	var (
		cannot    *CannotInitializeError
		configure *ConfigureError
		missing   *MissingDependencyError
	)
	switch {
	case errors.As(err, &cannot), errors.As(err, &configure), errors.As(err, &missing):
		return err
	default:
		return Retry(subject, t, err)
	}
}

// ParameterError is returned by typed builder parameter lookups.
type ParameterError struct {
	Param string
	Want  reflect.Type
	Got   reflect.Type
	Err   error
}

func (e *ParameterError) Error() string {
	if e.Got == nil {
		return fmt.Sprintf("%v: %q (%s)", e.Err, e.Param, typeName(e.Want))
	}
	return fmt.Sprintf("%v: %q want %s, got %s", e.Err, e.Param, typeName(e.Want), typeName(e.Got))
}

func (e *ParameterError) Unwrap() error { return e.Err }
