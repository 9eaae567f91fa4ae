package module

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Typed errors below wrap these so callers can branch with
// errors.Is without matching concrete structs.
var (
	ErrNotFound             = errors.New("module not found")
	ErrAlreadyExists        = errors.New("module already exists")
	ErrInUse                = errors.New("module in use")
	ErrInvalidComposition   = errors.New("invalid module composition")
	ErrRegistrationConflict = errors.New("module registration conflict")
	ErrDeleteFailed         = errors.New("module delete failed")
	ErrSyntax               = errors.New("invalid pipeline definition")
	ErrUnresolvedReference  = errors.New("unresolved module reference")
)

// NotFoundError reports a lookup or delete target that is absent.
type NotFoundError struct {
	Name string
	Type ModuleType
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("module %s:%s not found", e.Type, e.Name)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// AlreadyExistsError reports an identity collision: either force was not set,
// or the store refused to delete the existing definition during a
// force-replace.
type AlreadyExistsError struct {
	Name   string
	Type   ModuleType
	Reason string
}

func (e *AlreadyExistsError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("module %s:%s already exists: %s", e.Type, e.Name, e.Reason)
	}
	return fmt.Sprintf("module %s:%s already exists", e.Type, e.Name)
}

func (e *AlreadyExistsError) Unwrap() error { return ErrAlreadyExists }

// InUseError blocks delete and force-replace while other definitions still
// reference the target. Dependents lists the blocking definitions.
type InUseError struct {
	Name       string
	Type       ModuleType
	Dependents []ModuleKey
}

func (e *InUseError) Error() string {
	names := make([]string, len(e.Dependents))
	for i, d := range e.Dependents {
		names[i] = d.String()
	}
	return fmt.Sprintf("module %s:%s is used by [%s]", e.Type, e.Name, strings.Join(names, ", "))
}

func (e *InUseError) Unwrap() error { return ErrInUse }

// InvalidCompositionError reports a pipeline that cannot form a usable
// module: empty, or exposing neither an input nor an output channel.
type InvalidCompositionError struct {
	Reason string
}

func (e *InvalidCompositionError) Error() string {
	return "invalid module composition: " + e.Reason
}

func (e *InvalidCompositionError) Unwrap() error { return ErrInvalidComposition }

// RegistrationConflictError reports a lost race: the guard approved the
// registration but the atomic insert found the key already taken.
type RegistrationConflictError struct {
	Name string
	Type ModuleType
}

func (e *RegistrationConflictError) Error() string {
	return fmt.Sprintf("module %s:%s could not be saved: concurrent registration", e.Type, e.Name)
}

func (e *RegistrationConflictError) Unwrap() error { return ErrRegistrationConflict }

// DeleteFailedError reports a store refusal on a delete that had already
// passed existence and dependency checks. This is an invariant violation
// between the check and the store's actual state, not a business error.
type DeleteFailedError struct {
	Name string
	Type ModuleType
}

func (e *DeleteFailedError) Error() string {
	return fmt.Sprintf("could not delete module %s:%s", e.Type, e.Name)
}

func (e *DeleteFailedError) Unwrap() error { return ErrDeleteFailed }

// SyntaxError reports a malformed pipeline expression.
type SyntaxError struct {
	Definition string
	Reason     string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid pipeline definition %q: %s", e.Definition, e.Reason)
}

func (e *SyntaxError) Unwrap() error { return ErrSyntax }

// UnresolvedReferenceError reports a pipeline step that names no registered
// module usable at its position.
type UnresolvedReferenceError struct {
	Module   string
	Position int
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("no module named %q resolvable at position %d", e.Module, e.Position)
}

func (e *UnresolvedReferenceError) Unwrap() error { return ErrUnresolvedReference }

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsAlreadyExists reports whether err wraps ErrAlreadyExists.
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }

// IsInUse reports whether err wraps ErrInUse.
func IsInUse(err error) bool { return errors.Is(err, ErrInUse) }

// IsInvalidComposition reports whether err wraps ErrInvalidComposition.
func IsInvalidComposition(err error) bool { return errors.Is(err, ErrInvalidComposition) }

// IsConflict reports whether err wraps ErrRegistrationConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrRegistrationConflict) }
