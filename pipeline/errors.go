package pipeline

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies a pipeline failure so callers can match on the category
// instead of string-comparing messages.
type Kind int

const (
	// KindConfig covers missing tracking IDs, unreadable metadata and
	// invalid manifests. The label run is skipped, never retried.
	KindConfig Kind = iota

	// KindVerification covers signature, team-identifier and architecture
	// failures. Fatal, never bypassed.
	KindVerification

	// KindNetwork covers download and catalog transport failures.
	KindNetwork

	// KindExtract covers archive extraction failures, including a missing
	// payload after extraction.
	KindExtract

	// KindBuild covers packaging failures.
	KindBuild

	// KindRemoteProcessing covers a terminal commitFileFailed from the
	// service. Triggers compensating deletion of the created record.
	KindRemoteProcessing

	// KindTimeout covers exhausted upload polling. Same compensating
	// action as KindRemoteProcessing.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindVerification:
		return "verification"
	case KindNetwork:
		return "network"
	case KindExtract:
		return "extract"
	case KindBuild:
		return "build"
	case KindRemoteProcessing:
		return "remote-processing"
	case KindTimeout:
		return "timeout"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified pipeline failure.
type Error struct {
	Kind Kind
	Op   string // the stage that failed
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err as a classified pipeline error.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Ef wraps a formatted message as a classified pipeline error.
func Ef(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: pkgerrors.Errorf(format, args...)}
}

// KindOf extracts the Kind from err, defaulting to KindNetwork for plain
// errors since those invariably originate in a collaborator call.
func KindOf(err error) Kind {
	var pe *Error
	if pkgerrors.As(err, &pe) {
		return pe.Kind
	}
	return KindNetwork
}
