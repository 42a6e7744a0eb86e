// Package voiceerrors defines the error taxonomy shared by the kiosk voice
// components.
//
// Every component classifies the failures it detects into one [Kind]. Once an
// error crosses into the orchestrator it is stored as data (see
// orchestration.Snapshot) instead of being returned up the stack.
package voiceerrors

import (
	"errors"
	"fmt"
)

// Kind is the class of a voice error.
type Kind string

const (
	// KindConnection covers sockets that failed to open, timed out or
	// exhausted their reconnection attempts.
	KindConnection Kind = "connection"
	// KindPermission covers denied microphone access.
	KindPermission Kind = "permission"
	// KindAudio covers decode, playback and record failures at the device or
	// codec layer.
	KindAudio Kind = "audio"
	// KindProcessing covers failures reported by the conversation backend.
	KindProcessing Kind = "processing"
	// KindValidation covers caller misuse and unsupported environments.
	KindValidation Kind = "validation"
)

// Kinds lists every error class in display order.
var Kinds = []Kind{KindConnection, KindPermission, KindAudio, KindProcessing, KindValidation}

func (k Kind) String() string { return string(k) }

// Error is a classified voice error with an optional machine readable code.
type Error struct {
	Kind    Kind
	Message string
	Code    string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s error (%s): %s", e.Kind, e.Code, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another *Error of the same kind and code, so sentinel values built
// with New can be used with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || t == nil || e == nil {
		return false
	}
	return e.Kind == t.Kind && (t.Code == "" || e.Code == t.Code)
}

// New creates a classified error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap classifies err. An err that is already classified keeps its kind.
// Wrapping a nil error returns nil.
func Wrap(err error, kind Kind, code, message string) error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// As extracts the classified error from err, if any.
func As(err error) (*Error, bool) {
	var voiceErr *Error
	if errors.As(err, &voiceErr) && voiceErr != nil {
		return voiceErr, true
	}
	return nil, false
}

// KindOf reports the class of err. Unclassified errors are treated as audio
// errors since they originate from the device or codec layer.
func KindOf(err error) Kind {
	if voiceErr, ok := As(err); ok {
		return voiceErr.Kind
	}
	return KindAudio
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	voiceErr, ok := As(err)
	return ok && voiceErr.Kind == kind
}
