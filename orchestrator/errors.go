package orchestrator

import (
	"errors"

	"github.com/maastricht-university/viva-pipeline/dialogue"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrInvalidState  = errors.New("invalid session state")
	ErrUpstream      = errors.New("upstream service failed")
	ErrTranscription = errors.New("transcription failed")
	ErrGeneration    = dialogue.ErrGeneration
	ErrSynthesis     = errors.New("synthesis failed")
	// ErrCapacity means the session cap is reached and no ended session can
	// make room.
	ErrCapacity = errors.New("session capacity reached")
)

// UpstreamError reports a failed collaborator call. It matches ErrUpstream,
// its Kind and the underlying cause under errors.Is.
type UpstreamError struct {
	Kind error
	Err  error
}

func (e *UpstreamError) Error() string {
	if errors.Is(e.Err, e.Kind) {
		return e.Err.Error()
	}
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() []error { return []error{ErrUpstream, e.Kind, e.Err} }
