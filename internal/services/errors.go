package services

import (
	"fmt"

	"github.com/google/uuid"
)

// NotOwnedError rejects access to a resource belonging to another user.
type NotOwnedError struct {
	Resource string
	ID       uuid.UUID
}

func (e *NotOwnedError) Error() string {
	return fmt.Sprintf("%s %s does not belong to user", e.Resource, e.ID)
}

// SessionClosedError rejects new work against a session that has ended.
type SessionClosedError struct {
	SessionID uuid.UUID
}

func (e *SessionClosedError) Error() string {
	return fmt.Sprintf("session %s has ended", e.SessionID)
}

// InvalidSignalError rejects malformed affect input before fusion runs.
type InvalidSignalError struct {
	Channel string
	Reason  string
}

func (e *InvalidSignalError) Error() string {
	return fmt.Sprintf("invalid %s signal: %s", e.Channel, e.Reason)
}

// RetrievalUnavailableError means the vector index could not be queried after
// retries. The pipeline continues without passages; callers decide whether the
// turn is marked degraded.
type RetrievalUnavailableError struct {
	Err error
}

func (e *RetrievalUnavailableError) Error() string {
	return fmt.Sprintf("retrieval unavailable: %v", e.Err)
}

func (e *RetrievalUnavailableError) Unwrap() error { return e.Err }

// GenerationError means the language model failed to produce a usable tiered
// response after the reduced-prompt retry.
type GenerationError struct {
	Stage string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed at %s: %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// MalformedQuizError means the model returned quiz JSON that violates the
// question contract and could not be repaired.
type MalformedQuizError struct {
	Reason string
}

func (e *MalformedQuizError) Error() string {
	return fmt.Sprintf("malformed quiz: %s", e.Reason)
}

// ArtifactUnavailableError is the terminal failure of one artifact generator.
// It never fails the owning turn; the artifact is simply absent.
type ArtifactUnavailableError struct {
	Kind string
	Err  error
}

func (e *ArtifactUnavailableError) Error() string {
	return fmt.Sprintf("%s artifact unavailable: %v", e.Kind, e.Err)
}

func (e *ArtifactUnavailableError) Unwrap() error { return e.Err }
