package session

import (
	"errors"
	"fmt"
)

var (
	ErrNotLoaded         = errors.New("test is not loaded")
	ErrNoQuestions       = errors.New("test has no questions")
	ErrAlreadyStarted    = errors.New("session already started")
	ErrNotActive         = errors.New("session is not accepting input")
	ErrSessionTerminal   = errors.New("session has ended")
	ErrTimeExpired       = errors.New("time is up, only submit is allowed")
	ErrOutOfRange        = errors.New("question index out of range")
	ErrWrongQuestionType = errors.New("input does not match the question type")
	ErrUnknownOption     = errors.New("option does not belong to the question")
	ErrClosed            = errors.New("controller is closed")
)

// LoadError means the test or its questions could not be fetched. No
// session exists yet; Load may be retried.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string { return fmt.Sprintf("load test: %v", e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// StartError means no session could be created or resumed. The controller
// stays idle.
type StartError struct {
	Err error
}

func (e *StartError) Error() string { return fmt.Sprintf("start session: %v", e.Err) }
func (e *StartError) Unwrap() error { return e.Err }

// AutosaveError reports an answer that did not reach the server. It does not
// stop navigation; the question is left unanswered in the cache.
type AutosaveError struct {
	QuestionID int
	Err        error
}

func (e *AutosaveError) Error() string {
	return fmt.Sprintf("autosave question %d: %v", e.QuestionID, e.Err)
}
func (e *AutosaveError) Unwrap() error { return e.Err }

// ProgressError reports a failed progress update. The local index still moves.
type ProgressError struct {
	Index int
	Err   error
}

func (e *ProgressError) Error() string {
	return fmt.Sprintf("update progress to %d: %v", e.Index, e.Err)
}
func (e *ProgressError) Unwrap() error { return e.Err }

// SubmitError is returned once every submit attempt has failed. The
// controller is back in the active state and Submit may be called again.
type SubmitError struct {
	Attempts int
	Err      error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("submit failed after %d attempt(s): %v", e.Attempts, e.Err)
}
func (e *SubmitError) Unwrap() error { return e.Err }
