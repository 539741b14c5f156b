package relay

import "fmt"

// ConflictError is returned when a relay id is registered twice
type ConflictError struct {
	RelayID RelayID
}

func NewConflictError(id RelayID) *ConflictError {
	return &ConflictError{RelayID: id}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("relay %s is already registered", e.RelayID)
}

// TooManyTasksError is returned when a relay is at its task capacity
type TooManyTasksError struct {
	RelayID RelayID
	Limit   int
}

func NewTooManyTasksError(id RelayID, limit int) *TooManyTasksError {
	return &TooManyTasksError{RelayID: id, Limit: limit}
}

func (e *TooManyTasksError) Error() string {
	return fmt.Sprintf("relay %s already holds the maximum of %d tasks", e.RelayID, e.Limit)
}

// TaskNotFoundError is returned when a task id does not resolve to a live task
type TaskNotFoundError struct {
	RelayID RelayID
	TaskID  TaskID
}

func NewTaskNotFoundError(relayID RelayID, taskID TaskID) *TaskNotFoundError {
	return &TaskNotFoundError{RelayID: relayID, TaskID: taskID}
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("no task %s for relay %s", e.TaskID, e.RelayID)
}

// RelayNotFoundError is returned when a relay id is unknown
type RelayNotFoundError struct {
	RelayID RelayID
}

func NewRelayNotFoundError(id RelayID) *RelayNotFoundError {
	return &RelayNotFoundError{RelayID: id}
}

func (e *RelayNotFoundError) Error() string {
	return fmt.Sprintf("relay %s not found", e.RelayID)
}

// InvalidTransitionError is returned when a terminal task is updated again
type InvalidTransitionError struct {
	TaskID TaskID
	From   Status
}

func NewInvalidTransitionError(id TaskID, from Status) *InvalidTransitionError {
	return &InvalidTransitionError{TaskID: id, From: from}
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %s is already %s", e.TaskID, e.From)
}

// InvalidCSRError is returned for malformed certificate signing requests
type InvalidCSRError struct {
	Reason string
	Err    error
}

func NewInvalidCSRError(reason string, err error) *InvalidCSRError {
	return &InvalidCSRError{Reason: reason, Err: err}
}

func (e *InvalidCSRError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid CSR: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid CSR: %s", e.Reason)
}

func (e *InvalidCSRError) Unwrap() error { return e.Err }

// DecompressionError is returned for payloads that cannot be inflated
type DecompressionError struct {
	Encoding string
	Err      error
}

func NewDecompressionError(encoding string, err error) *DecompressionError {
	return &DecompressionError{Encoding: encoding, Err: err}
}

func (e *DecompressionError) Error() string {
	return fmt.Sprintf("cannot decompress %s payload: %v", e.Encoding, e.Err)
}

func (e *DecompressionError) Unwrap() error { return e.Err }
