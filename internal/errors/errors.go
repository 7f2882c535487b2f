// Package errors provides the typed failure taxonomy for the chat client.
package errors

import (
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout            = errors.New("operation timed out")
	ErrExchangeInProgress = errors.New("a send exchange is already in progress")
	ErrNoThreadSelected   = errors.New("no thread selected")
	ErrEmptyContent       = errors.New("message content is empty")
)

// NetworkError means the transport call itself failed before a response
// was received.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error during %s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError means a response arrived but was not in the expected shape,
// for example a chat stream without an event-stream content type.
type ProtocolError struct {
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("protocol error: %s", e.Message)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ServerSentError carries an explicit error event received mid-stream.
type ServerSentError struct {
	Message string
}

func (e *ServerSentError) Error() string { return fmt.Sprintf("server reported: %s", e.Message) }

// PersistenceError means a create/update/delete call against the backend
// failed. StatusCode is 0 when no HTTP status applies.
type PersistenceError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *PersistenceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s failed (status %d): %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s failed: %s", e.Op, e.Message)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// benignPattern matches server wordings that mean the target is already
// absent. The word gap is any run of spaces, hyphens or underscores,
// including none ("notfound" counts).
var benignPattern = regexp.MustCompile(`(?i)not[\s_-]*found|already[\s_-]*deleted|no[\s_-]*such|does[\s_-]*not[\s_-]*exist`)

// IsBenign reports whether a delete failure indicates the desired end state
// already holds: the entity is gone either way, so the delete is idempotent.
func IsBenign(err error) bool {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		if pe.StatusCode == 404 || pe.StatusCode == 410 {
			return true
		}
	}
	return benignPattern.MatchString(err.Error())
}

// IsRetryable reports whether the error is likely transient and worth retrying.
func IsRetryable(err error) bool {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		switch pe.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, ErrTimeout)
}
