package protocol

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	ErrUnknownMethod   = errors.New("unknown method")
	ErrInvalidSetting  = errors.New("invalid setting")
	ErrAccountNotFound = errors.New("account not found")
	ErrNotLoggedIn     = errors.New("session not logged in")
)

// WorkerUnreachableError reports that no worker is running for an account.
// Calls failing this way sent nothing and armed no timer.
type WorkerUnreachableError struct {
	AccountID string
}

func (e *WorkerUnreachableError) Error() string {
	return fmt.Sprintf("account %s is not running", e.AccountID)
}

// CallTimeoutError reports that a worker did not answer an API call in time.
// The call may still be executing inside the worker.
type CallTimeoutError struct {
	AccountID string
	Method    Method
	ID        uint64
	After     time.Duration
}

func (e *CallTimeoutError) Error() string {
	return fmt.Sprintf("call %s #%d to account %s timed out after %s",
		e.Method, e.ID, e.AccountID, e.After)
}

// WorkerExitedError reports that a worker exited while a call was pending.
type WorkerExitedError struct {
	AccountID string
	Method    Method
	ID        uint64
}

func (e *WorkerExitedError) Error() string {
	return fmt.Sprintf("account %s worker exited before answering %s #%d",
		e.AccountID, e.Method, e.ID)
}

// RemoteError carries an error message returned by a worker in API_RESPONSE.
type RemoteError struct {
	AccountID string
	Method    Method
	Message   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("account %s %s: %s", e.AccountID, e.Method, e.Message)
}
