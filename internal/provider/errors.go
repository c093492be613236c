package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrProvider matches any error the remote provider reported explicitly.
	ErrProvider = errors.New("provider: request rejected")
	// ErrNetwork matches transport failures talking to the provider.
	ErrNetwork = errors.New("provider: network failure")
)

// ErrorKind classifies provider errors.
type ErrorKind string

const (
	ErrorKindProvider ErrorKind = "provider"
	ErrorKindNetwork  ErrorKind = "network"
)

// Error is the typed failure returned by Client calls. Code carries the provider's OAuth
// error code when one was sent.
type Error struct {
	Kind    ErrorKind
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("provider: %s: %s: %s", e.Op, e.Code, e.Message)
	case e.Message != "":
		return fmt.Sprintf("provider: %s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("provider: %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("provider: %s failed", e.Op)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets callers match on ErrProvider and ErrNetwork.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrProvider:
		return e.Kind == ErrorKindProvider
	case ErrNetwork:
		return e.Kind == ErrorKindNetwork
	}
	return false
}

func providerError(op, code, message string) *Error {
	return &Error{Kind: ErrorKindProvider, Op: op, Code: code, Message: message}
}

func networkError(op string, err error) *Error {
	return &Error{Kind: ErrorKindNetwork, Op: op, Message: err.Error(), Err: err}
}
