package errs

import "fmt"

// NetworkError is a transport failure: unreachable service, timeout, or a
// non-success status other than a credential rejection. A foreign-owner
// push (403, PermissionDenied) lands here too since the token is still good.
type NetworkError struct {
	Op     string
	Status int // HTTP status or gRPC code when the service answered; 0 otherwise
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// AuthError means the service rejected the bearer credential.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "credential rejected: " + e.Err.Error() }

func (e *AuthError) Unwrap() error { return e.Err }

// MalformedResponseError means the service answered with something that does
// not decode or violates the protocol.
type MalformedResponseError struct {
	Reason string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err == nil {
		return "malformed response: " + e.Reason
	}
	return fmt.Sprintf("malformed response: %s: %v", e.Reason, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// LocalStorageError wraps a failure of the device store.
type LocalStorageError struct {
	Op  string
	Err error
}

func (e *LocalStorageError) Error() string { return "local store: " + e.Op + ": " + e.Err.Error() }

func (e *LocalStorageError) Unwrap() error { return e.Err }
