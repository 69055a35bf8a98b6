package communication

import (
	"errors"
	"fmt"
)

// Error codes carried by RemoteError. The JSON-RPC reserved range is used for protocol
// errors; application errors use -32000 and below.
const (
	CodeParseError       = -32700
	CodeInvalidRequest   = -32600
	CodeMethodNotFound   = -32601
	CodeInvalidParams    = -32602
	CodeInternalError    = -32603
	CodeAuthFailed       = -32001
	CodeNotLoggedIn      = -32002
	CodeServiceNotFound  = -32003
	CodeTypeNotFound     = -32004
	CodeStaleHandle      = -32010
	CodeServiceFailed    = -32020
	CodeContextForbidden = -32021
)

// ErrNotSupported is returned by transports that do not support an operation
var ErrNotSupported = errors.New("operation not supported by this transport")

// ErrUnknownMethod is returned by a proxy when none of its interfaces declares the method
var ErrUnknownMethod = errors.New("method not declared by the proxy interfaces")

// RemoteError is an error reported by the server
type RemoteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// NewRemoteError creates a remote error with the given code
func NewRemoteError(code int, format string, args ...any) *RemoteError {
	return &RemoteError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// HasRemoteCode returns true if err is or wraps a RemoteError with the given code
func HasRemoteCode(err error, code int) bool {
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr.Code == code
	}
	return false
}

// IsAuthenticationFailure returns true if the server rejected the credentials
func IsAuthenticationFailure(err error) bool {
	return HasRemoteCode(err, CodeAuthFailed) || HasRemoteCode(err, CodeContextForbidden)
}
