package mcp

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
)

// ErrorKind buckets remote-call failures for audit records and status
// reporting. The pool itself never retries; classification only shapes the
// error text recorded by callers.
type ErrorKind int

const (
	// ErrorKindUnknown — unclassified failure.
	ErrorKindUnknown ErrorKind = iota
	// ErrorKindConnection — the transport could not be established or died.
	ErrorKindConnection
	// ErrorKindTimeout — the call exceeded its deadline.
	ErrorKindTimeout
	// ErrorKindCancelled — the call's context was cancelled.
	ErrorKindCancelled
	// ErrorKindProtocol — the peer rejected the request at the JSON-RPC level.
	ErrorKindProtocol
)

// String returns the kind label used in step error records.
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindConnection:
		return "connection"
	case ErrorKindTimeout:
		return "timeout"
	case ErrorKindCancelled:
		return "cancelled"
	case ErrorKindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Classify determines the failure kind of a remote-call error.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorKindUnknown
	}

	if errors.Is(err, context.Canceled) {
		return ErrorKindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}
	if errors.Is(err, ErrConnection) {
		return ErrorKindConnection
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorKindTimeout
		}
		return ErrorKindConnection
	}

	if isConnectionError(err) {
		return ErrorKindConnection
	}
	if isProtocolError(err) {
		return ErrorKindProtocol
	}
	return ErrorKindUnknown
}

// isConnectionError detects connection-level transport failures.
func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"connection closed",
		"session closed",
		"no such host",
	} {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}

// isProtocolError detects MCP JSON-RPC errors from the SDK: client-side
// errors like bad request or method not found.
func isProtocolError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"method not found",
		"invalid params",
		"invalid request",
		"parse error",
	} {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}
