package mcp

import "errors"

var (
	// ErrNotRegistered indicates a pool operation named a server that was
	// never registered.
	ErrNotRegistered = errors.New("server not registered")

	// ErrTransportMismatch indicates a lazy connect was attempted on an
	// in-memory entry. In-memory servers must be attached via
	// ConnectInMemory with a pre-created linked transport.
	ErrTransportMismatch = errors.New("in-memory server must be attached via ConnectInMemory")

	// ErrConnection indicates the transport could not be established or has
	// died. Wraps the underlying transport error.
	ErrConnection = errors.New("connection failed")

	// ErrPoolClosed indicates an operation on a pool after DisconnectAll
	// completed a shutdown.
	ErrPoolClosed = errors.New("client pool is closed")

	// ErrInvalidEntry indicates a registry entry whose fields do not satisfy
	// its transport's requirements.
	ErrInvalidEntry = errors.New("invalid server entry")
)
