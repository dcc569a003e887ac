package registry

import "errors"

var (
	// ErrLockTimeout is returned when the registry file lock cannot be
	// acquired within the configured bound. Retryable by the caller.
	ErrLockTimeout = errors.New("registry: lock acquisition timed out")

	// ErrDuplicateHandle is returned when an active record already holds
	// the requested transport handle.
	ErrDuplicateHandle = errors.New("registry: transport handle already held by an active agent")

	// ErrDuplicateID is returned when the requested agent id already
	// exists, including as a tombstone. Ids are never reused.
	ErrDuplicateID = errors.New("registry: agent id already exists")

	// ErrAgentNotFound is returned when neither agent id nor external
	// issue id resolves to a record.
	ErrAgentNotFound = errors.New("registry: agent not found")

	// ErrBadTransition is returned when a mutator attempts an illegal
	// status transition.
	ErrBadTransition = errors.New("registry: illegal status transition")
)
