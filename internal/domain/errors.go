package domain

import "errors"

var (
	// ErrMalformedName reports a qualified name that does not match the
	// expected segment structure.
	ErrMalformedName = errors.New("malformed qualified name")

	// ErrUnknownKind reports a kind segment outside tool/resource/prompt.
	ErrUnknownKind = errors.New("unknown feature kind")

	// ErrUnauthorized marks an access to a feature outside the caller's
	// visible set. It appears in logs only; callers always observe
	// ErrNotFound so existence never leaks across spaces or grants.
	ErrUnauthorized = errors.New("feature not authorized")

	// ErrNotFound reports an entity (space, server, client, feature set)
	// that is entirely absent from storage.
	ErrNotFound = errors.New("not found")
)
