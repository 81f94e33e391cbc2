package flake

import "errors"

var (
	// ErrIndexUnavailable reports that the search index could not answer:
	// unreachable, timed out, rejected the request or returned a malformed body.
	ErrIndexUnavailable = errors.New("search index unavailable")

	// ErrStorageUnavailable reports that the relational store could not answer
	ErrStorageUnavailable = errors.New("release storage unavailable")

	// ErrNotFound reports that no release exists for the requested coordinates
	ErrNotFound = errors.New("release not found")
)
