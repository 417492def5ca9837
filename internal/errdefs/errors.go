// Package errdefs defines the error kinds returned by domain lifecycle
// operations. Callers classify failures with errors.Is.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means no domain matches the given identity, name or runtime id.
	ErrNotFound = errors.New("domain not found")

	// ErrDuplicateIdentity means a domain with the same UUID already exists.
	ErrDuplicateIdentity = errors.New("domain identity already in use")

	// ErrDuplicateName means another domain already uses the name.
	ErrDuplicateName = errors.New("domain name already in use")

	// ErrInvalidState means the operation is not valid in the domain's current state.
	ErrInvalidState = errors.New("operation not valid in current domain state")

	// ErrToolstack wraps a failed hypervisor call.
	ErrToolstack = errors.New("toolstack failure")

	// ErrMalformedResponse is a toolstack failure caused by an unexpected or
	// unparsable reply.
	ErrMalformedResponse = fmt.Errorf("%w: malformed response", ErrToolstack)

	// ErrResourceExhausted means a pooled resource, such as a console port, is unavailable.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrPersistence wraps definition or status file I/O failures.
	ErrPersistence = errors.New("persistence failure")
)
