// Package regerr defines the error kinds shared by the registry's ledger
// components. Every failing operation wraps exactly one of these sentinels,
// so callers can classify failures with errors.Is without parsing messages.
package regerr

import "errors"

// ErrUnauthorized is returned when the caller lacks owner or delegate
// capability for the target agent, or trips a self-review guard.
var ErrUnauthorized = errors.New("unauthorized")

// ErrNotFound is returned for unknown agent ids, unknown names, and
// out-of-range feedback indexes. Destroyed agents report ErrNotFound forever.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write collides with existing state:
// a taken name, an agent that already holds a name, the reserved metadata
// key, or a double revoke.
var ErrConflict = errors.New("conflict")

// ErrInvalid is returned for malformed input: empty or oversized names,
// decimals out of range, an empty required client filter, or a zero address.
var ErrInvalid = errors.New("invalid argument")

// ErrSignature is returned when a signature does not validate for the
// claimed signer, or its embedded deadline has passed by the ledger clock.
var ErrSignature = errors.New("signature rejected")
