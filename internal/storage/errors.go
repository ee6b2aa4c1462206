// Package storage defines the error taxonomy shared by the store
// implementation and its consumers. Drivers map their own error codes onto
// these sentinels; consumers classify with errors.Is.
package storage

import "errors"

var (
	// ErrConstraint marks uniqueness (and other constraint) violations.
	// Bulk inserts must not be retried on it; per-record inserts treat it
	// as "already present".
	ErrConstraint = errors.New("constraint violation")

	// ErrTransient marks failures worth retrying: busy or locked database,
	// interrupted I/O.
	ErrTransient = errors.New("transient storage error")
)
