package snapshotgen

import (
	"github.com/gofhir/snapshotgen/errs"
	"github.com/gofhir/snapshotgen/logger"
)

// Error is the engine's caller-visible error type, re-exported from
// package errs so callers never need to import it directly. Its message
// states the identifier, the package id@version, and the originating
// error kind.
type Error = errs.Error

// Error kinds, re-exported from package errs.
const (
	ErrNotFound              = errs.NotFound
	ErrNoBaseDefinition      = errs.NoBaseDefinition
	ErrNoSnapshot            = errs.NoSnapshot
	ErrNoDifferential        = errs.NoDifferential
	ErrCannotExpand          = errs.CannotExpand
	ErrParentNotFound        = errs.ParentNotFound
	ErrIllegalChild          = errs.IllegalChild
	ErrIDMismatch            = errs.IDMismatch
	ErrRootMismatch          = errs.RootMismatch
	ErrUnsupportedDerivation = errs.UnsupportedDerivation
	ErrVersionUnknown        = errs.VersionUnknown
)

// prethrow logs err at error level at the orchestrator boundary, if log
// is non-nil, then returns it unchanged for propagation. Each
// GetSnapshot call logs a failure it returns once; a failure raised by a
// nested GetSnapshot (a parent profile or a profiled child type) is
// logged by that nested call and again by each enclosing GetSnapshot
// that returns it.
func prethrow(log logger.Interface, err error) error {
	if log != nil && err != nil {
		log.Error("%v", err)
	}
	return err
}
