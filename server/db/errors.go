// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package db

import "errors"

// ArchiveError is the error type used by archivist for certain recognized
// errors. Not all returned errors will be of this type.
type ArchiveError struct {
	Code   uint16
	Detail string
}

// The possible Code values in an ArchiveError.
const (
	ErrGeneralFailure uint16 = iota
	ErrUnknownOrder
	ErrInvalidOrder
	ErrUnknownSettlement
	ErrClosed
)

func (ae ArchiveError) Error() string {
	desc := "unrecognized error"
	switch ae.Code {
	case ErrGeneralFailure:
		desc = "general failure"
	case ErrUnknownOrder:
		desc = "unknown order"
	case ErrInvalidOrder:
		desc = "invalid order"
	case ErrUnknownSettlement:
		desc = "unknown settlement"
	case ErrClosed:
		desc = "archive closed"
	}

	if ae.Detail == "" {
		return desc
	}
	return desc + ": " + ae.Detail
}

// SameErrorTypes checks for error equality or ArchiveError.Code equality if
// both errors are of type ArchiveError.
func SameErrorTypes(errA, errB error) bool {
	if errors.Is(errA, errB) {
		return true
	}
	var arA ArchiveError
	if errors.As(errA, &arA) {
		var arB ArchiveError
		if errors.As(errB, &arB) && arA.Code == arB.Code {
			return true
		}
	}
	return false
}

func isCode(err error, code uint16) bool {
	var errA ArchiveError
	if errors.As(err, &errA) {
		return errA.Code == code
	}
	return false
}

// IsErrGeneralFailure returns true if the error is of type ArchiveError and
// has code ErrGeneralFailure.
func IsErrGeneralFailure(err error) bool {
	return isCode(err, ErrGeneralFailure)
}

// IsErrOrderUnknown returns true if the error is of type ArchiveError and has
// code ErrUnknownOrder.
func IsErrOrderUnknown(err error) bool {
	return isCode(err, ErrUnknownOrder)
}

// IsErrInvalidOrder returns true if the error is of type ArchiveError and has
// code ErrInvalidOrder.
func IsErrInvalidOrder(err error) bool {
	return isCode(err, ErrInvalidOrder)
}

// IsErrClosed returns true if the error is of type ArchiveError and has code
// ErrClosed.
func IsErrClosed(err error) bool {
	return isCode(err, ErrClosed)
}
