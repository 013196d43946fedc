// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package dex

// ErrorKind identifies a kind of error that can be used to define new errors
// via const SomeError = dex.ErrorKind("something").
type ErrorKind string

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Settlement error kinds. Every failed engine operation returns an error that
// matches exactly one of these with errors.Is.
const (
	// ErrValidation is returned for bad order parameters, e.g. a zero price,
	// an expiry that is not in the future, or a collection with trading
	// disabled.
	ErrValidation = ErrorKind("validation error")
	// ErrNotFound is returned for an unknown order id.
	ErrNotFound = ErrorKind("order not found")
	// ErrExpired is returned when acting on an order past its expiry.
	ErrExpired = ErrorKind("order expired")
	// ErrNotActive is returned when an order was superseded or already
	// settled. A maker that lost custody of the item is ErrSolvency.
	ErrNotActive = ErrorKind("order not active")
	// ErrAuthorization is returned when the caller satisfies none of the
	// predicates permitting the operation.
	ErrAuthorization = ErrorKind("not authorized")
	// ErrSolvency is returned when a custody or payment collaborator reports
	// insufficient holdings, balance or allowance.
	ErrSolvency = ErrorKind("insufficient funds or holdings")
	// ErrPartialFillPolicy is returned when a partial fill is requested for a
	// trade that only accepts full fills.
	ErrPartialFillPolicy = ErrorKind("partial fill not allowed")
	// ErrReentrant is returned when an engine operation is invoked from
	// within a collaborator callback of another engine operation.
	ErrReentrant = ErrorKind("reentrant call")
)

// Error pairs an error with details.
type Error struct {
	wrapped error
	detail  string
}

// Error satisfies the error interface, combining the wrapped error message with
// the details.
func (e Error) Error() string {
	return e.wrapped.Error() + ": " + e.detail
}

// Unwrap returns the wrapped error, allowing errors.Is and errors.As to work.
func (e Error) Unwrap() error {
	return e.wrapped
}

// NewError wraps the provided Error with details in a Error, facilitating the
// use of errors.Is and errors.As via errors.Unwrap.
func NewError(err error, detail string) Error {
	return Error{
		wrapped: err,
		detail:  detail,
	}
}

// ErrorCloser is a journal of undo steps for a multi-step process. After each
// successful step, the inverse of that step is scheduled with Add. If Success
// is not signaled before Done, the inverses are run in the reverse order that
// they were added, restoring the state from before the first step.
type ErrorCloser struct {
	closers []func() error
}

// NewErrorCloser creates a new ErrorCloser.
func NewErrorCloser() *ErrorCloser {
	return &ErrorCloser{
		closers: make([]func() error, 0, 8),
	}
}

// Add adds a new function to the queue. If Success is not called before Done,
// the Add'ed functions will be run in the reverse order that they were added.
func (e *ErrorCloser) Add(closer func() error) {
	e.closers = append(e.closers, closer)
}

// Len is the number of pending undo steps.
func (e *ErrorCloser) Len() int {
	return len(e.closers)
}

// Success cancels the running of any Add'ed functions.
func (e *ErrorCloser) Success() {
	e.closers = nil
}

// Done signals that the ErrorCloser can run its registered functions if
// success has not yet been flagged. Done may be deferred unconditionally.
func (e *ErrorCloser) Done(log Logger) {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			log.Errorf("error running undo function %d: %v", i, err)
		}
	}
	e.closers = nil
}
