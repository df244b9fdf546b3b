package utils

// ErrValidation indicates a rejected user input
// the operation was blocked before any network call was made
type ErrValidation struct {
	err error
}

// NewErrValidation creates new error
func NewErrValidation(err error) error {
	return &ErrValidation{err: err}
}

func (e *ErrValidation) Error() string {
	return "validation error: " + e.err.Error()
}

func (e *ErrValidation) Unwrap() error {
	return e.err
}
