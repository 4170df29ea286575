package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job id does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrEngineNotImplemented is returned for an unknown engine id.
	ErrEngineNotImplemented = errors.New("engine not implemented")

	// ErrEngineUnresolved is returned when neither the job payload nor the
	// item carries an engine id. Retrying cannot fix missing configuration.
	ErrEngineUnresolved = errors.New("engine unresolved: no engine id on job payload or item")

	// ErrNoPricesFound is returned when a page was fetched but no structured
	// price data was recognized.
	ErrNoPricesFound = errors.New("no prices found on page")

	// ErrPresentationNotFound is returned when the parser's results do not
	// contain the presentation the offer tracks.
	ErrPresentationNotFound = errors.New("presentation not found in extracted prices")

	// ErrNoCandidate is returned when an approval selector does not resolve
	// to an existing candidate.
	ErrNoCandidate = errors.New("candidate not found")

	// ErrInvalidPayload is returned when a job payload is not valid JSON.
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrJobNotReviewable is returned when approving a job that is not
	// waiting for review.
	ErrJobNotReviewable = errors.New("job is not waiting for review")
)

// TerminalError wraps configuration-class failures that must not be retried:
// the job goes FAILED on the first attempt.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string {
	return "terminal: " + e.Err.Error()
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

// NewTerminalError marks err as non-retryable.
func NewTerminalError(err error) error {
	return &TerminalError{Err: err}
}

// IsTerminal reports whether err (or anything it wraps) is non-retryable.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}
