package health

import "errors"

var (
	errProbePanicked = errors.New("probe panicked")
	errDisabled      = errors.New("device disabled")
	errUnreachable   = errors.New("device unreachable")
)
