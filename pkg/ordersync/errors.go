package ordersync

import (
	"errors"
	"fmt"
)

var errInvalidWatermark = errors.New("invalid sync watermark")

// ItemError records why one order in a batch was not saved.
type ItemError struct {
	OrderID string
	Err     error
}

// PartialBatchError reports a batch in which some orders failed to save.
// The remaining orders were processed.
type PartialBatchError struct {
	Total     int
	Succeeded int
	Items     []ItemError
}

func (e *PartialBatchError) Error() string {
	return fmt.Sprintf("%d of %d orders saved", e.Succeeded, e.Total)
}

// Unwrap exposes the per-order causes to errors.Is and errors.As.
func (e *PartialBatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Items))
	for _, it := range e.Items {
		errs = append(errs, it.Err)
	}

	return errs
}
