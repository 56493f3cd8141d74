package query

import "errors"

// ErrNoValuation is returned before the first tick has settled.
var ErrNoValuation = errors.New("no valuation recorded yet")
