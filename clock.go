package strata

import "time"

// Clock supplies the current time to the store and services. Injecting it
// keeps expiry and test-mode timing deterministic under test.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }
