package apiclient

import (
	"github.com/ambiyansyah-risyal/apiclient/internal/singleflight"
)

// InFlightCall is the shared handle of an in-flight request. Every caller
// attached to it observes the same *Response or the same error.
type InFlightCall = singleflight.Call[*Response]

// InFlightRegistry maps a fingerprint to the single outstanding request for
// it. An entry is removed exactly once, when its call settles, and before
// any caller waiting on the call is released.
type InFlightRegistry struct {
	group *singleflight.Group[*Response]
}

// NewInFlightRegistry returns an empty registry.
func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{group: singleflight.New[*Response]()}
}

// GetOrCreate returns the outstanding call for fp or starts factory as the
// new one. A second network call is never started while one is registered.
func (r *InFlightRegistry) GetOrCreate(fp string, factory func() (*Response, error)) (*InFlightCall, bool) {
	return r.group.GetOrStart(fp, factory)
}

// Lookup returns the outstanding call for fp, if any.
func (r *InFlightRegistry) Lookup(fp string) (*InFlightCall, bool) {
	return r.group.Get(fp)
}

// Has reports whether fp has an outstanding call.
func (r *InFlightRegistry) Has(fp string) bool {
	return r.group.Has(fp)
}

// Len returns the number of outstanding calls.
func (r *InFlightRegistry) Len() int {
	return r.group.Len()
}

// Clear forgets every outstanding call. Callers already attached still get
// their results; new callers start fresh requests.
func (r *InFlightRegistry) Clear() {
	r.group.ForgetAll()
}
