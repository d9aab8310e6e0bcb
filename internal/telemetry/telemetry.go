package telemetry

import (
	"fmt"
)

// API is an abstraction over logging/metrics so that tests can assert on what a component
// reported, not just on what it returned.
//
// note: fault injection point
type API interface {
	// ReportBroken reports a component that has broken in a way that should be addressed.
	//
	// The `id` names the component, not the line that broke. A failed request made while
	// fetching a catalog page is `client.fetch`, whether it failed on the transport or on the
	// status code; that detail goes into params or into the wrapped error.
	//
	// Formatting rules:
	// 1) all lowercase
	// 2) use underscores for large components
	// 3) use dashes for methods part of a larger component
	ReportBroken(id string, params ...any)

	// ReportWarning reports a scenario that does not necessarily indicate brokenness, but may
	// be subject to investigation. Ids follow the same rules as ReportBroken.
	ReportWarning(id string, params ...any)

	// ReportDebug reports some debug information that will be ignored in production.
	ReportDebug(msg string, params ...any)

	// ReportCount reports the current count of a specific event at the current time, these
	// counts are points of data over time and should not be summed.
	ReportCount(id string, count int64)
}

// KV is a named param, it is rendered as its own attribute instead of `params.<n>`.
type KV struct {
	Key   string
	Value any
}

// ScopedAPI prefixes every id and debug message with a namespace, ex. "catalog_scraper".
type ScopedAPI struct {
	namespace string
	inner     API
}

func NewScopedAPI(namespace string, inner API) ScopedAPI {
	if scoped, ok := inner.(ScopedAPI); ok {
		return ScopedAPI{
			namespace: fmt.Sprintf("%s.%s", scoped.namespace, namespace),
			inner:     scoped.inner,
		}
	}
	return ScopedAPI{namespace: namespace, inner: inner}
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(fmt.Sprintf("%s: %s", s.namespace, id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(fmt.Sprintf("%s: %s", s.namespace, id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(fmt.Sprintf("%s: %s", s.namespace, msg), params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(fmt.Sprintf("%s: %s", s.namespace, id), count)
}
