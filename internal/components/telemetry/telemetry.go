package telemetry

import (
	"fmt"
)

// API is what components report through instead of logging directly, so
// tests can swap in a Recorder and assert on what was reported.
//
// note: fault injection point
type API interface {
	// ReportBroken reports a component that stopped working and needs a fix.
	//
	// `id` names the component and operation, not the line that failed:
	// `client.profile` for a failed profile fetch in the habblive client.
	// Put details in params or wrap the error with fmt.Errorf.
	//
	// ids are lowercase, `<struct>.<method>` with dashes inside a method
	// name (`fetcher.fetch-profile`). The package is usually added by
	// ScopedAPI.
	ReportBroken(id string, params ...any)

	// ReportWarning reports something unusual that is not necessarily a bug,
	// ex. habblive rejecting a login. ids follow ReportBroken.
	ReportWarning(id string, params ...any)

	// ReportDebug is dropped unless verbose logging is on.
	ReportDebug(msg string, params ...any)

	// ReportCount reports a gauge-like value at this point in time, reports
	// of the same id must not be summed.
	ReportCount(id string, count int64)
}

// ScopedAPI prefixes every id with a namespace, scopes nest.
type ScopedAPI struct {
	namespace string
	inner     API
}

func NewScopedAPI(namespace string, inner API) ScopedAPI {
	return ScopedAPI{namespace: namespace, inner: inner}
}

func (s ScopedAPI) scoped(id string) string {
	return fmt.Sprintf("%s: %s", s.namespace, id)
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(s.scoped(id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(s.scoped(id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(s.scoped(msg), params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(s.scoped(id), count)
}
