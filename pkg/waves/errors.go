package waves

import "errors"

var (
	// ErrNoTraceBackend is returned when a trace-only operation (body or
	// signal delivery) is applied to a container without a trace backend.
	ErrNoTraceBackend = errors.New("no trace is loaded")

	errBodyLoadedTwice         = errors.New("trace body loaded twice")
	errRemoteBodyForLocalTrace = errors.New("got remote body for a local trace")
	errLocalBodyForRemoteTrace = errors.New("got local body for a remote trace")
	errInconsistentServer      = errors.New("body came from a different server")
)
