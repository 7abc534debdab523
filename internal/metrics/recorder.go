// Package metrics records directory authentication metrics.
package metrics

import "time"

// Recorder receives one call per completed directory operation.
type Recorder interface {
	// RecordAuthentication records an authentication attempt. status is
	// authenticated, rejected or service_unavailable; kind is the error kind
	// or empty on success.
	RecordAuthentication(status, kind string, duration time.Duration)
	// RecordLookup records a lookup; result is found or an error kind.
	RecordLookup(result string)
	// RecordSearch records a user search and the number of users returned.
	RecordSearch(result string, returned int)
	// RecordHealthCheck records a probe run.
	RecordHealthCheck(healthy bool, duration time.Duration)
}
