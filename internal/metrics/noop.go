package metrics

import "time"

// Noop discards everything.
type Noop struct{}

var _ Recorder = (*Noop)(nil)

// NewNoop returns a Recorder that does nothing.
func NewNoop() Recorder {
	return &Noop{}
}

func (n *Noop) RecordAuthentication(status, kind string, duration time.Duration) {}
func (n *Noop) RecordLookup(result string)                                        {}
func (n *Noop) RecordSearch(result string, returned int)                          {}
func (n *Noop) RecordHealthCheck(healthy bool, duration time.Duration)            {}
