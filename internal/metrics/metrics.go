// Package metrics counts what the signer does. The Recorder interface keeps
// the rest of the tree free of any metrics backend; the daemon wires the
// Prometheus implementation, tests get the noop.
package metrics

import "time"

// Counter names recorded across the signer. Kept here so dashboards and
// tests agree on the vocabulary.
const (
	FramesReceived    = "frames_received"
	FramesDropped     = "frames_dropped"
	DispatchOK        = "dispatch_ok"
	DispatchError     = "dispatch_error"
	DispatchUnknown   = "dispatch_unknown_method"
	Reconnects        = "reconnects"
	HealthTimeouts    = "health_timeouts"
	SendFailures      = "send_failures"
	InvoicesCreated   = "invoices_created"
	PaymentsConfirmed = "payments_confirmed"
	PaymentsExpired   = "payments_expired"
	PaymentsEvicted   = "payments_evicted"
	PaymentsUnmatched = "payments_unmatched"
	PaymentsDuplicate = "payments_duplicate"
	UplinkTransitions = "uplink_transitions"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, d time.Duration, labels map[string]string)
}

type Noop struct{}

func (Noop) IncCounter(string, map[string]string)                    {}
func (Noop) ObserveLatency(string, time.Duration, map[string]string) {}
