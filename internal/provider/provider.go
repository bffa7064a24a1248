// Package provider hosts the pluggable device capabilities the dispatcher
// exposes beyond the signer built-ins: sensors, actuators and their prices.
package provider

// Handler executes one device method.
type Handler func(params []string) (string, error)

// Provider is the capability-provider collaborator contract: a method set
// plus a price function consulted by the payment gate. PriceOf returning 0
// means the call is free.
type Provider interface {
	Capabilities() []string
	Handle(method string, params []string) (string, error)
	PriceOf(method string, params []string) int64
}
