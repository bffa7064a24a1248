package provider

import (
	"strconv"
	"testing"
)

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	d, err := NewDevice(1, "21")
	if err != nil {
		t.Fatalf("new device: %v", err)
	}
	return d
}

func TestDeviceCapabilities(t *testing.T) {
	d := newTestDevice(t)
	caps := d.Capabilities()
	if len(caps) != 3 {
		t.Fatalf("unexpected capabilities: %v", caps)
	}
}

func TestGetTemperatureReturnsReading(t *testing.T) {
	d := newTestDevice(t)
	out, err := d.Handle(MethodGetTemperature, nil)
	if err != nil {
		t.Fatalf("getTemperature: %v", err)
	}
	v, err := strconv.ParseFloat(out, 64)
	if err != nil {
		t.Fatalf("reading not numeric: %q", out)
	}
	if v < 20 || v > 25 {
		t.Fatalf("reading out of range: %v", v)
	}
}

func TestSetLED(t *testing.T) {
	d := newTestDevice(t)
	for _, arg := range []string{"on", "true", "1"} {
		out, err := d.Handle(MethodSetLED, []string{arg})
		if err != nil || out != "LED on" {
			t.Fatalf("%q: got %q %v", arg, out, err)
		}
	}
	for _, arg := range []string{"off", "false", "0"} {
		out, err := d.Handle(MethodSetLED, []string{arg})
		if err != nil || out != "LED off" {
			t.Fatalf("%q: got %q %v", arg, out, err)
		}
	}
	if _, err := d.Handle(MethodSetLED, []string{"maybe"}); err == nil {
		t.Fatalf("bad argument accepted")
	}
}

func TestSetTargetTemperatureRange(t *testing.T) {
	d := newTestDevice(t)
	if _, err := d.Handle(MethodSetTargetTemp, []string{"22.5"}); err != nil {
		t.Fatalf("valid target rejected: %v", err)
	}
	for _, bad := range []string{"4.9", "35.1", "warm", ""} {
		if _, err := d.Handle(MethodSetTargetTemp, []string{bad}); err == nil {
			t.Errorf("target %q accepted", bad)
		}
	}
	if _, err := d.Handle(MethodSetTargetTemp, nil); err == nil {
		t.Fatalf("missing target accepted")
	}
}

func TestPriceOfDistanceBased(t *testing.T) {
	d := newTestDevice(t)
	// Default setpoint is 21.0 and the rate is 21 sats per degree.
	if got := d.PriceOf(MethodSetTargetTemp, []string{"23.0"}); got != 42 {
		t.Fatalf("2 degrees at 21 sats: got %d want 42", got)
	}
	// Fractional distance rounds up.
	if got := d.PriceOf(MethodSetTargetTemp, []string{"21.1"}); got != 3 {
		t.Fatalf("0.1 degrees at 21 sats: got %d want 3", got)
	}
	// No movement floors at the flat price.
	if got := d.PriceOf(MethodSetTargetTemp, []string{"21.0"}); got != 1 {
		t.Fatalf("zero distance: got %d want 1", got)
	}
	// Price follows the current setpoint.
	if _, err := d.Handle(MethodSetTargetTemp, []string{"25.0"}); err != nil {
		t.Fatalf("set target: %v", err)
	}
	if got := d.PriceOf(MethodSetTargetTemp, []string{"26.0"}); got != 21 {
		t.Fatalf("1 degree from new setpoint: got %d want 21", got)
	}
}

func TestPriceOfFlatAndUnknown(t *testing.T) {
	d := newTestDevice(t)
	if got := d.PriceOf(MethodGetTemperature, nil); got != 1 {
		t.Fatalf("flat price: got %d want 1", got)
	}
	if got := d.PriceOf(MethodSetLED, []string{"on"}); got != 1 {
		t.Fatalf("flat price: got %d want 1", got)
	}
	if got := d.PriceOf("somethingElse", nil); got != 0 {
		t.Fatalf("unknown method priced: %d", got)
	}
	// Malformed target prices flat; the handler rejects it later.
	if got := d.PriceOf(MethodSetTargetTemp, []string{"warm"}); got != 1 {
		t.Fatalf("malformed target: got %d want 1", got)
	}
}
