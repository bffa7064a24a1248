package provider

import (
	"fmt"
	"math/rand"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"
)

// Device method names.
const (
	MethodGetTemperature = "getTemperature"
	MethodSetLED         = "setLED"
	MethodSetTargetTemp  = "setTargetTemperature"
)

// Device is the built-in capability set: a temperature sensor, an LED and a
// temperature setpoint. Reads and the LED cost a flat rate; moving the
// setpoint is priced by how far it moves.
type Device struct {
	flatPrice int64
	// sats charged per degree of setpoint movement
	ratePerDegree decimal.Decimal

	mu         sync.Mutex
	ledOn      bool
	targetTemp float64
	rng        *rand.Rand
}

func NewDevice(flatPriceSats int64, ratePerDegreeSats string) (*Device, error) {
	rate, err := decimal.NewFromString(ratePerDegreeSats)
	if err != nil {
		return nil, fmt.Errorf("parse rate per degree: %w", err)
	}
	return &Device{
		flatPrice:     flatPriceSats,
		ratePerDegree: rate,
		targetTemp:    21.0,
		rng:           rand.New(rand.NewSource(1)),
	}, nil
}

func (d *Device) Capabilities() []string {
	return []string{MethodGetTemperature, MethodSetLED, MethodSetTargetTemp}
}

func (d *Device) Handle(method string, params []string) (string, error) {
	switch method {
	case MethodGetTemperature:
		return d.readTemperature(), nil
	case MethodSetLED:
		return d.setLED(params)
	case MethodSetTargetTemp:
		return d.setTarget(params)
	default:
		return "", fmt.Errorf("unknown capability %q", method)
	}
}

// PriceOf implements distance-based pricing for the setpoint and a flat
// rate for everything else. Malformed parameters price as flat; the handler
// rejects them later with a proper error result.
func (d *Device) PriceOf(method string, params []string) int64 {
	switch method {
	case MethodSetTargetTemp:
		if len(params) < 1 {
			return d.flatPrice
		}
		target, err := strconv.ParseFloat(params[0], 64)
		if err != nil {
			return d.flatPrice
		}
		d.mu.Lock()
		current := d.targetTemp
		d.mu.Unlock()
		distance := decimal.NewFromFloat(target).Sub(decimal.NewFromFloat(current)).Abs()
		price := distance.Mul(d.ratePerDegree).Ceil().IntPart()
		if price < d.flatPrice {
			return d.flatPrice
		}
		return price
	case MethodGetTemperature, MethodSetLED:
		return d.flatPrice
	default:
		return 0
	}
}

// readTemperature fakes a sensor reading between 20 and 25 degrees until
// real hardware is wired in.
func (d *Device) readTemperature() string {
	d.mu.Lock()
	v := 20.0 + float64(d.rng.Intn(500))/100.0
	d.mu.Unlock()
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func (d *Device) setLED(params []string) (string, error) {
	on := true
	if len(params) >= 1 {
		switch params[0] {
		case "on", "true", "1":
			on = true
		case "off", "false", "0":
			on = false
		default:
			return "", fmt.Errorf("setLED expects on/off, got %q", params[0])
		}
	}
	d.mu.Lock()
	d.ledOn = on
	d.mu.Unlock()
	if on {
		return "LED on", nil
	}
	return "LED off", nil
}

func (d *Device) setTarget(params []string) (string, error) {
	if len(params) < 1 {
		return "", fmt.Errorf("setTargetTemperature expects a target value")
	}
	target, err := strconv.ParseFloat(params[0], 64)
	if err != nil {
		return "", fmt.Errorf("bad target temperature %q", params[0])
	}
	if target < 5 || target > 35 {
		return "", fmt.Errorf("target temperature %.1f out of range", target)
	}
	d.mu.Lock()
	d.targetTemp = target
	d.mu.Unlock()
	return fmt.Sprintf("target set to %.1f", target), nil
}
