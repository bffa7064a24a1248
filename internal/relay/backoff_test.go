package relay

import (
	"testing"
	"time"
)

func TestNextDelayDoublesAndCaps(t *testing.T) {
	p := Policy{Base: 5 * time.Second, MaxShift: 5, MaxAttempts: 10}
	expected := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
		160 * time.Second,
		160 * time.Second,
		160 * time.Second,
	}
	for i, want := range expected {
		attempt := i + 1
		if got := p.NextDelay(attempt); got != want {
			t.Fatalf("unexpected delay at attempt=%d: got %v want %v", attempt, got, want)
		}
	}
}

func TestNextDelayMonotonic(t *testing.T) {
	p := Policy{Base: time.Second, MaxShift: 5, MaxAttempts: 10}
	prev := time.Duration(0)
	for attempt := 1; attempt <= 20; attempt++ {
		d := p.NextDelay(attempt)
		if d < prev {
			t.Fatalf("delay decreased at attempt=%d: %v < %v", attempt, d, prev)
		}
		prev = d
	}
}

func TestNextDelayClampsBadAttempt(t *testing.T) {
	p := Policy{Base: time.Second, MaxShift: 5, MaxAttempts: 10}
	if got := p.NextDelay(0); got != time.Second {
		t.Fatalf("attempt 0: got %v want %v", got, time.Second)
	}
	if got := p.NextDelay(-3); got != time.Second {
		t.Fatalf("negative attempt: got %v want %v", got, time.Second)
	}
}

func TestGiveUpAtBudget(t *testing.T) {
	p := Policy{Base: time.Second, MaxShift: 5, MaxAttempts: 10}
	if p.GiveUp(9) {
		t.Fatalf("gave up one attempt early")
	}
	if !p.GiveUp(10) {
		t.Fatalf("did not give up at the budget")
	}
	if !p.GiveUp(11) {
		t.Fatalf("did not stay given up past the budget")
	}
}
