// Package payments gates paid methods behind a Lightning invoice: it creates
// invoices, parks the originating request until the matching confirmation
// arrives on the notification feed, and expires what never gets paid.
package payments

import (
	"time"

	"nostriot/internal/logger"
	"nostriot/internal/metrics"
	"nostriot/internal/rpc"
)

// Pending is a paid request awaiting its payment confirmation. Consumed
// exactly once: either by Confirm or by Sweep, never both.
type Pending struct {
	PaymentHash string
	Envelope    *rpc.Envelope
	Bolt11      string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Gate holds the bounded pending queue. It is owned by the runner loop and
// is not safe for concurrent use; the payment feed reaches it only through
// the runner's confirmation channel.
type Gate struct {
	capacity int
	timeout  time.Duration
	entries  []*Pending
	log      logger.Logger
	rec      metrics.Recorder
}

func NewGate(capacity int, timeout time.Duration, log logger.Logger, rec metrics.Recorder) *Gate {
	if log == nil {
		log = logger.Noop{}
	}
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &Gate{capacity: capacity, timeout: timeout, log: log, rec: rec}
}

// Enqueue parks a paid request keyed by its payment hash. A hash already
// pending keeps its original entry and the new one is dropped: two identical
// invoices must not double-fire a side effect. When the queue is full the
// oldest entry is evicted first; the evicted caller never hears back and
// times out on its side.
func (g *Gate) Enqueue(p *Pending, now time.Time) bool {
	for _, e := range g.entries {
		if e.PaymentHash == p.PaymentHash {
			g.rec.IncCounter(metrics.PaymentsDuplicate, nil)
			g.log.Warn("duplicate payment hash ignored", map[string]any{"payment_hash": p.PaymentHash})
			return false
		}
	}
	if len(g.entries) >= g.capacity {
		oldest := 0
		for i, e := range g.entries {
			if e.CreatedAt.Before(g.entries[oldest].CreatedAt) {
				oldest = i
			}
		}
		evicted := g.entries[oldest]
		g.entries = append(g.entries[:oldest], g.entries[oldest+1:]...)
		g.rec.IncCounter(metrics.PaymentsEvicted, nil)
		g.log.Warn("pending queue full, evicted oldest", map[string]any{
			"payment_hash": evicted.PaymentHash,
			"method":       evicted.Envelope.Method,
		})
	}
	p.CreatedAt = now
	p.ExpiresAt = now.Add(g.timeout)
	g.entries = append(g.entries, p)
	g.log.Info("payment pending", map[string]any{
		"payment_hash": p.PaymentHash,
		"method":       p.Envelope.Method,
		"expires_at":   p.ExpiresAt,
	})
	return true
}

// Confirm removes and returns the entry for hash. A miss is normal traffic:
// the entry may have expired or been evicted, or the confirmation may belong
// to unrelated payments on the same backend.
func (g *Gate) Confirm(hash string) (*Pending, bool) {
	for i, e := range g.entries {
		if e.PaymentHash == hash {
			g.entries = append(g.entries[:i], g.entries[i+1:]...)
			g.rec.IncCounter(metrics.PaymentsConfirmed, map[string]string{"method": e.Envelope.Method})
			return e, true
		}
	}
	g.rec.IncCounter(metrics.PaymentsUnmatched, nil)
	g.log.Info("confirmation for unknown payment hash", map[string]any{"payment_hash": hash})
	return nil, false
}

// Sweep drops every entry past its expiry without invoking any handler, and
// returns how many were removed.
func (g *Gate) Sweep(now time.Time) int {
	kept := g.entries[:0]
	removed := 0
	for _, e := range g.entries {
		if now.After(e.ExpiresAt) {
			removed++
			g.rec.IncCounter(metrics.PaymentsExpired, nil)
			g.log.Info("pending payment expired", map[string]any{
				"payment_hash": e.PaymentHash,
				"method":       e.Envelope.Method,
			})
			continue
		}
		kept = append(kept, e)
	}
	g.entries = kept
	return removed
}

func (g *Gate) Len() int { return len(g.entries) }

// Hashes lists live payment hashes in insertion order, for status reports.
func (g *Gate) Hashes() []string {
	out := make([]string, 0, len(g.entries))
	for _, e := range g.entries {
		out = append(out, e.PaymentHash)
	}
	return out
}
