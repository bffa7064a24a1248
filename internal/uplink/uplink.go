// Package uplink isolates the genuinely blocking network-association step
// from the daemon's tick loop. A worker goroutine owns the blocking probe
// and talks to the loop exclusively through a bounded command channel in and
// a status channel out; it never touches daemon state directly.
package uplink

import (
	"context"
	"net"
	"time"

	"nostriot/internal/logger"
)

type Command int

const (
	CmdConnect Command = iota
	CmdDisconnect
)

type Status int

const (
	StatusDown Status = iota
	StatusUp
)

func (s Status) String() string {
	if s == StatusUp {
		return "up"
	}
	return "down"
}

const recheckInterval = 30 * time.Second

type Worker struct {
	probeAddr string
	timeout   time.Duration
	log       logger.Logger

	cmds   chan Command
	status chan Status

	last     Status
	reported bool
}

// NewWorker probes probeAddr ("host:port") to decide whether the uplink is
// usable. An empty probe address means connectivity is assumed and Connect
// reports up immediately.
func NewWorker(probeAddr string, timeout time.Duration, log logger.Logger) *Worker {
	if log == nil {
		log = logger.Noop{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Worker{
		probeAddr: probeAddr,
		timeout:   timeout,
		log:       log,
		cmds:      make(chan Command, 4),
		status:    make(chan Status, 4),
	}
}

// Status delivers deduplicated up/down transitions.
func (w *Worker) Status() <-chan Status { return w.status }

// Connect requests association. Non-blocking; a full command queue drops the
// request, the caller retries on its next tick.
func (w *Worker) Connect() { w.enqueue(CmdConnect) }

// Disconnect requests teardown. Non-blocking and idempotent.
func (w *Worker) Disconnect() { w.enqueue(CmdDisconnect) }

func (w *Worker) enqueue(cmd Command) {
	select {
	case w.cmds <- cmd:
	default:
	}
}

// Run owns the blocking work. While up it re-probes periodically so a dead
// uplink is reported without anyone asking.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(recheckInterval)
	defer ticker.Stop()
	wantUp := false
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-w.cmds:
			switch cmd {
			case CmdConnect:
				wantUp = true
				w.report(w.probe(ctx))
			case CmdDisconnect:
				wantUp = false
				w.report(StatusDown)
			}
		case <-ticker.C:
			if !wantUp {
				continue
			}
			w.report(w.probe(ctx))
		}
	}
}

// probe performs the blocking reachability check.
func (w *Worker) probe(ctx context.Context) Status {
	if w.probeAddr == "" {
		return StatusUp
	}
	d := net.Dialer{Timeout: w.timeout}
	conn, err := d.DialContext(ctx, "tcp", w.probeAddr)
	if err != nil {
		w.log.Warn("uplink probe failed", map[string]any{"addr": w.probeAddr, "err": err.Error()})
		return StatusDown
	}
	_ = conn.Close()
	return StatusUp
}

// report forwards a status transition at most once per actual change.
func (w *Worker) report(s Status) {
	if w.reported && w.last == s {
		return
	}
	w.last = s
	w.reported = true
	select {
	case w.status <- s:
	default:
	}
	w.log.Info("uplink status", map[string]any{"status": s.String()})
}
