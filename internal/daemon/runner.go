// Package daemon assembles the signer from its parts and owns the single
// tick loop through which all dispatch state changes flow.
package daemon

import (
	"context"
	"fmt"
	"time"

	"nostriot/internal/clock"
	"nostriot/internal/config"
	"nostriot/internal/logger"
	"nostriot/internal/metrics"
	"nostriot/internal/payments"
	"nostriot/internal/provider"
	"nostriot/internal/relay"
	"nostriot/internal/rpc"
	"nostriot/internal/signer"
	"nostriot/internal/uplink"
)

const tickInterval = 250 * time.Millisecond

// Runner wires the supervisor, the dispatcher and the payment gate together.
// All mutable dispatch state (gate contents, sweep and report timers, link
// state) is owned by the loop in Run; collaborator goroutines reach it only
// through channels.
type Runner struct {
	cfg config.Config
	log logger.Logger
	rec metrics.Recorder
	clk clock.Clock

	keys     *signer.KeySigner
	sup      *relay.Supervisor
	parser   *rpc.Parser
	router   *rpc.Router
	encoder  *rpc.Encoder
	gate     *payments.Gate
	pricer   *payments.Pricer
	invoices payments.InvoiceCreator
	feed     *payments.Feed
	link     *uplink.Worker

	linkUp     bool
	lastSweep  time.Time
	lastReport time.Time
}

// Option customizes a Runner without widening NewRunner's signature.
type Option func(*Runner)

func WithLogger(l logger.Logger) Option {
	return func(r *Runner) { r.log = l }
}

func WithMetrics(rec metrics.Recorder) Option {
	return func(r *Runner) { r.rec = rec }
}

func WithClock(c clock.Clock) Option {
	return func(r *Runner) { r.clk = c }
}

// WithInvoiceCreator overrides the LNbits-backed default, which is what lets
// tests gate requests without a payment backend.
func WithInvoiceCreator(ic payments.InvoiceCreator) Option {
	return func(r *Runner) { r.invoices = ic }
}

func NewRunner(cfg config.Config, providers []provider.Provider, opts ...Option) (*Runner, error) {
	r := &Runner{
		cfg: cfg,
		log: logger.Noop{},
		rec: metrics.Noop{},
		clk: clock.System{},
	}
	for _, opt := range opts {
		opt(r)
	}

	keys, err := signer.New(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	r.keys = keys

	r.sup = relay.NewSupervisor(relay.Options{
		RelayURL:  cfg.RelayURL,
		PublicKey: keys.PublicKey(),
		Kinds:     cfg.EventKinds,
		Policy: relay.Policy{
			Base:        cfg.ReconnectBase.Std(),
			MaxShift:    cfg.ReconnectMaxShift,
			MaxAttempts: cfg.ReconnectMaxAttempts,
		},
		PingInterval:      cfg.PingInterval.Std(),
		ConnectionTimeout: cfg.ConnectionTimeout.Std(),
		Clock:             r.clk,
		Logger:            r.log,
		Metrics:           r.rec,
	})

	r.parser = rpc.NewParser(keys.PublicKey(), keys, r.log, r.rec)
	r.router = rpc.NewRouter(r.log, r.rec)
	rpc.RegisterBuiltins(r.router, rpc.BuiltinOptions{
		Capability:    keys,
		Authorized:    cfg.ClientAuthorized,
		ConnectSecret: cfg.ConnectSecret,
	})
	r.encoder = rpc.NewEncoder(keys, r.sup.Send, r.clk, r.log, r.rec)

	r.gate = payments.NewGate(cfg.QueueCapacity, cfg.PaymentTimeout.Std(), r.log, r.rec)
	r.pricer = payments.NewPricer()
	for _, p := range providers {
		r.mount(p)
	}

	if cfg.PaymentsEnabled() {
		if r.invoices == nil {
			r.invoices = payments.NewLNBitsClient(cfg.LNBitsHost, cfg.LNBitsInvoiceKey, r.log)
		}
		r.feed = payments.NewFeed(cfg.LNBitsHost, cfg.LNBitsInvoiceKey, r.log)
	}

	r.link = uplink.NewWorker(cfg.UplinkProbeAddr, cfg.UplinkTimeout.Std(), r.log)
	return r, nil
}

// mount registers a capability provider's methods on the router and its
// prices on the pricer. Provider methods may shadow built-ins; built-ins are
// never priced.
func (r *Runner) mount(p provider.Provider) {
	for _, method := range p.Capabilities() {
		m := method
		r.router.Register(m, func(_ context.Context, env *rpc.Envelope) (string, error) {
			if !r.cfg.ClientAuthorized(env.Sender) {
				return "", fmt.Errorf("unauthorized")
			}
			return p.Handle(m, env.Params)
		})
		r.pricer.Set(m, p.PriceOf)
	}
}

// PublicKey returns the signer identity, hex encoded.
func (r *Runner) PublicKey() string { return r.keys.PublicKey() }

// Supervisor exposes the relay supervisor for observers.
func (r *Runner) Supervisor() *relay.Supervisor { return r.sup }

// Run blocks until ctx is done or the supervisor gives up. A returned
// relay.ErrGiveUp means the process should exit and let the host restart it.
func (r *Runner) Run(ctx context.Context) error {
	go r.link.Run(ctx)
	if r.feed != nil {
		go r.feed.Run(ctx)
	}
	r.link.Connect()

	now := r.clk.Now()
	r.lastSweep = now
	r.lastReport = now

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.sup.Disconnect()
			return ctx.Err()
		case <-ticker.C:
			if err := r.Tick(ctx); err != nil {
				return err
			}
		}
	}
}

// Tick runs one pass of the loop in its fixed order: uplink transitions,
// supervisor housekeeping, queue sweep, inbound frames, then confirmations.
// Split out from Run so tests can drive it with a fake clock.
func (r *Runner) Tick(ctx context.Context) error {
	now := r.clk.Now()

	r.drainLink()

	if r.linkUp {
		if err := r.sup.Tick(now); err != nil {
			return err
		}
	}

	if r.cfg.SweepInterval.Std() > 0 && now.Sub(r.lastSweep) >= r.cfg.SweepInterval.Std() {
		r.gate.Sweep(now)
		r.lastSweep = now
	}

	for draining := true; draining; {
		select {
		case frame := <-r.sup.Frames():
			r.handleFrame(ctx, frame, now)
		default:
			draining = false
		}
	}

	if r.feed != nil {
		for draining := true; draining; {
			select {
			case conf := <-r.feed.Confirmations():
				r.handleConfirmation(ctx, conf)
			default:
				draining = false
			}
		}
	}

	if r.cfg.StatusReportInterval.Std() > 0 && now.Sub(r.lastReport) >= r.cfg.StatusReportInterval.Std() {
		r.report()
		r.lastReport = now
	}
	return nil
}

// drainLink applies uplink transitions: up triggers the relay connect, down
// force-disconnects so the supervisor does not burn its reconnect budget
// while there is no network underneath it.
func (r *Runner) drainLink() {
	for draining := true; draining; {
		select {
		case st := <-r.link.Status():
			r.rec.IncCounter(metrics.UplinkTransitions, map[string]string{"type": st.String()})
			if st == uplink.StatusUp {
				r.linkUp = true
				r.sup.Connect()
			} else {
				r.linkUp = false
				r.sup.Disconnect()
			}
		default:
			draining = false
		}
	}
}

// handleFrame parses, prices and either dispatches immediately or parks the
// request behind an invoice. Requests that fail parsing were already dropped
// by the parser with no reply owed.
func (r *Runner) handleFrame(ctx context.Context, frame []byte, now time.Time) {
	env, ok := r.parser.Parse(frame)
	if !ok {
		return
	}

	price := r.pricer.Price(env.Method, env.Params)
	if price > 0 && r.invoices != nil {
		r.enqueuePaid(ctx, env, price, now)
		return
	}

	res := r.router.Dispatch(ctx, env)
	_ = r.encoder.Respond(env, res)
}

// enqueuePaid creates the invoice and parks the request. The requester gets
// no reply until the payment confirms; the invoice travels out of band and
// is logged for the operator.
func (r *Runner) enqueuePaid(ctx context.Context, env *rpc.Envelope, price int64, now time.Time) {
	inv, err := r.invoices.CreateInvoice(ctx, price, env.Method)
	if err != nil {
		r.log.Error("invoice creation failed", map[string]any{"method": env.Method, "err": err.Error()})
		_ = r.encoder.Respond(env, rpc.Result{ID: env.ID, Err: "payment backend unavailable"})
		return
	}
	r.rec.IncCounter(metrics.InvoicesCreated, map[string]string{"method": env.Method})
	if r.gate.Enqueue(&payments.Pending{
		PaymentHash: inv.PaymentHash,
		Envelope:    env,
		Bolt11:      inv.Payable(),
	}, now) {
		r.log.Info("payment required", map[string]any{
			"method":       env.Method,
			"amount_sats":  price,
			"payment_hash": inv.PaymentHash,
			"bolt11":       inv.Payable(),
		})
	}
}

// handleConfirmation resumes the parked request for a settled payment.
// Confirmations with no pending entry are already counted by the gate.
func (r *Runner) handleConfirmation(ctx context.Context, conf payments.Confirmation) {
	pending, ok := r.gate.Confirm(conf.PaymentHash)
	if !ok {
		return
	}
	res := r.router.Dispatch(ctx, pending.Envelope)
	_ = r.encoder.Respond(pending.Envelope, res)
}

// report logs one status snapshot: connection state and what is parked.
func (r *Runner) report() {
	r.log.Info("status", map[string]any{
		"relay_state":     r.sup.State().String(),
		"attempts":        r.sup.Attempts(),
		"link_up":         r.linkUp,
		"pending":         r.gate.Len(),
		"pending_hashes":  r.gate.Hashes(),
		"payments_active": r.feed != nil,
	})
}
