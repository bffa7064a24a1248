package relay

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"

	"nostriot/internal/clock"
	"nostriot/internal/logger"
	"nostriot/internal/metrics"
)

var (
	// ErrGiveUp surfaces from Tick once the reconnect budget is exhausted.
	// There is no in-process recovery past this point; the daemon exits and
	// is restarted from outside.
	ErrGiveUp = errors.New("relay: reconnect attempts exhausted")

	ErrNotConnected = errors.New("relay: not connected")
)

const (
	frameBuffer   = 64
	eventBuffer   = 16
	subIDLength   = 32
	dialTimeout   = 10 * time.Second
	writeTimeout  = 10 * time.Second
	subIDAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

type sockEventKind int

const (
	sockConnected sockEventKind = iota
	sockFailed
)

// sockEvent carries socket outcomes from dial and read goroutines into the
// tick loop, which is the only place connection state changes.
type sockEvent struct {
	kind sockEventKind
	gen  int
	conn *websocket.Conn
	err  error
}

type Options struct {
	RelayURL  string
	PublicKey string
	Kinds     []int

	Policy            Policy
	PingInterval      time.Duration
	ConnectionTimeout time.Duration

	Clock   clock.Clock
	Logger  logger.Logger
	Metrics metrics.Recorder
}

// Supervisor owns the relay socket lifecycle: connect, health-check,
// disconnect and reconnect-with-backoff. Inbound frames are handed to the
// consumer in arrival order on Frames; state transitions are published on
// StateChanges, deduplicated to one notification per actual transition.
type Supervisor struct {
	policy       Policy
	pingInterval time.Duration
	connTimeout  time.Duration
	clock        clock.Clock
	log          logger.Logger
	rec          metrics.Recorder
	dialer       *websocket.Dialer

	mu   sync.Mutex
	sess Session
	conn *websocket.Conn
	gen  int

	frames  chan []byte
	events  chan sockEvent
	changes chan StateChange

	lastNotified State
	notifiedOnce bool
}

func NewSupervisor(opts Options) *Supervisor {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Noop{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	dialer := &websocket.Dialer{HandshakeTimeout: dialTimeout}
	return &Supervisor{
		policy:       opts.Policy,
		pingInterval: opts.PingInterval,
		connTimeout:  opts.ConnectionTimeout,
		clock:        opts.Clock,
		log:          opts.Logger,
		rec:          opts.Metrics,
		dialer:       dialer,
		sess: Session{
			PublicKey: opts.PublicKey,
			RelayURL:  opts.RelayURL,
			Kinds:     opts.Kinds,
		},
		frames:  make(chan []byte, frameBuffer),
		events:  make(chan sockEvent, eventBuffer),
		changes: make(chan StateChange, eventBuffer),
	}
}

// Frames delivers raw inbound relay frames in arrival order.
func (s *Supervisor) Frames() <-chan []byte { return s.frames }

// StateChanges delivers connection transitions for observers.
func (s *Supervisor) StateChanges() <-chan StateChange { return s.changes }

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.State
}

func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.Attempts
}

// Connect starts an asynchronous dial. It is a no-op while a dial is in
// flight or a connection is up, so callers may invoke it freely.
func (s *Supervisor) Connect() {
	s.mu.Lock()
	if s.sess.State == StateConnecting || s.sess.State == StateConnected || s.sess.State == StateFailed {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateConnecting)
	gen := s.gen
	url := s.sess.RelayURL
	s.mu.Unlock()

	s.log.Info("relay connecting", map[string]any{"url": url, "attempt": s.Attempts() + 1})
	go s.dial(gen, url)
}

func (s *Supervisor) dial(gen int, url string) {
	conn, _, err := s.dialer.Dial(url, nil)
	if err != nil {
		s.pushEvent(sockEvent{kind: sockFailed, gen: gen, err: fmt.Errorf("dial %s: %w", url, err)})
		return
	}
	s.pushEvent(sockEvent{kind: sockConnected, gen: gen, conn: conn})
}

func (s *Supervisor) pushEvent(ev sockEvent) {
	select {
	case s.events <- ev:
	default:
		// Event queue saturated during teardown; the connection is already
		// being replaced, closing is the only safe reaction.
		if ev.conn != nil {
			_ = ev.conn.Close()
		}
	}
}

// Disconnect tears the socket down and returns to Disconnected. Safe from
// any state; calling it twice observes the same result as calling it once.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.gen++
	changed := s.sess.State != StateDisconnected
	if changed {
		s.setStateLocked(StateDisconnected)
	}
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	if changed {
		s.log.Info("relay disconnected", nil)
	}
}

// Tick drives the supervisor: it adopts socket outcomes, enforces the health
// window, emits the transport ping and schedules reconnects. Deterministic
// order within a tick: socket events, health, ping, reconnect.
func (s *Supervisor) Tick(now time.Time) error {
	for draining := true; draining; {
		select {
		case ev := <-s.events:
			s.handleSockEvent(ev, now)
		default:
			draining = false
		}
	}

	s.mu.Lock()
	state := s.sess.State

	// Silence past the health window is a half-open socket; drop it and take
	// the reconnect path even though no socket error arrived.
	if state == StateConnected && s.connTimeout > 0 && now.Sub(s.sess.LastMessage) > s.connTimeout {
		s.mu.Unlock()
		s.log.Warn("relay connection timeout", map[string]any{
			"silent_for": now.Sub(s.lastMessage()).String(),
		})
		s.rec.IncCounter(metrics.HealthTimeouts, nil)
		s.failCurrent(now, errors.New("health window expired"))
		s.mu.Lock()
		state = s.sess.State
	}

	if state == StateConnected && s.pingInterval > 0 && now.Sub(s.sess.LastPing) >= s.pingInterval {
		conn := s.conn
		s.sess.LastPing = now
		s.mu.Unlock()
		if conn != nil {
			deadline := time.Now().Add(writeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.log.Debug("relay ping failed", map[string]any{"err": err.Error()})
			}
		}
		s.mu.Lock()
		state = s.sess.State
	}

	if state == StateReconnecting && !now.Before(s.sess.NextTryAt) {
		s.mu.Unlock()
		s.Connect()
		s.mu.Lock()
		state = s.sess.State
	}
	s.mu.Unlock()

	if state == StateFailed {
		return ErrGiveUp
	}
	return nil
}

func (s *Supervisor) handleSockEvent(ev sockEvent, now time.Time) {
	s.mu.Lock()
	if ev.gen != s.gen {
		s.mu.Unlock()
		if ev.conn != nil {
			_ = ev.conn.Close()
		}
		return
	}
	switch ev.kind {
	case sockConnected:
		s.conn = ev.conn
		s.sess.Attempts = 0
		s.sess.LastMessage = now
		s.sess.LastPing = now
		s.setStateLocked(StateConnected)
		gen := s.gen
		url := s.sess.RelayURL
		s.mu.Unlock()
		go s.readPump(ev.conn, gen)
		if err := s.subscribe(ev.conn); err != nil {
			s.log.Error("relay subscribe failed", map[string]any{"err": err.Error()})
			s.failCurrent(now, err)
			return
		}
		s.log.Info("relay connected", map[string]any{"url": url})
	case sockFailed:
		s.mu.Unlock()
		s.failCurrent(now, ev.err)
	}
}

// failCurrent closes any live socket and either schedules the next attempt
// or, with the budget exhausted, parks the supervisor in Failed.
func (s *Supervisor) failCurrent(now time.Time, cause error) {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.gen++
	if s.sess.State == StateFailed {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	s.sess.Attempts++
	attempt := s.sess.Attempts
	if s.policy.GiveUp(attempt) {
		s.setStateLocked(StateFailed)
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		s.log.Error("relay giving up", map[string]any{"attempts": attempt, "cause": errString(cause)})
		return
	}
	delay := s.policy.NextDelay(attempt)
	s.sess.NextTryAt = now.Add(delay)
	s.setStateLocked(StateReconnecting)
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	s.rec.IncCounter(metrics.Reconnects, nil)
	s.log.Warn("relay reconnect scheduled", map[string]any{
		"attempt": attempt,
		"delay":   delay.String(),
		"cause":   errString(cause),
	})
}

// readPump feeds inbound frames into the frame channel. Only genuine traffic
// refreshes the health window; control pongs are intentionally not counted,
// so a ping with no answer still trips the timeout.
func (s *Supervisor) readPump(conn *websocket.Conn, gen int) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			s.pushEvent(sockEvent{kind: sockFailed, gen: gen, err: fmt.Errorf("read: %w", err)})
			return
		}
		s.touch()
		s.rec.IncCounter(metrics.FramesReceived, nil)
		select {
		case s.frames <- msg:
		default:
			s.rec.IncCounter(metrics.FramesDropped, nil)
			s.log.Warn("relay frame dropped, consumer behind", nil)
		}
	}
}

func (s *Supervisor) touch() {
	now := s.clock.Now()
	s.mu.Lock()
	s.sess.LastMessage = now
	s.mu.Unlock()
}

func (s *Supervisor) lastMessage() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.LastMessage
}

// subscribe requests all future events addressed to the local identity
// within the configured kind set.
func (s *Supervisor) subscribe(conn *websocket.Conn) error {
	subID := randomSubID()
	s.mu.Lock()
	s.sess.SubscriptionID = subID
	kinds := s.sess.Kinds
	pubkey := s.sess.PublicKey
	s.mu.Unlock()

	filter := nostr.Filter{
		Kinds:     kinds,
		Tags:      nostr.TagMap{"p": []string{pubkey}},
		LimitZero: true,
	}
	req, err := json.Marshal([]any{"REQ", subID, filter})
	if err != nil {
		return fmt.Errorf("marshal subscription: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		return fmt.Errorf("send subscription: %w", err)
	}
	s.log.Debug("relay subscription sent", map[string]any{"sub_id": subID, "kinds": kinds})
	return nil
}

// Send writes one frame to the relay. No retry here: a failed send is the
// caller's loss and the reconnect machinery is the only recovery path.
func (s *Supervisor) Send(data []byte) error {
	s.mu.Lock()
	conn := s.conn
	connected := s.sess.State == StateConnected
	s.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("relay send: %w", err)
	}
	return nil
}

// setStateLocked transitions the session and publishes at most one
// notification per actual change. Callers hold s.mu.
func (s *Supervisor) setStateLocked(next State) {
	if s.sess.State == next {
		return
	}
	s.sess.State = next
	if s.notifiedOnce && s.lastNotified == next {
		return
	}
	s.notifiedOnce = true
	s.lastNotified = next
	select {
	case s.changes <- StateChange{State: next, At: s.clock.Now()}:
	default:
	}
}

func randomSubID() string {
	buf := make([]byte, subIDLength)
	if _, err := rand.Read(buf); err != nil {
		// Extremely unlikely; a constant id still works, it is only a local
		// correlation handle.
		return "nostriotsub"
	}
	for i, b := range buf {
		buf[i] = subIDAlphabet[int(b)%len(subIDAlphabet)]
	}
	return string(buf)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
