package payments

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"nostriot/internal/logger"
)

const feedReconnectDelay = 5 * time.Second

// Confirmation is one settled payment observed on the backend feed.
type Confirmation struct {
	PaymentHash string
}

type feedNotification struct {
	Payment struct {
		Status      string `json:"status"`
		PaymentHash string `json:"payment_hash"`
	} `json:"payment"`
}

// Feed maintains the backend's payment-notification socket and forwards
// settled payments into a channel. It is an independent stream with no
// ordering relationship to relay traffic; the gate's keyed lookup is what
// makes that race safe. Reconnects use a fixed short delay, separate from
// the relay's backoff policy.
type Feed struct {
	url    string
	dialer *websocket.Dialer
	out    chan Confirmation
	log    logger.Logger
}

func NewFeed(host, invoiceKey string, log logger.Logger) *Feed {
	base := host
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case !strings.Contains(base, "://"):
		base = "wss://" + base
	}
	if log == nil {
		log = logger.Noop{}
	}
	return &Feed{
		url:    strings.TrimRight(base, "/") + "/api/v1/ws/" + invoiceKey,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		out:    make(chan Confirmation, 16),
		log:    log,
	}
}

// Confirmations delivers settled payments in arrival order.
func (f *Feed) Confirmations() <-chan Confirmation { return f.out }

// Run blocks until ctx is done, redialing the feed whenever it drops.
func (f *Feed) Run(ctx context.Context) {
	for {
		if err := f.readOnce(ctx); err != nil {
			f.log.Warn("payment feed disconnected", map[string]any{"err": err.Error()})
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(feedReconnectDelay):
		}
	}
}

func (f *Feed) readOnce(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	f.log.Info("payment feed connected", nil)

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		hash, ok := parseConfirmation(msg)
		if !ok {
			continue
		}
		select {
		case f.out <- Confirmation{PaymentHash: hash}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// parseConfirmation extracts the payment hash from a settled-payment
// notification. Anything that is not a success event is ignored.
func parseConfirmation(msg []byte) (string, bool) {
	var n feedNotification
	if err := json.Unmarshal(msg, &n); err != nil {
		return "", false
	}
	if n.Payment.Status != "success" || n.Payment.PaymentHash == "" {
		return "", false
	}
	return n.Payment.PaymentHash, true
}
