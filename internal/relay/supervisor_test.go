package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"nostriot/internal/testutil"
)

// fakeRelay is a minimal relay endpoint: it accepts the upgrade, records
// every frame the supervisor writes and lets tests inject inbound frames.
type fakeRelay struct {
	t      *testing.T
	srv    *httptest.Server
	frames chan []byte

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	fr := &fakeRelay{t: t, frames: make(chan []byte, 16)}
	upgrader := websocket.Upgrader{}
	fr.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fr.mu.Lock()
		fr.conns = append(fr.conns, conn)
		fr.mu.Unlock()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case fr.frames <- msg:
			default:
			}
		}
	}))
	t.Cleanup(fr.srv.Close)
	return fr
}

func (fr *fakeRelay) url() string {
	return "ws" + strings.TrimPrefix(fr.srv.URL, "http")
}

func (fr *fakeRelay) send(t *testing.T, frame string) {
	t.Helper()
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if len(fr.conns) == 0 {
		t.Fatalf("no relay connection to send on")
	}
	conn := fr.conns[len(fr.conns)-1]
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("relay send: %v", err)
	}
}

func newTestSupervisor(url string) *Supervisor {
	return NewSupervisor(Options{
		RelayURL:  url,
		PublicKey: strings.Repeat("ab", 32),
		Kinds:     []int{24133},
		Policy:    Policy{Base: 10 * time.Millisecond, MaxShift: 2, MaxAttempts: 3},
	})
}

func tickUntilConnected(t *testing.T, sup *Supervisor) {
	t.Helper()
	testutil.Eventually(t, 2*time.Second, func() bool {
		if err := sup.Tick(time.Now()); err != nil {
			t.Fatalf("tick: %v", err)
		}
		return sup.State() == StateConnected
	})
}

func TestSupervisorConnectsAndSubscribes(t *testing.T) {
	fr := newFakeRelay(t)
	sup := newTestSupervisor(fr.url())
	defer sup.Disconnect()

	sup.Connect()
	tickUntilConnected(t, sup)
	if sup.Attempts() != 0 {
		t.Fatalf("attempts not reset on connect: %d", sup.Attempts())
	}

	var raw []byte
	testutil.WithTimeout(t, 2*time.Second, func() { raw = <-fr.frames })
	var req []json.RawMessage
	if err := json.Unmarshal(raw, &req); err != nil || len(req) != 3 {
		t.Fatalf("malformed subscription frame: %s", raw)
	}
	var label, subID string
	if err := json.Unmarshal(req[0], &label); err != nil || label != "REQ" {
		t.Fatalf("expected REQ frame, got %s", raw)
	}
	if err := json.Unmarshal(req[1], &subID); err != nil || len(subID) != subIDLength {
		t.Fatalf("unexpected subscription id: %s", req[1])
	}
	var filter map[string]any
	if err := json.Unmarshal(req[2], &filter); err != nil {
		t.Fatalf("malformed filter: %v", err)
	}
	if _, ok := filter["kinds"]; !ok {
		t.Fatalf("filter missing kinds: %s", req[2])
	}
	if _, ok := filter["#p"]; !ok {
		t.Fatalf("filter missing #p tag: %s", req[2])
	}
}

func TestSupervisorDeliversInboundFrames(t *testing.T) {
	fr := newFakeRelay(t)
	sup := newTestSupervisor(fr.url())
	defer sup.Disconnect()

	sup.Connect()
	tickUntilConnected(t, sup)

	fr.send(t, `["NOTICE","hello"]`)
	var got []byte
	testutil.WithTimeout(t, 2*time.Second, func() { got = <-sup.Frames() })
	if string(got) != `["NOTICE","hello"]` {
		t.Fatalf("unexpected frame: %s", got)
	}
}

func TestSupervisorSendRequiresConnection(t *testing.T) {
	sup := newTestSupervisor("ws://127.0.0.1:9")
	if err := sup.Send([]byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestSupervisorGivesUpAfterBudget(t *testing.T) {
	// Port 9 (discard) is assumed closed; every dial fails fast.
	sup := NewSupervisor(Options{
		RelayURL:  "ws://127.0.0.1:9",
		PublicKey: strings.Repeat("ab", 32),
		Kinds:     []int{24133},
		Policy:    Policy{Base: time.Millisecond, MaxShift: 1, MaxAttempts: 2},
	})
	sup.Connect()

	var tickErr error
	testutil.Eventually(t, 5*time.Second, func() bool {
		tickErr = sup.Tick(time.Now())
		return tickErr != nil
	})
	if !errors.Is(tickErr, ErrGiveUp) {
		t.Fatalf("expected ErrGiveUp, got %v", tickErr)
	}
	if sup.State() != StateFailed {
		t.Fatalf("expected Failed state, got %v", sup.State())
	}
	// Failed is terminal; further ticks keep reporting it.
	if err := sup.Tick(time.Now()); !errors.Is(err, ErrGiveUp) {
		t.Fatalf("Failed state did not stick: %v", err)
	}
}

func TestSupervisorDisconnectIdempotent(t *testing.T) {
	fr := newFakeRelay(t)
	sup := newTestSupervisor(fr.url())

	sup.Connect()
	tickUntilConnected(t, sup)

	sup.Disconnect()
	if sup.State() != StateDisconnected {
		t.Fatalf("expected Disconnected, got %v", sup.State())
	}
	sup.Disconnect()
	if sup.State() != StateDisconnected {
		t.Fatalf("second disconnect changed state: %v", sup.State())
	}
}

func TestSupervisorHealthWindowForcesReconnect(t *testing.T) {
	fr := newFakeRelay(t)
	sup := NewSupervisor(Options{
		RelayURL:          fr.url(),
		PublicKey:         strings.Repeat("ab", 32),
		Kinds:             []int{24133},
		Policy:            Policy{Base: time.Minute, MaxShift: 2, MaxAttempts: 5},
		ConnectionTimeout: 50 * time.Millisecond,
	})
	defer sup.Disconnect()

	sup.Connect()
	tickUntilConnected(t, sup)

	// Well past the health window with no inbound traffic.
	if err := sup.Tick(time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := sup.State(); got != StateReconnecting {
		t.Fatalf("expected Reconnecting after silence, got %v", got)
	}
	if sup.Attempts() != 1 {
		t.Fatalf("expected one failed attempt, got %d", sup.Attempts())
	}
}

func TestSupervisorStateChangeNotifications(t *testing.T) {
	fr := newFakeRelay(t)
	sup := newTestSupervisor(fr.url())
	defer sup.Disconnect()

	sup.Connect()
	tickUntilConnected(t, sup)

	want := []State{StateConnecting, StateConnected}
	for _, w := range want {
		var got StateChange
		testutil.WithTimeout(t, 2*time.Second, func() { got = <-sup.StateChanges() })
		if got.State != w {
			t.Fatalf("unexpected transition: got %v want %v", got.State, w)
		}
	}
}
