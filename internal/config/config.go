// Package config holds the configuration surface consumed by the signer
// daemon. Values come from defaults, then an optional JSON file, then
// environment overrides, and are validated as one unit before anything is
// constructed from them.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Duration is a time.Duration that unmarshals from JSON strings like "90s".
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	RelayURL          string   `json:"relay_url" validate:"required,startswith=ws"`
	PrivateKey        string   `json:"private_key" validate:"required,len=64,hexadecimal"`
	AuthorizedClients []string `json:"authorized_clients" validate:"dive,len=64,hexadecimal"`
	ConnectSecret     string   `json:"connect_secret"`
	EventKinds        []int    `json:"event_kinds" validate:"min=1,dive,gt=0"`

	ReconnectBase        Duration `json:"reconnect_base"`
	ReconnectMaxAttempts int      `json:"reconnect_max_attempts" validate:"gt=0"`
	ReconnectMaxShift    int      `json:"reconnect_max_shift" validate:"gte=0,lte=30"`
	PingInterval         Duration `json:"ping_interval"`
	ConnectionTimeout    Duration `json:"connection_timeout"`

	LNBitsHost       string   `json:"lnbits_host"`
	LNBitsInvoiceKey string   `json:"lnbits_invoice_key"`
	QueueCapacity    int      `json:"queue_capacity" validate:"gt=0"`
	PaymentTimeout   Duration `json:"payment_timeout"`
	SweepInterval    Duration `json:"sweep_interval"`

	UplinkProbeAddr string   `json:"uplink_probe_addr"`
	UplinkTimeout   Duration `json:"uplink_timeout"`

	StatusReportInterval Duration `json:"status_report_interval"`
	LogLevel             string   `json:"log_level" validate:"oneof=debug info warn error"`
	MetricsAddr          string   `json:"metrics_addr"`
}

// Default mirrors the firmware constants: 5s reconnect base capped at 32x,
// 10 attempts before giving up, 90s silence window, queue of 5 pending
// payments expiring after 5 minutes with a 30s sweep.
func Default() Config {
	return Config{
		EventKinds:           []int{24133},
		ReconnectBase:        Duration(5 * time.Second),
		ReconnectMaxAttempts: 10,
		ReconnectMaxShift:    5,
		PingInterval:         Duration(30 * time.Second),
		ConnectionTimeout:    Duration(90 * time.Second),
		QueueCapacity:        5,
		PaymentTimeout:       Duration(5 * time.Minute),
		SweepInterval:        Duration(30 * time.Second),
		UplinkTimeout:        Duration(10 * time.Second),
		StatusReportInterval: Duration(60 * time.Second),
		LogLevel:             "info",
	}
}

// Load reads the optional file at path, applies environment overrides and
// validates. An empty path skips the file step.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v, ok := envStr("NOSTRIOT_RELAY_URL"); ok {
		c.RelayURL = v
	}
	if v, ok := envStr("NOSTRIOT_PRIVATE_KEY"); ok {
		c.PrivateKey = v
	}
	if v, ok := envStr("NOSTRIOT_LNBITS_HOST"); ok {
		c.LNBitsHost = v
	}
	if v, ok := envStr("NOSTRIOT_LNBITS_INVOICE_KEY"); ok {
		c.LNBitsInvoiceKey = v
	}
	if v, ok := envStr("NOSTRIOT_METRICS_ADDR"); ok {
		c.MetricsAddr = v
	}
	if v, ok := envStr("NOSTRIOT_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := envInt("NOSTRIOT_QUEUE_CAPACITY"); ok && v > 0 {
		c.QueueCapacity = v
	}
	if v, ok := envInt("NOSTRIOT_MAX_RECONNECT_ATTEMPTS"); ok && v > 0 {
		c.ReconnectMaxAttempts = v
	}
	if v, ok := envInt("NOSTRIOT_RECONNECT_BASE_MS"); ok && v > 0 {
		c.ReconnectBase = Duration(time.Duration(v) * time.Millisecond)
	}
	if v, ok := envInt("NOSTRIOT_CONNECTION_TIMEOUT_SEC"); ok && v > 0 {
		c.ConnectionTimeout = Duration(time.Duration(v) * time.Second)
	}
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.PaymentsEnabled() && c.LNBitsInvoiceKey == "" {
		return fmt.Errorf("invalid config: lnbits_host set without lnbits_invoice_key")
	}
	return nil
}

// PaymentsEnabled reports whether a payment backend is configured. Without
// one every method is dispatched as free.
func (c Config) PaymentsEnabled() bool {
	return c.LNBitsHost != ""
}

// ClientAuthorized reports whether pubkey may talk to this signer. An empty
// allowlist authorizes everyone.
func (c Config) ClientAuthorized(pubkey string) bool {
	if len(c.AuthorizedClients) == 0 {
		return true
	}
	for _, allowed := range c.AuthorizedClients {
		if strings.EqualFold(allowed, pubkey) {
			return true
		}
	}
	return false
}

func envStr(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func envInt(key string) (int, bool) {
	v, ok := envStr(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
