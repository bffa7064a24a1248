package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nostriot/internal/logger"
)

// Invoice is the subset of the backend's invoice response the gate needs:
// the correlation key and the payable representation.
type Invoice struct {
	PaymentHash    string `json:"payment_hash"`
	Bolt11         string `json:"bolt11"`
	PaymentRequest string `json:"payment_request"`
}

// Payable returns whichever payable representation the backend filled in.
func (i Invoice) Payable() string {
	if i.Bolt11 != "" {
		return i.Bolt11
	}
	return i.PaymentRequest
}

// InvoiceCreator is the invoice backend contract the gate consumes.
type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, amountSats int64, memo string) (Invoice, error)
}

// LNBitsClient creates invoices against an LNbits instance.
type LNBitsClient struct {
	base       string
	invoiceKey string
	hc         *http.Client
	log        logger.Logger
}

// NewLNBitsClient accepts a bare host (https assumed) or a full base URL,
// which is what lets tests point it at a local server.
func NewLNBitsClient(host, invoiceKey string, log logger.Logger) *LNBitsClient {
	base := host
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	if log == nil {
		log = logger.Noop{}
	}
	return &LNBitsClient{
		base:       strings.TrimRight(base, "/"),
		invoiceKey: invoiceKey,
		hc:         &http.Client{Timeout: 15 * time.Second},
		log:        log,
	}
}

type invoiceRequest struct {
	Unit   string `json:"unit"`
	Out    bool   `json:"out"`
	Amount int64  `json:"amount"`
	Memo   string `json:"memo"`
}

func (c *LNBitsClient) CreateInvoice(ctx context.Context, amountSats int64, memo string) (Invoice, error) {
	if amountSats <= 0 {
		return Invoice{}, fmt.Errorf("invoice amount must be positive, got %d", amountSats)
	}
	body, err := json.Marshal(invoiceRequest{Unit: "sat", Out: false, Amount: amountSats, Memo: memo})
	if err != nil {
		return Invoice{}, err
	}
	endpoint := fmt.Sprintf("%s/api/v1/payments?api-key=%s", c.base, url.QueryEscape(c.invoiceKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Invoice{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return Invoice{}, fmt.Errorf("create invoice: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return Invoice{}, fmt.Errorf("read invoice response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Invoice{}, fmt.Errorf("create invoice: backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var inv Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return Invoice{}, fmt.Errorf("parse invoice response: %w", err)
	}
	if inv.PaymentHash == "" {
		return Invoice{}, fmt.Errorf("invoice response missing payment_hash")
	}
	if inv.Payable() == "" {
		return Invoice{}, fmt.Errorf("invoice response missing bolt11")
	}
	c.log.Debug("invoice created", map[string]any{"payment_hash": inv.PaymentHash, "amount_sats": amountSats})
	return inv, nil
}
