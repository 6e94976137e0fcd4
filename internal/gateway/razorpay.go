package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/domain"
	"github.com/shopspring/decimal"
)

const defaultBaseURL = "https://api.razorpay.com/v1"

// RazorpayClient talks to the Razorpay Orders API. A client with empty
// credentials is valid but reports every call as gateway-unavailable, which
// is what triggers the simulated fallback.
type RazorpayClient struct {
	keyID     string
	keySecret string
	BaseURL   string
	httpc     *http.Client
}

func NewRazorpayClient(keyID, keySecret string) *RazorpayClient {
	return &RazorpayClient{
		keyID:     keyID,
		keySecret: keySecret,
		BaseURL:   defaultBaseURL,
		httpc:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *RazorpayClient) Configured() bool {
	return c.keyID != "" && c.keySecret != ""
}

func (c *RazorpayClient) KeyID() string {
	return c.keyID
}

type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// CreateOrder opens a payment order for the given amount. Amount is in
// currency units; the wire format wants the smallest subunit (paise).
func (c *RazorpayClient) CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string) (Order, error) {
	if !c.Configured() {
		return Order{}, errors.Wrap(domain.ErrGatewayUnavailable, "razorpay credentials not set")
	}

	payload, err := json.Marshal(map[string]interface{}{
		"amount":          amount.Mul(decimal.NewFromInt(100)).IntPart(),
		"currency":        currency,
		"receipt":         receipt,
		"payment_capture": 1,
	})
	if err != nil {
		return Order{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/orders", bytes.NewReader(payload))
	if err != nil {
		return Order{}, err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Order{}, errors.Wrap(domain.ErrGatewayUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Order{}, errors.Wrapf(domain.ErrGatewayUnavailable, "razorpay order: status %d", resp.StatusCode)
	}

	var order Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return Order{}, errors.Wrap(domain.ErrGatewayUnavailable, err.Error())
	}
	return order, nil
}

// VerifyProof checks the checkout signature: HMAC-SHA256 over
// "orderID|paymentID" keyed with the secret, hex encoded.
func (c *RazorpayClient) VerifyProof(p domain.SettlementProof) error {
	if c.keySecret == "" {
		return errors.Wrap(domain.ErrGatewayUnavailable, "razorpay credentials not set")
	}
	if p.OrderID == "" || p.PaymentID == "" || p.Signature == "" {
		return errors.Wrap(domain.ErrVerificationFailed, "incomplete settlement proof")
	}

	mac := hmac.New(sha256.New, []byte(c.keySecret))
	mac.Write([]byte(p.OrderID + "|" + p.PaymentID))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(p.Signature)) {
		return errors.Wrap(domain.ErrVerificationFailed, "signature mismatch")
	}
	return nil
}
