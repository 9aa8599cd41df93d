// Package gateway adapts the hosted payment gateway: it builds redirect URLs
// for new transactions and verifies the integrity token carried by callbacks.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"

	"github.com/spec-kit/permit-service/internal/config"
)

// ErrIntegrity is returned when a callback token does not match.
var ErrIntegrity = errors.New("gateway: integrity token mismatch")

// RedirectRequest carries what the gateway needs to open a payment session.
type RedirectRequest struct {
	TransactionID string
	Amount        decimal.Decimal
	ReturnURL     string
}

// Callback is the payload the gateway posts back once the user finishes.
type Callback struct {
	TransactionID        string `json:"transactionId"`
	Approved             bool   `json:"approved"`
	GatewayTransactionID string `json:"gatewayTransactionId"`
	CardType             string `json:"cardType,omitempty"`
	IntegrityToken       string `json:"integrityToken"`
}

// Client signs redirects and verifies callbacks with a shared hash key.
type Client struct {
	baseURL    string
	merchantID string
	returnURL  string
	key        []byte
}

// NewClient builds a client from payment configuration.
func NewClient(cfg config.PaymentConfig) (*Client, error) {
	if strings.TrimSpace(cfg.HashKey) == "" {
		return nil, errors.New("gateway: hash key required")
	}
	if len(cfg.HashKey) > blake2b.Size {
		return nil, errors.New("gateway: hash key longer than 64 bytes")
	}
	if _, err := url.Parse(cfg.GatewayURL); err != nil {
		return nil, err
	}
	return &Client{
		baseURL:    cfg.GatewayURL,
		merchantID: cfg.MerchantID,
		returnURL:  cfg.ReturnURL,
		key:        []byte(cfg.HashKey),
	}, nil
}

// CreateRedirect returns the URL the payer is sent to.
func (c *Client) CreateRedirect(ctx context.Context, req RedirectRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.TransactionID == "" {
		return "", errors.New("gateway: transaction id required")
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = c.returnURL
	}
	amount := FormatAmount(req.Amount)

	q := u.Query()
	q.Set("merchantId", c.merchantID)
	q.Set("trnOrderNumber", req.TransactionID)
	q.Set("trnAmount", amount)
	q.Set("approvedPage", returnURL)
	q.Set("declinedPage", returnURL)
	q.Set("hashValue", c.mac(req.TransactionID, amount, returnURL))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Sign computes the integrity token the gateway attaches to a callback for
// the given expected amount.
func (c *Client) Sign(cb Callback, amount decimal.Decimal) string {
	return c.mac(cb.TransactionID, FormatAmount(amount), strconv.FormatBool(cb.Approved), cb.GatewayTransactionID)
}

// Verify checks the callback token against the amount recorded when the
// transaction was started.
func (c *Client) Verify(cb Callback, expectedAmount decimal.Decimal) error {
	expected := c.Sign(cb, expectedAmount)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(cb.IntegrityToken))) != 1 {
		return ErrIntegrity
	}
	return nil
}

func (c *Client) mac(parts ...string) string {
	h, err := blake2b.New256(c.key)
	if err != nil {
		// key length is checked in NewClient
		panic(err)
	}
	h.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h.Sum(nil))
}

// FormatAmount renders an amount with two decimals, as the gateway expects.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}
