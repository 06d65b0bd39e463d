package exec

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/copybot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ORDER EXECUTION CLIENT
// ═══════════════════════════════════════════════════════════════════════════════
//
// REST client for the exchange CLOB API. Orders are keccak-signed with the
// wallet key; request auth is HMAC-SHA256 over timestamp+method+path.
// In dry-run mode nothing leaves the process.
//
// ═══════════════════════════════════════════════════════════════════════════════

const defaultCLOBEndpoint = "https://clob.polymarket.com"

// Rejection kinds surfaced to callers. Matched with errors.Is.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSlippageExceeded    = errors.New("slippage exceeded")
	ErrMarketClosed        = errors.New("market closed")
)

// apiError classifies a CLOB failure for the retrying wrapper.
type apiError struct {
	msg       string
	transient bool
}

func (e *apiError) Error() string   { return e.msg }
func (e *apiError) Transient() bool { return e.transient }

// classifyRejection maps an API rejection message onto an error kind.
func classifyRejection(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "balance") || strings.Contains(lower, "allowance"):
		return fmt.Errorf("order rejected: %s: %w", msg, ErrInsufficientBalance)
	case strings.Contains(lower, "slippage") || strings.Contains(lower, "price moved"):
		return fmt.Errorf("order rejected: %s: %w", msg, ErrSlippageExceeded)
	case strings.Contains(lower, "closed") || strings.Contains(lower, "resolved"):
		return fmt.Errorf("order rejected: %s: %w", msg, ErrMarketClosed)
	default:
		return fmt.Errorf("order rejected: %s", msg)
	}
}

// Options configures the execution client.
type Options struct {
	BaseURL    string // empty means the default CLOB endpoint
	PrivateKey string // 0x-prefixed hex, optional in dry-run
	APIKey     string
	APISecret  string
	Passphrase string
	DryRun     bool
}

// Client talks to the CLOB order API. Implements types.OrderClient.
type Client struct {
	baseURL    string
	privateKey *ecdsa.PrivateKey
	address    string
	apiKey     string
	apiSecret  string
	passphrase string
	dryRun     bool
	httpClient *http.Client

	simBalance decimal.Decimal
}

// NewClient creates the execution client. A private key is required
// outside dry-run.
func NewClient(opts Options) (*Client, error) {
	c := &Client{
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		apiSecret:  opts.APISecret,
		passphrase: opts.Passphrase,
		dryRun:     opts.DryRun,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		simBalance: decimal.NewFromInt(10000),
	}
	if c.baseURL == "" {
		c.baseURL = defaultCLOBEndpoint
	}

	if opts.PrivateKey != "" {
		pk, err := crypto.HexToECDSA(trimHexPrefix(opts.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		c.privateKey = pk
		c.address = crypto.PubkeyToAddress(pk.PublicKey).Hex()
	} else if !opts.DryRun {
		return nil, fmt.Errorf("private key required outside dry-run")
	}

	mode := "DRY RUN"
	if !c.dryRun {
		mode = "LIVE"
	}
	log.Info().
		Str("mode", mode).
		Str("address", c.address).
		Str("endpoint", c.baseURL).
		Msg("🚀 Execution client initialized")

	return c, nil
}

// PlaceOrder submits a marketable limit order sized in dollars.
func (c *Client) PlaceOrder(marketID string, side types.Side, amount, price decimal.Decimal) (*types.OrderResult, error) {
	if c.dryRun {
		orderID := fmt.Sprintf("DRY_%d", time.Now().UnixNano())
		log.Info().
			Str("order_id", orderID).
			Str("market", marketID).
			Str("side", string(side)).
			Str("amount", amount.StringFixed(2)).
			Str("price", price.StringFixed(4)).
			Msg("📝 DRY RUN: Order would be placed")
		return &types.OrderResult{OrderID: orderID, FilledAmount: amount, Status: "FILLED"}, nil
	}

	order := map[string]interface{}{
		"market":        marketID,
		"price":         price.String(),
		"size":          amount.String(),
		"side":          string(side),
		"type":          "FOK",
		"expiration":    time.Now().Add(24 * time.Hour).Unix(),
		"nonce":         time.Now().UnixNano(),
		"feeRateBps":    "0",
		"signatureType": 2,
	}

	signature, err := c.signOrder(order)
	if err != nil {
		return nil, fmt.Errorf("signing failed: %w", err)
	}
	order["signature"] = signature

	resp, err := c.post("/order", order)
	if err != nil {
		return nil, err
	}

	var result struct {
		OrderID string `json:"orderID"`
		Status  string `json:"status"`
		Matched string `json:"makingAmount"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("parse order response: %w", err)
	}
	if result.Error != "" {
		return nil, classifyRejection(result.Error)
	}

	filled := amount
	if result.Matched != "" {
		if m, err := decimal.NewFromString(result.Matched); err == nil {
			filled = m
		}
	}

	log.Info().
		Str("order_id", result.OrderID).
		Str("status", result.Status).
		Str("market", marketID).
		Msg("✅ Order placed")

	return &types.OrderResult{OrderID: result.OrderID, FilledAmount: filled, Status: result.Status}, nil
}

// CancelOrder cancels an open order.
func (c *Client) CancelOrder(orderID string) error {
	if c.dryRun {
		log.Info().Str("order_id", orderID).Msg("📝 DRY RUN: Order would be cancelled")
		return nil
	}
	_, err := c.delete("/order/" + orderID)
	return err
}

// GetPrice returns the current midpoint for a market.
func (c *Client) GetPrice(marketID string) (decimal.Decimal, error) {
	resp, err := c.get("/midpoint?market=" + marketID)
	if err != nil {
		return decimal.Zero, err
	}
	var result struct {
		Mid string `json:"mid"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return decimal.Zero, fmt.Errorf("parse midpoint: %w", err)
	}
	mid, err := decimal.NewFromString(result.Mid)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad midpoint %q: %w", result.Mid, err)
	}
	return mid, nil
}

// GetBalance returns the collateral balance. Dry-run reports a simulated
// balance so sizing stays exercised.
func (c *Client) GetBalance() (decimal.Decimal, error) {
	if c.dryRun {
		return c.simBalance, nil
	}

	resp, err := c.get("/balance")
	if err != nil {
		return decimal.Zero, err
	}
	var result struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return decimal.Zero, err
	}
	balance, err := decimal.NewFromString(result.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad balance %q: %w", result.Balance, err)
	}
	return balance, nil
}

// HealthCheck probes the API time endpoint.
func (c *Client) HealthCheck() bool {
	if c.dryRun {
		return true
	}
	_, err := c.get("/time")
	return err == nil
}

// IsDryRun reports whether orders are simulated.
func (c *Client) IsDryRun() bool {
	return c.dryRun
}

// Address returns the signing address, empty when no key is loaded.
func (c *Client) Address() string {
	return c.address
}

// ── HTTP helpers ─────────────────────────────────────────────────────────────

func (c *Client) get(path string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.addHeaders(req, nil)
	return c.doRequest(req)
}

func (c *Client) post(path string, body interface{}) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req, jsonBody)
	return c.doRequest(req)
}

func (c *Client) delete(path string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.addHeaders(req, nil)
	return c.doRequest(req)
}

func (c *Client) addHeaders(req *http.Request, body []byte) {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())

	req.Header.Set("POLY_API_KEY", c.apiKey)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_PASSPHRASE", c.passphrase)

	if c.apiSecret != "" {
		message := timestamp + req.Method + req.URL.Path
		if len(body) > 0 {
			message += string(body)
		}
		req.Header.Set("POLY_SIGNATURE", c.hmacSign(message))
	}
}

func (c *Client) doRequest(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &apiError{msg: err.Error(), transient: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &apiError{msg: err.Error(), transient: true}
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &apiError{
			msg:       fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)),
			transient: true,
		}
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// ── Signing ──────────────────────────────────────────────────────────────────

func (c *Client) signOrder(order map[string]interface{}) (string, error) {
	if c.privateKey == nil {
		return "", fmt.Errorf("private key not loaded")
	}
	orderBytes, err := json.Marshal(order)
	if err != nil {
		return "", err
	}
	hash := crypto.Keccak256(orderBytes)
	sig, err := crypto.Sign(hash, c.privateKey)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

func (c *Client) hmacSign(message string) string {
	secret, err := base64.URLEncoding.DecodeString(c.apiSecret)
	if err != nil {
		secret = []byte(c.apiSecret)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}
