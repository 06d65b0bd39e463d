package ratelimit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/web3guy0/copybot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RATE-LIMITED CLIENTS - Token-bucket wrappers for external APIs
// ═══════════════════════════════════════════════════════════════════════════════
//
// Callers block on token acquisition; nothing is silently dropped.
// Transient failures are retried with exponential backoff before surfacing.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	chainRatePerSec = 5
	orderRatePerSec = 20

	maxRetries   = 3
	retryBaseDur = 500 * time.Millisecond
)

// Transient marks an error as retryable.
type Transient interface {
	Transient() bool
}

func isTransient(err error) bool {
	t, ok := err.(Transient)
	return ok && t.Transient()
}

// withRetry runs fn with exponential backoff on transient errors.
func withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	delay := retryBaseDur
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err = fn(); err == nil || !isTransient(err) {
			return err
		}
		log.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Msg("Transient error, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// ChainClient wraps a types.ChainClient with a 5/s token bucket.
type ChainClient struct {
	inner   types.ChainClient
	limiter *rate.Limiter
	ctx     context.Context
}

// NewChainClient creates the rate-limited blockchain client.
func NewChainClient(ctx context.Context, inner types.ChainClient) *ChainClient {
	return &ChainClient{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(chainRatePerSec), chainRatePerSec),
		ctx:     ctx,
	}
}

func (c *ChainClient) GetLatestBlock() (uint64, error) {
	if err := c.limiter.Wait(c.ctx); err != nil {
		return 0, err
	}
	var block uint64
	err := withRetry(c.ctx, "GetLatestBlock", func() error {
		var e error
		block, e = c.inner.GetLatestBlock()
		return e
	})
	return block, err
}

func (c *ChainClient) GetTransactions(addr string, fromBlock, toBlock uint64) ([]types.ChainTransaction, error) {
	if err := c.limiter.Wait(c.ctx); err != nil {
		return nil, err
	}
	var txs []types.ChainTransaction
	err := withRetry(c.ctx, "GetTransactions", func() error {
		var e error
		txs, e = c.inner.GetTransactions(addr, fromBlock, toBlock)
		return e
	})
	return txs, err
}

func (c *ChainClient) GetTransaction(hash string) (*types.ChainTransaction, error) {
	if err := c.limiter.Wait(c.ctx); err != nil {
		return nil, err
	}
	var tx *types.ChainTransaction
	err := withRetry(c.ctx, "GetTransaction", func() error {
		var e error
		tx, e = c.inner.GetTransaction(hash)
		return e
	})
	return tx, err
}

// OrderClient wraps a types.OrderClient with a 20/s token bucket.
type OrderClient struct {
	inner   types.OrderClient
	limiter *rate.Limiter
	ctx     context.Context
}

// NewOrderClient creates the rate-limited order client.
func NewOrderClient(ctx context.Context, inner types.OrderClient) *OrderClient {
	return &OrderClient{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(orderRatePerSec), orderRatePerSec),
		ctx:     ctx,
	}
}

func (c *OrderClient) PlaceOrder(marketID string, side types.Side, amount, price decimal.Decimal) (*types.OrderResult, error) {
	if err := c.limiter.Wait(c.ctx); err != nil {
		return nil, err
	}
	// Order placement is never auto-retried; a duplicate fill is worse
	// than a missed one.
	return c.inner.PlaceOrder(marketID, side, amount, price)
}

func (c *OrderClient) CancelOrder(orderID string) error {
	if err := c.limiter.Wait(c.ctx); err != nil {
		return err
	}
	return withRetry(c.ctx, "CancelOrder", func() error {
		return c.inner.CancelOrder(orderID)
	})
}

func (c *OrderClient) GetPrice(marketID string) (decimal.Decimal, error) {
	if err := c.limiter.Wait(c.ctx); err != nil {
		return decimal.Zero, err
	}
	var price decimal.Decimal
	err := withRetry(c.ctx, "GetPrice", func() error {
		var e error
		price, e = c.inner.GetPrice(marketID)
		return e
	})
	return price, err
}

func (c *OrderClient) GetBalance() (decimal.Decimal, error) {
	if err := c.limiter.Wait(c.ctx); err != nil {
		return decimal.Zero, err
	}
	var bal decimal.Decimal
	err := withRetry(c.ctx, "GetBalance", func() error {
		var e error
		bal, e = c.inner.GetBalance()
		return e
	})
	return bal, err
}

func (c *OrderClient) HealthCheck() bool {
	if err := c.limiter.Wait(c.ctx); err != nil {
		return false
	}
	return c.inner.HealthCheck()
}
