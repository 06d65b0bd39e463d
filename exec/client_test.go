package exec

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/copybot/types"
)

func TestDryRunNeverTouchesTheNetwork(t *testing.T) {
	c, err := NewClient(Options{DryRun: true})
	require.NoError(t, err)

	result, err := c.PlaceOrder("market-1", types.SideBuy,
		decimal.NewFromInt(50), decimal.NewFromFloat(0.45))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.OrderID, "DRY_"))
	assert.Equal(t, "FILLED", result.Status)

	require.NoError(t, c.CancelOrder(result.OrderID))
	assert.True(t, c.HealthCheck())

	balance, err := c.GetBalance()
	require.NoError(t, err)
	assert.True(t, balance.IsPositive())
}

func TestNewClientRequiresKeyOutsideDryRun(t *testing.T) {
	_, err := NewClient(Options{DryRun: false})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private key")

	c, err := NewClient(Options{
		DryRun:     false,
		PrivateKey: "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(c.Address(), "0x"))
}

func TestClassifyRejection(t *testing.T) {
	cases := []struct {
		msg  string
		want error
	}{
		{"not enough balance / allowance", ErrInsufficientBalance},
		{"order price moved beyond slippage tolerance", ErrSlippageExceeded},
		{"market is closed", ErrMarketClosed},
		{"market already resolved", ErrMarketClosed},
	}
	for _, tc := range cases {
		err := classifyRejection(tc.msg)
		assert.True(t, errors.Is(err, tc.want), tc.msg)
	}

	err := classifyRejection("something unexpected")
	assert.False(t, errors.Is(err, ErrInsufficientBalance))
	assert.Contains(t, err.Error(), "something unexpected")
}

func TestTransientClassification(t *testing.T) {
	transient := &apiError{msg: "HTTP 503", transient: true}
	assert.True(t, transient.Transient())

	var err error = transient
	type transientErr interface{ Transient() bool }
	te, ok := err.(transientErr)
	require.True(t, ok)
	assert.True(t, te.Transient())
}
