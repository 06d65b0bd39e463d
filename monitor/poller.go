package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/copybot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POLLING TRANSPORT - Fallback when the WebSocket is down
// ═══════════════════════════════════════════════════════════════════════════════

const defaultPollInterval = 15 * time.Second

// Poller scans for wallet transactions by block range at a fixed interval.
// It tracks the last block it has seen so consecutive polls never re-fetch
// the same range.
type Poller struct {
	chain    types.ChainClient
	interval time.Duration

	lastBlock uint64
}

func NewPoller(chain types.ChainClient, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{chain: chain, interval: interval}
}

// Run polls until ctx is cancelled, delivering transactions for addr to
// handle. Transactions arrive in the order the RPC returns them; the wallet
// monitor re-sequences by block and index.
func (p *Poller) Run(ctx context.Context, addr string, handle func(types.ChainTransaction)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(addr, handle)
		}
	}
}

func (p *Poller) pollOnce(addr string, handle func(types.ChainTransaction)) {
	latest, err := p.chain.GetLatestBlock()
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ Poll: latest block unavailable")
		return
	}
	if p.lastBlock == 0 {
		// First poll starts at the tip; history is not replayed.
		p.lastBlock = latest
		return
	}
	if latest <= p.lastBlock {
		return
	}

	txs, err := p.chain.GetTransactions(addr, p.lastBlock+1, latest)
	if err != nil {
		log.Warn().Err(err).Str("wallet", addr).Msg("⚠️ Poll: transaction fetch failed")
		return
	}
	p.lastBlock = latest

	for _, tx := range txs {
		handle(tx)
	}
}
