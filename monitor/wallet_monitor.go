package monitor

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/copybot/cache"
	"github.com/web3guy0/copybot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WALLET MONITOR - Real-time trade detection per wallet
// ═══════════════════════════════════════════════════════════════════════════════
//
// Two transports operate in sequence, never in parallel: WebSocket first,
// polling after the reconnect budget is spent. While polling, the WebSocket
// is probed and the monitor switches back once a connection holds.
//
// A bounded FIFO set of processed tx hashes guarantees at-most-once
// detection per transaction regardless of transport switches.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	dedupCapacity = 10_000
	wsProbeEvery  = 60 * time.Second
	wsProbeHold   = 30 * time.Second
)

// TradeParser decodes a raw transaction into a detected trade. Returns
// false for transactions that are not market trades.
type TradeParser func(tx types.ChainTransaction) (types.DetectedTrade, bool)

// TradeCallback receives each detected trade exactly once, in on-chain
// order for this wallet.
type TradeCallback func(trade types.DetectedTrade)

// WalletMonitor watches a single wallet address.
type WalletMonitor struct {
	wallet   string
	wsURL    string
	chain    types.ChainClient
	parser   TradeParser
	callback TradeCallback

	poller *Poller
	seen   *cache.FIFOSet

	// trades flow through a single dispatch goroutine so the callback
	// observes them serially and in order
	dispatchCh chan types.DetectedTrade

	fallbackActivations atomic.Int64
	polling             atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWalletMonitor builds a monitor. pollInterval <= 0 uses the default 15s.
func NewWalletMonitor(wallet, wsURL string, chain types.ChainClient, pollInterval time.Duration, parser TradeParser, cb TradeCallback) *WalletMonitor {
	return &WalletMonitor{
		wallet:     types.NormalizeAddress(wallet),
		wsURL:      wsURL,
		chain:      chain,
		parser:     parser,
		callback:   cb,
		poller:     NewPoller(chain, pollInterval),
		seen:       cache.NewFIFOSet(dedupCapacity),
		dispatchCh: make(chan types.DetectedTrade, 256),
	}
}

// FallbackActivations counts transitions from WebSocket to polling.
func (m *WalletMonitor) FallbackActivations() int64 {
	return m.fallbackActivations.Load()
}

// Polling reports whether the monitor is currently in fallback mode.
func (m *WalletMonitor) Polling() bool {
	return m.polling.Load()
}

// Start launches the transport loop and the dispatch goroutine.
func (m *WalletMonitor) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel

	m.wg.Add(2)
	go m.dispatchLoop(ctx)
	go m.transportLoop(ctx)

	log.Info().Str("wallet", m.wallet).Msg("👁️ Wallet monitor started")
}

// Stop cancels background tasks and waits for them. Honors the shutdown
// budget because all blocking points select on the context.
func (m *WalletMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	log.Info().Str("wallet", m.wallet).Msg("Wallet monitor stopped")
}

func (m *WalletMonitor) transportLoop(ctx context.Context) {
	defer m.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		m.polling.Store(false)
		m.runWebSocket(ctx)
		if ctx.Err() != nil {
			return
		}

		// WebSocket gave up: fall back to polling and probe for recovery.
		m.fallbackActivations.Add(1)
		m.polling.Store(true)
		log.Warn().
			Str("wallet", m.wallet).
			Int64("fallback_activations", m.fallbackActivations.Load()).
			Msg("🔄 Switching wallet monitor to polling")

		m.runPollingUntilRecovery(ctx)
	}
}

// runWebSocket consumes the event stream until the client exhausts its
// reconnect budget or the context is cancelled.
func (m *WalletMonitor) runWebSocket(ctx context.Context) {
	ws := NewWSClient(m.wsURL, []string{m.wallet})
	ws.Start()
	defer ws.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ws.Events():
			if !ok {
				return // reconnect budget exhausted
			}
			if event.IsNewHead || event.TxHash == "" {
				continue
			}
			m.handleTxHash(ctx, event.TxHash)
		}
	}
}

// runPollingUntilRecovery polls at the configured interval while probing
// the WebSocket. Returns when a probe connection holds or ctx is done.
func (m *WalletMonitor) runPollingUntilRecovery(ctx context.Context) {
	pollCtx, stopPolling := context.WithCancel(ctx)
	defer stopPolling()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.poller.Run(pollCtx, m.wallet, func(tx types.ChainTransaction) {
			m.handleTx(tx)
		})
	}()

	probe := time.NewTicker(wsProbeEvery)
	defer probe.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-probe.C:
			if m.probeWebSocket(ctx) {
				log.Info().Str("wallet", m.wallet).Msg("📡 WebSocket recovered, leaving polling mode")
				return
			}
		}
	}
}

// probeWebSocket dials a throwaway connection and requires it to hold for a
// health cycle before declaring recovery.
func (m *WalletMonitor) probeWebSocket(ctx context.Context) bool {
	ws := NewWSClient(m.wsURL, []string{m.wallet})
	ws.Start()
	defer ws.Stop()

	deadline := time.NewTimer(wsProbeHold)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case _, ok := <-ws.Events():
			if !ok {
				return false
			}
			// traffic during the hold period is fine, keep waiting
		case <-deadline.C:
			return ws.Connected()
		}
	}
}

// handleTxHash resolves a pending-transaction hash into a full transaction.
func (m *WalletMonitor) handleTxHash(ctx context.Context, hash string) {
	if ctx.Err() != nil {
		return
	}
	tx, err := m.chain.GetTransaction(hash)
	if err != nil {
		log.Debug().Err(err).Str("tx", hash).Msg("Pending tx lookup failed")
		return
	}
	if tx == nil {
		return
	}
	m.handleTx(*tx)
}

// handleTx filters, dedups, parses, and enqueues a transaction. Safe to
// call from any transport; the FIFO set makes detection at-most-once.
func (m *WalletMonitor) handleTx(tx types.ChainTransaction) {
	if types.NormalizeAddress(tx.From) != m.wallet {
		return
	}
	if m.seen.Seen(tx.Hash) {
		return
	}

	trade, ok := m.parser(tx)
	if !ok {
		return
	}
	trade.WalletAddress = m.wallet
	trade.TxHash = tx.Hash
	trade.BlockNumber = tx.BlockNumber
	trade.TxIndex = tx.TxIndex

	select {
	case m.dispatchCh <- trade:
	default:
		log.Warn().Str("wallet", m.wallet).Msg("⚠️ Trade dispatch queue full, dropping detection")
	}
}

// dispatchLoop drains the queue and invokes the callback serially. Trades
// available in the same drain are re-sequenced by block then tx index so
// the per-wallet on-chain order holds across transports.
func (m *WalletMonitor) dispatchLoop(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case first := <-m.dispatchCh:
			batch := []types.DetectedTrade{first}
			for drained := false; !drained; {
				select {
				case next := <-m.dispatchCh:
					batch = append(batch, next)
				default:
					drained = true
				}
			}
			sort.SliceStable(batch, func(i, j int) bool {
				if batch[i].BlockNumber != batch[j].BlockNumber {
					return batch[i].BlockNumber < batch[j].BlockNumber
				}
				return batch[i].TxIndex < batch[j].TxIndex
			})
			for _, trade := range batch {
				m.callback(trade)
			}
		}
	}
}
