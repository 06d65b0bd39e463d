package feeds

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/web3guy0/copybot/cache"
	"github.com/web3guy0/copybot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD FEED
// ═══════════════════════════════════════════════════════════════════════════════
//
// Pulls the profit leaderboard and per-wallet trade history from the
// market data API and folds the history into WalletData snapshots.
// Snapshots are cached for an hour so cohort refreshes stay cheap.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	defaultDataAPI    = "https://data-api.polymarket.com"
	walletDataTTL     = time.Hour
	walletCacheSize   = 500
	tradeHistoryLimit = 500
)

// Leaderboard serves wallet rankings and performance snapshots.
type Leaderboard struct {
	baseURL    string
	httpClient *http.Client
	snapshots  *cache.BoundedCache[*types.WalletData]
}

// NewLeaderboard creates a leaderboard feed. An empty baseURL means the
// default data API.
func NewLeaderboard(baseURL string) *Leaderboard {
	if baseURL == "" {
		baseURL = defaultDataAPI
	}
	return &Leaderboard{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		snapshots:  cache.New[*types.WalletData](walletCacheSize, walletDataTTL),
	}
}

type leaderboardEntry struct {
	ProxyWallet string  `json:"proxyWallet"`
	Amount      float64 `json:"amount"`
}

// apiTrade is one row of the wallet trade history.
type apiTrade struct {
	Asset     string  `json:"asset"`
	Category  string  `json:"eventCategory"`
	Side      string  `json:"side"`
	Size      float64 `json:"size"`  // dollars
	Price     float64 `json:"price"` // 0..1
	Timestamp int64   `json:"timestamp"`
	PnL       float64 `json:"pnl"`
	Resolved  bool    `json:"resolved"`
	Won       bool    `json:"won"`
}

// TopWallets returns up to limit wallet addresses ranked by 30-day profit.
func (l *Leaderboard) TopWallets(limit int) ([]string, error) {
	var entries []leaderboardEntry
	path := fmt.Sprintf("/leaderboard?window=30d&rankType=profit&limit=%d", limit)
	if err := l.getJSON(path, &entries); err != nil {
		return nil, fmt.Errorf("leaderboard fetch: %w", err)
	}

	wallets := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.ProxyWallet == "" {
			continue
		}
		wallets = append(wallets, types.NormalizeAddress(e.ProxyWallet))
	}
	log.Debug().Int("count", len(wallets)).Msg("Leaderboard refreshed")
	return wallets, nil
}

// WalletData returns the performance snapshot for one wallet, cached up
// to an hour.
func (l *Leaderboard) WalletData(wallet string) (*types.WalletData, error) {
	wallet = types.NormalizeAddress(wallet)
	if cached, ok := l.snapshots.Get(wallet); ok {
		return cached, nil
	}

	var rows []apiTrade
	path := fmt.Sprintf("/trades?user=%s&limit=%d", url.QueryEscape(wallet), tradeHistoryLimit)
	if err := l.getJSON(path, &rows); err != nil {
		return nil, fmt.Errorf("wallet history fetch: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no trade history for %s", wallet)
	}

	data := buildWalletData(wallet, rows)
	l.snapshots.Set(wallet, data)
	return data, nil
}

// Invalidate drops a cached snapshot so the next read refetches.
func (l *Leaderboard) Invalidate(wallet string) {
	l.snapshots.Delete(types.NormalizeAddress(wallet))
}

// Cleanup evicts expired snapshots.
func (l *Leaderboard) Cleanup() int {
	return l.snapshots.Cleanup()
}

func (l *Leaderboard) getJSON(path string, out interface{}) error {
	resp, err := l.httpClient.Get(l.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// buildWalletData folds raw history rows into the snapshot the quality
// pipeline consumes. Rows may arrive in any order.
func buildWalletData(wallet string, rows []apiTrade) *types.WalletData {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp < rows[j].Timestamp })

	now := time.Now().UTC()
	cutoff30d := now.Add(-30 * 24 * time.Hour)

	var (
		samples    = make([]types.TradeSample, 0, len(rows))
		categories = make(map[string]int)
		returns    []float64

		resolved, wins            int
		grossWin, grossLoss       decimal.Decimal
		invested30d, pnl30d       decimal.Decimal
		cumPnL, peakPnL, maxDraw  float64
		totalSize, maxSize        decimal.Decimal
		holdBuckets               = make(map[string]time.Time) // asset -> last buy
		holdTotal  time.Duration
		holdCount  int
	)

	for _, r := range rows {
		ts := time.Unix(r.Timestamp, 0).UTC()
		size := decimal.NewFromFloat(r.Size)
		side := types.SideBuy
		if r.Side == "SELL" {
			side = types.SideSell
		}
		cat := r.Category
		if cat == "" {
			cat = "Other"
		}
		categories[cat]++

		samples = append(samples, types.TradeSample{
			Timestamp: ts,
			MarketID:  r.Asset,
			Category:  cat,
			Side:      side,
			Amount:    size,
			Price:     decimal.NewFromFloat(r.Price),
			Won:       r.Won,
			Resolved:  r.Resolved,
			PnL:       decimal.NewFromFloat(r.PnL),
		})

		totalSize = totalSize.Add(size)
		if size.GreaterThan(maxSize) {
			maxSize = size
		}

		// Hold time from buy to the next sell of the same token.
		if side == types.SideBuy {
			holdBuckets[r.Asset] = ts
		} else if opened, ok := holdBuckets[r.Asset]; ok {
			holdTotal += ts.Sub(opened)
			holdCount++
			delete(holdBuckets, r.Asset)
		}

		if !r.Resolved {
			continue
		}
		resolved++
		if r.Won {
			wins++
		}
		if r.PnL >= 0 {
			grossWin = grossWin.Add(decimal.NewFromFloat(r.PnL))
		} else {
			grossLoss = grossLoss.Add(decimal.NewFromFloat(-r.PnL))
		}
		if r.Size > 0 {
			returns = append(returns, r.PnL/r.Size)
		}
		if ts.After(cutoff30d) {
			invested30d = invested30d.Add(size)
			pnl30d = pnl30d.Add(decimal.NewFromFloat(r.PnL))
		}

		cumPnL += r.PnL
		if cumPnL > peakPnL {
			peakPnL = cumPnL
		}
		if dd := peakPnL - cumPnL; dd > maxDraw {
			maxDraw = dd
		}
	}

	data := &types.WalletData{
		Address:        wallet,
		CreatedAt:      time.Unix(rows[0].Timestamp, 0).UTC(),
		TradeCount:     len(rows),
		CategoryCounts: categories,
		MaxPositionSize: maxSize,
		Trades:         samples,
	}
	if resolved > 0 {
		data.WinRate = float64(wins) / float64(resolved)
	}
	if len(rows) > 0 {
		data.AvgPositionSize = totalSize.Div(decimal.NewFromInt(int64(len(rows))))
	}
	if !invested30d.IsZero() {
		roi, _ := pnl30d.Div(invested30d).Float64()
		data.ROI30d = roi
	}
	if !grossLoss.IsZero() {
		pf, _ := grossWin.Div(grossLoss).Float64()
		data.ProfitFactor = pf
	} else if !grossWin.IsZero() {
		data.ProfitFactor = 10 // no losing trades on record
	}
	if peakPnL > 0 {
		data.MaxDrawdown = maxDraw / peakPnL
	}
	if len(returns) >= 2 {
		mean, std := stat.MeanStdDev(returns, nil)
		data.Volatility = std
		data.ProfitPerTrade = mean
		if std > 0 {
			data.SharpeRatio = mean / std
		}
	}
	if holdCount > 0 {
		data.AvgHoldTime = holdTotal / time.Duration(holdCount)
	}
	return data
}
