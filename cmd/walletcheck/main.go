// Walletcheck - offline quality report for a single wallet
//
// Pulls the wallet's trade history from the data API and prints the
// same score, red flags and tier the live cohort selection would use.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/copybot/feeds"
	"github.com/web3guy0/copybot/quality"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: walletcheck <wallet-address>")
		os.Exit(1)
	}
	wallet := os.Args[1]

	lb := feeds.NewLeaderboard(os.Getenv("DATA_API_URL"))
	data, err := lb.WalletData(wallet)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error fetching wallet history:", err)
		os.Exit(1)
	}

	detector := quality.NewDetector(quality.DefaultWashParams(), nil)
	engine := quality.NewEngine(quality.NewScorer(10), detector, quality.NewAnalyzer(),
		decimal.NewFromInt(5000), func() bool { return false })

	cs := engine.Compose(data.Address, data)
	if cs == nil {
		fmt.Println("❌ Wallet could not be scored (insufficient history)")
		os.Exit(1)
	}

	fmt.Printf("📊 WALLET QUALITY REPORT - %s\n\n", data.Address)
	fmt.Printf("  Trades:       %d (win rate %.1f%%)\n", data.TradeCount, data.WinRate*100)
	fmt.Printf("  ROI 30d:      %.1f%%\n", data.ROI30d*100)
	fmt.Printf("  Composite:    %.2f / 10\n", cs.Composite)
	fmt.Printf("  Confidence:   %.2f\n", cs.Confidence)
	fmt.Printf("  Tier:         %s\n\n", quality.TierOf(cs.ComponentScores["quality"]))

	excl := detector.Detect(data.Address, data)
	if len(excl.Flags) == 0 {
		fmt.Println("  ✅ No red flags")
		return
	}
	fmt.Printf("  🚩 %d red flags:\n", len(excl.Flags))
	for _, f := range excl.Flags {
		fmt.Printf("    [%s] %s: %s\n", f.Severity, f.Type, f.Description)
	}
	if excl.IsExcluded {
		fmt.Printf("\n  ❌ Wallet would be EXCLUDED: %s\n", excl.ExclusionReason)
	}
}
