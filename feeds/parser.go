package feeds

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/copybot/monitor"
	"github.com/web3guy0/copybot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXCHANGE CALLDATA PARSER
// ═══════════════════════════════════════════════════════════════════════════════
//
// Decodes CTF exchange fill calls into detected trades. The order struct
// is ABI-encoded as a dynamic tuple; fields are read by 32-byte word
// offset, no generated bindings needed.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Exchange contract on Polygon.
const CTFExchangeAddress = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"

// ABI function selectors.
const (
	fillOrderSelector   = "\xd2\x53\x9b\x37" // fillOrder((uint256,address,address,address,uint256,uint256,uint256,uint256,uint256,uint256,uint8,uint8,bytes),uint256)
	matchOrdersSelector = "\xe6\x0f\x0c\x05" // matchOrders(order,orders[],uint256,uint256[])
)

// Order tuple word indexes, relative to the tuple start.
const (
	wordMaker       = 1
	wordTokenID     = 4
	wordMakerAmount = 5
	wordTakerAmount = 6
	wordSide        = 10
)

var usdcUnit = decimal.New(1, 6) // collateral has 6 decimals

// NewTradeParser returns a parser recognizing fills sent to the given
// exchange contract. An empty address means the default exchange.
func NewTradeParser(exchangeAddr string) monitor.TradeParser {
	if exchangeAddr == "" {
		exchangeAddr = CTFExchangeAddress
	}
	exchange := types.NormalizeAddress(exchangeAddr)

	return func(tx types.ChainTransaction) (types.DetectedTrade, bool) {
		if types.NormalizeAddress(tx.To) != exchange {
			return types.DetectedTrade{}, false
		}
		if len(tx.Input) < 4 {
			return types.DetectedTrade{}, false
		}

		selector := string(tx.Input[:4])
		if selector != fillOrderSelector && selector != matchOrdersSelector {
			return types.DetectedTrade{}, false
		}

		args := tx.Input[4:]
		// First head word is the offset of the (dynamic) order tuple.
		tupleOff, ok := wordUint64(args, 0)
		if !ok || tupleOff%32 != 0 {
			return types.DetectedTrade{}, false
		}
		tuple := int(tupleOff) / 32

		tokenID, ok1 := word(args, tuple+wordTokenID)
		makerAmt, ok2 := word(args, tuple+wordMakerAmount)
		takerAmt, ok3 := word(args, tuple+wordTakerAmount)
		sideWord, ok4 := wordUint64(args, tuple+wordSide)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return types.DetectedTrade{}, false
		}

		maker := decimal.NewFromBigInt(makerAmt, 0)
		taker := decimal.NewFromBigInt(takerAmt, 0)
		if maker.IsZero() || taker.IsZero() {
			return types.DetectedTrade{}, false
		}

		// BUY: maker pays collateral for outcome tokens. SELL: the reverse.
		var side types.Side
		var amountUSD, price decimal.Decimal
		switch sideWord {
		case 0:
			side = types.SideBuy
			amountUSD = maker.Div(usdcUnit)
			price = maker.Div(taker)
		case 1:
			side = types.SideSell
			amountUSD = taker.Div(usdcUnit)
			price = taker.Div(maker)
		default:
			return types.DetectedTrade{}, false
		}
		if price.LessThanOrEqual(decimal.Zero) || price.GreaterThan(decimal.NewFromInt(1)) {
			return types.DetectedTrade{}, false
		}

		id := tokenID.String()
		ts := tx.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}

		return types.DetectedTrade{
			TxHash:        tx.Hash,
			BlockNumber:   tx.BlockNumber,
			TxIndex:       tx.TxIndex,
			Timestamp:     ts,
			WalletAddress: tx.From,
			MarketID:      id,
			Side:          side,
			Amount:        amountUSD.RoundBank(2),
			Price:         price.Round(6),
			TokenID:       id,
			Confidence:    1.0,
		}, true
	}
}

// word returns the i-th 32-byte argument word as a big.Int.
func word(args []byte, i int) (*big.Int, bool) {
	start := i * 32
	if start < 0 || start+32 > len(args) {
		return nil, false
	}
	return new(big.Int).SetBytes(args[start : start+32]), true
}

func wordUint64(args []byte, i int) (uint64, bool) {
	w, ok := word(args, i)
	if !ok || !w.IsUint64() {
		return 0, false
	}
	return w.Uint64(), true
}
