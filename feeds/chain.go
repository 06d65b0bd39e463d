package feeds

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/copybot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CHAIN RPC CLIENT
// ═══════════════════════════════════════════════════════════════════════════════
//
// JSON-RPC 2.0 over HTTP against a Polygon node. Implements
// types.ChainClient; transactions come back with sender, index and
// calldata so the monitor can filter and decode without extra calls.
//
// ═══════════════════════════════════════════════════════════════════════════════

const rpcCallTimeout = 30 * time.Second

// ChainRPC is an HTTP JSON-RPC chain client. Safe for concurrent use.
type ChainRPC struct {
	url        string
	httpClient *http.Client
	nextID     atomic.Int64
}

// NewChainRPC creates a chain client for the given RPC endpoint.
func NewChainRPC(url string) *ChainRPC {
	return &ChainRPC{
		url:        url,
		httpClient: &http.Client{Timeout: rpcCallTimeout},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// rpcTx is a transaction object as returned by the node.
type rpcTx struct {
	Hash        string `json:"hash"`
	From        string `json:"from"`
	To          string `json:"to"`
	BlockNumber string `json:"blockNumber"`
	TxIndex     string `json:"transactionIndex"`
	Input       string `json:"input"`
	Value       string `json:"value"`
}

type rpcBlock struct {
	Number       string  `json:"number"`
	Timestamp    string  `json:"timestamp"`
	Transactions []rpcTx `json:"transactions"`
}

// ChainID asks the node which chain it serves. Used at startup to catch
// an endpoint pointed at the wrong network.
func (c *ChainRPC) ChainID() (int64, error) {
	var result string
	if err := c.call("eth_chainId", nil, &result); err != nil {
		return 0, err
	}
	id, err := hexutil.DecodeUint64(result)
	if err != nil {
		return 0, err
	}
	return int64(id), nil
}

// GetLatestBlock returns the current chain head number.
func (c *ChainRPC) GetLatestBlock() (uint64, error) {
	var result string
	if err := c.call("eth_blockNumber", nil, &result); err != nil {
		return 0, err
	}
	return hexutil.DecodeUint64(result)
}

// GetTransactions returns all transactions sent by addr in the inclusive
// block range, in chain order.
func (c *ChainRPC) GetTransactions(addr string, fromBlock, toBlock uint64) ([]types.ChainTransaction, error) {
	addr = types.NormalizeAddress(addr)
	var out []types.ChainTransaction

	for n := fromBlock; n <= toBlock; n++ {
		var block rpcBlock
		if err := c.call("eth_getBlockByNumber", []interface{}{hexutil.EncodeUint64(n), true}, &block); err != nil {
			return nil, fmt.Errorf("block %d: %w", n, err)
		}
		ts := hexTime(block.Timestamp)
		for _, tx := range block.Transactions {
			if types.NormalizeAddress(tx.From) != addr {
				continue
			}
			ct, err := convertTx(tx)
			if err != nil {
				continue
			}
			ct.Timestamp = ts
			out = append(out, ct)
		}
	}
	return out, nil
}

// GetTransaction fetches a single transaction by hash. Returns nil for
// unknown or still-pending hashes.
func (c *ChainRPC) GetTransaction(hash string) (*types.ChainTransaction, error) {
	var tx rpcTx
	if err := c.call("eth_getTransactionByHash", []interface{}{hash}, &tx); err != nil {
		return nil, err
	}
	if tx.Hash == "" || tx.BlockNumber == "" {
		return nil, nil
	}
	ct, err := convertTx(tx)
	if err != nil {
		return nil, err
	}
	return &ct, nil
}

func (c *ChainRPC) call(method string, params []interface{}, result interface{}) error {
	id := c.nextID.Add(1)
	if params == nil {
		params = []interface{}{}
	}
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Post(c.url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("%s: decode: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s: rpc error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if result == nil || len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, result)
}

func convertTx(tx rpcTx) (types.ChainTransaction, error) {
	blockNum, err := hexutil.DecodeUint64(tx.BlockNumber)
	if err != nil {
		return types.ChainTransaction{}, err
	}
	txIndex, err := hexutil.DecodeUint64(tx.TxIndex)
	if err != nil {
		return types.ChainTransaction{}, err
	}
	input, err := hexutil.Decode(tx.Input)
	if err != nil {
		input = nil
	}

	value := decimal.Zero
	if v, err := hexutil.DecodeBig(tx.Value); err == nil {
		value = decimal.NewFromBigInt(v, 0)
	}

	return types.ChainTransaction{
		Hash:        tx.Hash,
		From:        types.NormalizeAddress(tx.From),
		To:          types.NormalizeAddress(tx.To),
		BlockNumber: blockNum,
		TxIndex:     uint(txIndex),
		Input:       input,
		Value:       value,
	}, nil
}

func hexTime(hexTS string) time.Time {
	sec, err := hexutil.DecodeUint64(hexTS)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(int64(sec), 0).UTC()
}
