package bitcoin

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/txscript"
	"go.uber.org/zap"

	"github.com/rawblock/pattern-engine/internal/engine"
	"github.com/rawblock/pattern-engine/pkg/models"
)

var ErrUnsupportedChain = errors.New("unsupported blockchain")

const (
	pageSize = 100
	maxPages = 50
)

// rpcAPI is the slice of rpcclient.Client the history provider needs.
type rpcAPI interface {
	GetBlockCount() (int64, error)
	SearchRawTransactionsVerbose(address btcutil.Address, skip, count int, includePrevOut, reverse bool, filterAddrs []string) ([]*btcjson.SearchRawTransactionsResult, error)
	Shutdown()
}

type Config struct {
	Host    string
	User    string
	Pass    string
	Network string // mainnet, testnet3, signet, regtest
}

// Client reads address histories from a node with the address index enabled
// (btcd --addrindex), via searchrawtransactions.
type Client struct {
	rpc    rpcAPI
	params *chaincfg.Params
	logger *zap.Logger
	now    func() time.Time
}

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	params, err := NetworkParams(cfg.Network)
	if err != nil {
		return nil, err
	}

	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}

	logger = logger.Named("bitcoin")
	logger.Info("connecting to bitcoin RPC", zap.String("host", cfg.Host), zap.String("network", params.Name))
	rpc, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("rpc client: %w", err)
	}

	height, err := rpc.GetBlockCount()
	if err != nil {
		rpc.Shutdown()
		return nil, fmt.Errorf("verify rpc connection: %w", err)
	}
	logger.Info("connected to bitcoin node", zap.Int64("height", height))

	return newClient(rpc, params, logger), nil
}

func newClient(rpc rpcAPI, params *chaincfg.Params, logger *zap.Logger) *Client {
	return &Client{rpc: rpc, params: params, logger: logger, now: time.Now}
}

func (c *Client) Shutdown() {
	c.rpc.Shutdown()
}

// NetworkParams maps a network name to its chain parameters.
func NetworkParams(name string) (*chaincfg.Params, error) {
	switch strings.ToLower(name) {
	case "", "mainnet", "main":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	}
	return nil, fmt.Errorf("unknown bitcoin network %q", name)
}

// GetTransactionHistory pages newest-first through the address index until
// it passes the start of the window. Each transaction becomes one transfer
// per counterparty: outgoing spends yield one entry per non-change output,
// incoming payments one entry with the summed value.
func (c *Client) GetTransactionHistory(ctx context.Context, address, blockchain string, timeRangeHours float64) ([]models.Transaction, error) {
	switch strings.ToLower(blockchain) {
	case "", "bitcoin", "btc":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedChain, blockchain)
	}

	addr, err := btcutil.DecodeAddress(address, c.params)
	if err != nil || !addr.IsForNet(c.params) {
		return nil, fmt.Errorf("%w: %s", engine.ErrInvalidAddress, address)
	}

	tip, err := c.rpc.GetBlockCount()
	if err != nil {
		return nil, fmt.Errorf("get block count: %w", err)
	}

	now := c.now().UTC()
	cutoff := now.Add(-time.Duration(timeRangeHours * float64(time.Hour)))

	var out []models.Transaction
	for page := 0; page < maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		results, err := c.rpc.SearchRawTransactionsVerbose(addr, page*pageSize, pageSize, true, true, nil)
		if err != nil {
			// btcd reports an empty index range as an error.
			var rpcErr *btcjson.RPCError
			if errors.As(err, &rpcErr) && rpcErr.Code == btcjson.ErrRPCNoTxInfo {
				break
			}
			return nil, fmt.Errorf("searchrawtransactions %s: %w", address, err)
		}
		if len(results) == 0 {
			break
		}

		reachedCutoff := false
		for _, raw := range results {
			ts := txTime(raw, now)
			if ts.Before(cutoff) {
				reachedCutoff = true
				continue
			}
			out = append(out, c.toTransfers(raw, address, ts, tip)...)
		}
		if reachedCutoff || len(results) < pageSize {
			break
		}
	}

	c.logger.Debug("history fetched",
		zap.String("address", address),
		zap.Int("transfers", len(out)),
		zap.Float64("hours", timeRangeHours))
	return out, nil
}

func (c *Client) toTransfers(raw *btcjson.SearchRawTransactionsResult, address string, ts time.Time, tip int64) []models.Transaction {
	if _, err := chainhash.NewHashFromStr(raw.Txid); err != nil {
		c.logger.Warn("skipping transaction with malformed txid", zap.String("txid", raw.Txid))
		return nil
	}

	var height int64
	if raw.Confirmations > 0 {
		height = tip - int64(raw.Confirmations) + 1
	}

	spends := false
	firstInput := ""
	for _, vin := range raw.Vin {
		if vin.PrevOut == nil {
			continue
		}
		for _, a := range vin.PrevOut.Addresses {
			if firstInput == "" {
				firstInput = a
			}
			if a == address {
				spends = true
			}
		}
	}

	base := models.Transaction{
		Hash:        raw.Txid,
		Address:     address,
		Timestamp:   ts,
		Blockchain:  "bitcoin",
		BlockNumber: height,
	}

	if spends {
		var out []models.Transaction
		for _, vout := range raw.Vout {
			dest := c.outputAddress(vout)
			if dest == "" || dest == address {
				continue
			}
			t := base
			t.Sender = address
			t.Recipient = dest
			t.Amount = vout.Value
			out = append(out, t)
		}
		return out
	}

	received := 0.0
	for _, vout := range raw.Vout {
		if c.outputAddress(vout) == address {
			received += vout.Value
		}
	}
	if received == 0 {
		return nil
	}
	t := base
	t.Sender = firstInput
	t.Recipient = address
	t.Amount = received
	return []models.Transaction{t}
}

// outputAddress prefers the node-reported address and falls back to
// decoding the script.
func (c *Client) outputAddress(vout btcjson.Vout) string {
	if len(vout.ScriptPubKey.Addresses) > 0 {
		return vout.ScriptPubKey.Addresses[0]
	}
	script, err := hex.DecodeString(vout.ScriptPubKey.Hex)
	if err != nil {
		return ""
	}
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, c.params)
	if err != nil || len(addrs) == 0 {
		return ""
	}
	return addrs[0].EncodeAddress()
}

func txTime(raw *btcjson.SearchRawTransactionsResult, now time.Time) time.Time {
	switch {
	case raw.Blocktime > 0:
		return time.Unix(raw.Blocktime, 0).UTC()
	case raw.Time > 0:
		return time.Unix(raw.Time, 0).UTC()
	default:
		// Unconfirmed.
		return now
	}
}

