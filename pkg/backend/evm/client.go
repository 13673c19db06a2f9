// Package evm submits orders to the Standard exchange contract as Somnia
// transactions. One transaction per order on the individual path; the
// batched path packs every order call into a single multicall transaction,
// which is the batched blockchain submission the dispatcher prefers.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/nikolaydubina/fpdecimal"
	"github.com/rs/zerolog"

	"github.com/erain9/batchingo/pkg/backend/standard"
	"github.com/erain9/batchingo/pkg/core"
)

const exchangeABIJSON = `[
	{"type":"function","name":"limitBuy","stateMutability":"nonpayable","inputs":[{"name":"base","type":"address"},{"name":"quote","type":"address"},{"name":"price","type":"uint256"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"limitSell","stateMutability":"nonpayable","inputs":[{"name":"base","type":"address"},{"name":"quote","type":"address"},{"name":"price","type":"uint256"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"marketBuy","stateMutability":"nonpayable","inputs":[{"name":"base","type":"address"},{"name":"quote","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"marketSell","stateMutability":"nonpayable","inputs":[{"name":"base","type":"address"},{"name":"quote","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"cancelOrder","stateMutability":"nonpayable","inputs":[{"name":"base","type":"address"},{"name":"quote","type":"address"},{"name":"orderRef","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"multicall","stateMutability":"nonpayable","inputs":[{"name":"data","type":"bytes[]"}],"outputs":[]}
]`

const erc20ABIJSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// Node is the subset of the Ethereum RPC client the backend needs.
// *ethclient.Client satisfies it; tests plug in a recorder.
type Node interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config selects the deployment and key material for the EVM backend
type Config struct {
	Domain         standard.Domain
	PrivateKey     string
	RPCURL         string // overrides the domain default when set
	Exchange       string // overrides the domain default when set
	GasPrice       int64
	GasLimitOrder  uint64
	GasLimitCancel uint64
}

// Client signs and submits Standard exchange transactions
type Client struct {
	node      Node
	key       *ecdsa.PrivateKey
	address   common.Address
	chainID   *big.Int
	exchange  common.Address
	domain    standard.Domain
	signer    types.Signer
	gasPrice  *big.Int
	gasOrder  uint64
	gasCancel uint64
	exABI     abi.ABI
	ercABI    abi.ABI
	logger    zerolog.Logger

	// nonceMu serializes nonce acquisition and transaction send, the way
	// the exchange contract expects strictly increasing nonces per key.
	nonceMu sync.Mutex
}

// Capability assertions: the EVM backend supports batched submission.
var (
	_ core.OrderSubmitter = (*Client)(nil)
	_ core.BatchSubmitter = (*Client)(nil)
	_ core.OrderCanceler  = (*Client)(nil)
)

// NewClient creates a client over an existing node connection
func NewClient(cfg Config, node Node, logger zerolog.Logger) (*Client, error) {
	domainCfg, err := standard.Lookup(cfg.Domain)
	if err != nil {
		return nil, err
	}

	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	exABI, err := abi.JSON(strings.NewReader(exchangeABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse exchange abi: %w", err)
	}
	ercABI, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}

	exchange := domainCfg.ExchangeAddress
	if cfg.Exchange != "" {
		exchange = cfg.Exchange
	}
	if !core.ValidAddress(exchange) {
		return nil, fmt.Errorf("%w: exchange address %q", core.ErrInvalidArgument, exchange)
	}

	gasPrice := cfg.GasPrice
	if gasPrice <= 0 {
		gasPrice = standard.DefaultGasPrice
	}
	gasOrder := cfg.GasLimitOrder
	if gasOrder == 0 {
		gasOrder = standard.DefaultGasLimitOrder
	}
	gasCancel := cfg.GasLimitCancel
	if gasCancel == 0 {
		gasCancel = standard.DefaultGasLimitCancel
	}

	chainID := big.NewInt(domainCfg.ChainID)
	return &Client{
		node:      node,
		key:       key,
		address:   ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID:   chainID,
		exchange:  common.HexToAddress(exchange),
		domain:    cfg.Domain,
		signer:    types.NewEIP155Signer(chainID),
		gasPrice:  big.NewInt(gasPrice),
		gasOrder:  gasOrder,
		gasCancel: gasCancel,
		exABI:     exABI,
		ercABI:    ercABI,
		logger:    logger.With().Str("component", "evm").Str("domain", string(cfg.Domain)).Logger(),
	}, nil
}

// Dial connects to the domain's RPC endpoint and creates a client
func Dial(ctx context.Context, cfg Config, logger zerolog.Logger) (*Client, error) {
	domainCfg, err := standard.Lookup(cfg.Domain)
	if err != nil {
		return nil, err
	}

	url := domainCfg.RPCURL
	if cfg.RPCURL != "" {
		url = cfg.RPCURL
	}

	node, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	return NewClient(cfg, node, logger)
}

// Address returns the submitting account address
func (c *Client) Address() string {
	return c.address.Hex()
}

// packOrderCall encodes one order request as exchange calldata
func (c *Client) packOrderCall(req *core.OrderRequest) ([]byte, error) {
	baseSym, quoteSym, err := standard.SplitPair(req.Symbol())
	if err != nil {
		return nil, err
	}
	base, err := c.tokenAddress(baseSym)
	if err != nil {
		return nil, err
	}
	quote, err := c.tokenAddress(quoteSym)
	if err != nil {
		return nil, err
	}

	baseTok, _ := standard.TokenInfo(c.domain, baseSym)
	amount, err := toUnits(req.Quantity(), baseTok.Decimals)
	if err != nil {
		return nil, fmt.Errorf("quantity %s: %w", req.Quantity(), err)
	}

	switch req.Kind() {
	case core.KindLimit:
		price, perr := toUnits(req.Price(), standard.ContractPriceDecimals)
		if perr != nil {
			return nil, fmt.Errorf("price %s: %w", req.Price(), perr)
		}
		if req.Side() == core.Buy {
			return c.exABI.Pack("limitBuy", base, quote, price, amount)
		}
		return c.exABI.Pack("limitSell", base, quote, price, amount)
	case core.KindMarket:
		if req.Side() == core.Buy {
			return c.exABI.Pack("marketBuy", base, quote, amount)
		}
		return c.exABI.Pack("marketSell", base, quote, amount)
	default:
		return nil, fmt.Errorf("%w: order kind %q", core.ErrInvalidArgument, req.Kind())
	}
}

func (c *Client) tokenAddress(symbol string) (common.Address, error) {
	tok, ok := standard.TokenInfo(c.domain, symbol)
	if !ok || tok.Address == "" {
		return common.Address{}, fmt.Errorf("no contract address for token %q on %s", symbol, c.domain)
	}
	return common.HexToAddress(tok.Address), nil
}

// sendTx signs and submits calldata to the exchange contract, returning
// the transaction hash. Nonce acquisition and send run under one lock.
func (c *Client) sendTx(ctx context.Context, data []byte, gasLimit uint64) (string, error) {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	nonce, err := c.node.PendingNonceAt(ctx, c.address)
	if err != nil {
		return "", fmt.Errorf("fetch nonce: %w", err)
	}

	gasPrice := c.gasPrice
	if suggested, err := c.node.SuggestGasPrice(ctx); err == nil && suggested.Cmp(gasPrice) > 0 {
		gasPrice = suggested
	}

	tx := types.NewTransaction(nonce, c.exchange, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, c.signer, c.key)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}

	if err := c.node.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send tx: %w", err)
	}

	hash := signed.Hash().Hex()
	c.logger.Debug().
		Str("tx", hash).
		Uint64("nonce", nonce).
		Uint64("gasLimit", gasLimit).
		Msg("Transaction submitted")
	return hash, nil
}

// SubmitOrder submits one order as its own transaction
func (c *Client) SubmitOrder(ctx context.Context, req *core.OrderRequest) (string, error) {
	data, err := c.packOrderCall(req)
	if err != nil {
		return "", err
	}
	return c.sendTx(ctx, data, c.gasOrder)
}

// SubmitOrders packs the whole batch into one multicall transaction.
// Every request shares the batch transaction hash as its reference.
func (c *Client) SubmitOrders(ctx context.Context, reqs []*core.OrderRequest) ([]string, error) {
	calls := make([][]byte, 0, len(reqs))
	for _, req := range reqs {
		data, err := c.packOrderCall(req)
		if err != nil {
			return nil, fmt.Errorf("pack order %s: %w", req.ID(), err)
		}
		calls = append(calls, data)
	}

	data, err := c.exABI.Pack("multicall", calls)
	if err != nil {
		return nil, fmt.Errorf("pack multicall: %w", err)
	}

	gasLimit := c.gasOrder * uint64(len(reqs))
	hash, err := c.sendTx(ctx, data, gasLimit)
	if err != nil {
		return nil, err
	}

	refs := make([]string, len(reqs))
	for i := range refs {
		refs[i] = hash
	}

	c.logger.Info().
		Int("orders", len(reqs)).
		Str("tx", hash).
		Msg("Batch submitted via multicall")
	return refs, nil
}

// CancelOrder submits a cancel transaction for a submission reference.
// Best effort: an order already matched on-chain cannot be stopped.
func (c *Client) CancelOrder(ctx context.Context, symbol, ref string) error {
	baseSym, quoteSym, err := standard.SplitPair(symbol)
	if err != nil {
		return err
	}
	base, err := c.tokenAddress(baseSym)
	if err != nil {
		return err
	}
	quote, err := c.tokenAddress(quoteSym)
	if err != nil {
		return err
	}

	data, err := c.exABI.Pack("cancelOrder", base, quote, common.HexToHash(ref))
	if err != nil {
		return fmt.Errorf("pack cancel: %w", err)
	}

	_, err = c.sendTx(ctx, data, c.gasCancel)
	return err
}

// RefStatus maps a transaction receipt onto an order status. A missing
// receipt means the transaction is still pending.
func (c *Client) RefStatus(ctx context.Context, ref string) (core.OrderStatus, error) {
	receipt, err := c.node.TransactionReceipt(ctx, common.HexToHash(ref))
	if err != nil {
		if err == ethereum.NotFound {
			return core.StatusSubmitted, nil
		}
		return "", fmt.Errorf("fetch receipt: %w", err)
	}

	if receipt.Status == types.ReceiptStatusSuccessful {
		return core.StatusOpen, nil
	}
	return core.StatusFailed, nil
}

// TokenBalance returns the account's raw ERC-20 balance of a token
func (c *Client) TokenBalance(ctx context.Context, symbol string, account common.Address) (*big.Int, error) {
	token, err := c.tokenAddress(symbol)
	if err != nil {
		return nil, err
	}

	data, err := c.ercABI.Pack("balanceOf", account)
	if err != nil {
		return nil, err
	}

	out, err := c.node.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf %s: %w", symbol, err)
	}

	return new(big.Int).SetBytes(out), nil
}

// Allowance returns how much the exchange may spend of the account's token
func (c *Client) Allowance(ctx context.Context, symbol string, account common.Address) (*big.Int, error) {
	token, err := c.tokenAddress(symbol)
	if err != nil {
		return nil, err
	}

	data, err := c.ercABI.Pack("allowance", account, c.exchange)
	if err != nil {
		return nil, err
	}

	out, err := c.node.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("allowance %s: %w", symbol, err)
	}

	return new(big.Int).SetBytes(out), nil
}

// EnsureAllowance approves the exchange for the required amount when the
// current allowance falls short, returning the approval transaction hash
// or empty when no approval was needed.
func (c *Client) EnsureAllowance(ctx context.Context, symbol string, required *big.Int) (string, error) {
	current, err := c.Allowance(ctx, symbol, c.address)
	if err != nil {
		return "", err
	}
	if current.Cmp(required) >= 0 {
		return "", nil
	}

	token, err := c.tokenAddress(symbol)
	if err != nil {
		return "", err
	}

	data, err := c.ercABI.Pack("approve", c.exchange, required)
	if err != nil {
		return "", err
	}

	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	nonce, err := c.node.PendingNonceAt(ctx, c.address)
	if err != nil {
		return "", fmt.Errorf("fetch nonce: %w", err)
	}

	tx := types.NewTransaction(nonce, token, big.NewInt(0), standard.DefaultGasLimitCancel, c.gasPrice, data)
	signed, err := types.SignTx(tx, c.signer, c.key)
	if err != nil {
		return "", fmt.Errorf("sign approve: %w", err)
	}
	if err := c.node.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send approve: %w", err)
	}

	c.logger.Info().
		Str("token", symbol).
		Str("amount", required.String()).
		Str("tx", signed.Hash().Hex()).
		Msg("Approved exchange allowance")
	return signed.Hash().Hex(), nil
}

// Balances reads the account's balance for every registry token of the
// domain, scaled to decimal amounts.
func (c *Client) Balances(ctx context.Context, account string) (map[string]fpdecimal.Decimal, error) {
	if !core.ValidAddress(account) {
		return nil, fmt.Errorf("%w: account %q", core.ErrInvalidArgument, account)
	}
	addr := common.HexToAddress(account)

	out := make(map[string]fpdecimal.Decimal)
	for _, pair := range standard.TradingPairs(c.domain) {
		base, quote, err := standard.SplitPair(pair)
		if err != nil {
			continue
		}
		for _, symbol := range []string{base, quote} {
			if _, seen := out[symbol]; seen {
				continue
			}
			tok, ok := standard.TokenInfo(c.domain, symbol)
			if !ok || tok.Address == "" {
				continue
			}
			raw, err := c.TokenBalance(ctx, symbol, addr)
			if err != nil {
				return nil, err
			}
			out[symbol] = fromUnits(raw, tok.Decimals)
		}
	}

	return out, nil
}
