// Package standard holds the deployment constants for the Standard DEX on
// the Somnia blockchain: chain parameters per domain, the token registry,
// gas and order limits, polling intervals, and the indexer REST surface.
package standard

import (
	"fmt"
	"strings"
	"time"
)

// Domain selects a Standard deployment
type Domain string

// Supported domains
const (
	Mainnet Domain = "mainnet"
	Testnet Domain = "testnet"
)

// DefaultDomain is used when the caller does not choose one
const DefaultDomain = Mainnet

// ParseDomain converts a string into a Domain
func ParseDomain(s string) (Domain, error) {
	switch Domain(strings.ToLower(s)) {
	case Mainnet:
		return Mainnet, nil
	case Testnet:
		return Testnet, nil
	default:
		return "", fmt.Errorf("unknown domain %q", s)
	}
}

// DomainConfig carries the per-deployment network parameters
type DomainConfig struct {
	ChainID         int64
	RPCURL          string
	APIURL          string
	ExchangeAddress string
}

var domainConfigs = map[Domain]DomainConfig{
	Mainnet: {
		ChainID:         5031,
		RPCURL:          "https://api.infra.mainnet.somnia.network",
		APIURL:          "https://api-somi.standardweb3.com",
		ExchangeAddress: "0x3Cb2CBb0CeB96c9456b11DbC7ab73c4848F9a14c",
	},
	Testnet: {
		ChainID:         50312,
		RPCURL:          "https://dream-rpc.somnia.network",
		APIURL:          "https://somnia-testnet-ponder-release.standardweb3.com",
		ExchangeAddress: "0x0d3251EF0D66b60C4E387FC95462Bf274e50CBE1",
	},
}

// Lookup returns the configuration of a domain
func Lookup(domain Domain) (DomainConfig, error) {
	cfg, ok := domainConfigs[domain]
	if !ok {
		return DomainConfig{}, fmt.Errorf("unknown domain %q", domain)
	}
	return cfg, nil
}

// Token describes one tradable asset of a domain
type Token struct {
	Symbol   string
	Address  string
	Decimals int
}

var tokensPerDomain = map[Domain]map[string]Token{
	Mainnet: {
		"SOMI": {Symbol: "SOMI", Address: "0x046ede9564a72571df6f5e44d0405360c0f4dcab", Decimals: 18},
		"USDC": {Symbol: "USDC", Address: "0x28BEc7E30E6faee657a03e19Bf1128AaD7632A00", Decimals: 6},
	},
	Testnet: {
		"STT":  {Symbol: "STT", Address: "0x4A3BC48C156384f9564Fd65A53a2f3D534D8f2b7", Decimals: 18},
		"USDC": {Symbol: "USDC", Address: "0x0ED782B8079529f7385c3eDA9fAf1EaA0DbC6a17", Decimals: 6},
		"WBTC": {Symbol: "WBTC", Address: "0x54597df4E4A6385B77F39d458Eb75443A8f9Aa9e", Decimals: 8},
		"SOL":  {Symbol: "SOL", Address: "", Decimals: 9},
	},
}

// TokenInfo returns the registry entry for a symbol on a domain
func TokenInfo(domain Domain, symbol string) (Token, bool) {
	tok, ok := tokensPerDomain[domain][strings.ToUpper(symbol)]
	return tok, ok
}

var nativeTokens = map[Domain]string{
	Mainnet: "SOMI",
	Testnet: "STT",
}

// NativeToken returns the gas token symbol of a domain
func NativeToken(domain Domain) string {
	return nativeTokens[domain]
}

var tradingPairs = map[Domain][]string{
	Mainnet: {"SOMI-USDC"},
	Testnet: {"STT-USDC", "WBTC-USDC", "SOL-USDC"},
}

// TradingPairs returns the pairs listed on a domain
func TradingPairs(domain Domain) []string {
	pairs := tradingPairs[domain]
	out := make([]string, len(pairs))
	copy(out, pairs)
	return out
}

// SplitPair breaks a BASE-QUOTE symbol into its tokens
func SplitPair(symbol string) (base, quote string, err error) {
	parts := strings.SplitN(symbol, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed trading pair %q", symbol)
	}
	return parts[0], parts[1], nil
}

// Gas defaults for order transactions
const (
	DefaultGasPrice       = 10_000_000_000 // 10 gwei
	DefaultGasLimitOrder  = 250_000
	DefaultGasLimitCancel = 150_000
)

// Order limits and precision
const (
	MinOrderSize          = "0.001"
	MaxOrderSize          = "1000000"
	DefaultTradingFee     = "0.001"
	ContractPriceDecimals = 6
)

// Polling intervals
const (
	OrderBookInterval    = 5 * time.Second
	BalancesInterval     = 30 * time.Second
	TradingRulesInterval = time.Hour
	OrderStatusInterval  = 10 * time.Second
)

// Endpoint identifiers used for rate limiting
const (
	EndpointDefault     = "DEFAULT"
	EndpointOrderBook   = "GET_ORDERBOOK"
	EndpointAccountInfo = "GET_ACCOUNT_INFO"
	EndpointTokenInfo   = "GET_TOKEN_INFO"
	EndpointPairs       = "GET_PAIRS"
	EndpointPostOrder   = "POST_ORDER"
	EndpointCancelOrder = "DELETE_ORDER"
)

// RateLimit is requests per second for one endpoint
type RateLimit struct {
	ID    string
	Limit int
}

// RateLimits lists the per-endpoint request budgets of the indexer API
var RateLimits = []RateLimit{
	{ID: EndpointDefault, Limit: 10},
	{ID: EndpointOrderBook, Limit: 10},
	{ID: EndpointAccountInfo, Limit: 5},
	{ID: EndpointTokenInfo, Limit: 10},
	{ID: EndpointPairs, Limit: 10},
	{ID: EndpointPostOrder, Limit: 5},
	{ID: EndpointCancelOrder, Limit: 10},
}

// REST endpoint path templates relative to the domain API URL
const (
	PathOrderBookTicks = "/api/orderbook/ticks/%s/%s/%d"
	PathPairBySymbols  = "/api/pair/symbol/%s/%s"
	PathAccountOrders  = "/api/orders/%s/%d/%d"
	PathBalance        = "/api/balance/%s"
	PathOrders         = "/api/orders"
	PathOrderByID      = "/api/orders/%s"
)

// Query defaults for REST calls
const (
	OrderBookDepth  = 100
	DefaultPageSize = 50
)
