// Package chain handles read-only blockchain interactions on BNB testnet:
// gas prices, balances, address validation, and fee estimation. It never
// broadcasts transactions; signed payloads are executed by the caller.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/quacklabs/paygate/internal/retry"
	"github.com/quacklabs/paygate/internal/wei"
)

var (
	ErrInvalidAddress = errors.New("chain: invalid address")
	ErrInvalidAmount  = errors.New("chain: invalid amount")
	ErrRPCConnection  = errors.New("chain: RPC connection failed")
)

// QueryError wraps read failures with the operation that failed.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("chain: %s failed: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// EthClient abstracts the go-ethereum client for testing.
type EthClient interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	Close()
}

// DefaultGasLimit is used when estimation fails (plain value transfer).
const DefaultGasLimit = uint64(21000)

// RPC reads retry transient failures before giving up.
const (
	rpcAttempts  = 3
	rpcBaseDelay = 100 * time.Millisecond
)

// GasPrice holds a gas price in both denominations.
type GasPrice struct {
	Wei  *big.Int `json:"wei"`
	Gwei float64  `json:"gwei"`
}

// Balance holds an account balance in both denominations.
type Balance struct {
	Wei *big.Int `json:"balance_wei"`
	BNB string   `json:"balance_bnb"`
}

// GasEstimate holds the fee parameters for a pending transaction.
type GasEstimate struct {
	GasLimit     uint64   `json:"gas_limit"`
	GasPriceGwei float64  `json:"gas_price_gwei"`
	FeeWei       *big.Int `json:"fee_wei"`
}

// Config for creating a new Client.
type Config struct {
	RPCURL  string
	ChainID int64
}

// Option configures the client.
type Option func(*Client)

// WithClient sets a custom Ethereum client (useful for testing).
func WithClient(client EthClient) Option {
	return func(c *Client) {
		c.client = client
	}
}

// Client is the blockchain collaborator.
type Client struct {
	client  EthClient
	chainID *big.Int
}

// New creates a new Client. Without WithClient it dials the RPC endpoint.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
	}
	if cfg.ChainID == 0 {
		return nil, fmt.Errorf("chain ID required")
	}

	c := &Client{
		chainID: big.NewInt(cfg.ChainID),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.client == nil {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		c.client = client
	}

	return c, nil
}

// ChainID returns the configured chain ID.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// suggestGasPrice reads the gas price with retries on transient failures.
func (c *Client) suggestGasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := retry.Do(ctx, rpcAttempts, rpcBaseDelay, func() error {
		var err error
		price, err = c.client.SuggestGasPrice(ctx)
		return err
	})
	return price, err
}

// GetGasPrice returns the current suggested gas price.
func (c *Client) GetGasPrice(ctx context.Context) (*GasPrice, error) {
	price, err := c.suggestGasPrice(ctx)
	if err != nil {
		return nil, &QueryError{Op: "gas_price", Err: err}
	}
	return &GasPrice{Wei: price, Gwei: wei.ToGwei(price)}, nil
}

// GetBalance returns the native balance of an address.
func (c *Client) GetBalance(ctx context.Context, address string) (*Balance, error) {
	if !ValidateAddress(address) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, address)
	}
	var raw *big.Int
	err := retry.Do(ctx, rpcAttempts, rpcBaseDelay, func() error {
		var err error
		raw, err = c.client.BalanceAt(ctx, common.HexToAddress(address), nil)
		return err
	})
	if err != nil {
		return nil, &QueryError{Op: "balance", Err: err}
	}
	return &Balance{Wei: raw, BNB: wei.Format(raw)}, nil
}

// EstimateGas estimates the gas limit and total fee for a value transfer.
// Falls back to DefaultGasLimit when estimation fails.
func (c *Client) EstimateGas(ctx context.Context, from, to string, amount *big.Int) (*GasEstimate, error) {
	if !ValidateAddress(to) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, to)
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	price, err := c.suggestGasPrice(ctx)
	if err != nil {
		return nil, &QueryError{Op: "gas_price", Err: err}
	}

	toAddr := common.HexToAddress(to)
	call := ethereum.CallMsg{
		To:    &toAddr,
		Value: amount,
	}
	if from != "" && ValidateAddress(from) {
		call.From = common.HexToAddress(from)
	}

	gasLimit, err := c.client.EstimateGas(ctx, call)
	if err != nil {
		gasLimit = DefaultGasLimit
	}

	fee := new(big.Int).Mul(price, new(big.Int).SetUint64(gasLimit))
	return &GasEstimate{
		GasLimit:     gasLimit,
		GasPriceGwei: wei.ToGwei(price),
		FeeWei:       fee,
	}, nil
}

// Close closes the underlying client connection.
func (c *Client) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}

// ValidateAddress reports whether s is a well-formed hex address.
func ValidateAddress(s string) bool {
	return common.IsHexAddress(s)
}
