package server

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/quacklabs/paygate/internal/chain"
	"github.com/quacklabs/paygate/internal/circuitbreaker"
)

// ErrRPCUnavailable is returned while the RPC circuit is open.
var ErrRPCUnavailable = errors.New("server: RPC circuit open")

const rpcBreakerKey = "rpc"

// guardedChainReader wraps the blockchain client with a circuit breaker so a
// down RPC endpoint gets probed instead of hammered. Gas estimates and
// balance reads are advisory in the pipeline; callers treat the open-circuit
// error like any other RPC failure.
type guardedChainReader struct {
	client  *chain.Client
	breaker *circuitbreaker.Breaker
}

func newGuardedChainReader(client *chain.Client) *guardedChainReader {
	return &guardedChainReader{
		client:  client,
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

func (g *guardedChainReader) GetGasPrice(ctx context.Context) (*chain.GasPrice, error) {
	if !g.breaker.Allow(rpcBreakerKey) {
		return nil, ErrRPCUnavailable
	}
	price, err := g.client.GetGasPrice(ctx)
	g.record(err)
	return price, err
}

func (g *guardedChainReader) GetBalance(ctx context.Context, address string) (*chain.Balance, error) {
	if !g.breaker.Allow(rpcBreakerKey) {
		return nil, ErrRPCUnavailable
	}
	balance, err := g.client.GetBalance(ctx, address)
	g.record(err)
	return balance, err
}

func (g *guardedChainReader) EstimateGas(ctx context.Context, from, to string, amount *big.Int) (*chain.GasEstimate, error) {
	if !g.breaker.Allow(rpcBreakerKey) {
		return nil, ErrRPCUnavailable
	}
	est, err := g.client.EstimateGas(ctx, from, to, amount)
	g.record(err)
	return est, err
}

func (g *guardedChainReader) record(err error) {
	if err != nil {
		g.breaker.RecordFailure(rpcBreakerKey)
		return
	}
	g.breaker.RecordSuccess(rpcBreakerKey)
}
