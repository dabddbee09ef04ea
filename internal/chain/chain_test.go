package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEthClient implements EthClient with canned responses.
type fakeEthClient struct {
	gasPrice    *big.Int
	gasPriceErr error
	balance     *big.Int
	balanceErr  error
	gasLimit    uint64
	estimateErr error
	closed      bool
}

func (f *fakeEthClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return f.gasPrice, f.gasPriceErr
}

func (f *fakeEthClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return f.balance, f.balanceErr
}

func (f *fakeEthClient) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return f.gasLimit, f.estimateErr
}

func (f *fakeEthClient) Close() { f.closed = true }

func newTestClient(t *testing.T, fake *fakeEthClient) *Client {
	t.Helper()
	c, err := New(Config{RPCURL: "http://localhost:8545", ChainID: 97}, WithClient(fake))
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{ChainID: 97})
	assert.ErrorIs(t, err, ErrRPCConnection)

	_, err = New(Config{RPCURL: "http://localhost:8545"})
	assert.Error(t, err)
}

func TestGetGasPrice(t *testing.T) {
	fake := &fakeEthClient{gasPrice: big.NewInt(5_000_000_000)}
	c := newTestClient(t, fake)

	got, err := c.GetGasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5_000_000_000), got.Wei)
	assert.Equal(t, float64(5), got.Gwei)
}

func TestGetGasPrice_RPCError(t *testing.T) {
	fake := &fakeEthClient{gasPriceErr: errors.New("rpc down")}
	c := newTestClient(t, fake)

	_, err := c.GetGasPrice(context.Background())
	require.Error(t, err)
	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "gas_price", qe.Op)
}

func TestGetBalance(t *testing.T) {
	oneBNB, _ := new(big.Int).SetString("1000000000000000000", 10)
	fake := &fakeEthClient{balance: oneBNB}
	c := newTestClient(t, fake)

	got, err := c.GetBalance(context.Background(), "0x1234567890123456789012345678901234567890")
	require.NoError(t, err)
	assert.Equal(t, oneBNB, got.Wei)
	assert.Equal(t, "1", got.BNB)
}

func TestGetBalance_InvalidAddress(t *testing.T) {
	c := newTestClient(t, &fakeEthClient{})

	_, err := c.GetBalance(context.Background(), "not-an-address")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestEstimateGas(t *testing.T) {
	fake := &fakeEthClient{gasPrice: big.NewInt(10_000_000_000), gasLimit: 21000}
	c := newTestClient(t, fake)

	got, err := c.EstimateGas(context.Background(),
		"0x1111111111111111111111111111111111111111",
		"0x2222222222222222222222222222222222222222",
		big.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(21000), got.GasLimit)
	assert.Equal(t, float64(10), got.GasPriceGwei)

	wantFee := new(big.Int).Mul(big.NewInt(10_000_000_000), big.NewInt(21000))
	assert.Equal(t, wantFee, got.FeeWei)
}

func TestEstimateGas_FallbackOnEstimateError(t *testing.T) {
	fake := &fakeEthClient{gasPrice: big.NewInt(1), estimateErr: errors.New("revert")}
	c := newTestClient(t, fake)

	got, err := c.EstimateGas(context.Background(), "",
		"0x2222222222222222222222222222222222222222", big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, DefaultGasLimit, got.GasLimit)
}

func TestEstimateGas_InvalidInputs(t *testing.T) {
	c := newTestClient(t, &fakeEthClient{gasPrice: big.NewInt(1)})

	_, err := c.EstimateGas(context.Background(), "", "bogus", big.NewInt(1))
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = c.EstimateGas(context.Background(), "",
		"0x2222222222222222222222222222222222222222", nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = c.EstimateGas(context.Background(), "",
		"0x2222222222222222222222222222222222222222", big.NewInt(-5))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestValidateAddress(t *testing.T) {
	assert.True(t, ValidateAddress("0x1234567890123456789012345678901234567890"))
	assert.True(t, ValidateAddress("0x0000000000000000000000000000000000000000"))
	assert.False(t, ValidateAddress("0x123"))
	assert.False(t, ValidateAddress(""))
	assert.False(t, ValidateAddress("hello"))
}

func TestClose(t *testing.T) {
	fake := &fakeEthClient{}
	c := newTestClient(t, fake)
	require.NoError(t, c.Close())
	assert.True(t, fake.closed)
}
