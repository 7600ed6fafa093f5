package evm

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/linkrunner/pkg/clock"
	"github.com/speedrun-hq/linkrunner/pkg/logger"
	"github.com/speedrun-hq/linkrunner/pkg/models"
)

const testAsset = "0x5555555555555555555555555555555555555555"

// fakeBackend implements only what the tests reach; anything else panics on the nil embedded interface
type fakeBackend struct {
	Backend
	chainID  *big.Int
	gasPrice *big.Int
	gasErr   error
	nonce    uint64
	nonceErr error
	nonceHit int
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	return f.chainID, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	if f.gasErr != nil {
		return nil, f.gasErr
	}
	return f.gasPrice, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.nonceHit++
	return f.nonce, f.nonceErr
}

func newTestClient(t *testing.T, backend *fakeBackend, cfg Config) *Client {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	cfg.PrivateKey = common.Bytes2Hex(crypto.FromECDSA(key))

	c, err := NewClient(context.Background(), backend, cfg, &logger.EmptyLogger{})
	require.NoError(t, err)
	return c
}

func TestNewClientRejectsBadKey(t *testing.T) {
	backend := &fakeBackend{chainID: big.NewInt(1)}
	_, err := NewClient(context.Background(), backend, Config{PrivateKey: "not-a-key"}, &logger.EmptyLogger{})
	assert.Error(t, err)
}

func TestFee(t *testing.T) {
	tests := []struct {
		name       string
		multiplier float64
		gasLimit   uint64
		gasPrice   int64
		expected   int64
	}{
		{"defaults", 0, 0, 1_000, 1_100 * DefaultGasLimit},
		{"custom multiplier", 2, 50_000, 10, 20 * 50_000},
		{"no buffer", 1, 21_000, 3, 3 * 21_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{chainID: big.NewInt(1), gasPrice: big.NewInt(tt.gasPrice)}
			c := newTestClient(t, backend, Config{GasMultiplier: tt.multiplier, GasLimit: tt.gasLimit})

			fee, err := c.Fee(context.Background(), testAsset)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, fee.Int64())
		})
	}
}

func TestFeeErrors(t *testing.T) {
	backend := &fakeBackend{chainID: big.NewInt(1), gasErr: errors.New("rpc down")}
	c := newTestClient(t, backend, Config{})

	_, err := c.Fee(context.Background(), testAsset)
	assert.ErrorContains(t, err, "rpc down")

	_, err = c.Fee(context.Background(), "usdc")
	assert.ErrorContains(t, err, "invalid asset address")
}

func TestSubmissionsOnlySignAsOwnKey(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{chainID: big.NewInt(1), gasPrice: big.NewInt(1)}
	c := newTestClient(t, backend, Config{})
	other := "0x1111111111111111111111111111111111111111"

	_, err := c.Transfer(ctx, models.Transfer{Asset: testAsset, From: other, To: other, Amount: big.NewInt(1)})
	assert.ErrorContains(t, err, "cannot sign transfer")

	_, err = c.Approve(ctx, models.Approve{Asset: testAsset, Owner: other, Spender: c.Signer(), Amount: big.NewInt(1)})
	assert.ErrorContains(t, err, "cannot sign approve")

	_, err = c.DelegatedTransfer(ctx, models.DelegatedTransfer{
		Asset: testAsset, Owner: other, Spender: other, To: other, Amount: big.NewInt(1),
	})
	assert.ErrorContains(t, err, "cannot sign delegated_transfer")

	_, err = c.Transfer(ctx, models.Transfer{Asset: testAsset, From: c.Signer(), To: "bob", Amount: big.NewInt(1)})
	assert.ErrorContains(t, err, "invalid to address")

	assert.Zero(t, backend.nonceHit, "no nonce is reserved for calls that never get sent")
}

func TestNonceManager(t *testing.T) {
	ctx := context.Background()
	source := &fakeBackend{nonce: 5}
	clk := clock.NewFake(0)
	nm := NewNonceManager(source, common.HexToAddress(testAsset), clk, &logger.EmptyLogger{})

	first, err := nm.Next(ctx)
	require.NoError(t, err)
	second, err := nm.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), first)
	assert.Equal(t, uint64(6), second)
	assert.Equal(t, 1, source.nonceHit, "synced once")

	nm.Track(second, common.Hash{})
	assert.Equal(t, 1, nm.Pending())
	nm.Failed(second)
	assert.Equal(t, 0, nm.Pending())

	reused, err := nm.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), reused, "last allocated nonce is handed out again")

	nm.Confirmed(reused)

	// the chain is behind our counter, which never moves backwards
	clk.Advance(nonceSyncInterval + time.Second)
	source.nonce = 3
	next, err := nm.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), next)
	assert.Equal(t, 2, source.nonceHit)
}

func TestNonceManagerGapForcesResync(t *testing.T) {
	ctx := context.Background()
	source := &fakeBackend{nonce: 0}
	nm := NewNonceManager(source, common.HexToAddress(testAsset), clock.NewFake(0), &logger.EmptyLogger{})

	n0, err := nm.Next(ctx)
	require.NoError(t, err)
	_, err = nm.Next(ctx)
	require.NoError(t, err)

	nm.Failed(n0)
	source.nonce = 10
	next, err := nm.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), next)
	assert.Equal(t, 2, source.nonceHit)

	source.nonceErr = errors.New("rpc down")
	require.Error(t, nm.Sync(ctx))
}
