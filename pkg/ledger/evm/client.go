// Package evm implements the ledger over ERC20 tokens on an EVM chain.
// Assets are token contract addresses and accounts are hex addresses.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/speedrun-hq/linkrunner/pkg/clock"
	"github.com/speedrun-hq/linkrunner/pkg/contracts"
	"github.com/speedrun-hq/linkrunner/pkg/ledger"
	"github.com/speedrun-hq/linkrunner/pkg/logger"
	"github.com/speedrun-hq/linkrunner/pkg/metrics"
	"github.com/speedrun-hq/linkrunner/pkg/models"
)

const (
	// DefaultGasMultiplier adds a 10% buffer on top of the suggested gas price
	DefaultGasMultiplier = 1.1
	// DefaultGasLimit is the gas an ERC20 call is budgeted for when quoting fees
	DefaultGasLimit = 100_000

	gasPriceTimeout = 10 * time.Second
)

// Backend is the subset of ethclient.Client the ledger needs
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

// Config holds the connection settings
type Config struct {
	RPCURL        string
	PrivateKey    string
	GasMultiplier float64
	GasLimit      uint64
}

// Client is a ledger.Ledger backed by ERC20 contracts. It signs only as the configured key.
type Client struct {
	backend       Backend
	auth          *bind.TransactOpts
	gasMultiplier float64
	gasLimit      uint64
	nonces        *NonceManager
	logger        logger.Logger

	mu     sync.Mutex
	tokens map[common.Address]*contracts.ERC20
}

var _ ledger.Ledger = (*Client)(nil)

// Dial connects to cfg.RPCURL
func Dial(ctx context.Context, cfg Config, log logger.Logger) (*Client, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to client: %v", err)
	}
	c, err := NewClient(ctx, client, cfg, log)
	if err != nil {
		client.Close()
		return nil, err
	}
	return c, nil
}

// NewClient builds a client on an existing backend
func NewClient(ctx context.Context, backend Backend, cfg Config, log logger.Logger) (*Client, error) {
	auth, err := createAuthenticator(ctx, backend, cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticator: %v", err)
	}

	multiplier := cfg.GasMultiplier
	if multiplier <= 0 {
		multiplier = DefaultGasMultiplier
	}
	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}

	return &Client{
		backend:       backend,
		auth:          auth,
		gasMultiplier: multiplier,
		gasLimit:      gasLimit,
		nonces:        NewNonceManager(backend, auth.From, clock.System{}, log),
		logger:        log,
		tokens:        make(map[common.Address]*contracts.ERC20),
	}, nil
}

// Signer returns the address transactions are sent from
func (c *Client) Signer() string {
	return c.auth.From.Hex()
}

func (c *Client) BalanceOf(ctx context.Context, asset, account string) (*big.Int, error) {
	token, err := c.token(asset)
	if err != nil {
		return nil, err
	}
	owner, err := parseAddress("account", account)
	if err != nil {
		return nil, err
	}
	defer observe("balance_of", time.Now())
	return token.BalanceOf(&bind.CallOpts{Context: ctx}, owner)
}

// Allowance never carries an expiry; ERC20 allowances do not expire
func (c *Client) Allowance(ctx context.Context, asset, owner, spender string) (ledger.Allowance, error) {
	token, err := c.token(asset)
	if err != nil {
		return ledger.Allowance{}, err
	}
	ownerAddr, err := parseAddress("owner", owner)
	if err != nil {
		return ledger.Allowance{}, err
	}
	spenderAddr, err := parseAddress("spender", spender)
	if err != nil {
		return ledger.Allowance{}, err
	}
	defer observe("allowance", time.Now())
	amount, err := token.Allowance(&bind.CallOpts{Context: ctx}, ownerAddr, spenderAddr)
	if err != nil {
		return ledger.Allowance{}, err
	}
	return ledger.Allowance{Amount: amount}, nil
}

func (c *Client) Transfer(ctx context.Context, t models.Transfer) (uint64, error) {
	if err := c.checkSigner("transfer", t.From); err != nil {
		return 0, err
	}
	token, err := c.token(t.Asset)
	if err != nil {
		return 0, err
	}
	to, err := parseAddress("to", t.To)
	if err != nil {
		return 0, err
	}
	return c.submit(ctx, t.Asset, "transfer", func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return token.Transfer(opts, to, t.Amount)
	})
}

func (c *Client) Approve(ctx context.Context, a models.Approve) (uint64, error) {
	if err := c.checkSigner("approve", a.Owner); err != nil {
		return 0, err
	}
	token, err := c.token(a.Asset)
	if err != nil {
		return 0, err
	}
	spender, err := parseAddress("spender", a.Spender)
	if err != nil {
		return 0, err
	}
	return c.submit(ctx, a.Asset, "approve", func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return token.Approve(opts, spender, a.Amount)
	})
}

// DelegatedTransfer calls transferFrom as the spender
func (c *Client) DelegatedTransfer(ctx context.Context, d models.DelegatedTransfer) (uint64, error) {
	if err := c.checkSigner("delegated_transfer", d.Spender); err != nil {
		return 0, err
	}
	token, err := c.token(d.Asset)
	if err != nil {
		return 0, err
	}
	owner, err := parseAddress("owner", d.Owner)
	if err != nil {
		return 0, err
	}
	to, err := parseAddress("to", d.To)
	if err != nil {
		return 0, err
	}
	return c.submit(ctx, d.Asset, "delegated_transfer", func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return token.TransferFrom(opts, owner, to, d.Amount)
	})
}

// Fee quotes gas price times the budgeted gas limit
func (c *Client) Fee(ctx context.Context, asset string) (*big.Int, error) {
	if _, err := parseAddress("asset", asset); err != nil {
		return nil, err
	}
	gasPrice, err := c.gasPrice(ctx)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(c.gasLimit)), nil
}

// submit sends a transaction and waits until it is mined.
// A reverted receipt is a ledger rejection; everything else is returned as is.
func (c *Client) submit(ctx context.Context, asset, method string, send func(*bind.TransactOpts) (*types.Transaction, error)) (uint64, error) {
	defer observe(method, time.Now())

	gasPrice, err := c.gasPrice(ctx)
	if err != nil {
		return 0, err
	}
	nonce, err := c.nonces.Next(ctx)
	if err != nil {
		return 0, err
	}

	opts := *c.auth
	opts.Context = ctx
	opts.Nonce = new(big.Int).SetUint64(nonce)
	opts.GasPrice = gasPrice

	tx, err := send(&opts)
	if err != nil {
		c.nonces.Failed(nonce)
		return 0, fmt.Errorf("failed to send %s on %s: %w", method, asset, err)
	}
	c.nonces.Track(nonce, tx.Hash())
	c.logger.Debug("%s transaction sent on %s: %s (nonce: %d)", method, asset, tx.Hash().Hex(), nonce)

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return 0, fmt.Errorf("failed to wait for %s transaction %s: %w", method, tx.Hash().Hex(), err)
	}
	c.nonces.Confirmed(nonce)

	if receipt.Status == types.ReceiptStatusFailed {
		return 0, &ledger.RejectedError{Asset: asset, Method: method, Reason: "transaction reverted: " + tx.Hash().Hex()}
	}
	c.logger.Info("%s successful on %s: %s (gas used: %d)", method, asset, tx.Hash().Hex(), receipt.GasUsed)
	return receipt.BlockNumber.Uint64(), nil
}

// gasPrice returns the network suggestion with the configured multiplier applied
func (c *Client) gasPrice(ctx context.Context) (*big.Int, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, gasPriceTimeout)
	defer cancel()

	suggested, err := c.backend.SuggestGasPrice(timeoutCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %v", err)
	}

	multiplied := new(big.Float).Mul(new(big.Float).SetInt(suggested), big.NewFloat(c.gasMultiplier))
	final := new(big.Int)
	multiplied.Int(final)
	return final, nil
}

func (c *Client) token(asset string) (*contracts.ERC20, error) {
	address, err := parseAddress("asset", asset)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if token, ok := c.tokens[address]; ok {
		return token, nil
	}
	token, err := contracts.NewERC20(address, c.backend)
	if err != nil {
		return nil, fmt.Errorf("failed to bind token %s: %v", asset, err)
	}
	c.tokens[address] = token
	return token, nil
}

func (c *Client) checkSigner(method, account string) error {
	address, err := parseAddress("signer", account)
	if err != nil {
		return err
	}
	if address != c.auth.From {
		return fmt.Errorf("cannot sign %s for %s, signer is %s", method, address.Hex(), c.auth.From.Hex())
	}
	return nil
}

func parseAddress(field, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid %s address: %q", field, value)
	}
	return common.HexToAddress(value), nil
}

func observe(method string, start time.Time) {
	metrics.LedgerCallDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func createAuthenticator(ctx context.Context, backend Backend, privateKeyHex string) (*bind.TransactOpts, error) {
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %v", err)
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %v", err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(privateKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %v", err)
	}
	return auth, nil
}
