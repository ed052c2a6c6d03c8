// Package chain wraps the on-chain MarketManager contract: settlement
// transaction submission with bounded linear retry, and a log watcher that
// observes MarketCreated events for operator visibility.
package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Juggernaut7/convex/internal/domain"
)

const (
	// resolveGasLimit is a conservative cap for resolveMarket calls, used
	// when on-node gas estimation fails.
	resolveGasLimit = uint64(400_000)

	// receiptPollInterval is how often a pending transaction is polled for
	// its receipt.
	receiptPollInterval = 2 * time.Second
)

// managerABI covers the slice of the MarketManager contract the engine uses.
var managerABI abi.ABI

func init() {
	var err error
	managerABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "resolveMarket",
			"type": "function",
			"inputs": [
				{"name": "marketId", "type": "uint32"},
				{"name": "outcome", "type": "uint8"}
			],
			"outputs": []
		},
		{
			"name": "MarketCreated",
			"type": "event",
			"inputs": [
				{"name": "marketId", "type": "uint32", "indexed": true},
				{"name": "questionId", "type": "bytes32", "indexed": true},
				{"name": "creator", "type": "address", "indexed": true},
				{"name": "resolver", "type": "address", "indexed": false},
				{"name": "closeTime", "type": "uint64", "indexed": false},
				{"name": "usesOracle", "type": "bool", "indexed": false},
				{"name": "protocolFeeBps", "type": "uint16", "indexed": false},
				{"name": "creatorFeeBps", "type": "uint16", "indexed": false},
				{"name": "metadataURI", "type": "string", "indexed": false}
			]
		},
		{
			"name": "MarketResolved",
			"type": "event",
			"inputs": [
				{"name": "marketId", "type": "uint32", "indexed": true},
				{"name": "outcome", "type": "uint8", "indexed": false},
				{"name": "payoutPool", "type": "uint128", "indexed": false},
				{"name": "totalWinningStake", "type": "uint128", "indexed": false}
			]
		}
	]`))
	if err != nil {
		panic("chain: manager abi parse: " + err.Error())
	}
}

// ClientConfig holds the parameters for the settlement client.
type ClientConfig struct {
	RPCURL          string
	ChainID         int64
	ContractAddress string

	// PrivateKeyHex is the resolver wallet key, with or without 0x prefix.
	PrivateKeyHex string

	// MaxRetries is the number of submission attempts before giving up.
	MaxRetries int

	// RetryBaseDelay is multiplied by the attempt number between retries
	// (linear backoff).
	RetryBaseDelay time.Duration

	// ConfirmTimeout bounds the wait for a single transaction receipt.
	ConfirmTimeout time.Duration
}

// ethBackend is the slice of the RPC client the settlement path uses.
// *ethclient.Client satisfies it.
type ethBackend interface {
	logFilterer
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

var _ ethBackend = (*ethclient.Client)(nil)

// Client submits settlement transactions to the MarketManager contract. It is
// the single holder of the resolver signing key; markets are settled
// sequentially by the runner, so no nonce coordination is needed beyond
// re-reading the pending nonce per attempt.
type Client struct {
	eth      ethBackend
	privKey  *ecdsa.PrivateKey
	address  common.Address
	contract common.Address
	chainID  *big.Int

	maxRetries     int
	retryBaseDelay time.Duration
	confirmTimeout time.Duration

	logger *slog.Logger
}

// NewClient dials the RPC endpoint and prepares the signing key.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	keyBytes, err := hex.DecodeString(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: decode private key: %w", err)
	}
	privKey, err := ethcrypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("chain: invalid private key: %w", err)
	}

	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("chain: invalid contract address %q", cfg.ContractAddress)
	}

	eth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial rpc %s: %w", cfg.RPCURL, err)
	}

	confirmTimeout := cfg.ConfirmTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = 60 * time.Second
	}

	return &Client{
		eth:            eth,
		privKey:        privKey,
		address:        ethcrypto.PubkeyToAddress(privKey.PublicKey),
		contract:       common.HexToAddress(cfg.ContractAddress),
		chainID:        big.NewInt(cfg.ChainID),
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: cfg.RetryBaseDelay,
		confirmTimeout: confirmTimeout,
		logger:         logger.With(slog.String("component", "settlement")),
	}, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Address returns the resolver wallet address.
func (c *Client) Address() common.Address {
	return c.address
}

// Submit sends resolveMarket(onChainID, outcome) and blocks until the
// transaction is confirmed. Up to MaxRetries attempts are made with a delay
// of attempt*RetryBaseDelay between them; the error after the final attempt
// wraps domain.ErrSettlement. A reverted receipt, including the contract
// rejecting a resolve of an already-resolved market, counts as a failed
// attempt, never as success.
func (c *Client) Submit(ctx context.Context, onChainID int64, outcome domain.Outcome) (domain.Receipt, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		receipt, err := c.sendResolve(ctx, onChainID, outcome)
		if err == nil {
			receipt.Attempts = attempt
			return receipt, nil
		}
		lastErr = err

		c.logger.ErrorContext(ctx, "resolve transaction failed",
			slog.Int64("market_id", onChainID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		if attempt == c.maxRetries {
			break
		}
		if err := sleepCtx(ctx, time.Duration(attempt)*c.retryBaseDelay); err != nil {
			return domain.Receipt{}, fmt.Errorf("chain: %w: %v", domain.ErrSettlement, err)
		}
	}

	return domain.Receipt{}, fmt.Errorf("chain: %w: market %d after %d attempts: %v",
		domain.ErrSettlement, onChainID, c.maxRetries, lastErr)
}

// sendResolve performs one submission attempt: pack, sign, send, and wait for
// the receipt.
func (c *Client) sendResolve(ctx context.Context, onChainID int64, outcome domain.Outcome) (domain.Receipt, error) {
	callData, err := managerABI.Pack("resolveMarket", uint32(onChainID), outcome.OnChainValue())
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("pack calldata: %w", err)
	}

	nonce, err := c.eth.PendingNonceAt(ctx, c.address)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("pending nonce: %w", err)
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("suggest gas price: %w", err)
	}

	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:     c.address,
		To:       &c.contract,
		GasPrice: gasPrice,
		Data:     callData,
	})
	if err != nil {
		gasLimit = resolveGasLimit
		c.logger.WarnContext(ctx, "gas estimate failed, using default cap",
			slog.Uint64("limit", resolveGasLimit),
			slog.String("error", err.Error()),
		)
	} else {
		// 20% headroom over the node's estimate.
		gasLimit = gasLimit * 12 / 10
		if gasLimit > resolveGasLimit {
			gasLimit = resolveGasLimit
		}
	}

	tx := types.NewTransaction(nonce, c.contract, big.NewInt(0), gasLimit, gasPrice, callData)

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.privKey)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("sign tx: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signedTx); err != nil {
		return domain.Receipt{}, fmt.Errorf("send tx: %w", err)
	}

	txHash := signedTx.Hash()
	c.logger.InfoContext(ctx, "resolve transaction sent",
		slog.Int64("market_id", onChainID),
		slog.String("outcome", string(outcome)),
		slog.String("tx", txHash.Hex()),
	)

	receiptCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	receipt, err := c.waitForReceipt(receiptCtx, txHash)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("await receipt %s: %w", txHash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return domain.Receipt{}, fmt.Errorf("tx %s reverted on-chain", txHash.Hex())
	}

	return domain.Receipt{
		TxHash:  txHash.Hex(),
		GasUsed: receipt.GasUsed,
	}, nil
}

// waitForReceipt polls for a transaction receipt until it appears or ctx
// expires.
func (c *Client) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// sleepCtx sleeps for d unless ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Compile-time interface check.
var _ domain.Settler = (*Client)(nil)
