package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Juggernaut7/convex/internal/domain"
)

// fakeBackend scripts failures for the submission path. Sends fail until
// sendFailures attempts have been consumed, and the first revertReceipts
// confirmed transactions come back with a reverted status.
type fakeBackend struct {
	sendFailures   int
	revertReceipts int

	sendCalls int
	lastTx    *types.Transaction
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) { return 0, nil }

func (f *fakeBackend) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return uint64(f.sendCalls), nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 50_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.sendCalls++
	if f.sendCalls <= f.sendFailures {
		return errors.New("nonce too low")
	}
	f.lastTx = tx
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	status := types.ReceiptStatusSuccessful
	if f.revertReceipts > 0 {
		f.revertReceipts--
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{Status: status, TxHash: txHash, GasUsed: 42_000}, nil
}

func (f *fakeBackend) Close() {}

func newTestClient(t *testing.T, f *fakeBackend, maxRetries int) *Client {
	t.Helper()

	privKey, err := ethcrypto.HexToECDSA("59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d")
	require.NoError(t, err)

	return &Client{
		eth:            f,
		privKey:        privKey,
		address:        ethcrypto.PubkeyToAddress(privKey.PublicKey),
		contract:       common.HexToAddress("0x1234567890abcdef1234567890abcdef12345678"),
		chainID:        big.NewInt(31337),
		maxRetries:     maxRetries,
		retryBaseDelay: time.Millisecond,
		confirmTimeout: time.Second,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestManagerABI_PackResolveMarket(t *testing.T) {
	callData, err := managerABI.Pack("resolveMarket", uint32(7), domain.OutcomeYes.OnChainValue())
	require.NoError(t, err)

	// 4-byte selector plus two abi-encoded words.
	require.Len(t, callData, 4+32+32)

	encoded := hex.EncodeToString(callData[4:])
	assert.Equal(t,
		"0000000000000000000000000000000000000000000000000000000000000007"+
			"0000000000000000000000000000000000000000000000000000000000000001",
		encoded,
	)

	callData, err = managerABI.Pack("resolveMarket", uint32(7), domain.OutcomeNo.OnChainValue())
	require.NoError(t, err)
	assert.Equal(t, byte(2), callData[len(callData)-1])
}

func TestManagerABI_EventTopics(t *testing.T) {
	created, ok := managerABI.Events["MarketCreated"]
	require.True(t, ok)
	assert.NotEqual(t, created.ID.Hex(), "0x0000000000000000000000000000000000000000000000000000000000000000")

	resolved, ok := managerABI.Events["MarketResolved"]
	require.True(t, ok)
	assert.NotEqual(t, created.ID, resolved.ID)
}

func TestClient_Submit_FirstAttemptSucceeds(t *testing.T) {
	f := &fakeBackend{}
	c := newTestClient(t, f, 5)

	receipt, err := c.Submit(context.Background(), 7, domain.OutcomeYes)
	require.NoError(t, err)

	assert.Equal(t, 1, receipt.Attempts)
	assert.Equal(t, 1, f.sendCalls)
	assert.NotEmpty(t, receipt.TxHash)
	assert.Equal(t, uint64(42_000), receipt.GasUsed)
}

func TestClient_Submit_RetriesUntilSuccess(t *testing.T) {
	f := &fakeBackend{sendFailures: 4}
	c := newTestClient(t, f, 5)

	receipt, err := c.Submit(context.Background(), 7, domain.OutcomeNo)
	require.NoError(t, err)

	assert.Equal(t, 5, receipt.Attempts)
	assert.Equal(t, 5, f.sendCalls)
	require.NotNil(t, f.lastTx)
	assert.Equal(t, byte(2), f.lastTx.Data()[len(f.lastTx.Data())-1])
}

func TestClient_Submit_ExhaustsRetries(t *testing.T) {
	f := &fakeBackend{sendFailures: 10}
	c := newTestClient(t, f, 3)

	_, err := c.Submit(context.Background(), 7, domain.OutcomeYes)
	require.Error(t, err)

	assert.ErrorIs(t, err, domain.ErrSettlement)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, f.sendCalls)
}

func TestClient_Submit_RevertedReceiptIsFailedAttempt(t *testing.T) {
	f := &fakeBackend{revertReceipts: 1}
	c := newTestClient(t, f, 5)

	receipt, err := c.Submit(context.Background(), 7, domain.OutcomeYes)
	require.NoError(t, err)

	assert.Equal(t, 2, receipt.Attempts)
	assert.Equal(t, 2, f.sendCalls)
}

func TestClient_Submit_AllRevertedWrapsSettlementError(t *testing.T) {
	f := &fakeBackend{revertReceipts: 2}
	c := newTestClient(t, f, 2)

	_, err := c.Submit(context.Background(), 7, domain.OutcomeYes)
	require.Error(t, err)

	assert.ErrorIs(t, err, domain.ErrSettlement)
	assert.Contains(t, err.Error(), "reverted")
}

func TestSleepCtx_ZeroAndNegative(t *testing.T) {
	require.NoError(t, sleepCtx(context.Background(), 0))
	require.NoError(t, sleepCtx(context.Background(), -1))
}
