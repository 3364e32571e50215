package gasless

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"cctpbridge/EVMRPC"
	"cctpbridge/bridgeerr"
	"cctpbridge/contracts"
	"cctpbridge/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingTransport keeps the methods it was asked to send, in order
type recordingTransport struct {
	mu      sync.Mutex
	methods []string
	err     error
}

func (r *recordingTransport) Name() string { return "recording" }

func (r *recordingTransport) Send(ctx context.Context, tx *Transaction) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	method, err := contracts.ERC20.MethodById(tx.Data[:4])
	if err != nil {
		return nil, err
	}
	r.methods = append(r.methods, method.Name)
	if r.err != nil {
		return nil, r.err
	}
	return &Result{TxHash: common.BytesToHash([]byte{byte(len(r.methods))})}, nil
}

// staticReader mines everything successfully unless reverted is set
type staticReader struct {
	allowance *big.Int
	reverted  bool
	waitErr   error
	waited    []common.Hash
}

func (s *staticReader) Allowance(ctx context.Context, chainID int, token, owner, spender common.Address) (*big.Int, error) {
	return s.allowance, nil
}

func (s *staticReader) WaitReceipt(ctx context.Context, chainID int, txHash common.Hash) (*ethtypes.Receipt, error) {
	s.waited = append(s.waited, txHash)
	if s.waitErr != nil {
		return nil, s.waitErr
	}
	if s.reverted {
		receipt := &ethtypes.Receipt{Status: ethtypes.ReceiptStatusFailed, TxHash: txHash}
		return receipt, bridgeerr.Newf(bridgeerr.KindReverted, "confirmation", "transaction %s reverted", txHash.Hex())
	}
	return &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful, TxHash: txHash}, nil
}

func TestEnsureAllowance(t *testing.T) {
	token := common.HexToAddress("0x3600000000000000000000000000000000000000")
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")
	spender := common.HexToAddress("0x8FE6B999Dc680CcFDD5Bf7EB0974218be2542DAA")

	t.Run("sufficient allowance submits nothing", func(t *testing.T) {
		transport := &recordingTransport{}
		submitter := NewSubmitter(transport, nil, zap.NewNop())
		reader := &staticReader{allowance: big.NewInt(200_000000)}

		hash, err := submitter.EnsureAllowance(context.Background(), reader, 23244, token, owner, spender, big.NewInt(100_000000))
		require.NoError(t, err)
		assert.Nil(t, hash)
		assert.Empty(t, transport.methods)
	})

	t.Run("insufficient allowance approves and waits", func(t *testing.T) {
		transport := &recordingTransport{}
		submitter := NewSubmitter(transport, nil, zap.NewNop())
		reader := &staticReader{allowance: big.NewInt(99_999999)}

		hash, err := submitter.EnsureAllowance(context.Background(), reader, 23244, token, owner, spender, big.NewInt(100_000000))
		require.NoError(t, err)
		require.NotNil(t, hash)
		assert.Equal(t, []string{"approve"}, transport.methods)
		assert.Equal(t, []common.Hash{*hash}, reader.waited)
	})

	t.Run("approval failure is surfaced", func(t *testing.T) {
		transport := &recordingTransport{err: bridgeerr.New(bridgeerr.KindSubmissionFailed, "test", "relayer busy")}
		submitter := NewSubmitter(transport, nil, zap.NewNop())
		reader := &staticReader{allowance: big.NewInt(0)}

		_, err := submitter.EnsureAllowance(context.Background(), reader, 23244, token, owner, spender, big.NewInt(1))
		assert.Equal(t, bridgeerr.KindSubmissionFailed, bridgeerr.KindOf(err))
		assert.Empty(t, reader.waited)
	})
}

type directBackend struct {
	estimateErr error
	sent        []*ethtypes.Transaction
	mu          *sync.Mutex
}

func (d *directBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, errors.New("not used")
}

func (d *directBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	return &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful, TxHash: txHash, BlockNumber: big.NewInt(10), GasUsed: 50000}, nil
}

func (d *directBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 7, nil
}

func (d *directBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (d *directBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 50000, d.estimateErr
}

func (d *directBackend) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, tx)
	return nil
}

func (d *directBackend) Close() {}

type oneChain struct{}

func (oneChain) Resolve(chainID int) (types.ChainEndpoint, error) {
	return types.ChainEndpoint{ChainID: chainID, RPCList: []string{"http://rpc"}}, nil
}

func newDirect(t *testing.T, backend *directBackend) *DirectTransport {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	pool := EVMRPC.NewPool(oneChain{}, func(ctx context.Context, url string) (EVMRPC.Backend, error) {
		return backend, nil
	}, time.Second, zap.NewNop())

	transport, err := NewDirectTransport(pool, "0x"+hex.EncodeToString(crypto.FromECDSA(key)), zap.NewNop())
	require.NoError(t, err)
	return transport
}

func TestDirectTransport(t *testing.T) {
	t.Run("signs, pads gas and waits", func(t *testing.T) {
		backend := &directBackend{mu: &sync.Mutex{}}
		transport := newDirect(t, backend)
		submitter := NewSubmitter(transport, nil, zap.NewNop())

		res, err := submitter.Submit(context.Background(), approveCall())
		require.NoError(t, err)
		require.Len(t, backend.sent, 1)

		tx := backend.sent[0]
		assert.Equal(t, res.TxHash, tx.Hash())
		assert.Equal(t, uint64(7), tx.Nonce())
		assert.Equal(t, uint64(60000), tx.Gas())
		assert.Equal(t, uint64(10), res.BlockNumber)

		sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(big.NewInt(23244)), tx)
		require.NoError(t, err)
		assert.Equal(t, transport.Address(), sender)
	})

	t.Run("failed estimate is a simulated revert", func(t *testing.T) {
		backend := &directBackend{mu: &sync.Mutex{}, estimateErr: errors.New("execution reverted: ERC20: insufficient allowance")}
		submitter := NewSubmitter(newDirect(t, backend), nil, zap.NewNop())

		_, err := submitter.Submit(context.Background(), approveCall())
		assert.Equal(t, bridgeerr.KindSimulatedRevert, bridgeerr.KindOf(err))
		assert.False(t, bridgeerr.IsRetryable(err))
		assert.Empty(t, backend.sent)
	})

	t.Run("bad key", func(t *testing.T) {
		_, err := NewDirectTransport(nil, "zz", zap.NewNop())
		assert.Error(t, err)
	})
}
