package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cctpbridge/attestation"
	"cctpbridge/bridgeerr"
	"cctpbridge/config"
	"cctpbridge/contracts"
	"cctpbridge/gasless"
	"cctpbridge/registry"
	"cctpbridge/swap"
	"cctpbridge/types"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	account   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	recipient = "0xAbCd000000000000000000000000000000001234"
	message   = []byte("cctp message v1: 100 usdc from domain 26 to domain 6")
	signature = []byte{0x5a, 0x17, 0x9e}
)

// submittedCall is one transaction the transport was asked to send, decoded
type submittedCall struct {
	method  string
	chainID int
	to      common.Address
	args    []interface{}
}

var knownABIs = []abi.ABI{contracts.ERC20, contracts.TokenMessenger, contracts.MessageTransmitter, contracts.SwapRouter}

type fakeTransport struct {
	mu       sync.Mutex
	calls    []submittedCall
	failures map[string][]error // returned in order before the method succeeds
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{failures: make(map[string][]error)}
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Send(ctx context.Context, tx *gasless.Transaction) (*gasless.Result, error) {
	method, args, err := decodeCall(tx.Data)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, submittedCall{method: method, chainID: tx.ChainID, to: tx.To, args: args})
	if queued := f.failures[method]; len(queued) > 0 {
		f.failures[method] = queued[1:]
		return nil, queued[0]
	}
	hash := crypto.Keccak256Hash([]byte(fmt.Sprintf("%s-%d", method, len(f.calls))))
	return &gasless.Result{TxHash: hash, BlockNumber: uint64(100 + len(f.calls)), GasUsed: 50000}, nil
}

// decodeCall finds the method behind the selector of data among the bridge ABIs
func decodeCall(data []byte) (string, []interface{}, error) {
	if len(data) < 4 {
		return "", nil, fmt.Errorf("call data too short: %x", data)
	}
	for _, a := range knownABIs {
		method, err := a.MethodById(data[:4])
		if err != nil {
			continue
		}
		args, err := method.Inputs.Unpack(data[4:])
		if err != nil {
			return "", nil, err
		}
		return method.Name, args, nil
	}
	return "", nil, fmt.Errorf("unknown selector %x", data[:4])
}

func (f *fakeTransport) fail(method string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = append(f.failures[method], errs...)
}

func (f *fakeTransport) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.method
	}
	return out
}

func (f *fakeTransport) callsOf(method string) []submittedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []submittedCall
	for _, c := range f.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

// fakeChain answers allowance reads and returns receipts carrying MessageSent.
// Transactions in reverted are mined with status 0. The message counts as
// received on the destination from the receivedFrom-th check on, never when 0.
type fakeChain struct {
	mu            sync.Mutex
	allowance     *big.Int
	transmitter   common.Address
	malformed     bool
	receiptErrs   []error
	waited        []common.Hash
	reverted      map[common.Hash]bool
	receivedFrom  int
	receivedErr   error
	receivedCheck int
}

func (f *fakeChain) revert(txHash common.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reverted == nil {
		f.reverted = make(map[common.Hash]bool)
	}
	f.reverted[txHash] = true
}

func (f *fakeChain) MessageReceived(ctx context.Context, chainID int, transmitter common.Address, msg []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receivedCheck++
	if f.receivedErr != nil {
		return false, f.receivedErr
	}
	return f.receivedFrom > 0 && f.receivedCheck >= f.receivedFrom, nil
}

func (f *fakeChain) checks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receivedCheck
}

func (f *fakeChain) Allowance(ctx context.Context, chainID int, token, owner, spender common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.allowance), nil
}

func (f *fakeChain) WaitReceipt(ctx context.Context, chainID int, txHash common.Hash) (*ethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waited = append(f.waited, txHash)
	if len(f.receiptErrs) > 0 {
		err := f.receiptErrs[0]
		f.receiptErrs = f.receiptErrs[1:]
		return nil, err
	}

	if f.reverted[txHash] {
		receipt := &ethtypes.Receipt{Status: ethtypes.ReceiptStatusFailed, TxHash: txHash, BlockNumber: big.NewInt(1)}
		return receipt, bridgeerr.Newf(bridgeerr.KindReverted, "confirmation", "transaction %s reverted on chain %d", txHash.Hex(), chainID)
	}

	receipt := &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful, TxHash: txHash, BlockNumber: big.NewInt(1)}
	if !f.malformed {
		data, err := contracts.MessageTransmitter.Events["MessageSent"].Inputs.Pack(message)
		if err != nil {
			return nil, err
		}
		receipt.Logs = []*ethtypes.Log{{
			Address: f.transmitter,
			Topics:  []common.Hash{contracts.MessageSentTopic()},
			Data:    data,
			TxHash:  txHash,
		}}
	}
	return receipt, nil
}

type fakeWallet struct {
	mu         sync.Mutex
	switchErrs []error
	switched   []int
}

func (f *fakeWallet) Account(ctx context.Context) (common.Address, error) {
	return account, nil
}

func (f *fakeWallet) SwitchChain(ctx context.Context, chainID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.switchErrs) > 0 {
		err := f.switchErrs[0]
		f.switchErrs = f.switchErrs[1:]
		return err
	}
	f.switched = append(f.switched, chainID)
	return nil
}

// memStore keeps JSON copies, the way the redis store does
type memStore struct {
	mu      sync.Mutex
	ops     map[string][]byte
	history map[string][]types.Status
}

func newMemStore() *memStore {
	return &memStore{ops: make(map[string][]byte), history: make(map[string][]types.Status)}
}

func (m *memStore) UpsertBridgeOperation(op *types.BridgeOperation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[op.ID] = data
	return nil
}

func (m *memStore) ChangeBridgeOperationStatus(op *types.BridgeOperation, prevStatus types.Status) error {
	if err := m.UpsertBridgeOperation(op); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[op.ID] = append(m.history[op.ID], op.Status)
	return nil
}

func (m *memStore) GetBridgeOperation(id string) (*types.BridgeOperation, error) {
	m.mu.Lock()
	data, ok := m.ops[id]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var op types.BridgeOperation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

func (m *memStore) FindAllBridgeOperationsByStatus(status types.Status) ([]*types.BridgeOperation, error) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.ops))
	for id := range m.ops {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var out []*types.BridgeOperation
	for _, id := range ids {
		op, err := m.GetBridgeOperation(id)
		if err != nil {
			return nil, err
		}
		if op.Status == status {
			out = append(out, op)
		}
	}
	return out, nil
}

func (m *memStore) statusHistory(id string) []types.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Status(nil), m.history[id]...)
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ops)
}

// irisServer is the sandbox attestation service: pending while pending > 0
// requests remain, complete afterwards
type irisServer struct {
	*httptest.Server
	pending int32
	calls   int32
	paths   sync.Map
}

func newIrisServer(t *testing.T, pending int32) *irisServer {
	t.Helper()
	s := &irisServer{pending: pending}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.calls, 1)
		s.paths.Store(r.URL.Path, true)
		if atomic.AddInt32(&s.pending, -1) >= 0 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(attestation.Response{Status: "complete", Attestation: hexutil.Encode(signature)})
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *irisServer) complete() {
	atomic.StoreInt32(&s.pending, 0)
}

func (s *irisServer) requests() int {
	return int(atomic.LoadInt32(&s.calls))
}

func (s *irisServer) served(path string) bool {
	_, ok := s.paths.Load(path)
	return ok
}

type testEnv struct {
	orch      *Orchestrator
	registry  *registry.Registry
	transport *fakeTransport
	chain     *fakeChain
	wallet    *fakeWallet
	store     *memStore
	iris      *irisServer
}

type envOption func(*Options)

func newEnv(t *testing.T, pending int32, opts ...envOption) *testEnv {
	t.Helper()
	reg, err := registry.New(config.DefaultChains)
	require.NoError(t, err)
	src, err := reg.Resolve(23244)
	require.NoError(t, err)

	production := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("production attestation service called for %s", r.URL.Path)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(production.Close)

	env := &testEnv{
		registry:  reg,
		transport: newFakeTransport(),
		chain:     &fakeChain{allowance: big.NewInt(0), transmitter: src.Transmitter},
		wallet:    &fakeWallet{},
		store:     newMemStore(),
		iris:      newIrisServer(t, pending),
	}

	logger := zap.NewNop()
	submitter := gasless.NewSubmitter(env.transport, nil, logger)
	attester := attestation.NewClient(attestation.Config{
		SandboxURL:    env.iris.URL,
		ProductionURL: production.URL,
		RateLimit:     10000,
	}, reg, nil, logger)
	swapper, err := swap.NewSwapper(submitter, env.chain, config.DefaultSwapPools, "arc-adapter", 20*time.Minute, logger)
	require.NoError(t, err)

	options := Options{
		AttestationAttempts: 5,
		AttestationInterval: 5 * time.Millisecond,
		SubmitRetries:       2,
		RetryDelay:          time.Millisecond,
	}
	for _, o := range opts {
		o(&options)
	}
	env.orch = New(reg, submitter, env.chain, attester, env.wallet, swapper, env.store, options, nil, logger)
	return env
}

func (e *testEnv) stored(t *testing.T, id string) *types.BridgeOperation {
	t.Helper()
	op, err := e.store.GetBridgeOperation(id)
	require.NoError(t, err)
	require.NotNil(t, op)
	return op
}

func attestationPath(hash common.Hash) string {
	return "/v1/attestations/" + strings.ToLower(hash.Hex())
}

// relayedEnv sends through the HTTP relay transport instead of the fake one.
// The relayer answers success for everything; calls to the methods in revert
// are mined reverted.
func relayedEnv(t *testing.T, revert ...string) (*testEnv, *relayer) {
	t.Helper()
	env := newEnv(t, 0)
	rl := &relayer{chain: env.chain, revert: make(map[string]bool)}
	for _, m := range revert {
		rl.revert[m] = true
	}
	rl.Server = httptest.NewServer(http.HandlerFunc(rl.serve))
	t.Cleanup(rl.Close)

	logger := zap.NewNop()
	submitter := gasless.NewSubmitter(gasless.NewRelayTransport(rl.URL, env.chain, 0, logger), nil, logger)
	swapper, err := swap.NewSwapper(submitter, env.chain, config.DefaultSwapPools, "arc-adapter", 20*time.Minute, logger)
	require.NoError(t, err)
	env.orch = New(env.registry, submitter, env.chain, env.orch.attester, env.wallet, swapper, env.store, env.orch.opts, nil, logger)
	return env, rl
}

type relayer struct {
	*httptest.Server
	chain  *fakeChain
	revert map[string]bool

	mu     sync.Mutex
	hashes map[string][]common.Hash
}

func (rl *relayer) serve(w http.ResponseWriter, r *http.Request) {
	var req gasless.RelayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	data, err := hexutil.Decode(req.Data)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	method, _, err := decodeCall(data)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	rl.mu.Lock()
	if rl.hashes == nil {
		rl.hashes = make(map[string][]common.Hash)
	}
	hash := crypto.Keccak256Hash([]byte(fmt.Sprintf("relayed-%s-%d", method, len(rl.hashes[method]))))
	rl.hashes[method] = append(rl.hashes[method], hash)
	rl.mu.Unlock()

	if rl.revert[method] {
		rl.chain.revert(hash)
	}
	// mined, whatever the receipt status
	json.NewEncoder(w).Encode(gasless.RelayResponse{Success: true, TxHash: hash.Hex(), BlockNumber: "7"})
}

func (rl *relayer) relayed(method string) []common.Hash {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return append([]common.Hash(nil), rl.hashes[method]...)
}

func swapRequest() types.BurnRequest {
	req := baseRequest()
	req.WithSwap = true
	req.SwapParams = &types.SwapParams{
		TokenOut:     config.DefaultSwapPools[0].TokenOut,
		MinAmountOut: "99",
		Deadline:     time.Now().Add(time.Hour).Unix(),
	}
	return req
}

func baseRequest() types.BurnRequest {
	return types.BurnRequest{
		Amount:           "100",
		SourceChain:      23244,
		DestinationChain: 84532,
		Recipient:        recipient,
	}
}
