// Package bridge drives a CCTP burn/mint transfer through its states:
// approve, burn, attestation, chain switch, mint and an optional swap.
// Every transition is persisted so an operation can be resumed from the
// step it stopped at.
package bridge

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"cctpbridge/bridgeerr"
	"cctpbridge/contracts"
	"cctpbridge/gasless"
	"cctpbridge/metrics"
	"cctpbridge/swap"
	"cctpbridge/types"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Chains interface {
	Resolve(chainID int) (types.ChainEndpoint, error)
}

type Submitter interface {
	Submit(ctx context.Context, call gasless.Call) (*gasless.Result, error)
	EnsureAllowance(ctx context.Context, reader gasless.ChainReader, chainID int, token, owner, spender common.Address, amount *big.Int) (*common.Hash, error)
}

// ChainReader reads allowances and receipts, and tells whether a message was
// already received on its destination
type ChainReader interface {
	gasless.ChainReader
	MessageReceived(ctx context.Context, chainID int, transmitter common.Address, message []byte) (bool, error)
}

type Attester interface {
	AwaitAttestation(ctx context.Context, messageHash common.Hash, sourceChainID int, maxAttempts int, interval time.Duration) ([]byte, error)
}

type Wallet interface {
	Account(ctx context.Context) (common.Address, error)
	SwitchChain(ctx context.Context, chainID int) error
}

type Swapper interface {
	Pool(chainID int) (swap.Pool, bool)
	Swap(ctx context.Context, req swap.Request) (*gasless.Result, error)
}

// Store persists operations, one record per operation under its current status
type Store interface {
	UpsertBridgeOperation(op *types.BridgeOperation) error
	ChangeBridgeOperationStatus(op *types.BridgeOperation, prevStatus types.Status) error
	GetBridgeOperation(id string) (*types.BridgeOperation, error)
	FindAllBridgeOperationsByStatus(status types.Status) ([]*types.BridgeOperation, error)
}

var ErrOperationNotFound = errors.New("bridge operation not found")

type Options struct {
	AttestationAttempts int
	AttestationInterval time.Duration
	// extra attempts for SubmissionFailed on approve, mint and swap; burn is never retried automatically
	SubmitRetries      int
	RetryDelay         time.Duration
	DefaultSlippageBps uint32
}

type Orchestrator struct {
	chains    Chains
	submitter Submitter
	reader    ChainReader
	attester  Attester
	wallet    Wallet
	swapper   Swapper // nil disables withSwap requests
	store     Store
	opts      Options
	locks     *accountLocks
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func New(chains Chains, submitter Submitter, reader ChainReader, attester Attester, wallet Wallet, swapper Swapper, store Store, opts Options, m *metrics.Metrics, logger *zap.Logger) *Orchestrator {
	if opts.AttestationAttempts <= 0 {
		opts.AttestationAttempts = 60
	}
	if opts.AttestationInterval <= 0 {
		opts.AttestationInterval = 3 * time.Second
	}
	if opts.SubmitRetries < 0 {
		opts.SubmitRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	return &Orchestrator{
		chains:    chains,
		submitter: submitter,
		reader:    reader,
		attester:  attester,
		wallet:    wallet,
		swapper:   swapper,
		store:     store,
		opts:      opts,
		locks:     newAccountLocks(),
		metrics:   m,
		logger:    logger.Named("bridge"),
		now:       time.Now,
		running:   make(map[string]context.CancelFunc),
	}
}

// plan is a request resolved against the registry and the swap pools
type plan struct {
	src    types.ChainEndpoint
	dst    types.ChainEndpoint
	amount *big.Int
	swap   *swap.Request
}

// Validate checks a request without touching the network
func (o *Orchestrator) Validate(req types.BurnRequest) error {
	_, err := o.plan(req)
	return err
}

func (o *Orchestrator) plan(req types.BurnRequest) (*plan, error) {
	amount, err := contracts.ParseUnits(strings.TrimSpace(req.Amount), types.StablecoinDecimals)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindInvalidRequest, "validate", err)
	}
	if amount.Sign() <= 0 {
		return nil, bridgeerr.New(bridgeerr.KindInvalidRequest, "validate", "amount must be greater than zero")
	}

	recipient, err := parseAddress("recipient", req.Recipient)
	if err != nil {
		return nil, err
	}
	if req.SourceChain == req.DestinationChain {
		return nil, bridgeerr.New(bridgeerr.KindInvalidRequest, "validate", "source and destination chain are the same")
	}

	src, err := o.chains.Resolve(req.SourceChain)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindUnsupportedChain, "validate", err)
	}
	dst, err := o.chains.Resolve(req.DestinationChain)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindUnsupportedChain, "validate", err)
	}
	if src.Testnet != dst.Testnet {
		return nil, bridgeerr.New(bridgeerr.KindInvalidRequest, "validate", "cannot bridge between testnet and mainnet")
	}

	p := &plan{src: src, dst: dst, amount: amount}
	if !req.WithSwap {
		return p, nil
	}

	if p.swap, err = o.planSwap(req, dst, amount, recipient); err != nil {
		return nil, err
	}
	return p, nil
}

func (o *Orchestrator) planSwap(req types.BurnRequest, dst types.ChainEndpoint, amount *big.Int, recipient common.Address) (*swap.Request, error) {
	params := req.SwapParams
	if params == nil {
		return nil, bridgeerr.New(bridgeerr.KindInvalidRequest, "validate", "withSwap requires swapParams")
	}
	if o.swapper == nil {
		return nil, bridgeerr.New(bridgeerr.KindInvalidRequest, "validate", "swaps are not enabled")
	}
	pool, ok := o.swapper.Pool(dst.ChainID)
	if !ok {
		return nil, bridgeerr.Newf(bridgeerr.KindUnsupportedChain, "validate", "no swap pool on chain %d", dst.ChainID)
	}
	tokenOut, err := parseAddress("tokenOut", params.TokenOut)
	if err != nil {
		return nil, err
	}
	if tokenOut != pool.TokenOut {
		return nil, bridgeerr.Newf(bridgeerr.KindInvalidRequest, "validate", "no pool for token %s on chain %d", tokenOut.Hex(), dst.ChainID)
	}

	sr := &swap.Request{
		ChainID:          dst.ChainID,
		Owner:            recipient,
		TokenIn:          dst.USDC,
		TokenOut:         tokenOut,
		AmountIn:         amount,
		SlippageBps:      params.SlippageBps,
		AllowZeroMinimum: params.AllowZeroMinimum,
		Recipient:        recipient,
	}
	if params.MinAmountOut != "" {
		sr.MinAmountOut, err = contracts.ParseUnits(strings.TrimSpace(params.MinAmountOut), pool.TokenOutDecimals)
		if err != nil {
			return nil, bridgeerr.Wrap(bridgeerr.KindInvalidRequest, "validate", err)
		}
	}
	if sr.MinAmountOut == nil && sr.SlippageBps == nil && !sr.AllowZeroMinimum && o.opts.DefaultSlippageBps > 0 {
		bps := o.opts.DefaultSlippageBps
		sr.SlippageBps = &bps
	}
	expected := contracts.Rescale(amount, types.StablecoinDecimals, pool.TokenOutDecimals)
	if _, err := swap.MinAmountOut(expected, sr.MinAmountOut, sr.SlippageBps, sr.AllowZeroMinimum); err != nil {
		return nil, err
	}
	if params.Deadline > 0 {
		sr.Deadline = time.Unix(params.Deadline, 0)
		if !sr.Deadline.After(o.now()) {
			return nil, bridgeerr.New(bridgeerr.KindInvalidRequest, "validate", "swap deadline already passed")
		}
	}
	return sr, nil
}

func parseAddress(field, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, bridgeerr.Newf(bridgeerr.KindInvalidRequest, "validate", "%s %q is not an address", field, value)
	}
	addr := common.HexToAddress(value)
	if err := ethav.Validate(addr.Hex()); err != nil {
		return common.Address{}, bridgeerr.Wrap(bridgeerr.KindInvalidRequest, "validate", err)
	}
	if addr == (common.Address{}) {
		return common.Address{}, bridgeerr.Newf(bridgeerr.KindInvalidRequest, "validate", "%s is the zero address", field)
	}
	return addr, nil
}

// Prepare validates req, resolves the bridging account and stores a new
// operation at Idle. Nothing is submitted on-chain.
func (o *Orchestrator) Prepare(ctx context.Context, req types.BurnRequest) (*types.BridgeOperation, error) {
	p, err := o.plan(req)
	if err != nil {
		return nil, err
	}
	account, err := o.wallet.Account(ctx)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindInternal, "wallet account", err)
	}

	now := o.now().Unix()
	op := &types.BridgeOperation{
		ID:          uuid.New().String(),
		Status:      types.StatusIdle,
		Request:     req,
		AmountUnits: p.amount.String(),
		Account:     account.Hex(),
		TsCreated:   now,
		TsUpdated:   now,
	}
	if err := o.store.UpsertBridgeOperation(op); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindInternal, "store", err)
	}
	o.metrics.OperationStatus(op.Status)
	o.logger.Info("bridge operation created",
		zap.String("operation_id", op.ID),
		zap.Int("source_chain", req.SourceChain),
		zap.Int("destination_chain", req.DestinationChain),
		zap.String("amount", req.Amount))
	return op, nil
}

// BridgeUSDC runs a transfer to completion in the caller goroutine. The
// returned operation carries the status reached, also when err is not nil.
func (o *Orchestrator) BridgeUSDC(ctx context.Context, req types.BurnRequest) (*types.BridgeOperation, error) {
	op, err := o.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return op, o.Run(ctx, op)
}

// Start prepares an operation and runs it in the background
func (o *Orchestrator) Start(req types.BurnRequest) (*types.BridgeOperation, error) {
	op, err := o.Prepare(context.Background(), req)
	if err != nil {
		return nil, err
	}
	snapshot := *op
	// the resume worker may have picked it up already
	if err := o.launch(op); err != nil && !o.Running(op.ID) {
		return nil, err
	}
	return &snapshot, nil
}

// launch registers op as running before the goroutine starts, so a Cancel
// right after Start always finds it
func (o *Orchestrator) launch(op *types.BridgeOperation) error {
	ctx, cancel := context.WithCancel(context.Background())
	if !o.register(op.ID, cancel) {
		cancel()
		return bridgeerr.Newf(bridgeerr.KindInvalidRequest, "run", "operation %s is already running", op.ID)
	}
	go func() {
		defer o.unregister(op.ID)
		defer cancel()
		o.advance(ctx, op)
	}()
	return nil
}

// Run advances op until it reaches a terminal status or stops on an error.
// Errors are recorded on the operation before being returned.
func (o *Orchestrator) Run(ctx context.Context, op *types.BridgeOperation) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !o.register(op.ID, cancel) {
		return bridgeerr.Newf(bridgeerr.KindInvalidRequest, "run", "operation %s is already running", op.ID)
	}
	defer o.unregister(op.ID)
	return o.advance(ctx, op)
}

// Resume re-invokes the current transition of a stored operation
func (o *Orchestrator) Resume(ctx context.Context, id string) (*types.BridgeOperation, error) {
	op, err := o.loadResumable(id)
	if err != nil {
		return op, err
	}
	return op, o.Run(ctx, op)
}

// ResumeAsync is Resume in the background
func (o *Orchestrator) ResumeAsync(id string) (*types.BridgeOperation, error) {
	op, err := o.loadResumable(id)
	if err != nil {
		return op, err
	}
	snapshot := *op
	if err := o.launch(op); err != nil {
		return &snapshot, err
	}
	return &snapshot, nil
}

func (o *Orchestrator) loadResumable(id string) (*types.BridgeOperation, error) {
	op, err := o.Get(id)
	if err != nil {
		return nil, err
	}
	if op.Status.Terminal() {
		return op, bridgeerr.Newf(bridgeerr.KindInvalidRequest, "resume", "operation %s is already %s", id, op.Status)
	}
	if o.Running(id) {
		return op, bridgeerr.Newf(bridgeerr.KindInvalidRequest, "resume", "operation %s is already running", id)
	}
	return op, nil
}

// Cancel aborts a running operation. It keeps its status and records Canceled.
func (o *Orchestrator) Cancel(id string) bool {
	o.mu.Lock()
	cancel, ok := o.running[id]
	o.mu.Unlock()
	if ok {
		o.logger.Info("canceling bridge operation", zap.String("operation_id", id))
		cancel()
	}
	return ok
}

func (o *Orchestrator) Running(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[id]
	return ok
}

func (o *Orchestrator) Get(id string) (*types.BridgeOperation, error) {
	op, err := o.store.GetBridgeOperation(id)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindInternal, "store", err)
	}
	if op == nil {
		return nil, ErrOperationNotFound
	}
	return op, nil
}

func (o *Orchestrator) List(status types.Status) ([]*types.BridgeOperation, error) {
	return o.store.FindAllBridgeOperationsByStatus(status)
}

func (o *Orchestrator) register(id string, cancel context.CancelFunc) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.running[id]; ok {
		return false
	}
	o.running[id] = cancel
	return true
}

func (o *Orchestrator) unregister(id string) {
	o.mu.Lock()
	delete(o.running, id)
	o.mu.Unlock()
}
