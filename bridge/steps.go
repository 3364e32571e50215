package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"cctpbridge/bridgeerr"
	"cctpbridge/contracts"
	"cctpbridge/gasless"
	"cctpbridge/poll"
	"cctpbridge/types"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// kinds that end an operation in Failed, everything else leaves it resumable
var fatalKinds = map[bridgeerr.Kind]bool{
	bridgeerr.KindInvalidRequest:   true,
	bridgeerr.KindUnsupportedChain: true,
	bridgeerr.KindMalformedReceipt: true,
	bridgeerr.KindReverted:         true,
}

func (o *Orchestrator) advance(ctx context.Context, op *types.BridgeOperation) error {
	log := o.logger.With(zap.String("operation_id", op.ID))

	src, err := o.chains.Resolve(op.Request.SourceChain)
	if err != nil {
		return o.fail(ctx, op, bridgeerr.Wrap(bridgeerr.KindUnsupportedChain, "resolve", err))
	}
	dst, err := o.chains.Resolve(op.Request.DestinationChain)
	if err != nil {
		return o.fail(ctx, op, bridgeerr.Wrap(bridgeerr.KindUnsupportedChain, "resolve", err))
	}
	amount, ok := new(big.Int).SetString(op.AmountUnits, 10)
	if !ok || amount.Sign() <= 0 {
		return o.fail(ctx, op, bridgeerr.Newf(bridgeerr.KindInvalidRequest, "resolve", "stored amount %q is invalid", op.AmountUnits))
	}
	if !common.IsHexAddress(op.Account) {
		return o.fail(ctx, op, bridgeerr.Newf(bridgeerr.KindInvalidRequest, "resolve", "stored account %q is invalid", op.Account))
	}
	account := common.HexToAddress(op.Account)

	if op.Error != nil {
		op.AddMessage(fmt.Sprintf("resumed at %s after %s", op.Status, op.Error.Kind))
		op.Error = nil
	}

	for !op.Status.Terminal() {
		if err := ctx.Err(); err != nil {
			return o.fail(ctx, op, err)
		}

		var err error
		switch op.Status {
		case types.StatusIdle:
			err = o.transition(op, types.StatusApprovingSource)
		case types.StatusApprovingSource, types.StatusBurning:
			// approve and burn are nonce-ordered, nothing else may submit for the account in between
			err = o.withAccount(ctx, src.ChainID, account, func() error {
				return o.approveAndBurn(ctx, op, src, dst, account, amount)
			})
		case types.StatusAwaitingAttestation:
			err = o.awaitAttestation(ctx, op, src)
		case types.StatusSwitchingChain:
			err = o.switchChain(ctx, op, dst)
		case types.StatusMinting:
			err = o.withAccount(ctx, dst.ChainID, account, func() error {
				return o.mint(ctx, op, dst, account)
			})
		case types.StatusSwapping:
			err = o.swap(ctx, op, dst, amount)
		default:
			err = bridgeerr.Newf(bridgeerr.KindInternal, "run", "unknown status %q", op.Status)
		}
		if err != nil {
			return o.fail(ctx, op, err)
		}
	}

	log.Info("bridge operation finished", zap.String("status", string(op.Status)))
	if op.Status == types.StatusPartialSuccess && op.SwapError != nil {
		return bridgeerr.Newf(bridgeerr.KindPartialSuccess, "swap", "funds minted, swap failed: %s", op.SwapError.Message)
	}
	return nil
}

func (o *Orchestrator) withAccount(ctx context.Context, chainID int, account common.Address, f func() error) error {
	release, err := o.locks.Acquire(ctx, chainID, account)
	if err != nil {
		return err
	}
	defer release()
	return f()
}

func (o *Orchestrator) approveAndBurn(ctx context.Context, op *types.BridgeOperation, src, dst types.ChainEndpoint, account common.Address, amount *big.Int) error {
	if op.Status == types.StatusApprovingSource {
		_, err := retrySubmission(ctx, o, op, "approve", func(ctx context.Context) (*common.Hash, error) {
			hash, err := o.submitter.EnsureAllowance(ctx, o.reader, src.ChainID, src.USDC, account, src.Messenger, amount)
			if hash != nil {
				op.ApprovalTxHash = hash.Hex()
			}
			return hash, err
		})
		if err != nil {
			return err
		}
		if err := o.transition(op, types.StatusBurning); err != nil {
			return err
		}
	}
	return o.burn(ctx, op, src, dst, account, amount)
}

// burn is submitted at most once per invocation. Once its hash is stored,
// later invocations only fetch the receipt.
func (o *Orchestrator) burn(ctx context.Context, op *types.BridgeOperation, src, dst types.ChainEndpoint, account common.Address, amount *big.Int) error {
	if op.BurnTxHash == "" {
		recipient := common.HexToAddress(op.Request.Recipient)
		res, err := o.submitter.Submit(ctx, gasless.Call{
			ChainID: src.ChainID,
			To:      src.Messenger,
			From:    account,
			ABI:     contracts.TokenMessenger,
			Method:  "depositForBurn",
			Args:    []interface{}{amount, dst.DomainID, contracts.AddressToBytes32(recipient), src.USDC},
		})
		if err != nil {
			return err
		}
		op.BurnTxHash = res.TxHash.Hex()
		op.AddMessage("burn submitted: " + op.BurnTxHash)
		if err := o.save(op); err != nil {
			return err
		}
	}

	txHash := common.HexToHash(op.BurnTxHash)
	receipt, err := o.reader.WaitReceipt(ctx, src.ChainID, txHash)
	if err != nil {
		return err
	}
	message, messageHash, err := contracts.ExtractMessage(receipt.Logs, src.Transmitter)
	if err != nil {
		// the burn is on-chain, a new one would spend twice
		return bridgeerr.Wrap(bridgeerr.KindMalformedReceipt, "burn receipt",
			fmt.Errorf("burn %s confirmed, reconcile manually: %w", txHash.Hex(), err))
	}

	op.Burn = &types.BurnReceipt{
		TransactionHash: txHash,
		MessageBytes:    message,
		MessageHash:     messageHash,
	}
	o.logger.Info("burn confirmed",
		zap.String("operation_id", op.ID),
		zap.String("tx_hash", txHash.Hex()),
		zap.String("message_hash", messageHash.Hex()))
	return o.transition(op, types.StatusAwaitingAttestation)
}

func (o *Orchestrator) awaitAttestation(ctx context.Context, op *types.BridgeOperation, src types.ChainEndpoint) error {
	if op.Burn == nil {
		return bridgeerr.New(bridgeerr.KindInternal, "attestation", "no burn receipt recorded")
	}
	signature, err := o.attester.AwaitAttestation(ctx, op.Burn.MessageHash, src.ChainID, o.opts.AttestationAttempts, o.opts.AttestationInterval)
	if err != nil {
		return err
	}
	op.Attestation = &types.Attestation{Signature: signature, Status: types.AttestationComplete}
	return o.transition(op, types.StatusSwitchingChain)
}

func (o *Orchestrator) switchChain(ctx context.Context, op *types.BridgeOperation, dst types.ChainEndpoint) error {
	if err := o.wallet.SwitchChain(ctx, dst.ChainID); err != nil {
		return err
	}
	return o.transition(op, types.StatusMinting)
}

func (o *Orchestrator) mint(ctx context.Context, op *types.BridgeOperation, dst types.ChainEndpoint, account common.Address) error {
	if op.Burn == nil || op.Attestation == nil {
		return bridgeerr.New(bridgeerr.KindInternal, "mint", "burn message or attestation missing")
	}
	message := []byte(op.Burn.MessageBytes)

	// a resumed operation may have minted before it stopped
	if o.messageReceived(ctx, op, dst, message) {
		return o.minted(op, &types.MintReceipt{AlreadyReceived: true})
	}

	res, err := retrySubmission(ctx, o, op, "mint", func(ctx context.Context) (*gasless.Result, error) {
		return o.submitter.Submit(ctx, gasless.Call{
			ChainID: dst.ChainID,
			To:      dst.Transmitter,
			From:    account,
			ABI:     contracts.MessageTransmitter,
			Method:  "receiveMessage",
			Args:    []interface{}{message, []byte(op.Attestation.Signature)},
		})
	})
	if err != nil {
		kind := bridgeerr.KindOf(err)
		if (kind == bridgeerr.KindReverted || kind == bridgeerr.KindSimulatedRevert) && o.messageReceived(ctx, op, dst, message) {
			return o.minted(op, &types.MintReceipt{AlreadyReceived: true})
		}
		return err
	}
	return o.minted(op, &types.MintReceipt{TransactionHash: res.TxHash})
}

// messageReceived asks the destination transmitter whether message was consumed.
// A failed read counts as not received, receiveMessage itself rejects a replay.
func (o *Orchestrator) messageReceived(ctx context.Context, op *types.BridgeOperation, dst types.ChainEndpoint, message []byte) bool {
	received, err := o.reader.MessageReceived(ctx, dst.ChainID, dst.Transmitter, message)
	if err != nil {
		o.logger.Warn("cannot check whether the message was received",
			zap.String("operation_id", op.ID),
			zap.Int("chain_id", dst.ChainID),
			zap.Error(err))
		return false
	}
	return received
}

func (o *Orchestrator) minted(op *types.BridgeOperation, receipt *types.MintReceipt) error {
	op.Mint = receipt
	if receipt.AlreadyReceived {
		op.AddMessage("message already received on the destination chain, not minting again")
		o.logger.Info("message already received, skipping mint", zap.String("operation_id", op.ID))
	}
	if op.Request.WithSwap {
		return o.transition(op, types.StatusSwapping)
	}
	return o.transition(op, types.StatusComplete)
}

// swap never unwinds the mint. A failed swap ends in PartialSuccess with the
// swap error kept apart from the operation error.
func (o *Orchestrator) swap(ctx context.Context, op *types.BridgeOperation, dst types.ChainEndpoint, amount *big.Int) error {
	recipient := common.HexToAddress(op.Request.Recipient)

	req, err := o.planSwap(op.Request, dst, amount, recipient)
	if err == nil {
		err = o.withAccount(ctx, dst.ChainID, recipient, func() error {
			res, err := retrySubmission(ctx, o, op, "swap", func(ctx context.Context) (*gasless.Result, error) {
				return o.swapper.Swap(ctx, *req)
			})
			if err != nil {
				return err
			}
			op.SwapTxHash = res.TxHash.Hex()
			return nil
		})
	}
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		op.SwapError = operationError(err, types.StatusSwapping)
		op.AddMessage("swap failed: " + err.Error())
		o.logger.Warn("swap failed after mint",
			zap.String("operation_id", op.ID),
			zap.String("kind", string(bridgeerr.KindOf(err))),
			zap.Error(err))
		return o.transition(op, types.StatusPartialSuccess)
	}
	return o.transition(op, types.StatusComplete)
}

// retrySubmission repeats submit while it fails with SubmissionFailed, up to
// SubmitRetries extra attempts. A result is never dropped once obtained.
func retrySubmission[T any](ctx context.Context, o *Orchestrator, op *types.BridgeOperation, step string, submit func(ctx context.Context) (T, error)) (T, error) {
	var (
		result T
		got    bool
	)
	task := poll.New(func(ctx context.Context, attempt int) (T, bool, error) {
		v, err := submit(ctx)
		if err == nil {
			result, got = v, true
			return v, true, nil
		}
		if bridgeerr.KindOf(err) != bridgeerr.KindSubmissionFailed {
			return v, false, poll.Permanent(err)
		}
		o.logger.Warn("submission failed",
			zap.String("operation_id", op.ID),
			zap.String("step", step),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return v, false, err
	}, poll.Exponential(o.opts.RetryDelay, 8*o.opts.RetryDelay), o.opts.SubmitRetries+1)

	_, err := task.Run(ctx)
	if got {
		return result, nil
	}
	var exhausted *poll.ExhaustedError
	if errors.As(err, &exhausted) && exhausted.Last != nil {
		return result, exhausted.Last
	}
	return result, err
}

func (o *Orchestrator) transition(op *types.BridgeOperation, next types.Status) error {
	prev := op.Status
	op.Status = next
	op.TsUpdated = o.now().Unix()
	if err := o.store.ChangeBridgeOperationStatus(op, prev); err != nil {
		op.Status = prev
		return bridgeerr.Wrap(bridgeerr.KindInternal, "store", err)
	}
	o.metrics.OperationStatus(next)
	o.logger.Info("bridge operation status changed",
		zap.String("operation_id", op.ID),
		zap.String("from", string(prev)),
		zap.String("status", string(next)))
	return nil
}

func (o *Orchestrator) save(op *types.BridgeOperation) error {
	op.TsUpdated = o.now().Unix()
	if err := o.store.UpsertBridgeOperation(op); err != nil {
		return bridgeerr.Wrap(bridgeerr.KindInternal, "store", err)
	}
	return nil
}

// fail records err next to the status it happened at. Fatal kinds move the
// operation to Failed, the rest leave it where it is for Resume.
func (o *Orchestrator) fail(ctx context.Context, op *types.BridgeOperation, err error) error {
	if ctx.Err() != nil && bridgeerr.KindOf(err) != bridgeerr.KindCanceled {
		err = bridgeerr.Wrap(bridgeerr.KindCanceled, string(op.Status), err)
	}
	kind := bridgeerr.KindOf(err)
	op.Error = operationError(err, op.Status)
	op.AddMessage(fmt.Sprintf("%s at %s: %s", kind, op.Status, err))

	log := o.logger.With(
		zap.String("operation_id", op.ID),
		zap.String("status", string(op.Status)),
		zap.String("kind", string(kind)))

	var storeErr error
	if fatalKinds[kind] {
		log.Error("bridge operation failed", zap.Error(err))
		prev := op.Status
		op.Status = types.StatusFailed
		op.TsUpdated = o.now().Unix()
		storeErr = o.store.ChangeBridgeOperationStatus(op, prev)
		o.metrics.OperationStatus(types.StatusFailed)
	} else {
		log.Warn("bridge operation stopped", zap.Bool("retryable", bridgeerr.IsRetryable(err)), zap.Error(err))
		storeErr = o.save(op)
	}
	if storeErr != nil {
		log.Error("error saving bridge operation", zap.Error(storeErr))
	}
	return err
}

func operationError(err error, status types.Status) *types.OperationError {
	return &types.OperationError{
		Kind:      string(bridgeerr.KindOf(err)),
		Message:   err.Error(),
		Retryable: bridgeerr.IsRetryable(err),
		Status:    status,
	}
}
