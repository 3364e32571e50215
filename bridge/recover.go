package bridge

import (
	"cctpbridge/bridgeerr"
	"cctpbridge/types"

	"go.uber.org/zap"
)

// Resumable reports whether an operation found in the store can be picked up
// without a caller asking for it. Operations stopped by an error wait for an
// explicit Resume, except an attestation timeout which only re-polls. A burn
// without a stored hash may have been broadcast already and is left alone.
func Resumable(op *types.BridgeOperation) bool {
	if op.Status.Terminal() {
		return false
	}
	if op.Error != nil {
		return op.Error.Kind == string(bridgeerr.KindAttestationTimeout) && op.Status == types.StatusAwaitingAttestation
	}
	if op.Status == types.StatusBurning && op.BurnTxHash == "" {
		return false
	}
	return true
}

// RecoverPending launches stored operations that are resumable and not
// running in this process. Returns how many were launched.
func (o *Orchestrator) RecoverPending() (int, error) {
	// collect first, an operation launched here moves between status sets
	var ids []string
	for _, status := range types.AllStatuses {
		if status.Terminal() {
			continue
		}
		ops, err := o.store.FindAllBridgeOperationsByStatus(status)
		if err != nil {
			return 0, err
		}
		for _, op := range ops {
			if Resumable(op) && !o.Running(op.ID) {
				ids = append(ids, op.ID)
			}
		}
	}

	launched := 0
	for _, id := range ids {
		op, err := o.store.GetBridgeOperation(id)
		if err != nil || op == nil || !Resumable(op) {
			continue
		}
		if err := o.launch(op); err != nil {
			o.logger.Debug("bridge operation not resumed", zap.String("operation_id", id), zap.Error(err))
			continue
		}
		o.logger.Info("resuming stored bridge operation", zap.String("operation_id", id), zap.String("status", string(op.Status)))
		launched++
	}
	return launched, nil
}
