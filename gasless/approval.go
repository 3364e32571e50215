package gasless

import (
	"context"
	"math/big"

	"cctpbridge/contracts"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// ChainReader is what the allowance step needs from the chain
type ChainReader interface {
	Allowance(ctx context.Context, chainID int, token, owner, spender common.Address) (*big.Int, error)
	WaitReceipt(ctx context.Context, chainID int, txHash common.Hash) (*ethtypes.Receipt, error)
}

// EnsureAllowance reads the allowance of owner for spender and, when it is below
// amount, submits approve(spender, amount) and waits for its confirmation.
// Returns the approval transaction hash, nil if no approval was needed.
func (s *Submitter) EnsureAllowance(ctx context.Context, reader ChainReader, chainID int, token, owner, spender common.Address, amount *big.Int) (*common.Hash, error) {
	current, err := reader.Allowance(ctx, chainID, token, owner, spender)
	if err != nil {
		return nil, err
	}
	if current.Cmp(amount) >= 0 {
		return nil, nil
	}

	s.logger.Info("allowance insufficient, approving",
		zap.Int("chain_id", chainID),
		zap.String("token", token.Hex()),
		zap.String("spender", spender.Hex()),
		zap.Stringer("current", current),
		zap.Stringer("required", amount))

	res, err := s.Submit(ctx, Call{
		ChainID: chainID,
		To:      token,
		From:    owner,
		ABI:     contracts.ERC20,
		Method:  "approve",
		Args:    []interface{}{spender, amount},
	})
	if err != nil {
		return nil, err
	}

	if _, err := reader.WaitReceipt(ctx, chainID, res.TxHash); err != nil {
		return &res.TxHash, err
	}
	return &res.TxHash, nil
}
