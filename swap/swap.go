// Package swap trades a token for another through a v4 hook router, with a
// minimum-output bound on every submission.
package swap

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"cctpbridge/bridgeerr"
	"cctpbridge/config"
	"cctpbridge/contracts"
	"cctpbridge/gasless"
	"cctpbridge/types"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const maxBps = 10000

type Pool struct {
	ChainID          int
	Router           common.Address
	TokenOut         common.Address
	TokenOutDecimals int32
	Fee              *big.Int
	TickSpacing      *big.Int
	Hooks            common.Address
}

type Request struct {
	ChainID  int
	Owner    common.Address // account the input tokens are spent from
	TokenIn  common.Address
	TokenOut common.Address
	AmountIn *big.Int
	// at least one of MinAmountOut or SlippageBps, unless AllowZeroMinimum
	MinAmountOut     *big.Int
	SlippageBps      *uint32
	AllowZeroMinimum bool
	Recipient        common.Address
	Deadline         time.Time
}

type Swapper struct {
	submitter         *gasless.Submitter
	reader            gasless.ChainReader
	pools             map[int]Pool
	adapterIdentifier string
	defaultDeadline   time.Duration
	now               func() time.Time
	logger            *zap.Logger
}

func NewSwapper(submitter *gasless.Submitter, reader gasless.ChainReader, pools []config.SwapPool, adapterIdentifier string, defaultDeadline time.Duration, logger *zap.Logger) (*Swapper, error) {
	s := &Swapper{
		submitter:         submitter,
		reader:            reader,
		pools:             make(map[int]Pool, len(pools)),
		adapterIdentifier: adapterIdentifier,
		defaultDeadline:   defaultDeadline,
		now:               time.Now,
		logger:            logger.Named("swap"),
	}
	for _, p := range pools {
		if !common.IsHexAddress(p.Router) || !common.IsHexAddress(p.TokenOut) {
			return nil, fmt.Errorf("swap pool on chain %d: router and token_out must be addresses", p.ChainID)
		}
		if p.Hooks != "" && !common.IsHexAddress(p.Hooks) {
			return nil, fmt.Errorf("swap pool on chain %d: hooks must be an address", p.ChainID)
		}
		if _, ok := s.pools[p.ChainID]; ok {
			return nil, fmt.Errorf("swap pool on chain %d configured twice", p.ChainID)
		}
		decimals := p.TokenOutDecimals
		if decimals == 0 {
			decimals = types.StablecoinDecimals
		}
		s.pools[p.ChainID] = Pool{
			ChainID:          p.ChainID,
			Router:           common.HexToAddress(p.Router),
			TokenOut:         common.HexToAddress(p.TokenOut),
			TokenOutDecimals: decimals,
			Fee:              big.NewInt(int64(p.Fee)),
			TickSpacing:      big.NewInt(int64(p.TickSpacing)),
			Hooks:            common.HexToAddress(p.Hooks),
		}
	}
	return s, nil
}

func (s *Swapper) Pool(chainID int) (Pool, bool) {
	p, ok := s.pools[chainID]
	return p, ok
}

// Direction reports zeroForOne for selling tokenIn, currencies ordered by address
func Direction(tokenIn, tokenOut common.Address) (bool, common.Address, common.Address) {
	c0, c1 := contracts.SortCurrencies(tokenIn, tokenOut)
	return c0 == tokenIn, c0, c1
}

// MinAmountOut resolves the output bound. With both an explicit minimum and a
// slippage tolerance the stricter one wins. expectedOut is the quote the
// tolerance is applied to.
func MinAmountOut(expectedOut, minOut *big.Int, slippageBps *uint32, allowZero bool) (*big.Int, error) {
	if slippageBps != nil && *slippageBps > maxBps {
		return nil, bridgeerr.Newf(bridgeerr.KindInvalidRequest, "swap", "slippage %d bps exceeds 100%%", *slippageBps)
	}
	if minOut != nil && minOut.Sign() < 0 {
		return nil, bridgeerr.New(bridgeerr.KindInvalidRequest, "swap", "negative minimum output")
	}

	var bound *big.Int
	if minOut != nil {
		bound = new(big.Int).Set(minOut)
	}
	if slippageBps != nil {
		fromSlippage := contracts.ApplySlippage(expectedOut, *slippageBps)
		if bound == nil || fromSlippage.Cmp(bound) > 0 {
			bound = fromSlippage
		}
	}

	if bound == nil {
		if !allowZero {
			return nil, bridgeerr.New(bridgeerr.KindInvalidRequest, "swap", "no minimum output or slippage tolerance given")
		}
		return new(big.Int), nil
	}
	if bound.Sign() == 0 && !allowZero {
		return nil, bridgeerr.New(bridgeerr.KindInvalidRequest, "swap", "minimum output resolves to zero")
	}
	return bound, nil
}

// Swap approves the router when needed and submits swapExactTokensForTokens
func (s *Swapper) Swap(ctx context.Context, req Request) (*gasless.Result, error) {
	pool, ok := s.pools[req.ChainID]
	if !ok {
		return nil, bridgeerr.Newf(bridgeerr.KindUnsupportedChain, "swap", "no swap pool on chain %d", req.ChainID)
	}
	if req.TokenOut != pool.TokenOut {
		return nil, bridgeerr.Newf(bridgeerr.KindInvalidRequest, "swap", "pool on chain %d does not trade %s", req.ChainID, req.TokenOut.Hex())
	}
	if req.TokenIn == req.TokenOut {
		return nil, bridgeerr.New(bridgeerr.KindInvalidRequest, "swap", "token in and out are the same")
	}
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return nil, bridgeerr.New(bridgeerr.KindInvalidRequest, "swap", "amount in must be positive")
	}

	// stable pair, parity quote
	expectedOut := contracts.Rescale(req.AmountIn, types.StablecoinDecimals, pool.TokenOutDecimals)
	minOut, err := MinAmountOut(expectedOut, req.MinAmountOut, req.SlippageBps, req.AllowZeroMinimum)
	if err != nil {
		return nil, err
	}

	deadline := req.Deadline
	if deadline.IsZero() {
		deadline = s.now().Add(s.defaultDeadline)
	}
	if !deadline.After(s.now()) {
		return nil, bridgeerr.Newf(bridgeerr.KindInvalidRequest, "swap", "deadline %s already passed", deadline.UTC().Format(time.RFC3339))
	}

	zeroForOne, c0, c1 := Direction(req.TokenIn, req.TokenOut)
	hookData, err := contracts.EncodeHookData(s.adapterIdentifier, req.Recipient.Hex())
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindInternal, "swap", err)
	}

	if _, err := s.submitter.EnsureAllowance(ctx, s.reader, req.ChainID, req.TokenIn, req.Owner, pool.Router, req.AmountIn); err != nil {
		return nil, err
	}

	s.logger.Info("submitting swap",
		zap.Int("chain_id", req.ChainID),
		zap.Stringer("amount_in", req.AmountIn),
		zap.Stringer("min_out", minOut),
		zap.Bool("zero_for_one", zeroForOne))

	return s.submitter.Submit(ctx, gasless.Call{
		ChainID: req.ChainID,
		To:      pool.Router,
		From:    req.Owner,
		ABI:     contracts.SwapRouter,
		Method:  "swapExactTokensForTokens",
		Args: []interface{}{
			req.AmountIn,
			minOut,
			zeroForOne,
			contracts.PoolKey{
				Currency0:   c0,
				Currency1:   c1,
				Fee:         pool.Fee,
				TickSpacing: pool.TickSpacing,
				Hooks:       pool.Hooks,
			},
			hookData,
			req.Recipient,
			big.NewInt(deadline.Unix()),
		},
	})
}
