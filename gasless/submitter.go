// Package gasless turns contract calls into on-chain transactions paid for by
// whichever Transport is configured: the HTTP relayer or a local signing key.
package gasless

import (
	"context"
	"fmt"
	"math/big"

	"cctpbridge/bridgeerr"
	"cctpbridge/metrics"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Call is a contract invocation before encoding
type Call struct {
	ChainID int
	To      common.Address
	From    common.Address // account the call is made on behalf of
	ABI     abi.ABI
	Method  string
	Args    []interface{}
	Value   *big.Int
}

// Transaction is an encoded call ready for a Transport
type Transaction struct {
	ChainID int
	To      common.Address
	From    common.Address
	Data    []byte
	Value   *big.Int
}

type Result struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

// Transport broadcasts a transaction and returns once it is mined.
// Errors are *bridgeerr.Error of kind SubmissionFailed, SimulatedRevert,
// UnsupportedChain, RelayerUnconfigured or Reverted.
type Transport interface {
	Name() string
	Send(ctx context.Context, tx *Transaction) (*Result, error)
}

type Submitter struct {
	transport Transport
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewSubmitter(transport Transport, m *metrics.Metrics, logger *zap.Logger) *Submitter {
	return &Submitter{
		transport: transport,
		metrics:   m,
		logger:    logger.Named("gasless"),
	}
}

func (s *Submitter) TransportName() string {
	return s.transport.Name()
}

// Encode packs the call data for call.Method
func Encode(call Call) (*Transaction, error) {
	if _, ok := call.ABI.Methods[call.Method]; !ok {
		return nil, bridgeerr.Newf(bridgeerr.KindInvalidRequest, "encode", "method %q not in ABI", call.Method)
	}
	data, err := call.ABI.Pack(call.Method, call.Args...)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindInvalidRequest, "encode", fmt.Errorf("%s: %w", call.Method, err))
	}
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	return &Transaction{
		ChainID: call.ChainID,
		To:      call.To,
		From:    call.From,
		Data:    data,
		Value:   value,
	}, nil
}

// Submit encodes call and hands it to the transport
func (s *Submitter) Submit(ctx context.Context, call Call) (*Result, error) {
	tx, err := Encode(call)
	if err != nil {
		return nil, err
	}

	log := s.logger.With(
		zap.String("transport", s.transport.Name()),
		zap.Int("chain_id", call.ChainID),
		zap.String("to", call.To.Hex()),
		zap.String("method", call.Method))

	res, err := s.transport.Send(ctx, tx)
	if err != nil {
		kind := bridgeerr.KindOf(err)
		s.metrics.Submission(s.transport.Name(), string(kind))
		log.Warn("submission failed", zap.String("kind", string(kind)), zap.Error(err))
		return nil, err
	}

	s.metrics.Submission(s.transport.Name(), "ok")
	log.Info("transaction submitted", zap.String("tx_hash", res.TxHash.Hex()), zap.Uint64("block", res.BlockNumber))
	return res, nil
}
