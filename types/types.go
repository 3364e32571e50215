package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// USDC and the other stablecoins handled here carry 6 decimals
const StablecoinDecimals = 6

// ChainEndpoint is the resolved bridge view of one chain
type ChainEndpoint struct {
	Name        string
	ChainID     int
	DomainID    uint32
	Messenger   common.Address // TokenMessenger, takes depositForBurn
	Transmitter common.Address // MessageTransmitter, emits MessageSent and takes receiveMessage
	Minter      common.Address
	USDC        common.Address
	Testnet     bool
	RPCList     []string
}

type Status string

const (
	StatusIdle                Status = "idle"
	StatusApprovingSource     Status = "approvingSource"
	StatusBurning             Status = "burning"
	StatusAwaitingAttestation Status = "awaitingAttestation"
	StatusSwitchingChain      Status = "switchingChain"
	StatusMinting             Status = "minting"
	StatusSwapping            Status = "swapping"
	StatusComplete            Status = "complete"
	StatusPartialSuccess      Status = "partialSuccess"
	StatusFailed              Status = "failed"
)

var AllStatuses = []Status{
	StatusIdle,
	StatusApprovingSource,
	StatusBurning,
	StatusAwaitingAttestation,
	StatusSwitchingChain,
	StatusMinting,
	StatusSwapping,
	StatusComplete,
	StatusPartialSuccess,
	StatusFailed,
}

// Terminal statuses are never advanced again
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusPartialSuccess || s == StatusFailed
}

// SwapParams describe an optional trade executed on the destination chain after mint.
// Amounts are decimal strings in the output token units.
type SwapParams struct {
	TokenOut         string  `json:"tokenOut"`
	MinAmountOut     string  `json:"minAmountOut,omitempty"`
	SlippageBps      *uint32 `json:"slippageBps,omitempty"`
	AllowZeroMinimum bool    `json:"allowZeroMinimum,omitempty"`
	Deadline         int64   `json:"deadline,omitempty"` // unix seconds
}

// BurnRequest is immutable once an operation was created from it
type BurnRequest struct {
	Amount           string      `json:"amount"` // decimal, 6 implied decimals
	SourceChain      int         `json:"sourceChain"`
	DestinationChain int         `json:"destinationChain"`
	Recipient        string      `json:"recipient"`
	WithSwap         bool        `json:"withSwap,omitempty"`
	SwapParams       *SwapParams `json:"swapParams,omitempty"`
}

type BurnReceipt struct {
	TransactionHash common.Hash   `json:"transactionHash"`
	MessageBytes    hexutil.Bytes `json:"messageBytes"`
	MessageHash     common.Hash   `json:"messageHash"`
}

type AttestationStatus string

const (
	AttestationPending  AttestationStatus = "pending"
	AttestationComplete AttestationStatus = "complete"
)

type Attestation struct {
	Signature hexutil.Bytes     `json:"signature"`
	Status    AttestationStatus `json:"status"`
}

// MintReceipt without a transaction hash means the message was found already
// received on the destination, e.g. by a mint that landed before a restart
type MintReceipt struct {
	TransactionHash common.Hash `json:"transactionHash"`
	AlreadyReceived bool        `json:"alreadyReceived,omitempty"`
}

// OperationError keeps the kind next to the status at which it happened
type OperationError struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Status    Status `json:"status"`
}

// BridgeOperation is a single burn/mint transfer, optionally followed by a swap
type BridgeOperation struct {
	ID             string          `json:"id"`
	Status         Status          `json:"status"`
	Request        BurnRequest     `json:"request"`
	AmountUnits    string          `json:"amountUnits"` // base units, 10^6 per USDC
	Account        string          `json:"account,omitempty"`
	ApprovalTxHash string          `json:"approvalTxHash,omitempty"`
	BurnTxHash     string          `json:"burnTxHash,omitempty"` // set right after submission, before the receipt is parsed
	Burn           *BurnReceipt    `json:"burn,omitempty"`
	Attestation    *Attestation    `json:"attestation,omitempty"`
	Mint           *MintReceipt    `json:"mint,omitempty"`
	SwapTxHash     string          `json:"swapTxHash,omitempty"`
	Error          *OperationError `json:"error,omitempty"`
	SwapError      *OperationError `json:"swapError,omitempty"`
	TsCreated      int64           `json:"tsCreated"`
	TsUpdated      int64           `json:"tsUpdated"`
	Message        string          `json:"message,omitempty"` // messages that help to track processing/errors
}

// AddMessage appends to the operation trail
func (op *BridgeOperation) AddMessage(msg string) {
	if op.Message == "" {
		op.Message = msg
	} else {
		op.Message += "; " + msg
	}
}
