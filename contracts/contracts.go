package contracts

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const erc20ABI = `[
	{"name":"allowance","type":"function","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"name":"approve","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

const tokenMessengerABI = `[
	{"name":"depositForBurn","type":"function","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"amount","type":"uint256"},
		{"name":"destinationDomain","type":"uint32"},
		{"name":"mintRecipient","type":"bytes32"},
		{"name":"burnToken","type":"address"}],
	 "outputs":[{"name":"nonce","type":"uint64"}]}
]`

const messageTransmitterABI = `[
	{"name":"receiveMessage","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"message","type":"bytes"},{"name":"attestation","type":"bytes"}],
	 "outputs":[{"name":"success","type":"bool"}]},
	{"name":"usedNonces","type":"function","stateMutability":"view",
	 "inputs":[{"name":"","type":"bytes32"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"name":"MessageSent","type":"event","anonymous":false,
	 "inputs":[{"name":"message","type":"bytes","indexed":false}]}
]`

const swapRouterABI = `[
	{"name":"swapExactTokensForTokens","type":"function","stateMutability":"payable",
	 "inputs":[
		{"name":"amountIn","type":"uint256"},
		{"name":"amountOutMin","type":"uint256"},
		{"name":"zeroForOne","type":"bool"},
		{"name":"poolKey","type":"tuple","components":[
			{"name":"currency0","type":"address"},
			{"name":"currency1","type":"address"},
			{"name":"fee","type":"uint24"},
			{"name":"tickSpacing","type":"int24"},
			{"name":"hooks","type":"address"}]},
		{"name":"hookData","type":"bytes"},
		{"name":"receiver","type":"address"},
		{"name":"deadline","type":"uint256"}],
	 "outputs":[{"name":"","type":"int256"}]}
]`

var (
	ERC20              = mustParse(erc20ABI)
	TokenMessenger     = mustParse(tokenMessengerABI)
	MessageTransmitter = mustParse(messageTransmitterABI)
	SwapRouter         = mustParse(swapRouterABI)
)

var ErrMessageSentNotFound = errors.New("no MessageSent event in receipt")

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid embedded ABI: %s", err))
	}
	return parsed
}

// MessageSentTopic is topic[0] of MessageTransmitter.MessageSent
func MessageSentTopic() common.Hash {
	return MessageTransmitter.Events["MessageSent"].ID
}

// AddressToBytes32 left-pads an EVM address, the CCTP mintRecipient format
func AddressToBytes32(addr common.Address) [32]byte {
	var out [32]byte
	copy(out[:], common.LeftPadBytes(addr.Bytes(), 32))
	return out
}

// ExtractMessage finds the MessageSent log emitted by transmitter and returns the
// decoded message bytes with their keccak256 digest, the attestation lookup key.
func ExtractMessage(logs []*ethtypes.Log, transmitter common.Address) ([]byte, common.Hash, error) {
	topic := MessageSentTopic()
	for _, l := range logs {
		if l == nil || l.Address != transmitter || len(l.Topics) == 0 || l.Topics[0] != topic {
			continue
		}
		values, err := MessageTransmitter.Unpack("MessageSent", l.Data)
		if err != nil {
			return nil, common.Hash{}, fmt.Errorf("cannot decode MessageSent data: %w", err)
		}
		message, ok := values[0].([]byte)
		if !ok || len(message) == 0 {
			return nil, common.Hash{}, errors.New("MessageSent carries an empty message")
		}
		return message, MessageHash(message), nil
	}
	return nil, common.Hash{}, ErrMessageSentNotFound
}

func MessageHash(message []byte) common.Hash {
	return crypto.Keccak256Hash(message)
}

// message header: version(4) sourceDomain(4) destinationDomain(4) nonce(8) ...
const messageNonceEnd = 20

// MessageNonceKey is the usedNonces key of a message on the destination
// transmitter, keccak256(abi.encodePacked(sourceDomain, nonce)).
// It is non-zero there once the message has been received.
func MessageNonceKey(message []byte) (common.Hash, error) {
	if len(message) < messageNonceEnd {
		return common.Hash{}, fmt.Errorf("message too short for a header: %d bytes", len(message))
	}
	packed := make([]byte, 0, 12)
	packed = append(packed, message[4:8]...)
	packed = append(packed, message[12:20]...)
	return crypto.Keccak256Hash(packed), nil
}

// PoolKey mirrors the v4 PoolKey tuple, field names must match the ABI components
type PoolKey struct {
	Currency0   common.Address
	Currency1   common.Address
	Fee         *big.Int
	TickSpacing *big.Int
	Hooks       common.Address
}

// SortCurrencies orders a pair the way pools are keyed: lower address first
func SortCurrencies(a, b common.Address) (common.Address, common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) <= 0 {
		return a, b
	}
	return b, a
}

var hookDataArgs = abi.Arguments{
	{Type: mustType("string")},
	{Type: mustType("string")},
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// EncodeHookData is abi.encode(string adapterIdentifier, string recipient)
func EncodeHookData(adapterIdentifier, recipient string) ([]byte, error) {
	return hookDataArgs.Pack(adapterIdentifier, recipient)
}

func DecodeHookData(data []byte) (string, string, error) {
	values, err := hookDataArgs.Unpack(data)
	if err != nil {
		return "", "", err
	}
	return values[0].(string), values[1].(string), nil
}
