package config

import (
	"time"

	"cctpbridge/types"
)

type Configuration struct {
	// Server config
	Server struct {
		Listen    string `yaml:"listen" envconfig:"listen"`
		UseSSL    bool   `yaml:"ssl" envconfig:"ssl"`
		RedisPort int    `yaml:"redis_port" envconfig:"redis_port"`
		RedisHost string `yaml:"redis_host" envconfig:"redis_host"`
		// how often persisted operations are checked for restart recovery
		ResumeInterval time.Duration `yaml:"resume_interval" envconfig:"resume_interval"`
	} `yaml:"server"`
	// Circle attestation service
	Attestation struct {
		SandboxURL    string        `yaml:"sandbox_url" envconfig:"sandbox_url"`
		ProductionURL string        `yaml:"production_url" envconfig:"production_url"`
		MaxAttempts   int           `yaml:"max_attempts" envconfig:"max_attempts"`
		PollInterval  time.Duration `yaml:"poll_interval" envconfig:"poll_interval"`
		RateLimit     float64       `yaml:"rate_limit" envconfig:"rate_limit"` // requests per second
		Timeout       time.Duration `yaml:"timeout" envconfig:"timeout"`
	} `yaml:"attestation"`
	// who pays gas: "relay" posts calls to the relayer, "direct" signs with SignerKey
	Submitter struct {
		Mode                string        `yaml:"mode" envconfig:"mode"`
		RelayerURL          string        `yaml:"relayer_url" envconfig:"relayer_url"`
		SignerKey           string        `yaml:"signer_key" envconfig:"signer_key"` // important private stuff
		ConfirmationTimeout time.Duration `yaml:"confirmation_timeout" envconfig:"confirmation_timeout"`
		SubmitRetries       int           `yaml:"submit_retries" envconfig:"submit_retries"`
	} `yaml:"submitter"`
	// account owner and chain switching: "local" uses Submitter.SignerKey, "rpc" talks to a wallet endpoint
	Wallet struct {
		Mode    string `yaml:"mode" envconfig:"mode"`
		RPCURL  string `yaml:"rpc_url" envconfig:"rpc_url"`
		Account string `yaml:"account" envconfig:"account"`
	} `yaml:"wallet"`
	Swap struct {
		AdapterIdentifier  string        `yaml:"adapter_identifier" envconfig:"adapter_identifier"`
		DefaultSlippageBps uint32        `yaml:"default_slippage_bps" envconfig:"default_slippage_bps"`
		Deadline           time.Duration `yaml:"deadline" envconfig:"deadline"`
		Pools              []SwapPool    `yaml:"pools" ignored:"true"`
	} `yaml:"swap"`
	Chains []ChainConfig `yaml:"chains" ignored:"true"`
}

var Config Configuration

// CCTP-enabled chain as written in config.yml
type ChainConfig struct {
	Name               string   `yaml:"name"`
	ChainID            int      `yaml:"chain_id"`
	DomainID           uint32   `yaml:"domain_id"`
	TokenMessenger     string   `yaml:"token_messenger"`
	MessageTransmitter string   `yaml:"message_transmitter"`
	TokenMinter        string   `yaml:"token_minter"`
	USDC               string   `yaml:"usdc"`
	Testnet            bool     `yaml:"testnet"`
	RPCList            []string `yaml:"rpc_list"`
}

// v4 hook pool a destination chain swaps minted USDC through
type SwapPool struct {
	ChainID          int    `yaml:"chain_id"`
	Router           string `yaml:"router"`
	TokenOut         string `yaml:"token_out"`
	TokenOutDecimals int32  `yaml:"token_out_decimals"`
	Fee              uint32 `yaml:"fee"`
	TickSpacing      int32  `yaml:"tick_spacing"`
	Hooks            string `yaml:"hooks"`
}

const (
	SubmitterModeRelay  = "relay"
	SubmitterModeDirect = "direct"

	WalletModeLocal = "local"
	WalletModeRPC   = "rpc"
)

const (
	IrisSandboxURL    = "https://iris-api-sandbox.circle.com"
	IrisProductionURL = "https://iris-api.circle.com"
)

// CCTP testnet contracts are deployed at the same addresses on every chain
const (
	testnetTokenMessenger     = "0x8FE6B999Dc680CcFDD5Bf7EB0974218be2542DAA"
	testnetMessageTransmitter = "0xE737e5cEBEEBa77EFE34D4aa090756590b1CE275"
	testnetTokenMinter        = "0xb43db544E2c27092c107639Ad201b3dEfAbcF192"
)

// used when config.yml has no chains section
var DefaultChains = []ChainConfig{
	{
		Name:               "Arc Testnet",
		ChainID:            23244,
		DomainID:           26,
		TokenMessenger:     testnetTokenMessenger,
		MessageTransmitter: testnetMessageTransmitter,
		TokenMinter:        testnetTokenMinter,
		USDC:               "0x3600000000000000000000000000000000000000",
		Testnet:            true,
		RPCList:            []string{"https://arc-testnet.rpc.caldera.xyz/http"},
	},
	{
		Name:               "Base Sepolia",
		ChainID:            84532,
		DomainID:           6,
		TokenMessenger:     testnetTokenMessenger,
		MessageTransmitter: testnetMessageTransmitter,
		TokenMinter:        testnetTokenMinter,
		USDC:               "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Testnet:            true,
		RPCList:            []string{"https://sepolia.base.org"},
	},
	{
		Name:               "Ethereum Sepolia",
		ChainID:            11155111,
		DomainID:           0,
		TokenMessenger:     testnetTokenMessenger,
		MessageTransmitter: testnetMessageTransmitter,
		TokenMinter:        testnetTokenMinter,
		USDC:               "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
		Testnet:            true,
		RPCList:            []string{"https://ethereum-sepolia-rpc.publicnode.com"},
	},
}

var DefaultSwapPools = []SwapPool{
	{
		ChainID:          84532,
		Router:           "0x71cD4Ea054F9Cb3D3BF6251A00673303411A7DD9",
		TokenOut:         "0x0a215D8ba66387DCA84B284D18c3B4ec3de6E54a", // USDT
		TokenOutDecimals: 6,
		Fee:              3000,
		TickSpacing:      60,
		Hooks:            "0xd1b0f8F27aad2292765E2Ca645e7eF1A692980c4",
	},
}

// one redis set per operation status
var RedisStatusSets = map[types.Status]string{
	types.StatusIdle:                "bridgeops:idle",
	types.StatusApprovingSource:     "bridgeops:approvingsource",
	types.StatusBurning:             "bridgeops:burning",
	types.StatusAwaitingAttestation: "bridgeops:awaitingattestation",
	types.StatusSwitchingChain:      "bridgeops:switchingchain",
	types.StatusMinting:             "bridgeops:minting",
	types.StatusSwapping:            "bridgeops:swapping",
	types.StatusComplete:            "bridgeops:complete",
	types.StatusPartialSuccess:      "bridgeops:partialsuccess",
	types.StatusFailed:              "bridgeops:failed",
}
