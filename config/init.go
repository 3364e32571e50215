package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	yaml "gopkg.in/yaml.v2"
)

const envPrefix = "CCTPBRIDGE"

// reading config error is fatal, and exists main thread
func processError(err error) {
	fmt.Println(err)
	os.Exit(2)
}

func readFile(path string, cfg *Configuration) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("cannot decode %s: %w", path, err)
	}
	return nil
}

func readEnv(cfg *Configuration) error {
	// .env is optional, real environment wins
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cannot load .env: %w", err)
	}
	return envconfig.Process(envPrefix, cfg)
}

func setDefaults(cfg *Configuration) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.RedisHost == "" {
		cfg.Server.RedisHost = "127.0.0.1"
	}
	if cfg.Server.RedisPort == 0 {
		cfg.Server.RedisPort = 6379
	}
	if cfg.Server.ResumeInterval == 0 {
		cfg.Server.ResumeInterval = 30 * time.Second
	}

	if cfg.Attestation.SandboxURL == "" {
		cfg.Attestation.SandboxURL = IrisSandboxURL
	}
	if cfg.Attestation.ProductionURL == "" {
		cfg.Attestation.ProductionURL = IrisProductionURL
	}
	if cfg.Attestation.MaxAttempts == 0 {
		cfg.Attestation.MaxAttempts = 60
	}
	if cfg.Attestation.PollInterval == 0 {
		cfg.Attestation.PollInterval = 3 * time.Second
	}
	if cfg.Attestation.RateLimit == 0 {
		cfg.Attestation.RateLimit = 35
	}
	if cfg.Attestation.Timeout == 0 {
		cfg.Attestation.Timeout = 30 * time.Second
	}

	if cfg.Submitter.Mode == "" {
		cfg.Submitter.Mode = SubmitterModeRelay
	}
	if cfg.Submitter.ConfirmationTimeout == 0 {
		cfg.Submitter.ConfirmationTimeout = 2 * time.Minute
	}
	if cfg.Submitter.SubmitRetries == 0 {
		cfg.Submitter.SubmitRetries = 3
	}

	if cfg.Wallet.Mode == "" {
		cfg.Wallet.Mode = WalletModeLocal
	}

	if cfg.Swap.DefaultSlippageBps == 0 {
		cfg.Swap.DefaultSlippageBps = 100
	}
	if cfg.Swap.Deadline == 0 {
		cfg.Swap.Deadline = 20 * time.Minute
	}
	if len(cfg.Swap.Pools) == 0 {
		cfg.Swap.Pools = DefaultSwapPools
	}

	if len(cfg.Chains) == 0 {
		cfg.Chains = DefaultChains
	}
}

func (cfg *Configuration) Validate() error {
	switch cfg.Submitter.Mode {
	case SubmitterModeRelay:
		if _, err := url.ParseRequestURI(cfg.Submitter.RelayerURL); err != nil {
			return fmt.Errorf("submitter.relayer_url: %w", err)
		}
	case SubmitterModeDirect:
		if cfg.Submitter.SignerKey == "" {
			return errors.New("submitter.signer_key is required in direct mode")
		}
	default:
		return fmt.Errorf("submitter.mode %q is not one of relay, direct", cfg.Submitter.Mode)
	}

	switch cfg.Wallet.Mode {
	case WalletModeLocal:
		if cfg.Submitter.SignerKey == "" && cfg.Wallet.Account == "" {
			return errors.New("wallet.account or submitter.signer_key is required in local wallet mode")
		}
	case WalletModeRPC:
		if _, err := url.ParseRequestURI(cfg.Wallet.RPCURL); err != nil {
			return fmt.Errorf("wallet.rpc_url: %w", err)
		}
	default:
		return fmt.Errorf("wallet.mode %q is not one of local, rpc", cfg.Wallet.Mode)
	}

	if cfg.Attestation.MaxAttempts < 1 {
		return errors.New("attestation.max_attempts must be positive")
	}
	if cfg.Attestation.PollInterval < 0 {
		return errors.New("attestation.poll_interval must not be negative")
	}
	return nil
}

// Load reads path, overlays the environment and fills defaults
func Load(path string) (*Configuration, error) {
	var cfg Configuration
	if err := readFile(path, &cfg); err != nil {
		return nil, err
	}
	if err := readEnv(&cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func Init() {
	cfg, err := Load("config.yml")
	if err != nil {
		processError(err)
	}
	Config = *cfg
}
