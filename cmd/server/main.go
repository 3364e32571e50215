package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cctpbridge/EVMRPC"
	"cctpbridge/WalletRPC"
	"cctpbridge/attestation"
	"cctpbridge/bridge"
	"cctpbridge/config"
	"cctpbridge/gasless"
	"cctpbridge/metrics"
	"cctpbridge/redis"
	"cctpbridge/registry"
	"cctpbridge/swap"
	"cctpbridge/workers"
	"cctpbridge/workers/handlers"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

const rpcTimeout = 30 * time.Second

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if os.Getenv("ENV") == "production" {
		cfg = zap.NewProductionConfig()
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if err := os.MkdirAll("logs", 0o755); err != nil {
		return nil, err
	}
	cfg.OutputPaths = []string{"stdout", fmt.Sprintf("logs/log_%s.txt", time.Now().Format("2006-01-02"))}
	return cfg.Build()
}

func main() {
	logger, err := newLogger()
	if err != nil {
		log.Fatalf("error building logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting CCTP USDC bridge")

	config.Init()

	reg, err := registry.New(config.Config.Chains)
	if err != nil {
		logger.Fatal("invalid chain registry", zap.Error(err))
	}
	m := metrics.New()
	pool := EVMRPC.NewPool(reg, nil, config.Config.Submitter.ConfirmationTimeout, logger)

	var (
		transport gasless.Transport
		relayer   handlers.RelayerChecker
	)
	switch config.Config.Submitter.Mode {
	case config.SubmitterModeDirect:
		direct, err := gasless.NewDirectTransport(pool, config.Config.Submitter.SignerKey, logger)
		if err != nil {
			logger.Fatal("error creating direct transport", zap.Error(err))
		}
		transport = direct
	default:
		relay := gasless.NewRelayTransport(config.Config.Submitter.RelayerURL, pool, rpcTimeout, logger)
		transport = relay
		relayer = relay
	}
	submitter := gasless.NewSubmitter(transport, m, logger)

	attester := attestation.NewClient(attestation.Config{
		SandboxURL:    config.Config.Attestation.SandboxURL,
		ProductionURL: config.Config.Attestation.ProductionURL,
		Timeout:       config.Config.Attestation.Timeout,
		RateLimit:     config.Config.Attestation.RateLimit,
	}, reg, m, logger)

	var wallet WalletRPC.Wallet
	switch config.Config.Wallet.Mode {
	case config.WalletModeRPC:
		wallet = WalletRPC.NewRPCClient(config.Config.Wallet.RPCURL, rpcTimeout, logger)
	default:
		local, err := WalletRPC.NewLocalWallet(config.Config.Submitter.SignerKey, config.Config.Wallet.Account)
		if err != nil {
			logger.Fatal("error creating local wallet", zap.Error(err))
		}
		wallet = local
	}

	swapper, err := swap.NewSwapper(submitter, pool, config.Config.Swap.Pools, config.Config.Swap.AdapterIdentifier, config.Config.Swap.Deadline, logger)
	if err != nil {
		logger.Fatal("invalid swap pools", zap.Error(err))
	}

	// without persistence do not continue
	store := redis.NewStore(config.Config.Server.RedisHost, config.Config.Server.RedisPort, logger)
	defer store.Close()
	if err := store.Ping(); err != nil {
		logger.Fatal("cannot reach redis", zap.Error(err))
	}

	orch := bridge.New(reg, submitter, pool, attester, wallet, swapper, store, bridge.Options{
		AttestationAttempts: config.Config.Attestation.MaxAttempts,
		AttestationInterval: config.Config.Attestation.PollInterval,
		SubmitRetries:       config.Config.Submitter.SubmitRetries,
		DefaultSlippageBps:  config.Config.Swap.DefaultSlippageBps,
	}, m, logger)

	api := &handlers.API{
		Bridge:   orch,
		Relayer:  relayer,
		Balances: pool,
		Chains:   reg,
		Wallet:   wallet,
		Store:    store,
		Logger:   logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// two workers:
	// * resume persisted operations not running in this process
	// * API serving HTTP(S) server
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return workers.Worker_resume(ctx, orch, config.Config.Server.ResumeInterval, logger)
	})
	g.Go(func() error {
		return workers.Worker_HTTP(ctx, api, m.Handler(), config.Config.Server.Listen, config.Config.Server.UseSSL, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error("bridge stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("bridge stopped")
}
