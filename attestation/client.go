package attestation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cctpbridge/bridgeerr"
	"cctpbridge/config"
	"cctpbridge/metrics"
	"cctpbridge/poll"
	"cctpbridge/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout       = 30 * time.Second
	maxRequestsPerSecond = 35
)

type Config struct {
	SandboxURL    string
	ProductionURL string
	Timeout       time.Duration
	RateLimit     float64
}

// NetworkClassifier tells test chains from production ones
type NetworkClassifier interface {
	IsTestnet(chainID int) bool
}

type Client struct {
	config         Config
	networks       NetworkClassifier
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	rateLimiter    *rate.Limiter
	metrics        *metrics.Metrics
	logger         *zap.Logger
}

func NewClient(cfg Config, networks NetworkClassifier, m *metrics.Metrics, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.SandboxURL == "" {
		cfg.SandboxURL = config.IrisSandboxURL
	}
	if cfg.ProductionURL == "" {
		cfg.ProductionURL = config.IrisProductionURL
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = maxRequestsPerSecond
	}
	logger = logger.Named("attestation")

	cbSettings := gobreaker.Settings{
		Name:        "IrisAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("attestation circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Client{
		config:         cfg,
		networks:       networks,
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		circuitBreaker: gobreaker.NewCircuitBreaker(cbSettings),
		rateLimiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		metrics:        m,
		logger:         logger,
	}
}

// BaseURL picks sandbox for test networks
func (c *Client) BaseURL(sourceChainID int) string {
	if c.networks.IsTestnet(sourceChainID) {
		return c.config.SandboxURL
	}
	return c.config.ProductionURL
}

type fetched struct {
	att *types.Attestation
	err error
}

// Fetch performs a single lookup. A 404 is reported as a pending attestation.
// Once sent, the request runs to completion bounded by the client timeout;
// when ctx ends first Fetch returns at once and the answer is dropped.
func (c *Client) Fetch(ctx context.Context, messageHash common.Hash, sourceChainID int) (*types.Attestation, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	done := make(chan fetched, 1)
	go func() {
		res, err := c.circuitBreaker.Execute(func() (interface{}, error) {
			return c.fetchInternal(context.WithoutCancel(ctx), messageHash, sourceChainID)
		})
		if err != nil {
			done <- fetched{err: err}
			return
		}
		done <- fetched{att: res.(*types.Attestation)}
	}()

	select {
	case <-ctx.Done():
		c.logger.Debug("attestation lookup abandoned", zap.String("message_hash", messageHash.Hex()))
		return nil, ctx.Err()
	case f := <-done:
		return f.att, f.err
	}
}

func (c *Client) fetchInternal(ctx context.Context, messageHash common.Hash, sourceChainID int) (*types.Attestation, error) {
	url := fmt.Sprintf("%s/v1/attestations/%s", strings.TrimRight(c.BaseURL(sourceChainID), "/"), messageHash.Hex())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return &types.Attestation{Status: types.AttestationPending}, nil
	}

	if resp.StatusCode != http.StatusOK {
		errResp := &ErrorResponse{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(body, errResp)
		return nil, errResp
	}

	var r Response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if types.AttestationStatus(r.Status) != types.AttestationComplete {
		return &types.Attestation{Status: types.AttestationPending}, nil
	}

	sig := strings.TrimPrefix(r.Attestation, "0x")
	if sig == "" {
		// complete without a signature is not usable yet
		return &types.Attestation{Status: types.AttestationPending}, nil
	}
	signature, err := hexutil.Decode("0x" + sig)
	if err != nil {
		return nil, fmt.Errorf("attestation is not hex: %w", err)
	}

	return &types.Attestation{Status: types.AttestationComplete, Signature: signature}, nil
}

// AwaitAttestation polls every interval until the attestation is complete.
// Each lookup counts as one attempt; after maxAttempts it fails with
// AttestationTimeout carrying the elapsed time.
func (c *Client) AwaitAttestation(ctx context.Context, messageHash common.Hash, sourceChainID int, maxAttempts int, interval time.Duration) ([]byte, error) {
	if maxAttempts < 1 {
		return nil, bridgeerr.New(bridgeerr.KindInvalidRequest, "attestation", "maxAttempts must be positive")
	}
	log := c.logger.With(zap.String("message_hash", messageHash.Hex()), zap.Int("chain_id", sourceChainID))
	started := time.Now()

	task := poll.New(func(ctx context.Context, attempt int) ([]byte, bool, error) {
		att, err := c.Fetch(ctx, messageHash, sourceChainID)
		if err != nil {
			c.metrics.AttestationPoll("error")
			log.Warn("attestation lookup failed", zap.Int("attempt", attempt), zap.Error(err))
			return nil, false, err
		}
		if att.Status != types.AttestationComplete {
			c.metrics.AttestationPoll("pending")
			log.Debug("attestation pending", zap.Int("attempt", attempt))
			return nil, false, nil
		}
		c.metrics.AttestationPoll("complete")
		return att.Signature, true, nil
	}, poll.Constant(interval), maxAttempts)

	signature, err := task.Run(ctx)
	elapsed := time.Since(started)
	if err != nil {
		var exhausted *poll.ExhaustedError
		if errors.As(err, &exhausted) {
			log.Warn("attestation not available", zap.Int("attempts", exhausted.Attempts), zap.Duration("elapsed", elapsed))
			return nil, bridgeerr.Timeout(bridgeerr.KindAttestationTimeout, "attestation", elapsed, err)
		}
		if ctx.Err() != nil {
			return nil, bridgeerr.Wrap(bridgeerr.KindCanceled, "attestation", err)
		}
		return nil, bridgeerr.Wrap(bridgeerr.KindInternal, "attestation", err)
	}

	c.metrics.AttestationWait(elapsed)
	log.Info("attestation complete", zap.Duration("elapsed", elapsed))
	return signature, nil
}
