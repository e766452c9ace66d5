package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"treasury/internal/domain"
	"treasury/internal/port"
)

type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

type HTTPConfig struct {
	URL     string
	Timeout time.Duration
	Breaker BreakerConfig
}

type transferPayload struct {
	Address domain.Address `json:"address"`
	Amount  uint64         `json:"amount"`
}

// HTTPLedger talks to an external ledger service. Calls go through a
// circuit breaker; an open breaker fails the transfer immediately. Nothing
// is retried.
type HTTPLedger struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

var _ port.LedgerService = (*HTTPLedger)(nil)

func NewHTTPLedger(cfg HTTPConfig, logger *zap.Logger) *HTTPLedger {
	if logger == nil {
		logger = zap.NewNop()
	}

	threshold := cfg.Breaker.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}

	settings := gobreaker.Settings{
		Name:        "ledger",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("ledger circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &HTTPLedger{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

func (l *HTTPLedger) TransferIn(ctx context.Context, from domain.Address, amount uint64) error {
	return l.transfer(ctx, "in", from, amount)
}

func (l *HTTPLedger) TransferOut(ctx context.Context, to domain.Address, amount uint64) error {
	return l.transfer(ctx, "out", to, amount)
}

func (l *HTTPLedger) transfer(ctx context.Context, direction string, addr domain.Address, amount uint64) error {
	_, err := l.breaker.Execute(func() (interface{}, error) {
		return nil, l.post(ctx, "/transfers/"+direction, transferPayload{Address: addr, Amount: amount})
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return fmt.Errorf("ledger unavailable: %w", err)
	}
	return err
}

func (l *HTTPLedger) post(ctx context.Context, path string, payload transferPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ledger %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
