// Package bridge invokes the out-of-process free-tier completion worker.
// The worker is an opaque black box behind a JSON-over-stdio contract: one
// request document in, one response document out, exit status signalling
// failure. Keeping it out of process keeps the core portable across worker
// runtimes.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/provider"
)

const (
	defaultTimeout  = 60 * time.Second
	defaultPoolSize = 4
)

// workerRequest is the document written to the worker's stdin.
type workerRequest struct {
	Messages    []provider.Message `json:"messages"`
	Model       string             `json:"model"`
	Temperature float32            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens"`
}

// workerResponse is the document parsed from the worker's stdout. Cost is
// present on the wire but deliberately ignored; the core prices requests
// itself.
type workerResponse struct {
	Content string  `json:"content"`
	Tokens  int     `json:"tokens"`
	Cost    float64 `json:"cost"`
	Error   string  `json:"error"`
}

// Bridge spawns one worker process per request with a bounded timeout. A
// buffered-channel semaphore caps concurrent workers and a circuit breaker
// fails fast while the worker binary is broken.
type Bridge struct {
	command string
	args    []string
	timeout time.Duration
	slots   chan struct{}
	breaker *gobreaker.CircuitBreaker
}

func New(cfg config.BridgeConfig) *Bridge {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	pool := cfg.PoolSize
	if pool <= 0 {
		pool = defaultPoolSize
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "free-tier-bridge",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})

	return &Bridge{
		command: cfg.Command,
		args:    cfg.Args,
		timeout: timeout,
		slots:   make(chan struct{}, pool),
		breaker: cb,
	}
}

func (b *Bridge) Name() string {
	return provider.NameFreeTier
}

// unavailable is the single generic error surfaced for every bridge failure
// mode. The specific cause is logged, never exposed to the caller.
func unavailable() error {
	return fmt.Errorf("free-tier service unavailable: %w", provider.ErrUnavailable)
}

func (b *Bridge) Complete(ctx context.Context, req provider.Request) (*provider.Result, error) {
	select {
	case b.slots <- struct{}{}:
		defer func() { <-b.slots }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	res, err := b.breaker.Execute(func() (interface{}, error) {
		return b.invoke(ctx, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			logrus.WithError(err).Warn("free-tier bridge circuit open")
			return nil, unavailable()
		}
		return nil, err
	}
	return res.(*provider.Result), nil
}

// invoke runs one worker process: write the request document, close stdin,
// read all output until exit, parse one response document.
func (b *Bridge) invoke(ctx context.Context, req provider.Request) (*provider.Result, error) {
	payload, err := json.Marshal(workerRequest{
		Messages:    req.Messages,
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		logrus.WithError(err).Error("free-tier bridge request encode failed")
		return nil, unavailable()
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, b.command, b.args...)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// Non-zero exit: stderr carries the failure reason, which stays in
		// the logs.
		logrus.WithFields(logrus.Fields{
			"stderr": strings.TrimSpace(stderr.String()),
			"err":    err,
		}).Error("free-tier worker failed")
		return nil, unavailable()
	}

	var resp workerResponse
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
		logrus.WithError(err).Error("free-tier worker protocol failure: output is not valid JSON")
		return nil, unavailable()
	}

	if resp.Error != "" {
		logrus.WithField("cause", resp.Error).Error("free-tier worker reported an error")
		return nil, unavailable()
	}

	return &provider.Result{
		Content:  resp.Content,
		Tokens:   resp.Tokens,
		Provider: provider.NameFreeTier,
		FreeTier: true,
	}, nil
}
