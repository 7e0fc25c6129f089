// Package completion sequences one chat turn: admission control, provider
// selection, content policy, and usage accounting.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/parleyhq/parley/pkg/account"
	"github.com/parleyhq/parley/pkg/ai"
	"github.com/parleyhq/parley/pkg/filter"
	"github.com/parleyhq/parley/pkg/limit"
	"github.com/parleyhq/parley/pkg/policy"
	"github.com/parleyhq/parley/pkg/provider"
	"github.com/parleyhq/parley/pkg/storage"
	"github.com/parleyhq/parley/pkg/store"
)

// AnonymousKey is the literal rate-limit subject for callers with no user
// and no usable network address.
const AnonymousKey = "anonymous"

const defaultRequestTimeout = 120 * time.Second

// Identity scopes rate-limit and quota bookkeeping. Key is the user id, an
// ip:<addr> fallback, or AnonymousKey. User is nil for anonymous callers,
// who have no usage record and therefore no daily quota.
type Identity struct {
	Key  string
	User *store.User
}

// Request is one inbound chat turn with optional generation parameters.
// Unset fields take policy defaults.
type Request struct {
	Messages     []provider.Message
	Model        string
	Temperature  float32
	MaxTokens    int
	SystemPrompt string
}

// Result is the caller-facing completion outcome. Blocked content arrives
// here as the refusal text, not as an error.
type Result struct {
	Content string  `json:"content"`
	Tokens  int     `json:"tokens"`
	Cost    float64 `json:"cost"`
}

// Orchestrator wires the admission-control and generation pipeline. All
// state it touches is guarded by its owners; the orchestrator itself is
// stateless and safe for concurrent use.
type Orchestrator struct {
	policy     policy.Source
	limiter    *limit.Limiter
	accountant *account.Accountant
	resolver   *provider.Resolver
	filter     *filter.Filter
	logs       storage.Store
	timeout    time.Duration
}

func New(pol policy.Source, lim *limit.Limiter, acct *account.Accountant,
	res *provider.Resolver, f *filter.Filter, logs storage.Store,
	requestTimeout time.Duration) *Orchestrator {

	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	return &Orchestrator{
		policy:     pol,
		limiter:    lim,
		accountant: acct,
		resolver:   res,
		filter:     f,
		logs:       logs,
		timeout:    requestTimeout,
	}
}

// Complete runs one chat turn for the identity. Order is fixed: rate limit,
// daily quota, provider resolution, pre-filter, generation, post-filter,
// token accounting. The rate-limit check runs first so rejected requests
// never spend provider budget.
func (o *Orchestrator) Complete(ctx context.Context, id Identity, req Request) (*Result, error) {
	start := time.Now()

	pol, err := o.policy.Get(ctx)
	if err != nil || pol == nil {
		// The policy store is a collaborator that may be briefly
		// unreachable; built-in defaults keep requests flowing.
		logrus.WithError(err).Warn("policy store unreachable, using defaults")
		pol = policy.Default()
	}

	if err := o.limiter.Allow(id.Key, pol.RequestsPerMinute); err != nil {
		o.finish(id, req.Model, nil, start, err)
		return nil, err
	}

	// Usage is accounted at admission time: a request that fails at the
	// provider has still consumed quota.
	if id.User != nil {
		if err := o.accountant.CheckAndRecord(ctx, id.User.ID, pol.RequestsPerDay); err != nil {
			o.finish(id, req.Model, nil, start, err)
			return nil, err
		}
	}

	p := o.resolver.Resolve(id.User)
	if p == nil {
		err := fmt.Errorf("no completion provider configured: %w", provider.ErrUnavailable)
		o.finish(id, req.Model, nil, start, err)
		return nil, err
	}

	preq := o.buildProviderRequest(req, pol)

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	res, err := p.Complete(callCtx, preq)
	cancel()
	if err != nil {
		o.finish(id, preq.Model, nil, start, err)
		return nil, err
	}

	content, blocked := o.filter.Sanitize(ctx, res.Content, pol)

	tokens := res.Tokens
	if tokens <= 0 {
		tokens = estimateTokens(preq, res.Content)
	}
	cost := ai.Cost(preq.Model, tokens, res.FreeTier)

	if id.User != nil {
		if err := o.accountant.AddTokens(ctx, id.User.ID, int64(tokens)); err != nil {
			logrus.WithError(err).WithField("user", id.User.ID).Error("token accounting failed")
		}
	}

	entry := &storage.CompletionLog{
		Provider: res.Provider,
		Tokens:   tokens,
		CostUSD:  cost,
		Blocked:  blocked,
	}
	o.finish(id, preq.Model, entry, start, nil)

	return &Result{Content: content, Tokens: tokens, Cost: cost}, nil
}

// buildProviderRequest applies policy defaults and the pre-send redaction
// stage. The operator's system prompt is prepended only when the
// conversation carries none of its own.
func (o *Orchestrator) buildProviderRequest(req Request, pol *policy.Policy) provider.Request {
	model := req.Model
	if model == "" {
		model = pol.DefaultModel
	}

	systemPrompt := req.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = pol.DefaultSystemPrompt
	}

	messages := make([]provider.Message, 0, len(req.Messages)+1)
	hasSystem := false
	for _, m := range req.Messages {
		if m.Role == provider.RoleSystem {
			hasSystem = true
		}
	}
	if !hasSystem && systemPrompt != "" {
		messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: systemPrompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, provider.Message{
			Role:    m.Role,
			Content: filter.Redact(m.Content, pol.BlockedKeywords),
		})
	}

	return provider.Request{
		Messages:    messages,
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
}

func estimateTokens(req provider.Request, content string) int {
	var b strings.Builder
	for _, m := range req.Messages {
		b.WriteString(m.Content)
	}
	b.WriteString(content)

	count, err := ai.CountTokens(req.Model, b.String())
	if err != nil {
		return 0
	}
	return count
}

// finish records metrics and persists the completion log asynchronously.
func (o *Orchestrator) finish(id Identity, model string,
	entry *storage.CompletionLog, start time.Time, reqErr error) {

	status := statusFor(reqErr)
	duration := time.Since(start)

	providerName := ""
	if entry != nil {
		providerName = entry.Provider
		if entry.Blocked {
			status = storage.StatusBlocked
		}
		completionTokens.Observe(float64(entry.Tokens))
	}
	completionsTotal.WithLabelValues(status, providerName).Inc()
	completionDuration.Observe(duration.Seconds())

	if o.logs == nil {
		return
	}

	log := storage.CompletionLog{
		ID:        uuid.NewString(),
		Timestamp: start,
		Identity:  id.Key,
		Model:     model,
		Duration:  duration,
		Status:    status,
	}
	if id.User != nil {
		log.UserID = id.User.ID
	}
	if entry != nil {
		log.Provider = entry.Provider
		log.Tokens = entry.Tokens
		log.CostUSD = entry.CostUSD
		log.Blocked = entry.Blocked
	}
	if reqErr != nil {
		log.Error = reqErr.Error()
	}

	go func(entry storage.CompletionLog) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := o.logs.SaveCompletionLog(ctx, &entry); err != nil {
			logrus.WithError(err).WithField("log_id", entry.ID).Error("failed to persist completion log")
		}
	}(log)
}

func statusFor(err error) string {
	if err == nil {
		return storage.StatusOK
	}

	var rl *limit.RateLimitedError
	var qe *account.QuotaExceededError
	switch {
	case errors.As(err, &rl):
		return storage.StatusRateLimited
	case errors.As(err, &qe):
		return storage.StatusQuotaExceeded
	case errors.Is(err, provider.ErrCredentialInvalid):
		return storage.StatusCredentialInvalid
	case errors.Is(err, provider.ErrUnavailable):
		return storage.StatusUnavailable
	default:
		return storage.StatusError
	}
}
