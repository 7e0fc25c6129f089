package provider

import (
	"strings"

	"github.com/parleyhq/parley/pkg/store"
)

// Strategy is one candidate execution path. Resolve returns false when the
// strategy cannot serve the caller, handing selection to the next one.
type Strategy interface {
	Name() string
	Resolve(u *store.User) (Provider, bool)
}

// Resolver tries strategies in a strict priority order: personal credential,
// operator credential, free-tier bridge. This is a fall-through chain, not a
// load balancer.
type Resolver struct {
	strategies []Strategy
}

// NewResolver builds the standard chain. fallback is the free-tier bridge
// and terminates the chain unconditionally.
func NewResolver(operatorKey string, fallback Provider) *Resolver {
	return &Resolver{strategies: []Strategy{
		personalKeyStrategy{},
		operatorKeyStrategy{key: operatorKey},
		fallbackStrategy{p: fallback},
	}}
}

// Resolve picks the first usable path for the caller. u may be nil for
// anonymous callers, who are only ever served by the free-tier path.
func (r *Resolver) Resolve(u *store.User) Provider {
	for _, s := range r.strategies {
		if p, ok := s.Resolve(u); ok {
			return p
		}
	}
	return nil
}

// personalKeyStrategy serves users who opted into their own credential. A
// blank or whitespace key is treated as unusable and falls through to the
// operator credential, matching the historical behavior.
type personalKeyStrategy struct{}

func (personalKeyStrategy) Name() string { return NamePersonal }

func (personalKeyStrategy) Resolve(u *store.User) (Provider, bool) {
	if u == nil || !u.Settings.UsePersonalAPIKey {
		return nil, false
	}
	key := strings.TrimSpace(u.Settings.PersonalAPIKey)
	if key == "" {
		return nil, false
	}
	return NewOpenAIProvider(key, NamePersonal), true
}

type operatorKeyStrategy struct {
	key string
}

func (operatorKeyStrategy) Name() string { return NameOperator }

// Anonymous callers never reach the operator credential: they have no usage
// record, so only the free-tier path may serve them.
func (s operatorKeyStrategy) Resolve(u *store.User) (Provider, bool) {
	if u == nil || strings.TrimSpace(s.key) == "" {
		return nil, false
	}
	return NewOpenAIProvider(s.key, NameOperator), true
}

type fallbackStrategy struct {
	p Provider
}

func (fallbackStrategy) Name() string { return NameFreeTier }

func (s fallbackStrategy) Resolve(u *store.User) (Provider, bool) {
	if s.p == nil {
		return nil, false
	}
	return s.p, true
}
