// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package access keeps a channel's platform access rules equal to a
// desired rule set by applying only the difference.
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/warden-bot/warden/lib/chat"
	"github.com/warden-bot/warden/lib/metrics"
)

// Rule is one per-user or per-role grant.
type Rule = chat.AccessRule

// RulePlatform is the part of chat.Platform the synchronizer needs.
type RulePlatform interface {
	AccessRules(ctx context.Context, channel string) ([]chat.AccessRule, error)
	PutAccessRule(ctx context.Context, channel string, rule chat.AccessRule) error
	DeleteAccessRule(ctx context.Context, channel string, kind chat.RuleKind, target string) error
}

// Enforcer is implemented by platforms where rules do not take effect
// on their own and membership has to be reconciled after a change.
type Enforcer interface {
	EnforceAccess(ctx context.Context, channel string) error
}

// Delta is the set of changes turning the current rules into the
// desired ones. Both slices are sorted by rule key.
type Delta struct {
	Put    []Rule
	Delete []Rule
}

// Empty reports whether nothing needs to change.
func (d Delta) Empty() bool {
	return len(d.Put) == 0 && len(d.Delete) == 0
}

// Diff computes the delta from current to desired. A later rule in
// desired replaces an earlier one with the same key.
func Diff(current, desired []Rule) Delta {
	have := make(map[string]Rule, len(current))
	for _, rule := range current {
		have[rule.Key()] = rule
	}
	want := make(map[string]Rule, len(desired))
	for _, rule := range desired {
		want[rule.Key()] = rule
	}

	var delta Delta
	for key, rule := range want {
		if existing, ok := have[key]; !ok || existing.Allow != rule.Allow {
			delta.Put = append(delta.Put, rule)
		}
	}
	for key, rule := range have {
		if _, ok := want[key]; !ok {
			delta.Delete = append(delta.Delete, rule)
		}
	}
	sortRules(delta.Put)
	sortRules(delta.Delete)
	return delta
}

func sortRules(rules []Rule) {
	sort.Slice(rules, func(i, j int) bool { return rules[i].Key() < rules[j].Key() })
}

// Synchronizer applies desired rule sets to channels.
type Synchronizer struct {
	platform RulePlatform
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewSynchronizer creates a Synchronizer. metrics and logger may be nil.
func NewSynchronizer(platform RulePlatform, m *metrics.Metrics, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Synchronizer{platform: platform, metrics: m, logger: logger}
}

// Sync makes the channel's rules equal desired. Every change in the
// delta is attempted even if an earlier one fails; the returned error
// joins all failures. When at least one change was applied and the
// platform is an Enforcer, EnforceAccess runs once at the end.
func (s *Synchronizer) Sync(ctx context.Context, channel string, desired []Rule) (Delta, error) {
	current, err := s.platform.AccessRules(ctx, channel)
	if err != nil {
		s.metrics.SyncFailed()
		return Delta{}, fmt.Errorf("access: reading rules of %s: %w", channel, err)
	}
	delta := Diff(current, desired)
	if delta.Empty() {
		return delta, nil
	}

	var errs []error
	puts, deletes := 0, 0
	for _, rule := range delta.Put {
		if err := s.platform.PutAccessRule(ctx, channel, rule); err != nil {
			errs = append(errs, fmt.Errorf("access: put %s on %s: %w", rule.Key(), channel, err))
			continue
		}
		puts++
	}
	for _, rule := range delta.Delete {
		if err := s.platform.DeleteAccessRule(ctx, channel, rule.Kind, rule.Target); err != nil {
			errs = append(errs, fmt.Errorf("access: delete %s on %s: %w", rule.Key(), channel, err))
			continue
		}
		deletes++
	}
	s.metrics.RuleWrites(puts, deletes)

	if enforcer, ok := s.platform.(Enforcer); ok && puts+deletes > 0 {
		if err := enforcer.EnforceAccess(ctx, channel); err != nil {
			errs = append(errs, fmt.Errorf("access: enforcing %s: %w", channel, err))
		}
	}

	s.logger.Debug("access rules synchronized",
		"channel", channel,
		"puts", puts,
		"deletes", deletes,
		"failures", len(errs),
	)
	if len(errs) > 0 {
		s.metrics.SyncFailed()
		return delta, errors.Join(errs...)
	}
	return delta, nil
}

// Revoke deletes every rule on the channel.
func (s *Synchronizer) Revoke(ctx context.Context, channel string) error {
	_, err := s.Sync(ctx, channel, nil)
	return err
}
