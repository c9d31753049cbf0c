// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RuleKind distinguishes per-user from per-role access rules.
type RuleKind string

const (
	RuleMember RuleKind = "member"
	RuleRole   RuleKind = "role"
)

// AccessRule grants or denies one user or one role access to a channel.
type AccessRule struct {
	Kind   RuleKind
	Target string
	Allow  bool
}

// Key identifies the subject of the rule independent of Allow.
func (r AccessRule) Key() string {
	return string(r.Kind) + ":" + r.Target
}

// Channel is a conversation channel on the platform.
type Channel struct {
	ID       string
	Name     string
	Category string
	Metadata map[string]string
}

// ChannelSpec describes a channel to create.
type ChannelSpec struct {
	Name     string
	Category string
	Topic    string
	// Metadata is stored on the channel and returned by ListChannels.
	Metadata map[string]string
}

// Outgoing is a message the bot sends.
type Outgoing struct {
	Body         string
	Mentions     []string
	MentionRoles []string
}

// Message is a message read from channel history or the event stream.
type Message struct {
	ID           string
	Channel      string
	Author       string
	Body         string
	Timestamp    time.Time
	FromBot      bool
	Mentions     []string
	MentionRoles []string
}

// Platform is the chat-platform surface Warden consumes.
type Platform interface {
	// BotID returns the bot's own user ID.
	BotID() string

	CreateChannel(ctx context.Context, spec ChannelSpec) (Channel, error)
	DeleteChannel(ctx context.Context, channel string) error
	ListChannels(ctx context.Context, category string) ([]Channel, error)

	// SendMessage posts a message and returns its ID.
	SendMessage(ctx context.Context, channel string, message Outgoing) (string, error)
	// History returns up to limit of the most recent messages in the
	// channel, oldest first.
	History(ctx context.Context, channel string, limit int) ([]Message, error)

	AccessRules(ctx context.Context, channel string) ([]AccessRule, error)
	PutAccessRule(ctx context.Context, channel string, rule AccessRule) error
	DeleteAccessRule(ctx context.Context, channel string, kind RuleKind, target string) error

	// UserRoles returns the staff roles user currently holds.
	UserRoles(ctx context.Context, user string) ([]string, error)
}

// ErrChannelNotFound is wrapped by a PlatformError when the channel
// does not exist or the bot can no longer see it.
var ErrChannelNotFound = errors.New("chat: channel not found")

// PlatformError is a failed platform call.
type PlatformError struct {
	Op      string
	Channel string
	Err     error
}

func (e *PlatformError) Error() string {
	if e.Channel == "" {
		return fmt.Sprintf("chat: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("chat: %s %s: %v", e.Op, e.Channel, e.Err)
}

func (e *PlatformError) Unwrap() error {
	return e.Err
}
