// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package chattest provides an in-memory chat.Platform for tests.
package chattest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/warden-bot/warden/lib/chat"
	"github.com/warden-bot/warden/lib/clock"
)

// Operation names accepted by FailOn.
const (
	OpCreateChannel    = "create_channel"
	OpDeleteChannel    = "delete_channel"
	OpListChannels     = "list_channels"
	OpSendMessage      = "send_message"
	OpHistory          = "history"
	OpAccessRules      = "access_rules"
	OpPutAccessRule    = "put_access_rule"
	OpDeleteAccessRule = "delete_access_rule"
	OpEnforceAccess    = "enforce_access"
	OpUserRoles        = "user_roles"
)

type channel struct {
	info     chat.Channel
	messages []chat.Message
	rules    map[string]chat.AccessRule
	enforced int
}

// Platform is an in-memory chat.Platform. Messages are stamped with the
// injected clock. It is safe for concurrent use.
type Platform struct {
	mu       sync.Mutex
	botID    string
	clock    clock.Clock
	channels map[string]*channel
	roles    map[string][]string
	failures map[string]error
	nextID   int

	ruleWrites int
	deleted    []string
}

var _ chat.Platform = (*Platform)(nil)

// New creates an empty platform whose bot user is botID.
func New(botID string, clk clock.Clock) *Platform {
	return &Platform{
		botID:    botID,
		clock:    clk,
		channels: make(map[string]*channel),
		roles:    make(map[string][]string),
		failures: make(map[string]error),
	}
}

// SetRoles replaces the roles held by user.
func (p *Platform) SetRoles(user string, roles ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roles[user] = roles
}

// FailOn makes every subsequent call of op return err until cleared
// with a nil err.
func (p *Platform) FailOn(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, op)
		return
	}
	p.failures[op] = err
}

// AddChannel creates a channel directly, bypassing failure injection.
func (p *Platform) AddChannel(category string, metadata map[string]string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addChannelLocked(chat.ChannelSpec{Category: category, Metadata: metadata})
}

func (p *Platform) addChannelLocked(spec chat.ChannelSpec) string {
	p.nextID++
	id := fmt.Sprintf("channel-%d", p.nextID)
	metadata := maps.Clone(spec.Metadata)
	if metadata == nil {
		metadata = map[string]string{}
	}
	p.channels[id] = &channel{
		info:  chat.Channel{ID: id, Name: spec.Name, Category: spec.Category, Metadata: metadata},
		rules: make(map[string]chat.AccessRule),
	}
	return id
}

// RemoveChannel deletes a channel out from under the bot, as a user
// with admin rights on the platform might.
func (p *Platform) RemoveChannel(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.channels, id)
}

// Post appends a human message authored by author.
func (p *Platform) Post(channelID, author, body string, mentions ...string) chat.Message {
	return p.Append(chat.Message{Channel: channelID, Author: author, Body: body, Mentions: mentions})
}

// Append adds message to the channel history, assigning an ID and,
// when Timestamp is zero, the clock's current time.
func (p *Platform) Append(message chat.Message) chat.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.channels[message.Channel]
	if !ok {
		panic("chattest: append to unknown channel " + message.Channel)
	}
	p.nextID++
	message.ID = fmt.Sprintf("message-%d", p.nextID)
	if message.Timestamp.IsZero() {
		message.Timestamp = p.clock.Now()
	}
	ch.messages = append(ch.messages, message)
	return message
}

// Messages returns a copy of the channel history, oldest first.
func (p *Platform) Messages(channelID string) []chat.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.channels[channelID]; ok {
		return slices.Clone(ch.messages)
	}
	return nil
}

// BotMessages returns the bodies of the bot's messages in the channel.
func (p *Platform) BotMessages(channelID string) []string {
	var bodies []string
	for _, message := range p.Messages(channelID) {
		if message.FromBot {
			bodies = append(bodies, message.Body)
		}
	}
	return bodies
}

// Rules returns the channel's rules keyed by AccessRule.Key.
func (p *Platform) Rules(channelID string) map[string]chat.AccessRule {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.channels[channelID]; ok {
		return maps.Clone(ch.rules)
	}
	return nil
}

// Exists reports whether the channel exists.
func (p *Platform) Exists(channelID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.channels[channelID]
	return ok
}

// Channel returns the channel's descriptor.
func (p *Platform) Channel(channelID string) (chat.Channel, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.channels[channelID]
	if !ok {
		return chat.Channel{}, false
	}
	return ch.info, true
}

// EnforceCount returns how many times EnforceAccess ran on the channel.
func (p *Platform) EnforceCount(channelID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.channels[channelID]; ok {
		return ch.enforced
	}
	return 0
}

// RuleWrites counts successful PutAccessRule and DeleteAccessRule calls.
func (p *Platform) RuleWrites() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ruleWrites
}

// Deleted lists channels removed through DeleteChannel, in order.
func (p *Platform) Deleted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.deleted)
}

// BotID returns the bot user.
func (p *Platform) BotID() string {
	return p.botID
}

func (p *Platform) check(op, channelID string) (*channel, error) {
	if err := p.failures[op]; err != nil {
		return nil, &chat.PlatformError{Op: op, Channel: channelID, Err: err}
	}
	if channelID == "" {
		return nil, nil
	}
	ch, ok := p.channels[channelID]
	if !ok {
		return nil, &chat.PlatformError{Op: op, Channel: channelID, Err: chat.ErrChannelNotFound}
	}
	return ch, nil
}

func (p *Platform) CreateChannel(_ context.Context, spec chat.ChannelSpec) (chat.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.check(OpCreateChannel, ""); err != nil {
		return chat.Channel{}, err
	}
	id := p.addChannelLocked(spec)
	return p.channels[id].info, nil
}

func (p *Platform) DeleteChannel(_ context.Context, channelID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.check(OpDeleteChannel, channelID); err != nil {
		return err
	}
	delete(p.channels, channelID)
	p.deleted = append(p.deleted, channelID)
	return nil
}

func (p *Platform) ListChannels(_ context.Context, category string) ([]chat.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.check(OpListChannels, ""); err != nil {
		return nil, err
	}
	var result []chat.Channel
	for _, ch := range p.channels {
		if ch.info.Category == category {
			result = append(result, ch.info)
		}
	}
	slices.SortFunc(result, func(a, b chat.Channel) int { return strings.Compare(a.ID, b.ID) })
	return result, nil
}

func (p *Platform) SendMessage(_ context.Context, channelID string, outgoing chat.Outgoing) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.check(OpSendMessage, channelID)
	if err != nil {
		return "", err
	}
	p.nextID++
	message := chat.Message{
		ID:           fmt.Sprintf("message-%d", p.nextID),
		Channel:      channelID,
		Author:       p.botID,
		Body:         outgoing.Body,
		Timestamp:    p.clock.Now(),
		FromBot:      true,
		Mentions:     slices.Clone(outgoing.Mentions),
		MentionRoles: slices.Clone(outgoing.MentionRoles),
	}
	ch.messages = append(ch.messages, message)
	return message.ID, nil
}

func (p *Platform) History(_ context.Context, channelID string, limit int) ([]chat.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.check(OpHistory, channelID)
	if err != nil {
		return nil, err
	}
	start := max(len(ch.messages)-limit, 0)
	return slices.Clone(ch.messages[start:]), nil
}

func (p *Platform) AccessRules(_ context.Context, channelID string) ([]chat.AccessRule, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.check(OpAccessRules, channelID)
	if err != nil {
		return nil, err
	}
	return slices.Collect(maps.Values(ch.rules)), nil
}

func (p *Platform) PutAccessRule(_ context.Context, channelID string, rule chat.AccessRule) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.check(OpPutAccessRule, channelID)
	if err != nil {
		return err
	}
	ch.rules[rule.Key()] = rule
	p.ruleWrites++
	return nil
}

func (p *Platform) DeleteAccessRule(_ context.Context, channelID string, kind chat.RuleKind, target string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.check(OpDeleteAccessRule, channelID)
	if err != nil {
		return err
	}
	delete(ch.rules, chat.AccessRule{Kind: kind, Target: target}.Key())
	p.ruleWrites++
	return nil
}

// EnforceAccess only counts calls.
func (p *Platform) EnforceAccess(_ context.Context, channelID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.check(OpEnforceAccess, channelID)
	if err != nil {
		return err
	}
	ch.enforced++
	return nil
}

func (p *Platform) UserRoles(_ context.Context, user string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.check(OpUserRoles, ""); err != nil {
		return nil, err
	}
	return slices.Clone(p.roles[user]), nil
}
