// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/warden-bot/warden/messaging"
)

// Matrix event types owned by Warden.
const (
	EventTypeChannel    = "org.warden.channel"
	EventTypeAccessRule = "org.warden.access_rule"

	eventTypeSpaceChild  = "m.space.child"
	eventTypeSpaceParent = "m.space.parent"
	eventTypePowerLevels = "m.room.power_levels"
	eventTypeRoomName    = "m.room.name"
	eventTypeMessage     = "m.room.message"
)

// historyPageSize bounds one /messages request.
const historyPageSize = 100

// Tier is a staff role defined by a minimum power level in the
// community room.
type Tier struct {
	Name       string
	PowerLevel int
}

// MatrixConfig configures the Matrix adapter.
type MatrixConfig struct {
	Session messaging.Session

	// CommunityRoom holds the power levels that define staff tiers.
	CommunityRoom string
	Tiers         []Tier

	Logger *slog.Logger
}

// Matrix implements Platform on the Matrix client-server API.
type Matrix struct {
	session       messaging.Session
	communityRoom string
	tiers         []Tier
	server        string
	logger        *slog.Logger
}

// NewMatrix creates the adapter. Tiers are kept sorted by power level.
func NewMatrix(config MatrixConfig) (*Matrix, error) {
	if config.Session == nil {
		return nil, fmt.Errorf("chat: Session is required")
	}
	if config.CommunityRoom == "" {
		return nil, fmt.Errorf("chat: CommunityRoom is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	tiers := slices.Clone(config.Tiers)
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].PowerLevel < tiers[j].PowerLevel })

	botID := config.Session.UserID()
	server := botID
	if index := strings.IndexByte(botID, ':'); index >= 0 {
		server = botID[index+1:]
	}
	return &Matrix{
		session:       config.Session,
		communityRoom: config.CommunityRoom,
		tiers:         tiers,
		server:        server,
		logger:        logger,
	}, nil
}

// BotID returns the bot's Matrix user ID.
func (m *Matrix) BotID() string {
	return m.session.UserID()
}

// CreateChannel creates a private room carrying spec.Metadata and adds
// it to the category space.
func (m *Matrix) CreateChannel(ctx context.Context, spec ChannelSpec) (Channel, error) {
	metadata := spec.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	initialState := []messaging.StateEvent{
		{Type: EventTypeChannel, Content: metadata},
	}
	if spec.Category != "" {
		initialState = append(initialState, messaging.StateEvent{
			Type:     eventTypeSpaceParent,
			StateKey: spec.Category,
			Content:  messaging.SpaceChildContent{Via: []string{m.server}},
		})
	}

	response, err := m.session.CreateRoom(ctx, messaging.CreateRoomRequest{
		Name:         spec.Name,
		Topic:        spec.Topic,
		Visibility:   "private",
		Preset:       "private_chat",
		InitialState: initialState,
	})
	if err != nil {
		return Channel{}, m.fail("create channel", "", err)
	}

	if spec.Category != "" {
		_, err := m.session.SendStateEvent(ctx, spec.Category, eventTypeSpaceChild, response.RoomID,
			messaging.SpaceChildContent{Via: []string{m.server}})
		if err != nil {
			// Leave the orphan room rather than report a channel that
			// ListChannels would never return.
			if leaveErr := m.session.LeaveRoom(ctx, response.RoomID); leaveErr != nil {
				m.logger.Warn("leaving orphaned room failed", "room_id", response.RoomID, "error", leaveErr)
			}
			return Channel{}, m.fail("attach channel to category", response.RoomID, err)
		}
	}

	return Channel{
		ID:       response.RoomID,
		Name:     spec.Name,
		Category: spec.Category,
		Metadata: metadata,
	}, nil
}

// DeleteChannel detaches the room from its space, removes every other
// member and leaves. Matrix has no room deletion; an empty room with no
// space parent is the closest equivalent.
func (m *Matrix) DeleteChannel(ctx context.Context, channel string) error {
	state, err := m.session.GetRoomState(ctx, channel)
	if err != nil {
		return m.failRoomRead("delete channel", channel, err)
	}
	for _, event := range state {
		if event.Type != eventTypeSpaceParent || event.StateKey == nil || *event.StateKey == "" {
			continue
		}
		space := *event.StateKey
		if _, err := m.session.SendStateEvent(ctx, space, eventTypeSpaceChild, channel, struct{}{}); err != nil {
			m.logger.Warn("detaching channel from space failed", "room_id", channel, "space", space, "error", err)
		}
	}

	members, err := m.session.GetRoomMembers(ctx, channel)
	if err != nil {
		return m.failRoomRead("delete channel", channel, err)
	}
	for _, member := range members {
		if member.UserID == m.BotID() || (member.Membership != "join" && member.Membership != "invite") {
			continue
		}
		if err := m.session.KickUser(ctx, channel, member.UserID, "ticket closed"); err != nil {
			m.logger.Warn("removing member from closed channel failed",
				"room_id", channel, "user_id", member.UserID, "error", err)
		}
	}

	if err := m.session.LeaveRoom(ctx, channel); err != nil {
		return m.fail("delete channel", channel, err)
	}
	return nil
}

// ListChannels returns the rooms that are children of the category
// space. Rooms without Warden metadata are returned with an empty map.
func (m *Matrix) ListChannels(ctx context.Context, category string) ([]Channel, error) {
	state, err := m.session.GetRoomState(ctx, category)
	if err != nil {
		return nil, m.fail("list channels", category, err)
	}

	var channels []Channel
	for _, event := range state {
		if event.Type != eventTypeSpaceChild || event.StateKey == nil {
			continue
		}
		var child messaging.SpaceChildContent
		if err := event.DecodeContent(&child); err != nil || len(child.Via) == 0 {
			continue
		}
		channel, err := m.describeChannel(ctx, *event.StateKey, category)
		if err != nil {
			m.logger.Warn("skipping unreadable channel", "room_id", *event.StateKey, "error", err)
			continue
		}
		channels = append(channels, channel)
	}
	return channels, nil
}

func (m *Matrix) describeChannel(ctx context.Context, roomID, category string) (Channel, error) {
	state, err := m.session.GetRoomState(ctx, roomID)
	if err != nil {
		return Channel{}, m.failRoomRead("describe channel", roomID, err)
	}
	channel := Channel{ID: roomID, Category: category, Metadata: map[string]string{}}
	for _, event := range state {
		if event.StateKey == nil || *event.StateKey != "" {
			continue
		}
		switch event.Type {
		case EventTypeChannel:
			if err := event.DecodeContent(&channel.Metadata); err != nil {
				m.logger.Warn("malformed channel metadata", "room_id", roomID, "error", err)
				channel.Metadata = map[string]string{}
			}
		case eventTypeRoomName:
			var content struct {
				Name string `json:"name"`
			}
			if event.DecodeContent(&content) == nil {
				channel.Name = content.Name
			}
		}
	}
	return channel, nil
}

// SendMessage posts a text message with user and role mentions.
func (m *Matrix) SendMessage(ctx context.Context, channel string, message Outgoing) (string, error) {
	content := messaging.NewTextMessage(message.Body)
	if len(message.Mentions) > 0 {
		content.Mentions = &messaging.Mentions{UserIDs: message.Mentions}
	}
	content.RoleMentions = message.MentionRoles

	eventID, err := m.session.SendMessage(ctx, channel, content)
	if err != nil {
		return "", m.fail("send message", channel, err)
	}
	return eventID, nil
}

// History pages backwards through /messages and returns at most limit
// m.room.message events, oldest first.
func (m *Matrix) History(ctx context.Context, channel string, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	var newestFirst []Message
	from := ""
	for len(newestFirst) < limit {
		pageSize := min(limit-len(newestFirst), historyPageSize)
		response, err := m.session.RoomMessages(ctx, channel, messaging.RoomMessagesOptions{
			From:      from,
			Direction: "b",
			Limit:     pageSize,
		})
		if err != nil {
			return nil, m.failRoomRead("history", channel, err)
		}
		for _, event := range response.Chunk {
			if event.Type != eventTypeMessage {
				continue
			}
			message, ok := m.toMessage(channel, event)
			if !ok {
				continue
			}
			newestFirst = append(newestFirst, message)
			if len(newestFirst) == limit {
				break
			}
		}
		if len(response.Chunk) == 0 || response.End == "" {
			break
		}
		from = response.End
	}
	slices.Reverse(newestFirst)
	return newestFirst, nil
}

// MessagesFromSync extracts the m.room.message events of joined rooms
// from a /sync response.
func (m *Matrix) MessagesFromSync(response *messaging.SyncResponse) []Message {
	var messages []Message
	for roomID, room := range response.Rooms.Join {
		for _, event := range room.Timeline.Events {
			if event.Type != eventTypeMessage {
				continue
			}
			if message, ok := m.toMessage(roomID, event); ok {
				messages = append(messages, message)
			}
		}
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
	return messages
}

func (m *Matrix) toMessage(channel string, event messaging.Event) (Message, bool) {
	var content messaging.MessageContent
	if err := event.DecodeContent(&content); err != nil {
		return Message{}, false
	}
	// Redacted events have empty content.
	if content.MsgType == "" {
		return Message{}, false
	}
	message := Message{
		ID:           event.EventID,
		Channel:      channel,
		Author:       event.Sender,
		Body:         content.Body,
		Timestamp:    time.UnixMilli(event.OriginServerTS),
		FromBot:      event.Sender == m.BotID(),
		MentionRoles: content.RoleMentions,
	}
	if content.Mentions != nil {
		message.Mentions = content.Mentions.UserIDs
	}
	return message, true
}

type accessRuleContent struct {
	Allow *bool `json:"allow,omitempty"`
}

// AccessRules returns the channel's live access rules.
func (m *Matrix) AccessRules(ctx context.Context, channel string) ([]AccessRule, error) {
	state, err := m.session.GetRoomState(ctx, channel)
	if err != nil {
		return nil, m.failRoomRead("access rules", channel, err)
	}
	var rules []AccessRule
	for _, event := range state {
		if event.Type != EventTypeAccessRule || event.StateKey == nil {
			continue
		}
		kind, target, ok := parseRuleKey(*event.StateKey)
		if !ok {
			continue
		}
		var content accessRuleContent
		if err := event.DecodeContent(&content); err != nil || content.Allow == nil {
			continue
		}
		rules = append(rules, AccessRule{Kind: kind, Target: target, Allow: *content.Allow})
	}
	return rules, nil
}

// PutAccessRule creates or replaces a rule.
func (m *Matrix) PutAccessRule(ctx context.Context, channel string, rule AccessRule) error {
	allow := rule.Allow
	_, err := m.session.SendStateEvent(ctx, channel, EventTypeAccessRule, rule.Key(), accessRuleContent{Allow: &allow})
	if err != nil {
		return m.fail("put access rule", channel, err)
	}
	return nil
}

// DeleteAccessRule clears a rule by writing empty content.
func (m *Matrix) DeleteAccessRule(ctx context.Context, channel string, kind RuleKind, target string) error {
	key := AccessRule{Kind: kind, Target: target}.Key()
	if _, err := m.session.SendStateEvent(ctx, channel, EventTypeAccessRule, key, struct{}{}); err != nil {
		return m.fail("delete access rule", channel, err)
	}
	return nil
}

// EnforceAccess invites and removes users so that the room's joined and
// invited membership equals the allowed member rules plus holders of
// allowed roles, minus explicitly denied members.
func (m *Matrix) EnforceAccess(ctx context.Context, channel string) error {
	rules, err := m.AccessRules(ctx, channel)
	if err != nil {
		return err
	}
	levels, err := m.powerLevels(ctx)
	if err != nil {
		return err
	}

	allowed := make(map[string]bool)
	denied := make(map[string]bool)
	for _, rule := range rules {
		switch rule.Kind {
		case RuleMember:
			if rule.Allow {
				allowed[rule.Target] = true
			} else {
				denied[rule.Target] = true
			}
		case RuleRole:
			if !rule.Allow {
				continue
			}
			for userID := range levels.Users {
				if slices.Contains(m.rolesAt(levels.Level(userID)), rule.Target) {
					allowed[userID] = true
				}
			}
		}
	}
	for userID := range denied {
		delete(allowed, userID)
	}
	delete(allowed, m.BotID())

	members, err := m.session.GetRoomMembers(ctx, channel)
	if err != nil {
		return m.failRoomRead("enforce access", channel, err)
	}
	present := make(map[string]bool)
	for _, member := range members {
		if member.UserID == m.BotID() {
			continue
		}
		if member.Membership != "join" && member.Membership != "invite" {
			continue
		}
		present[member.UserID] = true
		if !allowed[member.UserID] {
			if err := m.session.KickUser(ctx, channel, member.UserID, "access revoked"); err != nil {
				return m.fail("enforce access", channel, err)
			}
		}
	}
	for userID := range allowed {
		if present[userID] {
			continue
		}
		if err := m.session.InviteUser(ctx, channel, userID); err != nil {
			return m.fail("enforce access", channel, err)
		}
	}
	return nil
}

// UserRoles returns the tiers whose threshold the user's power level in
// the community room meets.
func (m *Matrix) UserRoles(ctx context.Context, user string) ([]string, error) {
	levels, err := m.powerLevels(ctx)
	if err != nil {
		return nil, err
	}
	return m.rolesAt(levels.Level(user)), nil
}

func (m *Matrix) rolesAt(level int) []string {
	var roles []string
	for _, tier := range m.tiers {
		if level >= tier.PowerLevel {
			roles = append(roles, tier.Name)
		}
	}
	return roles
}

func (m *Matrix) powerLevels(ctx context.Context) (messaging.PowerLevels, error) {
	raw, err := m.session.GetStateEvent(ctx, m.communityRoom, eventTypePowerLevels, "")
	if err != nil {
		return messaging.PowerLevels{}, m.fail("power levels", m.communityRoom, err)
	}
	var levels messaging.PowerLevels
	if err := json.Unmarshal(raw, &levels); err != nil {
		return messaging.PowerLevels{}, m.fail("power levels", m.communityRoom, err)
	}
	return levels, nil
}

func (m *Matrix) fail(op, channel string, err error) error {
	if messaging.IsMatrixError(err, messaging.ErrCodeNotFound) {
		err = fmt.Errorf("%w: %w", ErrChannelNotFound, err)
	}
	return &PlatformError{Op: op, Channel: channel, Err: err}
}

// failRoomRead is fail for reads of a ticket room's state, members or
// timeline. Homeservers answer those with M_FORBIDDEN once the bot has
// left the room, so that also means the channel is gone.
func (m *Matrix) failRoomRead(op, channel string, err error) error {
	if messaging.IsMatrixError(err, messaging.ErrCodeForbidden) {
		err = fmt.Errorf("%w: %w", ErrChannelNotFound, err)
	}
	return m.fail(op, channel, err)
}

func parseRuleKey(key string) (RuleKind, string, bool) {
	kind, target, ok := strings.Cut(key, ":")
	if !ok || target == "" {
		return "", "", false
	}
	switch RuleKind(kind) {
	case RuleMember, RuleRole:
		return RuleKind(kind), target, true
	}
	return "", "", false
}
