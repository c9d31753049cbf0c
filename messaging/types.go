// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import "encoding/json"

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Type                     string          `json:"type"`
	Identifier               *UserIdentifier `json:"identifier,omitempty"`
	Password                 string          `json:"password"`
	DeviceID                 string          `json:"device_id,omitempty"`
	InitialDeviceDisplayName string          `json:"initial_device_display_name,omitempty"`
}

// UserIdentifier identifies the account logging in.
type UserIdentifier struct {
	Type string `json:"type"`
	User string `json:"user"`
}

// AuthResponse is returned by Login.
type AuthResponse struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	DeviceID    string `json:"device_id"`
}

// CreateRoomRequest holds parameters for creating a room.
type CreateRoomRequest struct {
	Name                      string         `json:"name,omitempty"`
	Topic                     string         `json:"topic,omitempty"`
	Visibility                string         `json:"visibility,omitempty"` // "public" or "private"
	Preset                    string         `json:"preset,omitempty"`     // "private_chat", "public_chat", "trusted_private_chat"
	Invite                    []string       `json:"invite,omitempty"`
	CreationContent           map[string]any `json:"creation_content,omitempty"`
	InitialState              []StateEvent   `json:"initial_state,omitempty"`
	PowerLevelContentOverride map[string]any `json:"power_level_content_override,omitempty"`
}

// CreateRoomResponse is returned by CreateRoom.
type CreateRoomResponse struct {
	RoomID string `json:"room_id"`
}

// StateEvent is a state event supplied at room creation.
type StateEvent struct {
	Type     string `json:"type"`
	StateKey string `json:"state_key"`
	Content  any    `json:"content"`
}

// MessageContent is the content of an m.room.message event.
type MessageContent struct {
	MsgType  string    `json:"msgtype"`
	Body     string    `json:"body"`
	Mentions *Mentions `json:"m.mentions,omitempty"`

	// RoleMentions names staff tiers addressed by the message. Not part
	// of the Matrix spec; other clients ignore it.
	RoleMentions []string `json:"org.warden.role_mentions,omitempty"`
}

// Mentions is the m.mentions block of a message.
type Mentions struct {
	UserIDs []string `json:"user_ids,omitempty"`
}

// NewTextMessage creates a plain text message.
func NewTextMessage(body string) MessageContent {
	return MessageContent{MsgType: "m.text", Body: body}
}

// NewNotice creates an m.notice message, the msgtype bots use for
// automated output.
func NewNotice(body string) MessageContent {
	return MessageContent{MsgType: "m.notice", Body: body}
}

// Event is a Matrix event as returned by the server.
type Event struct {
	EventID        string          `json:"event_id"`
	Type           string          `json:"type"`
	Sender         string          `json:"sender"`
	OriginServerTS int64           `json:"origin_server_ts"`
	Content        json.RawMessage `json:"content"`
	RoomID         string          `json:"room_id,omitempty"`
	StateKey       *string         `json:"state_key,omitempty"`
}

// DecodeContent unmarshals the event content into v.
func (e Event) DecodeContent(v any) error {
	if len(e.Content) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(e.Content, v)
}

// RoomMessagesOptions controls /messages pagination.
type RoomMessagesOptions struct {
	From      string // pagination token; empty means from the live end
	Direction string // "b" (older) or "f" (newer); defaults to "b"
	Limit     int
}

// RoomMessagesResponse is returned by RoomMessages.
type RoomMessagesResponse struct {
	Start string  `json:"start"`
	End   string  `json:"end"`
	Chunk []Event `json:"chunk"`
}

// SyncOptions controls /sync.
type SyncOptions struct {
	Since      string
	Timeout    int  // long-poll timeout in milliseconds
	SetTimeout bool // send timeout even when zero
	Filter     string
}

// SyncResponse is the top-level /sync response.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection contains per-room sync data by membership.
type RoomsSection struct {
	Join   map[string]JoinedRoom  `json:"join,omitempty"`
	Invite map[string]InvitedRoom `json:"invite,omitempty"`
	Leave  map[string]LeftRoom    `json:"leave,omitempty"`
}

// JoinedRoom is sync data for a joined room.
type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// InvitedRoom is sync data for a pending invite.
type InvitedRoom struct {
	InviteState StateSection `json:"invite_state"`
}

// LeftRoom is sync data for a room the user left or was removed from.
type LeftRoom struct {
	Timeline TimelineSection `json:"timeline"`
}

// TimelineSection contains timeline events.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// StateSection contains state events.
type StateSection struct {
	Events []Event `json:"events"`
}

// RoomMember is a member of a room.
type RoomMember struct {
	UserID      string
	DisplayName string
	Membership  string
}

// RoomMembersResponse is returned by /members.
type RoomMembersResponse struct {
	Chunk []RoomMemberEvent `json:"chunk"`
}

// RoomMemberEvent is an m.room.member state event.
type RoomMemberEvent struct {
	StateKey string            `json:"state_key"`
	Content  RoomMemberContent `json:"content"`
}

// RoomMemberContent is the content of an m.room.member event.
type RoomMemberContent struct {
	Membership  string `json:"membership"`
	DisplayName string `json:"displayname,omitempty"`
}

// PowerLevels is the content of m.room.power_levels, reduced to the
// fields Warden reads.
type PowerLevels struct {
	Users        map[string]int `json:"users,omitempty"`
	UsersDefault int            `json:"users_default"`
}

// Level returns userID's power level.
func (p PowerLevels) Level(userID string) int {
	if level, ok := p.Users[userID]; ok {
		return level
	}
	return p.UsersDefault
}

// SpaceChildContent is the content of m.space.child. An empty Via
// removes the child from the space.
type SpaceChildContent struct {
	Via []string `json:"via,omitempty"`
}

type inviteRequest struct {
	UserID string `json:"user_id"`
}

type kickRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}

type redactRequest struct {
	Reason string `json:"reason,omitempty"`
}

type sendEventResponse struct {
	EventID string `json:"event_id"`
}

type whoAmIResponse struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id,omitempty"`
}

type resolveAliasResponse struct {
	RoomID string `json:"room_id"`
}

type joinedRoomsResponse struct {
	JoinedRooms []string `json:"joined_rooms"`
}
