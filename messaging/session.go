// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
)

// Session is the set of Matrix operations Warden performs. The
// production implementation is *DirectSession; tests substitute fakes.
type Session interface {
	UserID() string
	Close() error

	WhoAmI(ctx context.Context) (string, error)
	ResolveAlias(ctx context.Context, alias string) (string, error)

	CreateRoom(ctx context.Context, request CreateRoomRequest) (*CreateRoomResponse, error)
	JoinRoom(ctx context.Context, roomIDOrAlias string) (string, error)
	LeaveRoom(ctx context.Context, roomID string) error
	InviteUser(ctx context.Context, roomID, userID string) error
	KickUser(ctx context.Context, roomID, userID, reason string) error
	JoinedRooms(ctx context.Context) ([]string, error)
	GetRoomMembers(ctx context.Context, roomID string) ([]RoomMember, error)

	SendMessage(ctx context.Context, roomID string, content MessageContent) (string, error)
	SendEvent(ctx context.Context, roomID, eventType string, content any) (string, error)
	Redact(ctx context.Context, roomID, eventID, reason string) error
	RoomMessages(ctx context.Context, roomID string, options RoomMessagesOptions) (*RoomMessagesResponse, error)

	SendStateEvent(ctx context.Context, roomID, eventType, stateKey string, content any) (string, error)
	GetStateEvent(ctx context.Context, roomID, eventType, stateKey string) (json.RawMessage, error)
	GetRoomState(ctx context.Context, roomID string) ([]Event, error)

	Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error)
}

var _ Session = (*DirectSession)(nil)
