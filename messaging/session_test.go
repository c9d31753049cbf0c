// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newTestSession starts a server running handler and returns a session
// authenticated against it.
func newTestSession(t *testing.T, handler http.HandlerFunc) *DirectSession {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	session, err := client.SessionFromToken("@warden:test.local", "syt_token")
	if err != nil {
		t.Fatalf("SessionFromToken failed: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func writeJSON(writer http.ResponseWriter, value any) {
	writer.Header().Set("Content-Type", "application/json")
	json.NewEncoder(writer).Encode(value)
}

func TestSendMessage(t *testing.T) {
	var seenPaths []string
	session := newTestSession(t, func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPut {
			t.Errorf("unexpected method: %s", request.Method)
		}
		if got := request.Header.Get("Authorization"); got != "Bearer syt_token" {
			t.Errorf("unexpected authorization header: %q", got)
		}
		seenPaths = append(seenPaths, request.URL.EscapedPath())

		var content MessageContent
		if err := json.NewDecoder(request.Body).Decode(&content); err != nil {
			t.Errorf("decoding content: %v", err)
		}
		if content.Body != "hello" || content.MsgType != "m.text" {
			t.Errorf("unexpected content: %+v", content)
		}
		if content.Mentions == nil || len(content.Mentions.UserIDs) != 1 || content.Mentions.UserIDs[0] != "@alice:test.local" {
			t.Errorf("unexpected mentions: %+v", content.Mentions)
		}
		writeJSON(writer, map[string]string{"event_id": "$event1"})
	})

	content := NewTextMessage("hello")
	content.Mentions = &Mentions{UserIDs: []string{"@alice:test.local"}}
	for range 2 {
		eventID, err := session.SendMessage(context.Background(), "!room:test.local", content)
		if err != nil {
			t.Fatalf("SendMessage failed: %v", err)
		}
		if eventID != "$event1" {
			t.Errorf("event ID = %q, want $event1", eventID)
		}
	}

	if len(seenPaths) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(seenPaths))
	}
	prefix := "/_matrix/client/v3/rooms/%21room:test.local/send/m.room.message/warden-"
	for _, path := range seenPaths {
		if !strings.HasPrefix(path, prefix) {
			t.Errorf("path %q does not start with %q", path, prefix)
		}
	}
	if seenPaths[0] == seenPaths[1] {
		t.Error("transaction IDs must differ between sends")
	}
}

func TestRoomMessages(t *testing.T) {
	session := newTestSession(t, func(writer http.ResponseWriter, request *http.Request) {
		query := request.URL.Query()
		if query.Get("dir") != "b" {
			t.Errorf("dir = %q, want b", query.Get("dir"))
		}
		if query.Get("limit") != "50" {
			t.Errorf("limit = %q, want 50", query.Get("limit"))
		}
		if query.Get("from") != "" {
			t.Errorf("from should be absent on the first page, got %q", query.Get("from"))
		}
		writeJSON(writer, map[string]any{
			"start": "s1",
			"end":   "s0",
			"chunk": []map[string]any{
				{"event_id": "$2", "type": "m.room.message", "sender": "@bob:test.local", "origin_server_ts": 2000,
					"content": map[string]any{"msgtype": "m.text", "body": "second"}},
				{"event_id": "$1", "type": "m.room.message", "sender": "@alice:test.local", "origin_server_ts": 1000,
					"content": map[string]any{"msgtype": "m.text", "body": "first"}},
			},
		})
	})

	response, err := session.RoomMessages(context.Background(), "!room:test.local", RoomMessagesOptions{Limit: 50})
	if err != nil {
		t.Fatalf("RoomMessages failed: %v", err)
	}
	if len(response.Chunk) != 2 || response.End != "s0" {
		t.Fatalf("unexpected response: %+v", response)
	}
	var content MessageContent
	if err := response.Chunk[1].DecodeContent(&content); err != nil {
		t.Fatalf("DecodeContent failed: %v", err)
	}
	if content.Body != "first" {
		t.Errorf("body = %q, want first", content.Body)
	}
}

func TestGetStateEventNotFound(t *testing.T) {
	session := newTestSession(t, func(writer http.ResponseWriter, request *http.Request) {
		if !strings.HasSuffix(request.URL.EscapedPath(), "/state/org.warden.channel/") {
			t.Errorf("unexpected path: %s", request.URL.EscapedPath())
		}
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusNotFound)
		json.NewEncoder(writer).Encode(MatrixError{Code: ErrCodeNotFound, Message: "Event not found."})
	})

	_, err := session.GetStateEvent(context.Background(), "!room:test.local", "org.warden.channel", "")
	if !IsMatrixError(err, ErrCodeNotFound) {
		t.Fatalf("expected M_NOT_FOUND, got %v", err)
	}
}

func TestGetRoomMembers(t *testing.T) {
	session := newTestSession(t, func(writer http.ResponseWriter, _ *http.Request) {
		writeJSON(writer, map[string]any{
			"chunk": []map[string]any{
				{"state_key": "@alice:test.local", "content": map[string]any{"membership": "join", "displayname": "Alice"}},
				{"state_key": "@bob:test.local", "content": map[string]any{"membership": "invite"}},
			},
		})
	})

	members, err := session.GetRoomMembers(context.Background(), "!room:test.local")
	if err != nil {
		t.Fatalf("GetRoomMembers failed: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
	if members[0].UserID != "@alice:test.local" || members[0].DisplayName != "Alice" || members[0].Membership != "join" {
		t.Errorf("unexpected first member: %+v", members[0])
	}
	if members[1].Membership != "invite" {
		t.Errorf("unexpected second member: %+v", members[1])
	}
}

func TestKickAndRedact(t *testing.T) {
	var kicked, redacted bool
	session := newTestSession(t, func(writer http.ResponseWriter, request *http.Request) {
		path := request.URL.EscapedPath()
		switch {
		case strings.HasSuffix(path, "/kick"):
			var body map[string]string
			json.NewDecoder(request.Body).Decode(&body)
			if body["user_id"] != "@alice:test.local" || body["reason"] != "ticket closed" {
				t.Errorf("unexpected kick body: %v", body)
			}
			kicked = true
		case strings.Contains(path, "/redact/"):
			if request.Method != http.MethodPut {
				t.Errorf("redact method = %s, want PUT", request.Method)
			}
			redacted = true
		default:
			t.Errorf("unexpected path: %s", path)
		}
		writeJSON(writer, map[string]string{"event_id": "$r"})
	})

	ctx := context.Background()
	if err := session.KickUser(ctx, "!room:test.local", "@alice:test.local", "ticket closed"); err != nil {
		t.Fatalf("KickUser failed: %v", err)
	}
	if err := session.Redact(ctx, "!room:test.local", "$event", ""); err != nil {
		t.Fatalf("Redact failed: %v", err)
	}
	if !kicked || !redacted {
		t.Errorf("kicked=%v redacted=%v, want both true", kicked, redacted)
	}
}

func TestSyncQuery(t *testing.T) {
	session := newTestSession(t, func(writer http.ResponseWriter, request *http.Request) {
		query := request.URL.Query()
		if query.Get("since") != "batch_1" {
			t.Errorf("since = %q, want batch_1", query.Get("since"))
		}
		if query.Get("timeout") != "0" {
			t.Errorf("timeout = %q, want 0", query.Get("timeout"))
		}
		writeJSON(writer, map[string]any{
			"next_batch": "batch_2",
			"rooms": map[string]any{
				"leave": map[string]any{"!gone:test.local": map[string]any{}},
			},
		})
	})

	response, err := session.Sync(context.Background(), SyncOptions{Since: "batch_1", SetTimeout: true})
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if response.NextBatch != "batch_2" {
		t.Errorf("next_batch = %q, want batch_2", response.NextBatch)
	}
	if _, ok := response.Rooms.Leave["!gone:test.local"]; !ok {
		t.Error("expected !gone:test.local in leave section")
	}
}

func TestPowerLevels(t *testing.T) {
	levels := PowerLevels{Users: map[string]int{"@mod:test.local": 50}, UsersDefault: 0}
	if levels.Level("@mod:test.local") != 50 {
		t.Errorf("moderator level = %d, want 50", levels.Level("@mod:test.local"))
	}
	if levels.Level("@nobody:test.local") != 0 {
		t.Errorf("default level = %d, want 0", levels.Level("@nobody:test.local"))
	}
}
