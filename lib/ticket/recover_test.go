// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package ticket

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/google/uuid"

	"github.com/warden-bot/warden/lib/chat"
	"github.com/warden-bot/warden/lib/chat/chattest"
)

func TestRecoverClaimAndFirstMention(t *testing.T) {
	env := newTestEnv(t)
	channel := env.platform.AddChannel(testCategory, nil)

	// The requester never speaks inside the window; only the opening
	// message mentions them.
	env.platform.Append(chat.Message{
		Channel:  channel,
		Author:   testBot,
		FromBot:  true,
		Body:     "Ticket opened by @alice:x (Question). A staff member will be with you shortly.",
		Mentions: []string{"@alice:x"},
	})
	env.platform.Post(channel, "@bob:x", "I saw it too")
	env.platform.Post(channel, "@staff_42:x", "looking into it")
	env.platform.Append(chat.Message{Channel: channel, Author: testBot, FromBot: true, Body: "Claimed by @staff_42:x"})

	if err := env.registry.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	ticket := env.registry.Get(channel)
	if ticket == nil {
		t.Fatal("ticket not recovered")
	}
	if ticket.Requester != "@alice:x" {
		t.Errorf("requester = %q, want @alice:x", ticket.Requester)
	}
	if got := ticket.Staff.Members(); !slices.Equal(got, []string{"@staff_42:x"}) {
		t.Errorf("staff = %v, want [@staff_42:x]", got)
	}
	if got := ticket.Members.Members(); !slices.Equal(got, []string{"@alice:x", "@bob:x"}) {
		t.Errorf("members = %v, want [@alice:x @bob:x]", got)
	}
	if ticket.Type != Discussion {
		t.Errorf("type = %s, want discussion when metadata is absent", ticket.Type)
	}
	if !slices.Equal(ticket.AllowedRoles(), testTiers) {
		t.Errorf("allowed roles = %v, want every tier", ticket.AllowedRoles())
	}
}

func TestRecoverUsesMetadataAndStatusHistory(t *testing.T) {
	env := newTestEnv(t)
	createdID := uuid.New()
	channel := env.platform.AddChannel(testCategory, map[string]string{
		"type":          "user_report",
		"requester":     "@alice:x",
		"allowed_roles": "Moderator,Head Moderator,Administrator",
		"created_id":    createdID.String(),
		"created_at":    "2026-02-28T09:00:00Z",
	})
	for _, body := range []string{
		"Added @bob:x",
		"Added @carol:x",
		"Claimed by @mod:x",
		"Removed @bob:x",
		"Claimed by @head:x",
		"Unclaimed by @mod:x",
		"Staff ping: @alice:x is waiting for a reply.",
	} {
		env.platform.Append(chat.Message{Channel: channel, Author: testBot, FromBot: true, Body: body})
	}
	env.platform.Post(channel, "@alice:x", "hello?")

	if err := env.registry.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	ticket := env.registry.Get(channel)
	if ticket.Type != UserReport || ticket.CreatedID != createdID {
		t.Errorf("type/id = %s/%s, want user_report/%s", ticket.Type, ticket.CreatedID, createdID)
	}
	if ticket.CreatedAt.IsZero() {
		t.Error("created_at not recovered")
	}
	if got := ticket.Members.Members(); !slices.Equal(got, []string{"@alice:x", "@carol:x"}) {
		t.Errorf("members = %v", got)
	}
	if got := ticket.Staff.Members(); !slices.Equal(got, []string{"@head:x"}) {
		t.Errorf("staff = %v", got)
	}
	if !slices.Equal(ticket.AllowedRoles(), []string{"Moderator", "Head Moderator", "Administrator"}) {
		t.Errorf("allowed roles = %v", ticket.AllowedRoles())
	}
	if !ticket.StaffPinged() {
		t.Error("trailing staff ping (followed only by a member message) should restore StaffPinged")
	}
	if env.platform.RuleWrites() != 0 {
		t.Errorf("recovery wrote %d rules, want 0", env.platform.RuleWrites())
	}
}

func TestRecoverStaffReplyClearsPing(t *testing.T) {
	env := newTestEnv(t)
	channel := env.platform.AddChannel(testCategory, map[string]string{"requester": "@alice:x"})
	env.platform.Post(channel, "@alice:x", "help")
	env.platform.Append(chat.Message{Channel: channel, Author: testBot, FromBot: true, Body: "Staff ping: @alice:x is waiting for a reply."})
	env.platform.Post(channel, "@trial:x", "on it")

	if err := env.registry.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if env.registry.Get(channel).StaffPinged() {
		t.Error("staff reply after the ping should leave StaffPinged false")
	}
}

func TestRecoverFallsBackToFirstAuthor(t *testing.T) {
	env := newTestEnv(t)
	channel := env.platform.AddChannel(testCategory, nil)
	env.platform.Post(channel, "@dave:x", "first!")
	env.platform.Post(channel, "@mod:x", "hi dave")

	if err := env.registry.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got := env.registry.Get(channel).Requester; got != "@dave:x" {
		t.Errorf("requester = %q, want the first author", got)
	}
}

func TestInitSkipsOtherCategoriesAndSurvivesHistoryErrors(t *testing.T) {
	env := newTestEnv(t)
	ticketChannel := env.platform.AddChannel(testCategory, map[string]string{"requester": "@alice:x", "type": "question"})
	other := env.platform.AddChannel("!elsewhere:x", nil)
	env.platform.FailOn(chattest.OpHistory, errors.New("history unavailable"))

	if err := env.registry.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if env.registry.Len() != 1 || env.registry.Get(other) != nil {
		t.Fatalf("registry holds %d tickets; other category recovered: %v", env.registry.Len(), env.registry.Get(other) != nil)
	}
	ticket := env.registry.Get(ticketChannel)
	if ticket.Type != Question || !ticket.Members.Contains("@alice:x") {
		t.Errorf("metadata-only recovery lost type or requester: %+v", ticket.Snapshot())
	}
}

func TestInitListFailure(t *testing.T) {
	env := newTestEnv(t)
	env.platform.FailOn(chattest.OpListChannels, errors.New("space unreadable"))
	if err := env.registry.Init(context.Background()); err == nil {
		t.Fatal("Init should fail when the category cannot be listed")
	}
}
