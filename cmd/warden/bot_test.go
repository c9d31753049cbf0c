// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/warden-bot/warden/lib/chat"
	"github.com/warden-bot/warden/lib/chat/chattest"
	"github.com/warden-bot/warden/lib/clock"
	"github.com/warden-bot/warden/lib/jobs"
	"github.com/warden-bot/warden/lib/metrics"
	"github.com/warden-bot/warden/lib/reviews"
	"github.com/warden-bot/warden/lib/store"
	"github.com/warden-bot/warden/lib/ticket"
)

const (
	testBot      = "@warden:x"
	testCategory = "!tickets:x"
	testMod      = "@mod:x"
	testHead     = "@head:x"
	testAdmin    = "@admin:x"
	testMember   = "@alice:x"
)

type testEnv struct {
	clock      *clock.FakeClock
	platform   *chattest.Platform
	registry   *ticket.Registry
	reminders  *jobs.Queue
	broadcasts *jobs.Queue
	reviews    *reviews.Book
	archive    *countingPurger
	metrics    *metrics.Metrics
	bot        *bot
	lobby      string
	admin      string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fakeClock := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	s, err := store.OpenSQLite(store.Config{Path: filepath.Join(t.TempDir(), "warden.db"), Clock: fakeClock})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	platform := chattest.New(testBot, fakeClock)
	platform.SetRoles(testMod, "Moderator")
	platform.SetRoles(testHead, "Moderator", "Head Moderator")
	platform.SetRoles(testAdmin, "Moderator", "Head Moderator", "Administrator")

	m := metrics.New()
	registry, err := ticket.NewRegistry(ticket.Config{
		Platform: platform,
		Category: testCategory,
		Tiers:    []string{"Moderator", "Head Moderator", "Administrator"},
		Clock:    fakeClock,
		Metrics:  m,
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	env := &testEnv{
		clock:      fakeClock,
		platform:   platform,
		registry:   registry,
		reminders:  jobs.NewReminders(s, fakeClock, nil),
		broadcasts: jobs.NewBroadcasts(s, fakeClock, nil),
		reviews:    reviews.NewBook(s, fakeClock, nil),
		archive:    &countingPurger{},
		metrics:    m,
		lobby:      platform.AddChannel("!community:x", nil),
		admin:      platform.AddChannel("!community:x", nil),
	}
	env.bot = newBot(botConfig{
		Platform:     platform,
		Registry:     registry,
		Reminders:    env.reminders,
		Broadcasts:   env.broadcasts,
		Reviews:      env.reviews,
		ReviewerTier: "Head Moderator",
		ResetTier:    "Administrator",
		Archive:      env.archive,
		AdminRoom:    env.admin,
		Clock:        fakeClock,
	})
	return env
}

// say posts body as author and handles it synchronously.
func (e *testEnv) say(channel, author, body string, mentions ...string) {
	message := e.platform.Post(channel, author, body, mentions...)
	e.bot.handleMessage(context.Background(), message)
}

// lastReply returns the newest bot message in channel.
func (e *testEnv) lastReply(t *testing.T, channel string) string {
	t.Helper()
	replies := e.platform.BotMessages(channel)
	if len(replies) == 0 {
		t.Fatalf("no bot messages in %s", channel)
	}
	return replies[len(replies)-1]
}

// openTicket has staff open a ticket of ticketType for requester.
func (e *testEnv) openTicket(t *testing.T, requester string, ticketType ticket.Type) *ticket.Ticket {
	t.Helper()
	opened, err := e.registry.Open(context.Background(), requester, ticketType)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return opened
}

func TestMemberOpensOwnTicket(t *testing.T) {
	env := newTestEnv(t)
	env.say(env.lobby, testMember, "!ticket bug report")

	if env.registry.Len() != 1 {
		t.Fatalf("open tickets = %d, want 1", env.registry.Len())
	}
	opened := env.registry.List()[0]
	if opened.Type != ticket.BugReport || opened.Requester != testMember {
		t.Errorf("ticket = %+v", opened.Snapshot())
	}
	if reply := env.lastReply(t, env.lobby); !strings.Contains(reply, "Your bug report ticket is open: "+opened.Name) {
		t.Errorf("reply = %q", reply)
	}
}

func TestMemberCannotOpenStaffTypes(t *testing.T) {
	env := newTestEnv(t)
	env.say(env.lobby, testMember, "!ticket muted")

	if env.registry.Len() != 0 {
		t.Fatalf("open tickets = %d, want 0", env.registry.Len())
	}
	reply := env.lastReply(t, env.lobby)
	if !strings.Contains(reply, "not a ticket type you can open") || !strings.Contains(reply, "Usage: !ticket") {
		t.Errorf("reply = %q", reply)
	}
}

func TestStaffOpensTicketForMember(t *testing.T) {
	env := newTestEnv(t)
	env.say(env.lobby, testMod, "!open Bob discussion", "@bob:x")

	if env.registry.Len() != 1 {
		t.Fatalf("open tickets = %d, want 1", env.registry.Len())
	}
	opened := env.registry.List()[0]
	if opened.Requester != "@bob:x" || opened.Type != ticket.Discussion {
		t.Errorf("ticket = %+v", opened.Snapshot())
	}
}

func TestStaffOnlyCommands(t *testing.T) {
	env := newTestEnv(t)
	opened := env.openTicket(t, testMember, ticket.Question)

	env.say(opened.Channel, testMember, "!claim")
	if reply := env.lastReply(t, opened.Channel); reply != "Only staff can use !claim." {
		t.Errorf("reply = %q", reply)
	}
	if opened.Claimed() {
		t.Error("a member claimed their own ticket")
	}
}

func TestTicketCommandOutsideTicket(t *testing.T) {
	env := newTestEnv(t)
	env.say(env.lobby, testMod, "!claim")
	if reply := env.lastReply(t, env.lobby); reply != "This channel is not a ticket." {
		t.Errorf("reply = %q", reply)
	}
}

func TestClaimTwice(t *testing.T) {
	env := newTestEnv(t)
	opened := env.openTicket(t, testMember, ticket.Question)

	env.say(opened.Channel, testMod, "!claim")
	if !opened.Staff.Contains(testMod) {
		t.Fatal("claim did not record the staff member")
	}
	if reply := env.lastReply(t, opened.Channel); reply != "Claimed by "+testMod {
		t.Errorf("status = %q", reply)
	}

	env.say(opened.Channel, testMod, "!claim")
	if reply := env.lastReply(t, opened.Channel); reply != "You have already claimed this ticket." {
		t.Errorf("reply = %q", reply)
	}

	env.say(opened.Channel, testMod, "!unclaim")
	if opened.Claimed() {
		t.Error("unclaim left the ticket claimed")
	}
}

func TestAddAndRemoveMembers(t *testing.T) {
	env := newTestEnv(t)
	opened := env.openTicket(t, testMember, ticket.UserReport)

	env.say(opened.Channel, testMod, "!add @bob:x")
	if !opened.Members.Contains("@bob:x") {
		t.Fatal("add did not grant the member")
	}

	env.say(opened.Channel, testMod, "!remove @alice:x")
	if reply := env.lastReply(t, opened.Channel); reply != "The person who opened the ticket cannot be removed." {
		t.Errorf("reply = %q", reply)
	}

	env.say(opened.Channel, testMod, "!remove", "@bob:x")
	if opened.Members.Contains("@bob:x") {
		t.Error("remove by mention left the member in place")
	}

	env.say(opened.Channel, testMod, "!remove")
	if reply := env.lastReply(t, opened.Channel); !strings.HasPrefix(reply, "Name the member to remove.\nUsage: !remove <@user>") {
		t.Errorf("reply = %q", reply)
	}
}

func TestCloseMuteAppealLeavesFollowUp(t *testing.T) {
	env := newTestEnv(t)
	opened := env.openTicket(t, "@bob:x", ticket.Muted)

	env.say(opened.Channel, testMod, "!close")

	if env.registry.Len() != 0 {
		t.Fatalf("open tickets = %d, want 0", env.registry.Len())
	}
	if env.platform.Exists(opened.Channel) {
		t.Error("ticket channel survived close")
	}
	notes := env.platform.BotMessages(env.admin)
	if len(notes) != 1 {
		t.Fatalf("admin room notes = %q, want 1", notes)
	}
	if !strings.Contains(notes[0], "do not forget to unmute, flag or ban the member(s) in "+opened.Name) ||
		!strings.HasPrefix(notes[0], testMod) {
		t.Errorf("follow-up = %q", notes[0])
	}
}

func TestCloseOtherTicketHasNoFollowUp(t *testing.T) {
	env := newTestEnv(t)
	opened := env.openTicket(t, testMember, ticket.Question)

	env.say(opened.Channel, testMod, "!close")
	if env.registry.Len() != 0 {
		t.Fatalf("open tickets = %d, want 0", env.registry.Len())
	}
	if notes := env.platform.BotMessages(env.admin); len(notes) != 0 {
		t.Errorf("admin room notes = %q, want none", notes)
	}
}

func TestRemindListAndCancel(t *testing.T) {
	env := newTestEnv(t)

	env.say(env.lobby, testMember, "!remind 2h stretch your legs")
	if reply := env.lastReply(t, env.lobby); reply != "I will remind you 2 hours from now (reminder #1)." {
		t.Errorf("reply = %q", reply)
	}
	pending, err := env.reminders.List(context.Background(), testMember)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pending) != 1 || pending[0].Text != "stretch your legs" || pending[0].Channel != env.lobby {
		t.Fatalf("pending = %+v", pending)
	}

	env.say(env.lobby, testMember, "!remind --list")
	if reply := env.lastReply(t, env.lobby); !strings.Contains(reply, "#1 2 hours from now: stretch your legs") {
		t.Errorf("list = %q", reply)
	}

	env.say(env.lobby, "@bob:x", "!unremind 1")
	if reply := env.lastReply(t, env.lobby); reply != "You have no scheduled message with that number." {
		t.Errorf("reply to a stranger = %q", reply)
	}

	env.say(env.lobby, testMember, "!unremind #1")
	if reply := env.lastReply(t, env.lobby); reply != "Reminder #1 cancelled." {
		t.Errorf("reply = %q", reply)
	}
	env.say(env.lobby, testMember, "!reminders")
	if reply := env.lastReply(t, env.lobby); reply != "You have no reminders." {
		t.Errorf("reply = %q", reply)
	}
}

func TestRemindRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)

	env.say(env.lobby, testMember, "!remind 2w too far")
	if reply := env.lastReply(t, env.lobby); reply != "That time is out of range." {
		t.Errorf("reply = %q", reply)
	}
	env.say(env.lobby, testMember, "!remind later please")
	if reply := env.lastReply(t, env.lobby); !strings.Contains(reply, `invalid duration "later"`) {
		t.Errorf("reply = %q", reply)
	}
}

func TestScheduleRecurringBroadcast(t *testing.T) {
	env := newTestEnv(t)

	env.say(env.lobby, testMember, "!schedule 1h hello")
	if reply := env.lastReply(t, env.lobby); reply != "Only staff can use !schedule." {
		t.Errorf("reply = %q", reply)
	}

	env.say(env.lobby, testMod, `!schedule --every "*/5 * * * *" Welcome, everyone`)
	reply := env.lastReply(t, env.lobby)
	if !strings.Contains(reply, "Scheduled message #1") || !strings.Contains(reply, `repeating on "*/5 * * * *"`) {
		t.Errorf("reply = %q", reply)
	}

	pending, err := env.broadcasts.List(context.Background(), testMod)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %+v, want 1", pending)
	}
	want := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	if !pending[0].DueAt.Equal(want) || pending[0].Text != "Welcome, everyone" || !pending[0].Recurring() {
		t.Errorf("job = %+v, want due %s", pending[0], want)
	}

	env.say(env.lobby, testMod, "!unschedule 1")
	if reply := env.lastReply(t, env.lobby); reply != "Scheduled message #1 cancelled." {
		t.Errorf("reply = %q", reply)
	}
}

func TestStaffReplyEndsIdlePeriod(t *testing.T) {
	env := newTestEnv(t)
	opened := env.openTicket(t, testMember, ticket.Question)

	if pinged, err := opened.PingStaff(context.Background()); err != nil || !pinged {
		t.Fatalf("PingStaff = %v, %v", pinged, err)
	}
	env.say(opened.Channel, testMember, "still here")
	if !opened.StaffPinged() {
		t.Fatal("a member message ended the idle period")
	}
	env.say(opened.Channel, testMod, "on it")
	if opened.StaffPinged() {
		t.Error("a staff reply did not end the idle period")
	}
}

func TestIgnoredMessages(t *testing.T) {
	env := newTestEnv(t)

	env.say(env.lobby, testMember, "!frobnicate")
	env.say(env.lobby, testMember, "just chatting")
	env.bot.handleMessage(context.Background(), chat.Message{
		Channel: env.lobby, Author: testBot, Body: "!ticket question", FromBot: true,
	})
	if replies := env.platform.BotMessages(env.lobby); len(replies) != 0 {
		t.Errorf("bot replied to %q", replies)
	}
	if env.registry.Len() != 0 {
		t.Error("a bot message opened a ticket")
	}
}

func TestHelpListsCommands(t *testing.T) {
	env := newTestEnv(t)
	env.say(env.lobby, testMember, "!HELP")

	reply := env.lastReply(t, env.lobby)
	var names []string
	for line := range strings.Lines(reply) {
		if name, ok := strings.CutPrefix(line, "!"); ok {
			names = append(names, strings.FieldsFunc(name, func(r rune) bool { return r == ' ' || r == ':' })[0])
		}
	}
	if !slices.IsSorted(names) || len(names) != len(env.bot.commands) {
		t.Errorf("help lists %q", names)
	}
	if !strings.Contains(reply, "!close: close and archive this ticket (staff)") ||
		!strings.Contains(reply, "!unreview <number>: remove a ticket review (Head Moderator and above)") {
		t.Errorf("help = %q", reply)
	}
}

func TestDispatchWaitsForHandlers(t *testing.T) {
	env := newTestEnv(t)
	for range 5 {
		message := env.platform.Post(env.lobby, testMember, "!ticket question")
		env.bot.dispatch(context.Background(), message)
	}
	env.bot.wait()
	if env.registry.Len() != 5 {
		t.Errorf("open tickets = %d, want 5", env.registry.Len())
	}
}
