// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package ticket

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/warden-bot/warden/lib/chat"
	"github.com/warden-bot/warden/lib/chat/chattest"
	"github.com/warden-bot/warden/lib/testutil"
)

func TestOpen(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.open(t, "@alice:x", StaffReport)

	if env.registry.Get(ticket.Channel) != ticket {
		t.Fatal("opened ticket not registered")
	}
	channel, ok := env.platform.Channel(ticket.Channel)
	if !ok {
		t.Fatal("channel not created")
	}
	if channel.Category != testCategory {
		t.Errorf("category = %q, want %q", channel.Category, testCategory)
	}
	if channel.Metadata["type"] != "staff_report" || channel.Metadata["requester"] != "@alice:x" {
		t.Errorf("unexpected metadata: %v", channel.Metadata)
	}
	if channel.Metadata["created_id"] != ticket.CreatedID.String() {
		t.Errorf("created_id metadata = %q, want %s", channel.Metadata["created_id"], ticket.CreatedID)
	}

	if got, want := ticket.AllowedRoles(), []string{"Head Moderator", "Administrator"}; !slices.Equal(got, want) {
		t.Errorf("allowed roles = %v, want %v", got, want)
	}
	if _, ok := env.rule(ticket.Channel, chat.RuleRole, "Moderator"); ok {
		t.Error("staff report visible to Moderator")
	}
	if rule, ok := env.rule(ticket.Channel, chat.RuleMember, "@alice:x"); !ok || !rule.Allow {
		t.Error("requester not granted")
	}
	if !slices.Equal(ticket.Members.Members(), []string{"@alice:x"}) {
		t.Errorf("members = %v, want requester only", ticket.Members.Members())
	}

	messages := env.platform.Messages(ticket.Channel)
	if len(messages) != 1 || !strings.HasPrefix(messages[0].Body, "Ticket opened by @alice:x") {
		t.Fatalf("unexpected opening messages: %+v", messages)
	}
	if !slices.Equal(messages[0].Mentions, []string{"@alice:x"}) {
		t.Errorf("opening message mentions %v, want the requester", messages[0].Mentions)
	}
}

func TestAllowedRolesByType(t *testing.T) {
	env := newTestEnv(t)
	tests := map[Type][]string{
		Question:    testTiers,
		Muted:       testTiers,
		UserReport:  {"Moderator", "Head Moderator", "Administrator"},
		StaffReport: {"Head Moderator", "Administrator"},
	}
	for ticketType, want := range tests {
		if got := env.registry.AllowedRoles(ticketType); !slices.Equal(got, want) {
			t.Errorf("AllowedRoles(%s) = %v, want %v", ticketType, got, want)
		}
	}
}

func TestOpenChannelFailureInsertsNothing(t *testing.T) {
	env := newTestEnv(t)
	injected := errors.New("room creation forbidden")
	env.platform.FailOn(chattest.OpCreateChannel, injected)

	ticket, err := env.registry.Open(context.Background(), "@alice:x", Question)
	if !errors.Is(err, injected) {
		t.Fatalf("Open = %v, want injected error", err)
	}
	if ticket != nil {
		t.Error("Open returned a ticket despite failure")
	}
	if env.registry.Len() != 0 {
		t.Errorf("registry holds %d tickets after failed open", env.registry.Len())
	}
}

func TestCloseThenGetAndCloseAgain(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.open(t, "@alice:x", Question)
	ctx := context.Background()
	env.platform.Post(ticket.Channel, "@alice:x", "my question")

	closed, err := env.registry.CloseBy(ctx, ticket.Channel, "@mod:x")
	if err != nil {
		t.Fatalf("CloseBy: %v", err)
	}
	if closed != ticket {
		t.Fatal("CloseBy did not return the closed ticket")
	}
	if env.registry.Get(ticket.Channel) != nil {
		t.Fatal("Get after close returned a ticket")
	}
	if env.platform.Exists(ticket.Channel) {
		t.Error("channel still exists after close")
	}
	if err := env.registry.Close(ctx, ticket.Channel); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if deleted := env.platform.Deleted(); len(deleted) != 1 {
		t.Errorf("channel deleted %d times, want 1", len(deleted))
	}
	if err := ticket.AddMember(ctx, "@bob:x"); !errors.Is(err, ErrClosed) {
		t.Errorf("AddMember on closed ticket = %v, want ErrClosed", err)
	}

	env.registry.WaitArchives()
	transcripts := env.archiver.all()
	if len(transcripts) != 1 {
		t.Fatalf("archived %d transcripts, want 1", len(transcripts))
	}
	transcript := transcripts[0]
	if transcript.ClosedBy != "@mod:x" || transcript.CreatedID != ticket.CreatedID {
		t.Errorf("unexpected transcript header: %+v", transcript)
	}
	if len(transcript.Messages) != 2 || transcript.Messages[1].Body != "my question" {
		t.Errorf("transcript messages = %+v", transcript.Messages)
	}
}

func TestCloseRevokesBeforeDelete(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.open(t, "@alice:x", Question)
	env.platform.FailOn(chattest.OpDeleteChannel, errors.New("cannot delete"))

	_, err := env.registry.CloseBy(context.Background(), ticket.Channel, "@mod:x")
	if err == nil {
		t.Fatal("CloseBy should surface the delete failure")
	}
	if rules := env.platform.Rules(ticket.Channel); len(rules) != 0 {
		t.Errorf("rules left after close: %v", rules)
	}
	if env.registry.Get(ticket.Channel) != nil {
		t.Error("ticket still registered after close")
	}
}

func TestFailedChannelDeleteIsRetried(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ticket := env.open(t, "@alice:x", Question)
	env.platform.FailOn(chattest.OpDeleteChannel, errors.New("rate limited"))

	if _, err := env.registry.CloseBy(ctx, ticket.Channel, "@mod:x"); err == nil {
		t.Fatal("CloseBy should surface the delete failure")
	}
	if got := env.registry.Orphans(); !slices.Equal(got, []string{ticket.Channel}) {
		t.Fatalf("Orphans() = %v, want [%s]", got, ticket.Channel)
	}

	if deleted, err := env.registry.RetryOrphans(ctx); err == nil || len(deleted) != 0 {
		t.Errorf("RetryOrphans while deletes fail = %v, %v", deleted, err)
	}
	if !env.platform.Exists(ticket.Channel) || len(env.registry.Orphans()) != 1 {
		t.Fatal("a failed retry should keep the channel on the retry list")
	}

	env.platform.FailOn(chattest.OpDeleteChannel, nil)
	deleted, err := env.registry.RetryOrphans(ctx)
	if err != nil {
		t.Fatalf("RetryOrphans: %v", err)
	}
	if !slices.Equal(deleted, []string{ticket.Channel}) {
		t.Errorf("deleted = %v, want [%s]", deleted, ticket.Channel)
	}
	if env.platform.Exists(ticket.Channel) || len(env.registry.Orphans()) != 0 {
		t.Error("leftover channel not cleaned up")
	}
}

func TestRetryOrphansForgetsChannelsAlreadyGone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ticket := env.open(t, "@alice:x", Question)
	env.platform.FailOn(chattest.OpDeleteChannel, errors.New("rate limited"))
	env.registry.CloseBy(ctx, ticket.Channel, "@mod:x")
	env.platform.FailOn(chattest.OpDeleteChannel, nil)
	env.platform.RemoveChannel(ticket.Channel)

	deleted, err := env.registry.RetryOrphans(ctx)
	if err != nil || len(deleted) != 1 {
		t.Errorf("RetryOrphans = %v, %v, want the vanished channel forgotten", deleted, err)
	}
	if len(env.registry.Orphans()) != 0 {
		t.Errorf("Orphans() = %v, want none", env.registry.Orphans())
	}
}

func TestOpenStoresCanonicalType(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.open(t, "@alice:x", Type("UserReport"))

	if ticket.Type != UserReport {
		t.Errorf("Type = %q, want %q", ticket.Type, UserReport)
	}
	if got, want := ticket.AllowedRoles(), []string{"Moderator", "Head Moderator", "Administrator"}; !slices.Equal(got, want) {
		t.Errorf("allowed roles = %v, want %v", got, want)
	}
	if _, ok := env.rule(ticket.Channel, chat.RuleRole, "Trial Moderator"); ok {
		t.Error("user report visible to Trial Moderator")
	}
	channel, _ := env.platform.Channel(ticket.Channel)
	if channel.Metadata["type"] != "user_report" {
		t.Errorf("type metadata = %q, want user_report", channel.Metadata["type"])
	}

	if _, err := env.registry.Open(context.Background(), "@alice:x", Type("complaint")); err == nil {
		t.Error("Open accepted an unknown type")
	}
}

func TestReconcileDropsVanishedChannels(t *testing.T) {
	env := newTestEnv(t)
	kept := env.open(t, "@alice:x", Question)
	gone := env.open(t, "@bob:x", Question)
	env.platform.RemoveChannel(gone.Channel)

	dropped, err := env.registry.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !slices.Equal(dropped, []string{gone.Channel}) {
		t.Errorf("dropped = %v, want [%s]", dropped, gone.Channel)
	}
	if env.registry.Get(gone.Channel) != nil || env.registry.Get(kept.Channel) == nil {
		t.Error("Reconcile dropped the wrong tickets")
	}
	if !gone.Closed() {
		t.Error("dropped ticket not marked closed")
	}
}

// pausedListing holds ListChannels open after the listing is taken, so a
// test can act on the registry while Reconcile waits for it.
type pausedListing struct {
	*chattest.Platform
	listed  chan struct{}
	release chan struct{}
}

func (p *pausedListing) ListChannels(ctx context.Context, category string) ([]chat.Channel, error) {
	channels, err := p.Platform.ListChannels(ctx, category)
	close(p.listed)
	<-p.release
	return channels, err
}

func TestReconcileKeepsTicketOpenedDuringListing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	platform := &pausedListing{
		Platform: env.platform,
		listed:   make(chan struct{}),
		release:  make(chan struct{}),
	}
	registry, err := NewRegistry(Config{
		Platform: platform,
		Category: testCategory,
		Tiers:    testTiers,
		Clock:    env.clock,
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	gone, err := registry.Open(ctx, "@bob:x", Question)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	env.platform.RemoveChannel(gone.Channel)

	var dropped []string
	var reconcileErr error
	done := testutil.Background(func() { dropped, reconcileErr = registry.Reconcile(ctx) })
	testutil.Stopped(t, platform.listed, "waiting for the channel listing")

	fresh, err := registry.Open(ctx, "@alice:x", Question)
	if err != nil {
		t.Fatalf("Open during Reconcile: %v", err)
	}
	close(platform.release)
	testutil.Stopped(t, done, "Reconcile")

	if reconcileErr != nil {
		t.Fatalf("Reconcile: %v", reconcileErr)
	}
	if !slices.Equal(dropped, []string{gone.Channel}) {
		t.Errorf("dropped = %v, want only [%s]", dropped, gone.Channel)
	}
	if registry.Get(fresh.Channel) != fresh || fresh.Closed() {
		t.Error("ticket opened during Reconcile was dropped although its channel exists")
	}
	if registry.Len() != 1 {
		t.Errorf("Len() = %d, want 1", registry.Len())
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.open(t, "@alice:x", Question)
	env.open(t, "@bob:x", Question)
	env.open(t, "@carol:x", BugReport)
	if err := first.Claim(ctx, "@mod:x"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	stats := env.registry.Stats()
	if stats.Total != 3 || stats.ByType[Question] != 2 || stats.ByType[BugReport] != 1 || stats.Claimed != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if len(env.registry.List()) != 3 {
		t.Errorf("List returned %d tickets, want 3", len(env.registry.List()))
	}
}

func TestNewRegistryValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := NewRegistry(Config{
		Platform:    env.platform,
		Category:    testCategory,
		Tiers:       testTiers,
		MinimumTier: map[Type]string{UserReport: "Janitor"},
	})
	if err == nil {
		t.Error("NewRegistry accepted an unknown minimum tier")
	}
	if _, err := NewRegistry(Config{Platform: env.platform, Tiers: testTiers}); err == nil {
		t.Error("NewRegistry accepted an empty category")
	}
}
