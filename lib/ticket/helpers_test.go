// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package ticket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/warden-bot/warden/lib/chat"
	"github.com/warden-bot/warden/lib/chat/chattest"
	"github.com/warden-bot/warden/lib/clock"
)

const (
	testBot      = "@warden:x"
	testCategory = "!tickets:x"
)

var testTiers = []string{"Trial Moderator", "Moderator", "Head Moderator", "Administrator"}

type testEnv struct {
	registry *Registry
	platform *chattest.Platform
	clock    *clock.FakeClock
	archiver *recordingArchiver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fakeClock := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	platform := chattest.New(testBot, fakeClock)
	platform.SetRoles("@trial:x", "Trial Moderator")
	platform.SetRoles("@mod:x", "Trial Moderator", "Moderator")
	platform.SetRoles("@staff_42:x", "Trial Moderator", "Moderator")
	platform.SetRoles("@head:x", "Trial Moderator", "Moderator", "Head Moderator")

	archiver := &recordingArchiver{}
	registry, err := NewRegistry(Config{
		Platform: platform,
		Category: testCategory,
		Tiers:    testTiers,
		MinimumTier: map[Type]string{
			UserReport:  "Moderator",
			StaffReport: "Head Moderator",
		},
		Archiver: archiver,
		Clock:    fakeClock,
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return &testEnv{registry: registry, platform: platform, clock: fakeClock, archiver: archiver}
}

func (e *testEnv) open(t *testing.T, requester string, ticketType Type) *Ticket {
	t.Helper()
	ticket, err := e.registry.Open(context.Background(), requester, ticketType)
	if err != nil {
		t.Fatalf("Open(%s, %s): %v", requester, ticketType, err)
	}
	return ticket
}

// rule returns the rule on the channel for key, and whether it exists.
func (e *testEnv) rule(channel string, kind chat.RuleKind, target string) (chat.AccessRule, bool) {
	rule, ok := e.platform.Rules(channel)[chat.AccessRule{Kind: kind, Target: target}.Key()]
	return rule, ok
}

type recordingArchiver struct {
	mu          sync.Mutex
	transcripts []Transcript
}

func (a *recordingArchiver) Archive(_ context.Context, transcript Transcript) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transcripts = append(a.transcripts, transcript)
	return nil
}

func (a *recordingArchiver) all() []Transcript {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Transcript(nil), a.transcripts...)
}
