// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/warden-bot/warden/lib/ticket"
)

type countingPurger struct {
	calls int
}

func (p *countingPurger) Purge() (int, error) {
	p.calls++
	return 3, nil
}

func TestReviewRecordsAndCounts(t *testing.T) {
	env := newTestEnv(t)
	opened := env.openTicket(t, testMember, ticket.Question)

	env.say(opened.Channel, testHead, "!review --approve "+testMod+" quick and polite")
	reply := env.lastReply(t, opened.Channel)
	if !strings.Contains(reply, "Review #1 recorded: approved for "+testMod) || !strings.Contains(reply, "now have 1 review") {
		t.Fatalf("reply = %q", reply)
	}

	env.say(env.lobby, testHead, `!review --deny --ticket question-0042 `+testMod)
	if reply := env.lastReply(t, env.lobby); !strings.Contains(reply, "denied") || !strings.Contains(reply, "now have 2 review") {
		t.Fatalf("reply = %q", reply)
	}

	found, err := env.reviews.ForStaff(context.Background(), testMod)
	if err != nil {
		t.Fatalf("ForStaff: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("reviews = %d, want 2", len(found))
	}
	if found[0].Ticket != opened.Name || found[0].Notes != "quick and polite" || !found[0].Approved {
		t.Errorf("first review = %+v", found[0])
	}
	if found[1].Ticket != "question-0042" || found[1].Approved || found[1].Notes == "" {
		t.Errorf("second review = %+v", found[1])
	}
}

func TestReviewRejections(t *testing.T) {
	tests := []struct {
		name   string
		author string
		body   string
		want   string
	}{
		{"below tier", testMod, "!review --approve " + testHead, "Only Head Moderator and above can use !review."},
		{"member", testMember, "!reviews " + testMod, "Only Head Moderator and above can use !reviews."},
		{"self review", testHead, "!review --approve " + testHead, "You cannot review yourself."},
		{"no verdict", testHead, "!review " + testMod, "Give exactly one of --approve or --deny."},
		{"both verdicts", testHead, "!review --approve --deny " + testMod, "Give exactly one of --approve or --deny."},
		{"no staff", testHead, "!review --deny", "Name the staff member to review."},
		{"unknown review", testHead, "!unreview 9", "There is no review with that number."},
		{"reset below tier", testHead, "!monthly-reset", "Only Administrator and above can use !monthly-reset."},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.say(env.lobby, test.author, test.body)
			if reply := env.lastReply(t, env.lobby); !strings.Contains(reply, test.want) {
				t.Errorf("reply = %q, want %q", reply, test.want)
			}
			if tallies, _ := env.reviews.Tallies(context.Background()); len(tallies) != 0 {
				t.Errorf("reviews recorded: %+v", tallies)
			}
		})
	}
}

func TestListAndRemoveReviews(t *testing.T) {
	env := newTestEnv(t)
	env.say(env.lobby, testHead, "!reviews "+testMod)
	if reply := env.lastReply(t, env.lobby); reply != testMod+" has no reviews." {
		t.Fatalf("empty list = %q", reply)
	}

	env.say(env.lobby, testHead, "!review --approve "+testMod)
	env.clock.Advance(2 * time.Hour)
	env.say(env.lobby, testAdmin, "!review --deny "+testMod+" left the member waiting")

	env.say(env.lobby, testHead, "!reviews "+testMod)
	reply := env.lastReply(t, env.lobby)
	for _, want := range []string{
		"Reviews of " + testMod,
		"#1 Approved by " + testHead + " 2 hours ago: No notes provided.",
		"#2 Denied by " + testAdmin,
		"left the member waiting",
	} {
		if !strings.Contains(reply, want) {
			t.Errorf("list missing %q:\n%s", want, reply)
		}
	}

	env.say(env.lobby, testHead, "!unreview #2")
	if reply := env.lastReply(t, env.lobby); reply != "Review #2 of "+testMod+" removed." {
		t.Errorf("reply = %q", reply)
	}
	if note := env.lastReply(t, env.admin); !strings.Contains(note, testHead+" removed review #2 of "+testMod) {
		t.Errorf("admin note = %q", note)
	}
	found, err := env.reviews.ForStaff(context.Background(), testMod)
	if err != nil || len(found) != 1 || found[0].ID != 1 {
		t.Errorf("remaining reviews = %+v, %v", found, err)
	}
}

func TestTicketStatsShowsApproval(t *testing.T) {
	env := newTestEnv(t)
	env.say(env.lobby, testMod, "!tickets")
	if reply := env.lastReply(t, env.lobby); reply != "No open tickets." {
		t.Fatalf("reply = %q", reply)
	}

	env.say(env.lobby, testHead, "!review --approve "+testMod)
	env.say(env.lobby, testHead, "!review --approve "+testMod)
	env.say(env.lobby, testHead, "!review --deny "+testMod)
	env.say(env.lobby, testAdmin, "!review --approve "+testHead)

	env.say(env.lobby, testMod, "!tickets")
	reply := env.lastReply(t, env.lobby)
	want := "No open tickets.\nReview approval:\n" + testHead + " 100% (1/1)\n" + testMod + " 66% (2/3)"
	if reply != want {
		t.Errorf("reply = %q, want %q", reply, want)
	}
}

func TestMonthlyReset(t *testing.T) {
	env := newTestEnv(t)
	env.say(env.lobby, testHead, "!review --approve "+testMod)
	env.say(env.lobby, testAdmin, "!review --deny "+testHead)

	env.say(env.lobby, testAdmin, "!monthly-reset")
	reply := env.lastReply(t, env.lobby)
	if reply != "Cleared the reviews of 2 staff member(s). Deleted 3 archived transcript(s)." {
		t.Errorf("reply = %q", reply)
	}
	if env.archive.calls != 1 {
		t.Errorf("purges = %d, want 1", env.archive.calls)
	}
	if tallies, err := env.reviews.Tallies(context.Background()); err != nil || len(tallies) != 0 {
		t.Errorf("tallies after reset = %+v, %v", tallies, err)
	}
}
