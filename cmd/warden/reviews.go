// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/warden-bot/warden/lib/chat"
)

func (b *bot) reviewCommands() []*command {
	return []*command{
		{name: "review", usage: "--approve|--deny [--ticket <name>] <@staff> [notes]", summary: "review how a staff member handled a ticket", tier: b.ReviewerTier, run: b.review},
		{name: "unreview", usage: "<number>", summary: "remove a ticket review", tier: b.ReviewerTier, run: b.unreview},
		{name: "reviews", usage: "<@staff>", summary: "list a staff member's ticket reviews", tier: b.ReviewerTier, run: b.listReviews},
		{name: "monthly-reset", summary: "clear all ticket reviews and archived transcripts", tier: b.ResetTier, run: b.monthlyReset},
	}
}

// review records a verdict on a staff member. Inside a ticket the
// ticket's name is recorded unless --ticket names another.
func (b *bot) review(ctx context.Context, request *request) (string, error) {
	flags := newFlagSet("review")
	approve := flags.Bool("approve", false, "approve the staff member's handling")
	deny := flags.Bool("deny", false, "deny the staff member's handling")
	ticketName := flags.String("ticket", "", "ticket the review is about")
	if err := flags.Parse(request.args); err != nil {
		return "", usageError(err.Error())
	}
	if *approve == *deny {
		return "", usageError("Give exactly one of --approve or --deny.")
	}
	args := flags.Args()
	staff, ok := userArgument(args, request.message.Mentions)
	if !ok {
		return "", usageError("Name the staff member to review.")
	}
	if len(args) > 0 && args[0] == staff {
		args = args[1:]
	}
	if *ticketName == "" {
		if current := b.Registry.Get(request.message.Channel); current != nil {
			*ticketName = current.Name
		}
	}

	recorded, count, err := b.Reviews.Record(ctx, staff, request.message.Author, *approve, strings.Join(args, " "), *ticketName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Review #%d recorded: %s for %s. They now have %d review(s).",
		recorded.ID, strings.ToLower(recorded.Verdict()), staff, count), nil
}

// unreview deletes a review and notes the removal in the admin room.
func (b *bot) unreview(ctx context.Context, request *request) (string, error) {
	if len(request.args) != 1 {
		return "", usageError("Give the review number.")
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(request.args[0], "#"), 10, 64)
	if err != nil {
		return "", usageError(fmt.Sprintf("%q is not a number.", request.args[0]))
	}
	removed, err := b.Reviews.Remove(ctx, id)
	if err != nil {
		return "", err
	}
	if b.AdminRoom != "" {
		note := chat.Outgoing{
			Body: fmt.Sprintf("%s removed review #%d of %s (%s by %s: %s).",
				request.message.Author, removed.ID, removed.Staff, removed.Verdict(), removed.Reviewer, removed.Notes),
			Mentions: []string{request.message.Author},
		}
		if _, err := b.Platform.SendMessage(ctx, b.AdminRoom, note); err != nil {
			b.Logger.Warn("posting review removal failed", "channel", b.AdminRoom, "review", id, "error", err)
		}
	}
	return fmt.Sprintf("Review #%d of %s removed.", removed.ID, removed.Staff), nil
}

func (b *bot) listReviews(ctx context.Context, request *request) (string, error) {
	staff, ok := userArgument(request.args, request.message.Mentions)
	if !ok {
		return "", usageError("Name the staff member.")
	}
	found, err := b.Reviews.ForStaff(ctx, staff)
	if err != nil {
		return "", err
	}
	if len(found) == 0 {
		return staff + " has no reviews.", nil
	}
	var list strings.Builder
	fmt.Fprintf(&list, "Reviews of %s:", staff)
	for _, review := range found {
		fmt.Fprintf(&list, "\n#%d %s by %s %s", review.ID, review.Verdict(), review.Reviewer,
			humanize.RelTime(review.ReviewedAt, b.Clock.Now(), "ago", "from now"))
		if review.Ticket != "" {
			fmt.Fprintf(&list, " in %s", review.Ticket)
		}
		list.WriteString(": " + review.Notes)
	}
	return list.String(), nil
}

// monthlyReset clears the review log and the transcript archive.
func (b *bot) monthlyReset(ctx context.Context, _ *request) (string, error) {
	staff, err := b.Reviews.Reset(ctx)
	if err != nil {
		return "", err
	}
	reply := fmt.Sprintf("Cleared the reviews of %d staff member(s).", staff)
	if b.Archive == nil {
		return reply, nil
	}
	purged, err := b.Archive.Purge()
	if err != nil {
		return "", fmt.Errorf("reviews cleared, purging transcripts: %w", err)
	}
	return reply + fmt.Sprintf(" Deleted %d archived transcript(s).", purged), nil
}
