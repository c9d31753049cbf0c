// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/warden-bot/warden/lib/chat"
	"github.com/warden-bot/warden/lib/jobs"
	"github.com/warden-bot/warden/lib/ticket"
)

// command is one chat command.
type command struct {
	name    string
	usage   string
	summary string

	// staff restricts the command to holders of a staff tier.
	staff bool
	// tier restricts the command to holders of this tier or a more
	// senior one.
	tier string
	// inTicket requires the command to be issued inside a ticket
	// channel; the ticket is then set on the request.
	inTicket bool

	run func(ctx context.Context, request *request) (string, error)
}

// request is one invocation of a command.
type request struct {
	message chat.Message
	args    []string
	ticket  *ticket.Ticket
}

// selfServiceTypes are the ticket types members may open for
// themselves. Mute appeals and discussions are opened by staff.
var selfServiceTypes = []ticket.Type{ticket.Question, ticket.BugReport, ticket.UserReport, ticket.StaffReport}

func (b *bot) commandTable() map[string]*command {
	list := []*command{
		{name: "help", summary: "list commands", run: b.help},
		{name: "ticket", usage: "<question|bug-report|user-report|staff-report>", summary: "open a ticket for yourself", run: b.openOwn},
		{name: "open", usage: "<@user> <type>", summary: "open a ticket for a member", staff: true, run: b.openFor},
		{name: "claim", summary: "claim this ticket", staff: true, inTicket: true, run: b.claim},
		{name: "unclaim", summary: "release your claim on this ticket", staff: true, inTicket: true, run: b.unclaim},
		{name: "add", usage: "<@user>", summary: "add a member to this ticket", staff: true, inTicket: true, run: b.addMember},
		{name: "remove", usage: "<@user>", summary: "remove a member from this ticket", staff: true, inTicket: true, run: b.removeMember},
		{name: "close", summary: "close and archive this ticket", staff: true, inTicket: true, run: b.closeTicket},
		{name: "tickets", summary: "summarize open tickets", staff: true, run: b.ticketStats},
		{name: "remind", usage: "[--list] <delay> <text>", summary: "remind yourself here after a delay (at most 1w)", run: b.remind},
		{name: "reminders", summary: "list your reminders", run: b.listReminders},
		{name: "unremind", usage: "<number>", summary: "cancel one of your reminders", run: b.unremind},
		{name: "schedule", usage: `[--every "<cron>"] [<delay>] <text>`, summary: "post a message here later (at most 1d out)", staff: true, run: b.schedule},
		{name: "schedules", summary: "list your scheduled messages", staff: true, run: b.listSchedules},
		{name: "unschedule", usage: "<number>", summary: "cancel one of your scheduled messages", staff: true, run: b.unschedule},
	}
	if b.Reviews != nil {
		list = append(list, b.reviewCommands()...)
	}
	table := make(map[string]*command, len(list))
	for _, cmd := range list {
		table[cmd.name] = cmd
	}
	return table
}

func (b *bot) help(_ context.Context, _ *request) (string, error) {
	var help strings.Builder
	help.WriteString("Commands:")
	for _, name := range slices.Sorted(maps.Keys(b.commands)) {
		cmd := b.commands[name]
		fmt.Fprintf(&help, "\n%s%s", commandPrefix, cmd.name)
		if cmd.usage != "" {
			help.WriteString(" " + cmd.usage)
		}
		help.WriteString(": " + cmd.summary)
		switch {
		case cmd.tier != "":
			fmt.Fprintf(&help, " (%s and above)", cmd.tier)
		case cmd.staff:
			help.WriteString(" (staff)")
		}
	}
	return help.String(), nil
}

func (b *bot) openOwn(ctx context.Context, request *request) (string, error) {
	if len(request.args) == 0 {
		return "", usageError("Which kind of ticket?")
	}
	ticketType, err := ticket.ParseType(strings.Join(request.args, "-"))
	if err != nil || !slices.Contains(selfServiceTypes, ticketType) {
		return "", usageError(fmt.Sprintf("%q is not a ticket type you can open.", strings.Join(request.args, " ")))
	}
	opened, err := b.Registry.Open(ctx, request.message.Author, ticketType)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Your %s ticket is open: %s", strings.ToLower(ticketType.Title()), opened.Name), nil
}

func (b *bot) openFor(ctx context.Context, request *request) (string, error) {
	target, ok := userArgument(request.args, request.message.Mentions)
	if !ok || len(request.args) < 2 {
		return "", usageError("Name the member and the ticket type.")
	}
	ticketType, err := ticket.ParseType(strings.Join(request.args[1:], "-"))
	if err != nil {
		return "", usageError(fmt.Sprintf("%q is not a ticket type.", strings.Join(request.args[1:], " ")))
	}
	opened, err := b.Registry.Open(ctx, target, ticketType)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Opened %s ticket %s for %s.", strings.ToLower(ticketType.Title()), opened.Name, target), nil
}

func (b *bot) claim(ctx context.Context, request *request) (string, error) {
	return "", request.ticket.Claim(ctx, request.message.Author)
}

func (b *bot) unclaim(ctx context.Context, request *request) (string, error) {
	return "", request.ticket.Unclaim(ctx, request.message.Author)
}

func (b *bot) addMember(ctx context.Context, request *request) (string, error) {
	target, ok := userArgument(request.args, request.message.Mentions)
	if !ok {
		return "", usageError("Name the member to add.")
	}
	return "", request.ticket.AddMember(ctx, target)
}

func (b *bot) removeMember(ctx context.Context, request *request) (string, error) {
	target, ok := userArgument(request.args, request.message.Mentions)
	if !ok {
		return "", usageError("Name the member to remove.")
	}
	return "", request.ticket.RemoveMember(ctx, target)
}

// closeTicket closes the ticket. The channel is gone afterwards, so
// there is no reply; closing a mute appeal leaves a follow-up note for
// the closer in the admin room.
func (b *bot) closeTicket(ctx context.Context, request *request) (string, error) {
	closer := request.message.Author
	closed, err := b.Registry.CloseBy(ctx, request.message.Channel, closer)
	if err != nil {
		return "", err
	}
	if closed == nil || closed.Type != ticket.Muted || b.AdminRoom == "" {
		return "", nil
	}
	note := chat.Outgoing{
		Body:     fmt.Sprintf("%s: do not forget to unmute, flag or ban the member(s) in %s.", closer, closed.Name),
		Mentions: []string{closer},
	}
	if _, err := b.Platform.SendMessage(ctx, b.AdminRoom, note); err != nil {
		b.Logger.Warn("posting mute follow-up failed", "channel", b.AdminRoom, "ticket", closed.Name, "error", err)
	}
	return "", nil
}

func (b *bot) ticketStats(ctx context.Context, _ *request) (string, error) {
	stats := b.Registry.Stats()
	var summary strings.Builder
	if stats.Total == 0 {
		summary.WriteString("No open tickets.")
	} else {
		fmt.Fprintf(&summary, "%s open, %s claimed, %s waiting on staff.",
			humanize.Comma(int64(stats.Total)), humanize.Comma(int64(stats.Claimed)), humanize.Comma(int64(stats.Pinged)))
		for _, ticketType := range ticket.Types {
			if count := stats.ByType[ticketType]; count > 0 {
				fmt.Fprintf(&summary, "\n%s: %d", ticketType.Title(), count)
			}
		}
	}
	if b.Reviews == nil {
		return summary.String(), nil
	}
	tallies, err := b.Reviews.Tallies(ctx)
	if err != nil {
		return "", err
	}
	if len(tallies) > 0 {
		summary.WriteString("\nReview approval:")
		for _, tally := range tallies {
			fmt.Fprintf(&summary, "\n%s %d%% (%d/%d)", tally.Staff, tally.Percent(), tally.Approved, tally.Total)
		}
	}
	return summary.String(), nil
}

func (b *bot) remind(ctx context.Context, request *request) (string, error) {
	flags := newFlagSet("remind")
	list := flags.Bool("list", false, "list pending reminders")
	if err := flags.Parse(request.args); err != nil {
		return "", usageError(err.Error())
	}
	if *list {
		return b.listReminders(ctx, request)
	}
	args := flags.Args()
	if len(args) < 2 {
		return "", usageError("Say when and what to remind you of.")
	}
	delay, err := parseDelay(args[0])
	if err != nil {
		return "", usageError(err.Error())
	}
	job, err := b.Reminders.Enqueue(ctx, request.message.Author, request.message.Channel, strings.Join(args[1:], " "), delay, "")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("I will remind you %s (reminder #%d).", b.relative(job), job.ID), nil
}

func (b *bot) listReminders(ctx context.Context, request *request) (string, error) {
	return b.listJobs(ctx, b.Reminders, request.message.Author, "reminders")
}

func (b *bot) unremind(ctx context.Context, request *request) (string, error) {
	return b.removeJob(ctx, b.Reminders, request, "Reminder")
}

func (b *bot) schedule(ctx context.Context, request *request) (string, error) {
	flags := newFlagSet("schedule")
	every := flags.String("every", "", "cron expression for a repeating message")
	if err := flags.Parse(request.args); err != nil {
		return "", usageError(err.Error())
	}
	args := flags.Args()
	if len(args) == 0 {
		return "", usageError("Say what to post.")
	}

	var delay time.Duration
	text := args
	if parsed, err := parseDelay(args[0]); err == nil {
		delay = parsed
		text = args[1:]
	} else if *every == "" {
		return "", usageError(err.Error())
	}
	job, err := b.Broadcasts.Enqueue(ctx, request.message.Author, request.message.Channel,
		strings.Join(text, " "), delay, *every)
	if err != nil {
		return "", err
	}
	reply := fmt.Sprintf("Scheduled message #%d for %s", job.ID, b.relative(job))
	if job.Recurring() {
		reply += fmt.Sprintf(", repeating on %q", job.Every)
	}
	return reply + ".", nil
}

func (b *bot) listSchedules(ctx context.Context, request *request) (string, error) {
	return b.listJobs(ctx, b.Broadcasts, request.message.Author, "scheduled messages")
}

func (b *bot) unschedule(ctx context.Context, request *request) (string, error) {
	return b.removeJob(ctx, b.Broadcasts, request, "Scheduled message")
}

func (b *bot) listJobs(ctx context.Context, queue *jobs.Queue, owner, noun string) (string, error) {
	pending, err := queue.List(ctx, owner)
	if err != nil {
		return "", err
	}
	if len(pending) == 0 {
		return "You have no " + noun + ".", nil
	}
	var list strings.Builder
	fmt.Fprintf(&list, "Your %s:", noun)
	for _, job := range pending {
		fmt.Fprintf(&list, "\n#%d %s: %s", job.ID, b.relative(job), job.Text)
		if job.Recurring() {
			fmt.Fprintf(&list, " (every %q)", job.Every)
		}
	}
	return list.String(), nil
}

func (b *bot) removeJob(ctx context.Context, queue *jobs.Queue, request *request, noun string) (string, error) {
	if len(request.args) != 1 {
		return "", usageError("Give the number shown in the list.")
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(request.args[0], "#"), 10, 64)
	if err != nil {
		return "", usageError(fmt.Sprintf("%q is not a number.", request.args[0]))
	}
	if err := queue.Remove(ctx, request.message.Author, id); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s #%d cancelled.", noun, id), nil
}

func (b *bot) relative(job jobs.Job) string {
	return humanize.RelTime(job.DueAt, b.Clock.Now(), "ago", "from now")
}

func newFlagSet(name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.SetInterspersed(false)
	return flags
}
