// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/warden-bot/warden/lib/chat"
	"github.com/warden-bot/warden/lib/clock"
	"github.com/warden-bot/warden/lib/jobs"
	"github.com/warden-bot/warden/lib/reviews"
	"github.com/warden-bot/warden/lib/ticket"
	"github.com/warden-bot/warden/messaging"
)

// commandPrefix starts every command message.
const commandPrefix = "!"

// syncMessages extracts the messages of a /sync response.
type syncMessages interface {
	MessagesFromSync(response *messaging.SyncResponse) []chat.Message
}

// archivePurger deletes stored transcript archives.
type archivePurger interface {
	Purge() (int, error)
}

// botConfig wires the command handler to its collaborators.
type botConfig struct {
	Platform   chat.Platform
	Registry   *ticket.Registry
	Reminders  *jobs.Queue
	Broadcasts *jobs.Queue

	// Reviews enables the ticket review commands when set.
	Reviews *reviews.Book
	// ReviewerTier may record and remove reviews; ResetTier may run the
	// monthly reset.
	ReviewerTier string
	ResetTier    string
	// Archive is purged by the monthly reset. Nil leaves archives alone.
	Archive archivePurger

	// AdminRoom receives follow-up notes for closed mute appeals and
	// removed reviews.
	AdminRoom string

	Clock  clock.Clock
	Logger *slog.Logger
}

// bot dispatches inbound messages. Each message is handled on its own
// goroutine; ticket state is protected by the ticket's locks.
type bot struct {
	botConfig
	commands map[string]*command
	inflight sync.WaitGroup
}

func newBot(config botConfig) *bot {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	b := &bot{botConfig: config}
	b.commands = b.commandTable()
	return b
}

// handleSync is the service.SyncHandler for the incremental loop.
func (b *bot) handleSync(ctx context.Context, source syncMessages, response *messaging.SyncResponse) {
	for _, message := range source.MessagesFromSync(response) {
		b.dispatch(ctx, message)
	}
}

// dispatch handles message on a new goroutine.
func (b *bot) dispatch(ctx context.Context, message chat.Message) {
	b.inflight.Go(func() {
		b.handleMessage(ctx, message)
	})
}

// wait blocks until every dispatched message has been handled.
func (b *bot) wait() {
	b.inflight.Wait()
}

// handleMessage reacts to one message. Messages from the bot itself are
// ignored.
func (b *bot) handleMessage(ctx context.Context, message chat.Message) {
	if message.FromBot {
		return
	}
	b.observe(ctx, message)

	body := strings.TrimSpace(message.Body)
	line, ok := strings.CutPrefix(body, commandPrefix)
	if !ok {
		return
	}
	args, err := splitArgs(line)
	if err != nil {
		b.reply(ctx, message, "Could not parse that command: "+err.Error())
		return
	}
	if len(args) == 0 {
		return
	}
	cmd, ok := b.commands[strings.ToLower(args[0])]
	if !ok {
		return
	}

	request := &request{message: message, args: args[1:]}
	if cmd.staff {
		staff, err := b.Registry.IsStaff(ctx, message.Author)
		if err != nil {
			b.Logger.Warn("role lookup failed", "user", message.Author, "error", err)
		}
		if !staff {
			b.reply(ctx, message, "Only staff can use "+commandPrefix+cmd.name+".")
			return
		}
	}
	if cmd.tier != "" {
		roles, err := b.Platform.UserRoles(ctx, message.Author)
		if err != nil {
			b.Logger.Warn("role lookup failed", "user", message.Author, "error", err)
		}
		if !slices.Contains(roles, cmd.tier) {
			b.reply(ctx, message, fmt.Sprintf("Only %s and above can use %s%s.", cmd.tier, commandPrefix, cmd.name))
			return
		}
	}
	if cmd.inTicket {
		request.ticket = b.Registry.Get(message.Channel)
		if request.ticket == nil {
			b.reply(ctx, message, "This channel is not a ticket.")
			return
		}
	}

	reply, err := cmd.run(ctx, request)
	if err != nil {
		var usage usageError
		if !errors.As(err, &usage) && userMessage(err) == "" {
			b.Logger.Error("command failed",
				"command", cmd.name,
				"channel", message.Channel,
				"author", message.Author,
				"error", err,
			)
		}
		b.reply(ctx, message, describeError(cmd, err))
		return
	}
	if reply != "" {
		b.reply(ctx, message, reply)
	}
}

// observe ends a ticket's idle period as soon as staff speak in it.
func (b *bot) observe(ctx context.Context, message chat.Message) {
	t := b.Registry.Get(message.Channel)
	if t == nil || !t.StaffPinged() {
		return
	}
	if !t.Staff.Contains(message.Author) {
		staff, err := b.Registry.IsStaff(ctx, message.Author)
		if err != nil || !staff {
			return
		}
	}
	t.ClearStaffPinged()
}

func (b *bot) reply(ctx context.Context, to chat.Message, body string) {
	outgoing := chat.Outgoing{Body: body, Mentions: []string{to.Author}}
	if _, err := b.Platform.SendMessage(ctx, to.Channel, outgoing); err != nil {
		b.Logger.Warn("sending reply failed", "channel", to.Channel, "error", err)
	}
}

// usageError is a mistake in how a command was invoked. Its text is
// shown to the user along with the command's usage line.
type usageError string

func (e usageError) Error() string { return string(e) }

// userMessage returns the explanation shown for errors the user can
// act on, or "" for internal failures.
func userMessage(err error) string {
	switch {
	case errors.Is(err, ticket.ErrAlreadyClaimed):
		return "You have already claimed this ticket."
	case errors.Is(err, ticket.ErrNotClaimed):
		return "You have not claimed this ticket."
	case errors.Is(err, ticket.ErrAlreadyMember):
		return "That user is already in this ticket."
	case errors.Is(err, ticket.ErrNotMember):
		return "That user is not in this ticket."
	case errors.Is(err, ticket.ErrRequester):
		return "The person who opened the ticket cannot be removed."
	case errors.Is(err, ticket.ErrClosed):
		return "This ticket is already closed."
	case errors.Is(err, jobs.ErrDelayOutOfRange):
		return "That time is out of range."
	case errors.Is(err, jobs.ErrEmptyText):
		return "There is nothing to send."
	case errors.Is(err, jobs.ErrNotOwner):
		return "You have no scheduled message with that number."
	case errors.Is(err, jobs.ErrInvalidRecurrence):
		return "That is not a valid cron expression."
	case errors.Is(err, reviews.ErrSelfReview):
		return "You cannot review yourself."
	case errors.Is(err, reviews.ErrNotFound):
		return "There is no review with that number."
	}
	return ""
}

func describeError(cmd *command, err error) string {
	var usage usageError
	if errors.As(err, &usage) {
		return fmt.Sprintf("%s\nUsage: %s%s %s", usage, commandPrefix, cmd.name, cmd.usage)
	}
	if text := userMessage(err); text != "" {
		return text
	}
	return "Something went wrong; the error has been logged."
}
