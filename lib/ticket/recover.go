// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package ticket

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warden-bot/warden/lib/chat"
)

// Init rebuilds the registry from the channels in the tickets category.
// Channels are replayed concurrently and the map is replaced in one
// step. Call once, before event dispatch starts.
func (r *Registry) Init(ctx context.Context) error {
	channels, err := r.config.Platform.ListChannels(ctx, r.config.Category)
	if err != nil {
		return fmt.Errorf("ticket: listing ticket channels: %w", err)
	}

	recovered := make(map[string]*Ticket, len(channels))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, channel := range channels {
		wg.Go(func() {
			ticket := r.recoverTicket(ctx, channel)
			mu.Lock()
			recovered[channel.ID] = ticket
			mu.Unlock()
		})
	}
	wg.Wait()

	r.mu.Lock()
	r.tickets = recovered
	r.mu.Unlock()

	r.env.metrics.SetOpenTickets(len(recovered))
	r.logger.Info("ticket registry initialized", "tickets", len(recovered))
	return nil
}

// recoverTicket reconstructs one ticket from channel metadata and recent
// history. It never fails: a channel whose history cannot be read comes
// back with what the metadata alone provides.
func (r *Registry) recoverTicket(ctx context.Context, channel chat.Channel) *Ticket {
	logger := r.logger.With("channel", channel.ID)

	ticketType := Discussion
	if raw := channel.Metadata[metadataType]; raw != "" {
		if parsed, err := ParseType(raw); err == nil {
			ticketType = parsed
		} else {
			logger.Warn("unknown ticket type in channel metadata", "type", raw)
		}
	}

	var allowedRoles []string
	if raw := channel.Metadata[metadataAllowedRoles]; raw != "" {
		allowedRoles = strings.Split(raw, ",")
	}

	history, err := r.config.Platform.History(ctx, channel.ID, r.config.HistoryLimit)
	if err != nil {
		logger.Warn("reading ticket history failed, recovering from metadata only", "error", err)
	}

	requester := channel.Metadata[metadataRequester]
	if len(history) > 0 {
		first := history[0]
		if requester == "" {
			switch {
			case len(first.Mentions) > 0:
				requester = first.Mentions[0]
			case !first.FromBot:
				requester = first.Author
			}
		}
		if allowedRoles == nil && len(first.MentionRoles) > 0 {
			allowedRoles = first.MentionRoles
		}
	}
	if allowedRoles == nil {
		allowedRoles = r.config.Tiers
	}

	ticket := newTicket(r.env, channel, ticketType, requester, allowedRoles)
	if id, err := uuid.Parse(channel.Metadata[metadataCreatedID]); err == nil {
		ticket.CreatedID = id
	}
	if createdAt, err := time.Parse(time.RFC3339, channel.Metadata[metadataCreatedAt]); err == nil {
		ticket.CreatedAt = createdAt
	}

	staffCache := make(map[string]bool)
	isStaff := func(user string) bool {
		if cached, ok := staffCache[user]; ok {
			return cached
		}
		staff, err := r.IsStaff(ctx, user)
		if err != nil {
			logger.Warn("role lookup failed during recovery, treating as member", "user_id", user, "error", err)
		}
		staffCache[user] = staff
		return staff
	}

	pinged := false
	for _, message := range history {
		if message.FromBot {
			status, ok := ParseStatus(message.Body)
			if !ok {
				continue
			}
			switch status.Kind {
			case StatusClaimed:
				ticket.Staff.Add(status.Target)
			case StatusUnclaimed:
				ticket.Staff.Remove(status.Target)
			case StatusAdded:
				ticket.Members.Add(status.Target)
			case StatusRemoved:
				ticket.Members.Remove(status.Target)
			case StatusStaffPing:
				pinged = true
			}
			continue
		}
		if isStaff(message.Author) {
			ticket.Staff.Add(message.Author)
			pinged = false
		} else {
			ticket.Members.Add(message.Author)
		}
	}
	if requester != "" {
		ticket.Members.Add(requester)
	}
	ticket.staffPinged = pinged

	logger.Debug("ticket recovered",
		"type", string(ticketType),
		"requester", requester,
		"members", ticket.Members.Len(),
		"staff", ticket.Staff.Len(),
		"messages", len(history),
	)
	return ticket
}
