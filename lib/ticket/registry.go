// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package ticket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warden-bot/warden/lib/access"
	"github.com/warden-bot/warden/lib/chat"
	"github.com/warden-bot/warden/lib/clock"
	"github.com/warden-bot/warden/lib/metrics"
)

// DefaultHistoryLimit is how many recent messages recovery replays.
const DefaultHistoryLimit = 255

// Transcript is the record of a closed ticket handed to the archiver.
type Transcript struct {
	Channel   string
	Name      string
	Type      Type
	CreatedID uuid.UUID
	Requester string
	ClosedBy  string
	ClosedAt  time.Time
	Members   []string
	Staff     []string
	Messages  []chat.Message
}

// Archiver stores transcripts of closed tickets.
type Archiver interface {
	Archive(ctx context.Context, transcript Transcript) error
}

// Config configures a Registry.
type Config struct {
	Platform chat.Platform

	// Category is the channel category (Matrix space) holding tickets.
	Category string

	// Tiers are the staff roles, most junior first.
	Tiers []string

	// MinimumTier maps a ticket type to the most junior tier allowed to
	// see it. Types not listed are visible to every tier.
	MinimumTier map[Type]string

	// HistoryLimit bounds replay; defaults to DefaultHistoryLimit.
	HistoryLimit int

	// Archiver is optional.
	Archiver Archiver

	Clock   clock.Clock
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Registry is the directory of open tickets, keyed by channel.
type Registry struct {
	config Config
	env    *environment
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.RWMutex
	tickets map[string]*Ticket
	// orphans are closed tickets whose channel deletion failed.
	orphans map[string]struct{}

	archives sync.WaitGroup
}

// NewRegistry creates an empty registry. Call Init before dispatching
// events.
func NewRegistry(config Config) (*Registry, error) {
	if config.Platform == nil {
		return nil, fmt.Errorf("ticket: Platform is required")
	}
	if config.Category == "" {
		return nil, fmt.Errorf("ticket: Category is required")
	}
	if len(config.Tiers) == 0 {
		return nil, fmt.Errorf("ticket: at least one staff tier is required")
	}
	for ticketType, tier := range config.MinimumTier {
		if !slices.Contains(config.Tiers, tier) {
			return nil, fmt.Errorf("ticket: minimum tier %q for %s is not a configured tier", tier, ticketType)
		}
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = DefaultHistoryLimit
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}

	return &Registry{
		config: config,
		env: &environment{
			platform:     config.Platform,
			synchronizer: access.NewSynchronizer(config.Platform, config.Metrics, config.Logger),
			metrics:      config.Metrics,
			logger:       config.Logger,
		},
		clock:   config.Clock,
		logger:  config.Logger,
		tickets: make(map[string]*Ticket),
		orphans: make(map[string]struct{}),
	}, nil
}

// AllowedRoles returns the staff tiers that may see a ticket of type.
func (r *Registry) AllowedRoles(ticketType Type) []string {
	minimum, ok := r.config.MinimumTier[ticketType]
	if !ok {
		return slices.Clone(r.config.Tiers)
	}
	index := slices.Index(r.config.Tiers, minimum)
	return slices.Clone(r.config.Tiers[index:])
}

// IsStaff reports whether user holds any staff tier.
func (r *Registry) IsStaff(ctx context.Context, user string) (bool, error) {
	roles, err := r.config.Platform.UserRoles(ctx, user)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		if slices.Contains(r.config.Tiers, role) {
			return true, nil
		}
	}
	return false, nil
}

// Open creates a ticket channel for requester. A failed channel
// creation is returned and nothing is registered; later failures
// (access, opening message) are logged.
func (r *Registry) Open(ctx context.Context, requester string, ticketType Type) (*Ticket, error) {
	if requester == "" {
		return nil, fmt.Errorf("ticket: requester is required")
	}
	ticketType, err := ParseType(string(ticketType))
	if err != nil {
		return nil, err
	}

	createdID := uuid.New()
	createdAt := r.clock.Now().UTC()
	allowedRoles := r.AllowedRoles(ticketType)

	channel, err := r.config.Platform.CreateChannel(ctx, chat.ChannelSpec{
		Name:     fmt.Sprintf("%s-%s", strings.ReplaceAll(string(ticketType), "_", "-"), createdID.String()[:8]),
		Category: r.config.Category,
		Topic:    fmt.Sprintf("%s for %s", ticketType.Title(), requester),
		Metadata: map[string]string{
			metadataType:         string(ticketType),
			metadataRequester:    requester,
			metadataAllowedRoles: strings.Join(allowedRoles, ","),
			metadataCreatedID:    createdID.String(),
			metadataCreatedAt:    createdAt.Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ticket: creating channel for %s: %w", requester, err)
	}

	ticket := newTicket(r.env, channel, ticketType, requester, allowedRoles)
	ticket.CreatedID = createdID
	ticket.CreatedAt = createdAt
	ticket.Members.Add(requester)
	ticket.SyncAccess(ctx)

	opening := Status{Kind: StatusOpened, Target: requester}.Message() +
		fmt.Sprintf(" (%s). A staff member will be with you shortly.", ticketType.Title())
	ticket.announce(ctx, chat.Outgoing{
		Body:         opening,
		Mentions:     []string{requester},
		MentionRoles: allowedRoles,
	})

	r.mu.Lock()
	r.tickets[channel.ID] = ticket
	count := len(r.tickets)
	r.mu.Unlock()

	r.env.metrics.TicketEvent("opened")
	r.env.metrics.SetOpenTickets(count)
	r.logger.Info("ticket opened",
		"channel", channel.ID,
		"ticket_id", createdID.String(),
		"type", string(ticketType),
		"requester", requester,
	)
	return ticket, nil
}

// Get returns the ticket for channel, or nil. It never performs I/O.
func (r *Registry) Get(channel string) *Ticket {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tickets[channel]
}

// Len returns the number of open tickets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tickets)
}

// List returns the open tickets ordered by channel ID.
func (r *Registry) List() []*Ticket {
	r.mu.RLock()
	tickets := make([]*Ticket, 0, len(r.tickets))
	for _, ticket := range r.tickets {
		tickets = append(tickets, ticket)
	}
	r.mu.RUnlock()
	slices.SortFunc(tickets, func(a, b *Ticket) int { return strings.Compare(a.Channel, b.Channel) })
	return tickets
}

// Stats holds aggregate counts across open tickets.
type Stats struct {
	Total   int          `json:"total"`
	ByType  map[Type]int `json:"by_type"`
	Claimed int          `json:"claimed"`
	Pinged  int          `json:"pinged"`
}

// Stats returns aggregate counts across open tickets.
func (r *Registry) Stats() Stats {
	stats := Stats{ByType: make(map[Type]int)}
	for _, ticket := range r.List() {
		stats.Total++
		stats.ByType[ticket.Type]++
		if ticket.Claimed() {
			stats.Claimed++
		}
		if ticket.StaffPinged() {
			stats.Pinged++
		}
	}
	return stats
}

// Close closes the ticket in channel. Closing an unknown or already
// closed channel is a no-op returning nil.
func (r *Registry) Close(ctx context.Context, channel string) error {
	_, err := r.CloseBy(ctx, channel, "")
	return err
}

// CloseBy closes the ticket and records closer in the transcript. It
// returns the closed ticket, or nil when there was nothing to close.
//
// The map entry is removed first so concurrent closers race on the map
// rather than the platform. Access is then revoked, the history is
// snapshotted and handed to the archiver in the background, and the
// channel is deleted.
func (r *Registry) CloseBy(ctx context.Context, channel, closer string) (*Ticket, error) {
	r.mu.Lock()
	ticket, ok := r.tickets[channel]
	if ok {
		delete(r.tickets, channel)
	}
	count := len(r.tickets)
	r.mu.Unlock()
	if !ok {
		return nil, nil
	}
	r.env.metrics.SetOpenTickets(count)

	if closed, err := ticket.close(ctx); !closed {
		return nil, nil
	} else if err != nil {
		r.logger.Warn("revoking ticket access failed", "channel", channel, "error", err)
	}

	if r.config.Archiver != nil {
		history, err := r.config.Platform.History(ctx, channel, r.config.HistoryLimit)
		if err != nil {
			r.logger.Warn("snapshotting ticket history failed", "channel", channel, "error", err)
		}
		transcript := Transcript{
			Channel:   channel,
			Name:      ticket.Name,
			Type:      ticket.Type,
			CreatedID: ticket.CreatedID,
			Requester: ticket.Requester,
			ClosedBy:  closer,
			ClosedAt:  r.clock.Now().UTC(),
			Members:   ticket.Members.Members(),
			Staff:     ticket.Staff.Members(),
			Messages:  history,
		}
		archiveCtx := context.WithoutCancel(ctx)
		r.archives.Go(func() {
			if err := r.config.Archiver.Archive(archiveCtx, transcript); err != nil {
				r.logger.Error("archiving ticket failed", "channel", channel, "ticket_id", ticket.CreatedID.String(), "error", err)
			}
		})
	}

	if err := r.config.Platform.DeleteChannel(ctx, channel); err != nil && !errors.Is(err, chat.ErrChannelNotFound) {
		r.mu.Lock()
		r.orphans[channel] = struct{}{}
		r.mu.Unlock()
		r.logger.Warn("ticket channel left behind, deletion will be retried",
			"channel", channel,
			"ticket_id", ticket.CreatedID.String(),
			"error", err,
		)
		return ticket, fmt.Errorf("ticket: deleting channel %s: %w", channel, err)
	}

	r.env.metrics.TicketEvent("closed")
	r.logger.Info("ticket closed", "channel", channel, "ticket_id", ticket.CreatedID.String(), "closed_by", closer)
	return ticket, nil
}

// Orphans returns the channels of closed tickets that still await
// deletion, sorted.
func (r *Registry) Orphans() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.orphans))
}

// RetryOrphans deletes channels left behind by failed closes. A channel
// that is already gone counts as deleted. It returns the channels
// removed from the retry list and the errors for those that remain.
func (r *Registry) RetryOrphans(ctx context.Context) ([]string, error) {
	var (
		deleted  []string
		failures []error
	)
	for _, channel := range r.Orphans() {
		err := r.config.Platform.DeleteChannel(ctx, channel)
		if err != nil && !errors.Is(err, chat.ErrChannelNotFound) {
			failures = append(failures, fmt.Errorf("ticket: deleting channel %s: %w", channel, err))
			continue
		}
		r.mu.Lock()
		delete(r.orphans, channel)
		r.mu.Unlock()
		deleted = append(deleted, channel)
		r.logger.Info("deleted leftover ticket channel", "channel", channel)
	}
	return deleted, errors.Join(failures...)
}

// WaitArchives blocks until every background archive started by Close
// has finished.
func (r *Registry) WaitArchives() {
	r.archives.Wait()
}

// Reconcile drops tickets whose channel no longer exists in the
// category, keeping the map in step with the platform when channels are
// removed by hand. It returns the dropped channel IDs.
//
// Only tickets registered before the channel listing was requested are
// candidates: a ticket opened while the listing is in flight has a
// channel the listing may not include yet.
func (r *Registry) Reconcile(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	known := maps.Clone(r.tickets)
	r.mu.RUnlock()

	channels, err := r.config.Platform.ListChannels(ctx, r.config.Category)
	if err != nil {
		return nil, fmt.Errorf("ticket: listing channels: %w", err)
	}
	live := make(map[string]bool, len(channels))
	for _, channel := range channels {
		live[channel.ID] = true
	}

	var dropped []*Ticket
	r.mu.Lock()
	for id, seen := range known {
		if live[id] {
			continue
		}
		if current, ok := r.tickets[id]; ok && current == seen {
			delete(r.tickets, id)
			dropped = append(dropped, current)
		}
	}
	count := len(r.tickets)
	r.mu.Unlock()

	ids := make([]string, 0, len(dropped))
	for _, ticket := range dropped {
		ticket.mu.Lock()
		ticket.closed = true
		ticket.mu.Unlock()
		ids = append(ids, ticket.Channel)
		r.logger.Info("dropping ticket whose channel disappeared", "channel", ticket.Channel)
	}
	slices.Sort(ids)
	if len(dropped) > 0 {
		r.env.metrics.SetOpenTickets(count)
	}
	return ids, nil
}
