// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package ticket

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warden-bot/warden/lib/access"
	"github.com/warden-bot/warden/lib/chat"
	"github.com/warden-bot/warden/lib/metrics"
)

// environment is what a ticket needs from its registry.
type environment struct {
	platform     chat.Platform
	synchronizer *access.Synchronizer
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// Ticket is one open support conversation.
type Ticket struct {
	Channel   string
	Name      string
	Type      Type
	CreatedID uuid.UUID
	CreatedAt time.Time
	Requester string

	Members *ParticipantSet
	Staff   *ParticipantSet

	// syncMu serializes rule computation and synchronization so the
	// last sync to finish reflects the latest participant sets.
	syncMu sync.Mutex

	mu           sync.Mutex
	allowedRoles []string
	staffPinged  bool
	closed       bool

	env *environment
}

func newTicket(env *environment, channel chat.Channel, ticketType Type, requester string, allowedRoles []string) *Ticket {
	return &Ticket{
		Channel:      channel.ID,
		Name:         channel.Name,
		Type:         ticketType,
		Requester:    requester,
		Members:      NewParticipantSet(),
		Staff:        NewParticipantSet(),
		allowedRoles: slices.Clone(allowedRoles),
		env:          env,
	}
}

// AllowedRoles returns the staff roles that may see the ticket while it
// is unclaimed.
func (t *Ticket) AllowedRoles() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.allowedRoles)
}

// StaffPinged reports whether staff has been pinged for the current idle
// period.
func (t *Ticket) StaffPinged() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.staffPinged
}

// Closed reports whether the ticket has been closed.
func (t *Ticket) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Claimed reports whether any staff member has claimed the ticket.
func (t *Ticket) Claimed() bool {
	return t.Staff.Len() > 0
}

// Claim adds staff to the claiming staff. The first claim swaps the
// role grants for individual grants.
func (t *Ticket) Claim(ctx context.Context, staff string) error {
	return t.mutate(ctx, t.Staff.Add, staff, ErrAlreadyClaimed, Status{Kind: StatusClaimed, Target: staff}, "claimed")
}

// Unclaim releases staff's claim. Releasing the last claim restores the
// role grants.
func (t *Ticket) Unclaim(ctx context.Context, staff string) error {
	return t.mutate(ctx, t.Staff.Remove, staff, ErrNotClaimed, Status{Kind: StatusUnclaimed, Target: staff}, "unclaimed")
}

// AddMember grants user access to the ticket.
func (t *Ticket) AddMember(ctx context.Context, user string) error {
	return t.mutate(ctx, t.Members.Add, user, ErrAlreadyMember, Status{Kind: StatusAdded, Target: user}, "member_added")
}

// RemoveMember revokes user's access. The requester cannot be removed.
func (t *Ticket) RemoveMember(ctx context.Context, user string) error {
	if user == t.Requester {
		return ErrRequester
	}
	return t.mutate(ctx, t.Members.Remove, user, ErrNotMember, Status{Kind: StatusRemoved, Target: user}, "member_removed")
}

// mutate applies change to one participant set, re-synchronizes access
// whether or not the set changed, and announces real changes.
func (t *Ticket) mutate(ctx context.Context, change func(string) bool, id string, noop error, status Status, event string) error {
	if t.Closed() {
		return ErrClosed
	}
	changed := change(id)
	t.SyncAccess(ctx)
	if !changed {
		return noop
	}
	t.env.metrics.TicketEvent(event)
	t.announce(ctx, chat.Outgoing{Body: status.Message(), Mentions: []string{id}})
	return nil
}

// DesiredRules computes the access rules implied by the participant
// sets. Members are always granted. Unclaimed tickets grant the allowed
// roles; claimed tickets deny them and grant each claiming staff member.
func (t *Ticket) DesiredRules() []access.Rule {
	var rules []access.Rule
	for _, member := range t.Members.Members() {
		rules = append(rules, access.Rule{Kind: chat.RuleMember, Target: member, Allow: true})
	}
	staff := t.Staff.Members()
	claimed := len(staff) > 0
	for _, role := range t.AllowedRoles() {
		rules = append(rules, access.Rule{Kind: chat.RuleRole, Target: role, Allow: !claimed})
	}
	for _, member := range staff {
		rules = append(rules, access.Rule{Kind: chat.RuleMember, Target: member, Allow: true})
	}
	return rules
}

// SyncAccess pushes DesiredRules to the platform. Failures are logged;
// the next call synchronizes again.
func (t *Ticket) SyncAccess(ctx context.Context) {
	t.syncMu.Lock()
	defer t.syncMu.Unlock()
	if t.Closed() {
		return
	}
	if _, err := t.env.synchronizer.Sync(ctx, t.Channel, t.DesiredRules()); err != nil {
		t.env.logger.Warn("ticket access out of sync",
			"channel", t.Channel,
			"ticket_id", t.CreatedID.String(),
			"error", err,
		)
	}
}

// PingStaff posts the staff ping once per idle period. It reports
// whether a ping was sent. A failed send leaves the ticket unpinged so
// the next sweep tries again.
func (t *Ticket) PingStaff(ctx context.Context) (bool, error) {
	t.mu.Lock()
	if t.closed || t.staffPinged {
		t.mu.Unlock()
		return false, nil
	}
	t.staffPinged = true
	roles := slices.Clone(t.allowedRoles)
	t.mu.Unlock()

	message := chat.Outgoing{Body: Status{Kind: StatusStaffPing, Target: t.Requester}.Message()}
	if staff := t.Staff.Members(); len(staff) > 0 {
		message.Mentions = staff
	} else {
		message.MentionRoles = roles
	}
	if _, err := t.env.platform.SendMessage(ctx, t.Channel, message); err != nil {
		t.mu.Lock()
		t.staffPinged = false
		t.mu.Unlock()
		return false, err
	}
	t.env.metrics.StaffPinged()
	return true, nil
}

// ClearStaffPinged ends the idle period and reports whether the flag
// was set.
func (t *Ticket) ClearStaffPinged() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := t.staffPinged
	t.staffPinged = false
	return was
}

// close marks the ticket closed and revokes every rule. It reports
// false if the ticket was already closed.
func (t *Ticket) close(ctx context.Context) (bool, error) {
	t.syncMu.Lock()
	defer t.syncMu.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false, nil
	}
	t.closed = true
	t.mu.Unlock()

	return true, t.env.synchronizer.Revoke(ctx, t.Channel)
}

func (t *Ticket) announce(ctx context.Context, message chat.Outgoing) {
	if _, err := t.env.platform.SendMessage(ctx, t.Channel, message); err != nil {
		t.env.logger.Warn("posting ticket status failed",
			"channel", t.Channel,
			"body", message.Body,
			"error", err,
		)
	}
}

// Snapshot is a point-in-time copy of a ticket for reporting.
type Snapshot struct {
	Channel      string    `json:"channel"`
	Name         string    `json:"name,omitempty"`
	Type         Type      `json:"type"`
	CreatedID    string    `json:"created_id"`
	CreatedAt    time.Time `json:"created_at,omitzero"`
	Requester    string    `json:"requester"`
	Members      []string  `json:"members"`
	Staff        []string  `json:"staff"`
	AllowedRoles []string  `json:"allowed_roles"`
	StaffPinged  bool      `json:"staff_pinged"`
}

// Snapshot copies the ticket's current state.
func (t *Ticket) Snapshot() Snapshot {
	t.mu.Lock()
	roles := slices.Clone(t.allowedRoles)
	pinged := t.staffPinged
	t.mu.Unlock()
	return Snapshot{
		Channel:      t.Channel,
		Name:         t.Name,
		Type:         t.Type,
		CreatedID:    t.CreatedID.String(),
		CreatedAt:    t.CreatedAt,
		Requester:    t.Requester,
		Members:      t.Members.Members(),
		Staff:        t.Staff.Members(),
		AllowedRoles: roles,
		StaffPinged:  pinged,
	}
}
