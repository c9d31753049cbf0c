// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package ticket manages support tickets: private channels opened for
// one support or moderation conversation.
//
// A [Ticket] combines a channel, a [Type], two [ParticipantSet]s
// (members and staff) and the staff-responsiveness flag used by the
// sweeper. Every mutating operation changes a participant set under that
// set's own lock and then pushes the recomputed access rules through an
// [access.Synchronizer]. A failed synchronization is logged and never
// rolls the set back; the next mutation synchronizes again.
//
// # Claiming
//
// An unclaimed ticket is visible to every allowed staff role. The first
// claim denies those roles and grants the claiming staff members
// individually, so unclaimed staff stop seeing an actively handled
// ticket. Releasing the last claim restores the role grants.
//
// # Registry and recovery
//
// The [Registry] owns the channel -> ticket map. Ticket state is never
// persisted: [Registry.Init] rebuilds it at startup by replaying the
// recent history of every channel in the tickets category. Bot status
// messages ("Claimed by ...", "Added ...") carry the transitions; the
// channel metadata written at creation carries type, requester and
// allowed roles. Replay is bounded by the history limit, so tickets with
// long histories can under-recover participants whose only trace is
// older than the window.
//
// # Concurrency
//
// Init must complete before event dispatch starts. After that every
// exported method is safe for concurrent use. Platform calls happen
// outside the registry lock.
package ticket
