// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package reviews keeps the ticket review log: senior staff approve or
// deny how a staff member handled a ticket, and the approval rate per
// staff member feeds the ticket statistics.
//
// Reviews live in the ticket_reviews table of the durable store, one
// record per review keyed by the reviewed staff member's user ID, with
// a versioned CBOR envelope as the value. The record id is the review
// number shown to users. A monthly reset deletes every key.
package reviews
