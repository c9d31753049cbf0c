// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package reviews

import (
	"errors"
	"fmt"
	"time"

	"github.com/warden-bot/warden/lib/codec"
	"github.com/warden-bot/warden/lib/store"
)

// CurrentVersion is the envelope version written by Encode.
const CurrentVersion = 1

// DefaultNotes is recorded when a reviewer gives no notes.
const DefaultNotes = "No notes provided."

// ErrUnsupportedVersion reports an envelope written by a newer Warden.
var ErrUnsupportedVersion = errors.New("reviews: unsupported envelope version")

// Review is one verdict on a staff member's ticket handling. ID and
// Staff come from the store record, not the envelope.
type Review struct {
	ID    int64  `cbor:"-"`
	Staff string `cbor:"-"`

	Version    int       `cbor:"v"`
	Reviewer   string    `cbor:"reviewer"`
	Approved   bool      `cbor:"approved"`
	Notes      string    `cbor:"notes"`
	Ticket     string    `cbor:"ticket,omitempty"`
	ReviewedAt time.Time `cbor:"reviewed_at"`
}

// Verdict returns "Approved" or "Denied".
func (r Review) Verdict() string {
	if r.Approved {
		return "Approved"
	}
	return "Denied"
}

// Encode serializes the envelope of review at CurrentVersion.
func Encode(review Review) ([]byte, error) {
	review.Version = CurrentVersion
	review.ReviewedAt = review.ReviewedAt.UTC()
	return codec.Marshal(review)
}

// Decode parses a store record into a Review.
func Decode(record store.Record) (Review, error) {
	var review Review
	if err := codec.Unmarshal(record.Value, &review); err != nil {
		return Review{}, fmt.Errorf("reviews: decoding record %d: %w", record.ID, err)
	}
	if review.Version < 1 || review.Version > CurrentVersion {
		return Review{}, fmt.Errorf("%w: record %d has version %d", ErrUnsupportedVersion, record.ID, review.Version)
	}
	review.ID = record.ID
	review.Staff = record.Key
	return review, nil
}

// Tally is one staff member's review count.
type Tally struct {
	Staff    string
	Approved int
	Total    int
}

// Percent returns the approval rate rounded down, or 0 with no reviews.
func (t Tally) Percent() int {
	if t.Total == 0 {
		return 0
	}
	return t.Approved * 100 / t.Total
}
