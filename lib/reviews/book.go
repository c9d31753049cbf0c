// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package reviews

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/warden-bot/warden/lib/clock"
	"github.com/warden-bot/warden/lib/store"
)

var (
	// ErrSelfReview reports a reviewer reviewing themselves.
	ErrSelfReview = errors.New("reviews: staff cannot review themselves")

	// ErrNotFound reports an unknown review number.
	ErrNotFound = errors.New("reviews: no such review")
)

// Book is the review log over the ticket_reviews table.
type Book struct {
	store  store.Store
	table  string
	clock  clock.Clock
	logger *slog.Logger
}

// NewBook returns the review log stored in s.
func NewBook(s store.Store, clk clock.Clock, logger *slog.Logger) *Book {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Book{
		store:  s,
		table:  store.TableReviews,
		clock:  clk,
		logger: logger.With("table", store.TableReviews),
	}
}

// Record appends a review of staff by reviewer and returns it with the
// number of reviews staff now has. Empty notes become DefaultNotes.
func (b *Book) Record(ctx context.Context, staff, reviewer string, approved bool, notes, ticketName string) (Review, int, error) {
	if staff == reviewer {
		return Review{}, 0, ErrSelfReview
	}
	notes = strings.TrimSpace(notes)
	if notes == "" {
		notes = DefaultNotes
	}
	review := Review{
		Staff:      staff,
		Reviewer:   reviewer,
		Approved:   approved,
		Notes:      notes,
		Ticket:     ticketName,
		ReviewedAt: b.clock.Now().UTC(),
	}
	encoded, err := Encode(review)
	if err != nil {
		return Review{}, 0, fmt.Errorf("reviews: encoding: %w", err)
	}
	id, err := b.store.Append(ctx, b.table, staff, encoded)
	if err != nil {
		return Review{}, 0, err
	}
	review.ID = id
	review.Version = CurrentVersion

	all, err := b.ForStaff(ctx, staff)
	if err != nil {
		return review, 0, err
	}
	b.logger.Info("ticket review recorded", "id", id, "staff", staff, "reviewer", reviewer, "approved", approved)
	return review, len(all), nil
}

// ForStaff returns staff's reviews, oldest first.
func (b *Book) ForStaff(ctx context.Context, staff string) ([]Review, error) {
	records, err := b.store.GetAll(ctx, b.table, staff)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b.decodeAll(records), nil
}

// Remove deletes review id and returns what was removed.
func (b *Book) Remove(ctx context.Context, id int64) (Review, error) {
	records, err := b.store.Scan(ctx, b.table)
	if err != nil {
		return Review{}, err
	}
	for _, record := range records {
		if record.ID != id {
			continue
		}
		review, err := Decode(record)
		if err != nil {
			review = Review{ID: record.ID, Staff: record.Key}
		}
		if err := b.store.DeleteByID(ctx, b.table, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return Review{}, ErrNotFound
			}
			return Review{}, err
		}
		b.logger.Info("ticket review removed", "id", id, "staff", review.Staff)
		return review, nil
	}
	return Review{}, ErrNotFound
}

// Tallies returns the review counts of the named staff members, or of
// every reviewed staff member when none are named, in the order given
// or sorted by user ID.
func (b *Book) Tallies(ctx context.Context, staff ...string) ([]Tally, error) {
	if len(staff) == 0 {
		keys, err := b.store.Keys(ctx, b.table)
		if err != nil {
			return nil, err
		}
		staff = keys
	}
	tallies := make([]Tally, 0, len(staff))
	for _, member := range staff {
		reviews, err := b.ForStaff(ctx, member)
		if err != nil {
			return nil, err
		}
		tally := Tally{Staff: member, Total: len(reviews)}
		for _, review := range reviews {
			if review.Approved {
				tally.Approved++
			}
		}
		tallies = append(tallies, tally)
	}
	return tallies, nil
}

// Reset deletes every review and returns how many staff members had
// reviews.
func (b *Book) Reset(ctx context.Context) (int, error) {
	keys, err := b.store.Keys(ctx, b.table)
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		if err := b.store.Delete(ctx, b.table, key); err != nil {
			return 0, err
		}
	}
	b.logger.Info("ticket reviews reset", "staff", len(keys))
	return len(keys), nil
}

func (b *Book) decodeAll(records []store.Record) []Review {
	reviews := make([]Review, 0, len(records))
	for _, record := range records {
		review, err := Decode(record)
		if err != nil {
			b.logger.Warn("skipping undecodable review", "id", record.ID, "staff", record.Key, "error", err)
			continue
		}
		reviews = append(reviews, review)
	}
	return reviews
}
