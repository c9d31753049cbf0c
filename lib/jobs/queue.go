// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/warden-bot/warden/lib/clock"
	"github.com/warden-bot/warden/lib/store"
)

var (
	// ErrDelayOutOfRange reports a delay that is not positive or
	// exceeds the queue's maximum.
	ErrDelayOutOfRange = errors.New("jobs: delay out of range")

	// ErrEmptyText reports a job with nothing to deliver.
	ErrEmptyText = errors.New("jobs: empty text")

	// ErrNotOwner reports a removal of a job that belongs to someone
	// else or does not exist.
	ErrNotOwner = errors.New("jobs: no such job for this user")
)

// Limits taken from the command surface: reminders may be set at most
// one week out, broadcasts at most one day.
const (
	MaxReminderDelay  = 7 * 24 * time.Hour
	MaxBroadcastDelay = 24 * time.Hour
)

// Queue is a delayed-delivery queue stored in one table.
type Queue struct {
	store    store.Store
	table    string
	maxDelay time.Duration
	clock    clock.Clock
	logger   *slog.Logger
}

// QueueConfig configures a Queue.
type QueueConfig struct {
	Store    store.Store
	Table    string
	MaxDelay time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
}

// NewQueue returns a queue over cfg.Table.
func NewQueue(cfg QueueConfig) *Queue {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Queue{
		store:    cfg.Store,
		table:    cfg.Table,
		maxDelay: cfg.MaxDelay,
		clock:    cfg.Clock,
		logger:   cfg.Logger.With("table", cfg.Table),
	}
}

// NewReminders returns the reminders queue.
func NewReminders(s store.Store, clk clock.Clock, logger *slog.Logger) *Queue {
	return NewQueue(QueueConfig{Store: s, Table: store.TableReminders, MaxDelay: MaxReminderDelay, Clock: clk, Logger: logger})
}

// NewBroadcasts returns the scheduled broadcasts queue.
func NewBroadcasts(s store.Store, clk clock.Clock, logger *slog.Logger) *Queue {
	return NewQueue(QueueConfig{Store: s, Table: store.TableBroadcasts, MaxDelay: MaxBroadcastDelay, Clock: clk, Logger: logger})
}

// Table returns the backing table name.
func (q *Queue) Table() string { return q.table }

// Enqueue stores a job for owner due after delay. With a non-empty
// every, delay may be zero, in which case the first delivery is the
// next cron tick.
func (q *Queue) Enqueue(ctx context.Context, owner, channel, text string, delay time.Duration, every string) (Job, error) {
	if text == "" {
		return Job{}, ErrEmptyText
	}
	now := q.clock.Now()
	job := Job{Owner: owner, Channel: channel, Text: text, Every: every}

	if every != "" {
		if err := ValidateRecurrence(every); err != nil {
			return Job{}, err
		}
	}
	switch {
	case every != "" && delay == 0:
		next, err := job.NextAfter(now)
		if err != nil {
			return Job{}, err
		}
		job.DueAt = next
	case delay <= 0 || (q.maxDelay > 0 && delay > q.maxDelay):
		return Job{}, fmt.Errorf("%w: %s (maximum %s)", ErrDelayOutOfRange, delay, q.maxDelay)
	default:
		job.DueAt = now.Add(delay)
	}
	return q.put(ctx, job)
}

func (q *Queue) put(ctx context.Context, job Job) (Job, error) {
	encoded, err := Encode(job)
	if err != nil {
		return Job{}, fmt.Errorf("jobs: encoding: %w", err)
	}
	id, err := q.store.Append(ctx, q.table, job.Owner, encoded)
	if err != nil {
		return Job{}, err
	}
	job.ID = id
	job.Version = CurrentVersion
	job.DueAt = job.DueAt.UTC()
	return job, nil
}

// Reschedule enqueues the next occurrence of a recurring job that has
// just been delivered.
func (q *Queue) Reschedule(ctx context.Context, job Job) (Job, error) {
	next, err := job.NextAfter(q.clock.Now())
	if err != nil {
		return Job{}, err
	}
	job.ID = 0
	job.DueAt = next
	return q.put(ctx, job)
}

// List returns owner's pending jobs ordered by due time.
func (q *Queue) List(ctx context.Context, owner string) ([]Job, error) {
	records, err := q.store.GetAll(ctx, q.table, owner)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	jobs := q.decodeAll(records)
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].DueAt.Before(jobs[j].DueAt) })
	return jobs, nil
}

// Remove deletes owner's job id. Jobs owned by someone else are
// reported as ErrNotOwner, the same as missing ones.
func (q *Queue) Remove(ctx context.Context, owner string, id int64) error {
	records, err := q.store.GetAll(ctx, q.table, owner)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotOwner
	}
	if err != nil {
		return err
	}
	for _, record := range records {
		if record.ID != id {
			continue
		}
		err := q.store.DeleteByID(ctx, q.table, id)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotOwner
		}
		return err
	}
	return ErrNotOwner
}

// Due returns every job due at now, in id order. Records that cannot
// be decoded are logged and skipped.
func (q *Queue) Due(ctx context.Context, now time.Time) ([]Job, error) {
	records, err := q.store.Scan(ctx, q.table)
	if err != nil {
		return nil, err
	}
	var due []Job
	for _, job := range q.decodeAll(records) {
		if job.Due(now) {
			due = append(due, job)
		}
	}
	return due, nil
}

// Take removes job from the queue. A nil return means the caller now
// owns delivery; store.ErrNotFound means another sweeper took it.
func (q *Queue) Take(ctx context.Context, job Job) error {
	return q.store.DeleteByID(ctx, q.table, job.ID)
}

func (q *Queue) decodeAll(records []store.Record) []Job {
	jobs := make([]Job, 0, len(records))
	for _, record := range records {
		job, err := Decode(record)
		if err != nil {
			q.logger.Warn("skipping undecodable job", "id", record.ID, "owner", record.Key, "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs
}
