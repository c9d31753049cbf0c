// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/warden-bot/warden/lib/chat"
	"github.com/warden-bot/warden/lib/clock"
	"github.com/warden-bot/warden/lib/jobs"
	"github.com/warden-bot/warden/lib/metrics"
	"github.com/warden-bot/warden/lib/store"
	"github.com/warden-bot/warden/lib/ticket"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultIdleThreshold = 10 * time.Minute
	DefaultMinInterval   = 5 * time.Second
	DefaultHistoryLimit  = 50
)

// Config configures a Sweeper.
type Config struct {
	// Reminders and Broadcasts are the job queues to drain. Either may
	// be nil, in which case that step of the pass is skipped.
	Reminders  *jobs.Queue
	Broadcasts *jobs.Queue

	// Registry holds the open tickets checked for idle requesters.
	Registry *ticket.Registry

	// Platform delivers jobs and reads ticket history.
	Platform chat.Platform

	// IdleThreshold is how long the newest requester-side message may
	// go unanswered before staff are pinged.
	IdleThreshold time.Duration

	// MinInterval is the minimum spacing between passes once Burst
	// passes have run back to back.
	MinInterval time.Duration

	// Burst is the number of passes allowed without waiting. Default 1.
	Burst int

	// HistoryLimit bounds how far back the timeout check reads each
	// ticket's history looking for the newest human message.
	HistoryLimit int

	Clock   clock.Clock
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Sweeper runs passes until its context is cancelled.
type Sweeper struct {
	config  Config
	limiter *rate.Limiter
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New validates config and returns a Sweeper.
func New(config Config) (*Sweeper, error) {
	if config.Platform == nil {
		return nil, errors.New("sweeper: Platform is required")
	}
	if config.Registry == nil {
		return nil, errors.New("sweeper: Registry is required")
	}
	if config.IdleThreshold < 0 || config.MinInterval < 0 || config.Burst < 0 || config.HistoryLimit < 0 {
		return nil, errors.New("sweeper: durations and limits must not be negative")
	}
	if config.IdleThreshold == 0 {
		config.IdleThreshold = DefaultIdleThreshold
	}
	if config.MinInterval == 0 {
		config.MinInterval = DefaultMinInterval
	}
	if config.Burst == 0 {
		config.Burst = 1
	}
	if config.HistoryLimit == 0 {
		config.HistoryLimit = DefaultHistoryLimit
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Sweeper{
		config:  config,
		limiter: rate.NewLimiter(rate.Every(config.MinInterval), config.Burst),
		clock:   config.Clock,
		metrics: config.Metrics,
		logger:  config.Logger,
	}, nil
}

// Run sweeps until ctx is cancelled. The first pass starts
// immediately. Errors inside a pass are logged and never stop the
// loop.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("sweeper started",
		"min_interval", s.config.MinInterval,
		"idle_threshold", s.config.IdleThreshold,
	)
	for {
		if !s.wait(ctx) {
			s.logger.Info("sweeper stopped")
			return
		}
		s.Pass(ctx)
	}
}

// wait blocks until the limiter grants the next pass. It returns false
// when ctx is cancelled first.
func (s *Sweeper) wait(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	now := s.clock.Now()
	reservation := s.limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		reservation.CancelAt(s.clock.Now())
		return false
	case <-s.clock.After(delay):
		return true
	}
}

// Pass runs one sweep: broadcasts, reminders, ticket timeouts and
// housekeeping, in that order.
func (s *Sweeper) Pass(ctx context.Context) {
	start := s.clock.Now()
	s.SweepBroadcasts(ctx)
	s.SweepReminders(ctx)
	s.SweepTicketTimeouts(ctx)
	s.Housekeeping(ctx)
	s.metrics.SweepPass(s.clock.Now().Sub(start))
}

// SweepBroadcasts posts every due broadcast into its channel.
func (s *Sweeper) SweepBroadcasts(ctx context.Context) int {
	return s.drain(ctx, s.config.Broadcasts, func(job jobs.Job) chat.Outgoing {
		return chat.Outgoing{Body: job.Text}
	})
}

// SweepReminders posts every due reminder, mentioning its owner.
func (s *Sweeper) SweepReminders(ctx context.Context) int {
	return s.drain(ctx, s.config.Reminders, func(job jobs.Job) chat.Outgoing {
		return chat.Outgoing{
			Body:     ReminderBody(job.Owner, job.Text),
			Mentions: []string{job.Owner},
		}
	})
}

// ReminderBody is the text posted when a reminder fires.
func ReminderBody(owner, text string) string {
	return fmt.Sprintf("Reminder for %s: %s", owner, text)
}

// drain delivers the due jobs of queue and returns how many were
// posted.
func (s *Sweeper) drain(ctx context.Context, queue *jobs.Queue, render func(jobs.Job) chat.Outgoing) int {
	if queue == nil {
		return 0
	}
	due, err := queue.Due(ctx, s.clock.Now())
	if err != nil {
		s.logger.Error("reading due jobs failed", "table", queue.Table(), "error", err)
		return 0
	}

	delivered := 0
	for _, job := range due {
		if ctx.Err() != nil {
			return delivered
		}
		if err := queue.Take(ctx, job); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				s.logger.Error("removing due job failed", "table", queue.Table(), "job_id", job.ID, "error", err)
			}
			continue
		}

		// The job is out of the store: from here a failure loses it.
		if _, err := s.config.Platform.SendMessage(ctx, job.Channel, render(job)); err != nil {
			s.metrics.JobLost(queue.Table(), "delivery")
			s.logger.Error("job lost: delivery failed after removal",
				"table", queue.Table(),
				"job_id", job.ID,
				"owner", job.Owner,
				"channel", job.Channel,
				"error", err,
			)
		} else {
			delivered++
			s.metrics.JobDelivered(queue.Table())
		}

		if job.Recurring() {
			next, err := queue.Reschedule(ctx, job)
			if err != nil {
				s.logger.Error("rescheduling recurring job failed",
					"table", queue.Table(),
					"job_id", job.ID,
					"every", job.Every,
					"error", err,
				)
				continue
			}
			s.logger.Debug("recurring job rescheduled", "table", queue.Table(), "job_id", next.ID, "due_at", next.DueAt)
		}
	}
	return delivered
}

// SweepTicketTimeouts pings staff on tickets whose newest human
// message comes from the requester side and is at least IdleThreshold
// old, and clears the ping flag on tickets where staff spoke last. It
// returns the number of pings sent.
func (s *Sweeper) SweepTicketTimeouts(ctx context.Context) int {
	now := s.clock.Now()
	pinged := 0
	for _, t := range s.config.Registry.List() {
		if ctx.Err() != nil {
			return pinged
		}
		if t.Closed() {
			continue
		}
		history, err := s.config.Platform.History(ctx, t.Channel, s.config.HistoryLimit)
		if err != nil {
			if !errors.Is(err, chat.ErrChannelNotFound) {
				s.logger.Warn("reading ticket history failed", "channel", t.Channel, "error", err)
			}
			continue
		}
		last, ok := newestHuman(history)
		if !ok {
			continue
		}

		if s.isStaff(ctx, t, last.Author) {
			t.ClearStaffPinged()
			continue
		}
		if !t.Members.Contains(last.Author) || now.Sub(last.Timestamp) < s.config.IdleThreshold {
			continue
		}
		sent, err := t.PingStaff(ctx)
		if err != nil {
			if !errors.Is(err, chat.ErrChannelNotFound) {
				s.logger.Warn("staff ping failed", "channel", t.Channel, "error", err)
			}
			continue
		}
		if sent {
			pinged++
			s.logger.Info("pinged staff on idle ticket",
				"channel", t.Channel,
				"requester", t.Requester,
				"idle", now.Sub(last.Timestamp).Round(time.Second),
			)
		}
	}
	return pinged
}

func (s *Sweeper) isStaff(ctx context.Context, t *ticket.Ticket, user string) bool {
	if t.Staff.Contains(user) {
		return true
	}
	staff, err := s.config.Registry.IsStaff(ctx, user)
	if err != nil {
		s.logger.Warn("role lookup failed", "user", user, "error", err)
		return false
	}
	return staff
}

func newestHuman(history []chat.Message) (chat.Message, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if !history[i].FromBot {
			return history[i], true
		}
	}
	return chat.Message{}, false
}

// Housekeeping retries channel deletions left over from failed closes
// and drops tickets whose channels were removed outside the bot.
func (s *Sweeper) Housekeeping(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	deleted, err := s.config.Registry.RetryOrphans(ctx)
	if err != nil {
		s.logger.Warn("deleting leftover ticket channels failed", "error", err)
	}
	if len(deleted) > 0 {
		s.logger.Info("deleted leftover ticket channels", "deleted", len(deleted))
	}
	dropped, err := s.config.Registry.Reconcile(ctx)
	if err != nil {
		s.logger.Warn("reconciling tickets failed", "error", err)
		return
	}
	if len(dropped) > 0 {
		s.logger.Info("reconciled tickets", "dropped", len(dropped))
	}
}
