// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/warden-bot/warden/lib/clock"
	"github.com/warden-bot/warden/lib/codec"
	"github.com/warden-bot/warden/lib/store"
)

var epoch = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newTestQueue(t *testing.T, maxDelay time.Duration) (*Queue, store.Store, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(epoch)
	s, err := store.OpenSQLite(store.Config{Path: filepath.Join(t.TempDir(), "jobs.db"), Clock: fake})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	queue := NewQueue(QueueConfig{Store: s, Table: store.TableReminders, MaxDelay: maxDelay, Clock: fake})
	return queue, s, fake
}

func TestEnqueueAndDue(t *testing.T) {
	ctx := context.Background()
	queue, _, fake := newTestQueue(t, MaxReminderDelay)

	soon, err := queue.Enqueue(ctx, "@alice:example.org", "!lobby:example.org", "stretch", time.Minute, "")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := queue.Enqueue(ctx, "@alice:example.org", "!lobby:example.org", "later", time.Hour, ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	due, err := queue.Due(ctx, fake.Now())
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("Due before deadline = %d jobs, want 0", len(due))
	}

	fake.Advance(time.Minute)
	due, err = queue.Due(ctx, fake.Now())
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(due) != 1 || due[0].ID != soon.ID {
		t.Fatalf("Due = %+v, want only job %d", due, soon.ID)
	}
	if due[0].Owner != "@alice:example.org" || due[0].Channel != "!lobby:example.org" || due[0].Text != "stretch" {
		t.Errorf("decoded job = %+v", due[0])
	}

	if err := queue.Take(ctx, due[0]); err != nil {
		t.Fatalf("Take: %v", err)
	}
	if err := queue.Take(ctx, due[0]); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second Take = %v, want store.ErrNotFound", err)
	}

	remaining, err := queue.List(ctx, "@alice:example.org")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Text != "later" {
		t.Errorf("List = %+v, want only the future job", remaining)
	}
}

func TestEnqueueRejectsOutOfRange(t *testing.T) {
	ctx := context.Background()
	queue, _, _ := newTestQueue(t, MaxBroadcastDelay)

	tests := []struct {
		name  string
		delay time.Duration
		text  string
		every string
		want  error
	}{
		{name: "zero delay", delay: 0, text: "x", want: ErrDelayOutOfRange},
		{name: "negative delay", delay: -time.Second, text: "x", want: ErrDelayOutOfRange},
		{name: "too far", delay: MaxBroadcastDelay + time.Second, text: "x", want: ErrDelayOutOfRange},
		{name: "empty text", delay: time.Minute, text: "", want: ErrEmptyText},
		{name: "bad cron", delay: time.Minute, text: "x", every: "every tuesday", want: ErrInvalidRecurrence},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := queue.Enqueue(ctx, "@alice:example.org", "!room:example.org", test.text, test.delay, test.every)
			if !errors.Is(err, test.want) {
				t.Fatalf("Enqueue = %v, want %v", err, test.want)
			}
		})
	}

	if _, err := queue.Enqueue(ctx, "@alice:example.org", "!room:example.org", "max", MaxBroadcastDelay, ""); err != nil {
		t.Errorf("delay equal to the maximum should be accepted: %v", err)
	}
}

func TestRecurringJob(t *testing.T) {
	ctx := context.Background()
	queue, _, fake := newTestQueue(t, MaxBroadcastDelay)

	job, err := queue.Enqueue(ctx, "@mod:example.org", "!announcements:example.org", "weekly rules reminder", 0, "0 12 * * *")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if want := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC); !job.DueAt.Equal(want) {
		t.Fatalf("first DueAt = %v, want %v", job.DueAt, want)
	}

	fake.Advance(2 * time.Hour)
	if err := queue.Take(ctx, job); err != nil {
		t.Fatalf("Take: %v", err)
	}
	next, err := queue.Reschedule(ctx, job)
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if want := time.Date(2026, 5, 5, 12, 0, 0, 0, time.UTC); !next.DueAt.Equal(want) {
		t.Errorf("next DueAt = %v, want %v", next.DueAt, want)
	}
	if next.ID == job.ID {
		t.Error("rescheduled job reused the delivered id")
	}
}

func TestRemoveChecksOwnership(t *testing.T) {
	ctx := context.Background()
	queue, _, _ := newTestQueue(t, MaxReminderDelay)

	job, err := queue.Enqueue(ctx, "@alice:example.org", "!room:example.org", "mine", time.Hour, "")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := queue.Remove(ctx, "@mallory:example.org", job.ID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("Remove by other user = %v, want ErrNotOwner", err)
	}
	if err := queue.Remove(ctx, "@alice:example.org", job.ID+100); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("Remove of unknown id = %v, want ErrNotOwner", err)
	}
	if err := queue.Remove(ctx, "@alice:example.org", job.ID); err != nil {
		t.Fatalf("Remove by owner: %v", err)
	}
	jobs, err := queue.List(ctx, "@alice:example.org")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("List after Remove = %+v", jobs)
	}
}

func TestDueSkipsUndecodable(t *testing.T) {
	ctx := context.Background()
	queue, s, fake := newTestQueue(t, MaxReminderDelay)

	if _, err := s.Append(ctx, store.TableReminders, "@alice:example.org", []byte("not cbor at all \xff")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	good, err := queue.Enqueue(ctx, "@alice:example.org", "!room:example.org", "fine", time.Second, "")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	fake.Advance(time.Second)

	due, err := queue.Due(ctx, fake.Now())
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(due) != 1 || due[0].ID != good.ID {
		t.Errorf("Due = %+v, want only the decodable job", due)
	}
}

func TestDecodeRejectsFutureVersion(t *testing.T) {
	encoded, err := Encode(Job{Channel: "!room:example.org", Text: "x", DueAt: epoch})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	job, err := Decode(store.Record{ID: 7, Key: "@alice:example.org", Value: encoded})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if job.ID != 7 || job.Owner != "@alice:example.org" || job.Version != CurrentVersion {
		t.Errorf("Decode = %+v", job)
	}

	future := map[string]any{"v": CurrentVersion + 1, "channel": "!room:example.org", "text": "x", "due_at": epoch}
	data, err := codec.Marshal(future)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Decode(store.Record{ID: 8, Value: data}); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("Decode(v%d) = %v, want ErrUnsupportedVersion", CurrentVersion+1, err)
	}
}
