// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/warden-bot/warden/lib/codec"
	"github.com/warden-bot/warden/lib/store"
)

// CurrentVersion is the envelope version written by Encode.
const CurrentVersion = 1

// ErrUnsupportedVersion reports an envelope written by a newer Warden.
var ErrUnsupportedVersion = errors.New("jobs: unsupported envelope version")

// ErrInvalidRecurrence reports an unparseable cron expression.
var ErrInvalidRecurrence = errors.New("jobs: invalid cron expression")

// Job is one pending delivery. ID and Owner come from the store
// record, not the envelope.
type Job struct {
	ID    int64  `cbor:"-"`
	Owner string `cbor:"-"`

	Version int       `cbor:"v"`
	Channel string    `cbor:"channel"`
	Text    string    `cbor:"text"`
	DueAt   time.Time `cbor:"due_at"`

	// Every is a cron expression; empty for one-shot jobs.
	Every string `cbor:"every,omitempty"`
}

// Due reports whether the job should be delivered at now.
func (j Job) Due(now time.Time) bool {
	return !j.DueAt.After(now)
}

// Recurring reports whether the job is re-enqueued after delivery.
func (j Job) Recurring() bool {
	return j.Every != ""
}

// NextAfter returns the first cron tick strictly after t.
func (j Job) NextAfter(t time.Time) (time.Time, error) {
	if !j.Recurring() {
		return time.Time{}, fmt.Errorf("jobs: job %d is not recurring", j.ID)
	}
	next, err := gronx.NextTickAfter(j.Every, t, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrInvalidRecurrence, j.Every, err)
	}
	return next, nil
}

// ValidateRecurrence checks a cron expression.
func ValidateRecurrence(expr string) error {
	if !gronx.IsValid(expr) {
		return fmt.Errorf("%w: %q", ErrInvalidRecurrence, expr)
	}
	return nil
}

// Encode serializes the envelope of job at CurrentVersion.
func Encode(job Job) ([]byte, error) {
	job.Version = CurrentVersion
	job.DueAt = job.DueAt.UTC()
	return codec.Marshal(job)
}

// Decode parses a store record into a Job.
func Decode(record store.Record) (Job, error) {
	var job Job
	if err := codec.Unmarshal(record.Value, &job); err != nil {
		return Job{}, fmt.Errorf("jobs: decoding record %d: %w", record.ID, err)
	}
	if job.Version < 1 || job.Version > CurrentVersion {
		return Job{}, fmt.Errorf("%w: record %d has version %d", ErrUnsupportedVersion, record.ID, job.Version)
	}
	job.ID = record.ID
	job.Owner = record.Key
	return job, nil
}
