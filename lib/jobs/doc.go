// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package jobs models the delayed-delivery queues the sweeper drains:
// personal reminders and scheduled broadcasts.
//
// A [Queue] is a thin layer over one store table. Records are keyed by
// the owning user and carry a versioned CBOR [Job] envelope. Delivery
// is at-most-once: the sweeper calls [Queue.Take], which deletes the
// record by id, and only the caller whose delete succeeded delivers.
// A crash between Take and delivery loses the job.
//
// Broadcast jobs may carry a cron expression (adhocore/gronx syntax);
// after delivery the sweeper re-enqueues them at the next tick.
package jobs
