// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package sweeper runs Warden's periodic background work.
//
// One pass delivers due broadcasts, then due reminders, then pings
// staff on tickets whose requester has been waiting too long, then
// drops tickets whose channels vanished. Passes are paced by a token
// bucket read against the injected clock, so tests drive the loop with
// a fake clock instead of sleeping.
//
// Delivery is at-most-once. A job is deleted from its queue before it
// is posted, and only the sweeper whose delete succeeded posts it. A
// crash or send failure between the two loses the job; that case is
// logged and counted in warden_jobs_lost_total.
package sweeper
