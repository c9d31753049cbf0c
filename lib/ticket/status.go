// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package ticket

import (
	"fmt"
	"strings"
)

// StatusKind identifies a bot status message.
type StatusKind int

const (
	StatusClaimed StatusKind = iota + 1
	StatusUnclaimed
	StatusAdded
	StatusRemoved
	StatusStaffPing
	StatusOpened
)

// Status is a parsed bot status message.
type Status struct {
	Kind   StatusKind
	Target string
}

// The prefixes are parsed back during recovery; changing them strands
// every ticket opened before the change.
const (
	prefixClaimed   = "Claimed by "
	prefixUnclaimed = "Unclaimed by "
	prefixAdded     = "Added "
	prefixRemoved   = "Removed "
	prefixStaffPing = "Staff ping: "
	prefixOpened    = "Ticket opened by "
)

var statusPrefixes = []struct {
	prefix string
	kind   StatusKind
}{
	{prefixClaimed, StatusClaimed},
	{prefixUnclaimed, StatusUnclaimed},
	{prefixAdded, StatusAdded},
	{prefixRemoved, StatusRemoved},
	{prefixStaffPing, StatusStaffPing},
	{prefixOpened, StatusOpened},
}

// Message renders the status as the bot posts it.
func (s Status) Message() string {
	switch s.Kind {
	case StatusClaimed:
		return prefixClaimed + s.Target
	case StatusUnclaimed:
		return prefixUnclaimed + s.Target
	case StatusAdded:
		return prefixAdded + s.Target
	case StatusRemoved:
		return prefixRemoved + s.Target
	case StatusStaffPing:
		return fmt.Sprintf("%s%s is waiting for a reply.", prefixStaffPing, s.Target)
	case StatusOpened:
		return prefixOpened + s.Target
	}
	return ""
}

// ParseStatus recognizes a bot status message. The target is the first
// whitespace-separated word after the prefix.
func ParseStatus(body string) (Status, bool) {
	for _, candidate := range statusPrefixes {
		rest, ok := strings.CutPrefix(body, candidate.prefix)
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return Status{}, false
		}
		target := strings.TrimRight(fields[0], ".,")
		return Status{Kind: candidate.kind, Target: target}, true
	}
	return Status{}, false
}
