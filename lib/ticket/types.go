// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package ticket

import (
	"errors"
	"fmt"
	"strings"
)

// Type tags what a ticket is for. The value is stored in channel
// metadata and must stay stable.
type Type string

const (
	Muted       Type = "muted"
	Discussion  Type = "discussion"
	Question    Type = "question"
	BugReport   Type = "bug_report"
	UserReport  Type = "user_report"
	StaffReport Type = "staff_report"
)

// Types lists every ticket type in display order.
var Types = []Type{Muted, Discussion, Question, BugReport, UserReport, StaffReport}

// ParseType accepts the stored form ("bug_report") and the command form
// ("bug-report", "BugReport").
func ParseType(value string) (Type, error) {
	normalized := strings.ToLower(strings.NewReplacer("-", "_", " ", "_").Replace(strings.TrimSpace(value)))
	for _, candidate := range Types {
		if normalized == string(candidate) || normalized == strings.ReplaceAll(string(candidate), "_", "") {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("ticket: unknown type %q", value)
}

// Title returns a human-readable name.
func (t Type) Title() string {
	switch t {
	case Muted:
		return "Mute appeal"
	case Discussion:
		return "Discussion"
	case Question:
		return "Question"
	case BugReport:
		return "Bug report"
	case UserReport:
		return "User report"
	case StaffReport:
		return "Staff report"
	}
	return string(t)
}

// Errors reported by ticket operations. The no-op conditions still
// re-assert the ticket's access rules before returning.
var (
	ErrNotFound       = errors.New("ticket: not found")
	ErrClosed         = errors.New("ticket: closed")
	ErrAlreadyClaimed = errors.New("ticket: already claimed by this staff member")
	ErrNotClaimed     = errors.New("ticket: not claimed by this staff member")
	ErrAlreadyMember  = errors.New("ticket: already a member")
	ErrNotMember      = errors.New("ticket: not a member")
	ErrRequester      = errors.New("ticket: the requester cannot be removed")
)

// Metadata keys stored on the ticket channel.
const (
	metadataType         = "type"
	metadataRequester    = "requester"
	metadataAllowedRoles = "allowed_roles"
	metadataCreatedID    = "created_id"
	metadataCreatedAt    = "created_at"
)
