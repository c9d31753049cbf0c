// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package ticket

import (
	"slices"
	"sync"
)

// ParticipantSet is a set of user IDs with its own lock.
type ParticipantSet struct {
	mu      sync.Mutex
	members map[string]struct{}
}

// NewParticipantSet returns a set holding ids.
func NewParticipantSet(ids ...string) *ParticipantSet {
	set := &ParticipantSet{members: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		set.members[id] = struct{}{}
	}
	return set
}

// Add inserts id and reports whether it was absent.
func (s *ParticipantSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[id]; ok {
		return false
	}
	s.members[id] = struct{}{}
	return true
}

// Remove deletes id and reports whether it was present.
func (s *ParticipantSet) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[id]; !ok {
		return false
	}
	delete(s.members, id)
	return true
}

func (s *ParticipantSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[id]
	return ok
}

func (s *ParticipantSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// Members returns a sorted snapshot.
func (s *ParticipantSet) Members() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.members))
	for id := range s.members {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
