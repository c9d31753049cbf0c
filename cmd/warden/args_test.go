// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"slices"
	"testing"
	"time"
)

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"claim", []string{"claim"}},
		{"  remind   1h  stretch  ", []string{"remind", "1h", "stretch"}},
		{`schedule --every "*/5 * * * *" hello`, []string{"schedule", "--every", "*/5 * * * *", "hello"}},
		{`say "a \"quoted\" word"`, []string{"say", `a "quoted" word`}},
		{`empty ""`, []string{"empty", ""}},
		{"", nil},
	}
	for _, test := range tests {
		got, err := splitArgs(test.line)
		if err != nil {
			t.Errorf("splitArgs(%q): %v", test.line, err)
			continue
		}
		if !slices.Equal(got, test.want) {
			t.Errorf("splitArgs(%q) = %q, want %q", test.line, got, test.want)
		}
	}

	if _, err := splitArgs(`say "unfinished`); err == nil {
		t.Error("splitArgs accepted an unterminated quote")
	}
}

func TestParseDelay(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"90s", 90 * time.Second},
		{"1m30s", 90 * time.Second},
		{"2d", 48 * time.Hour},
		{"1w2d3h", 9*24*time.Hour + 3*time.Hour},
		{"1H", time.Hour},
	}
	for _, test := range tests {
		got, err := parseDelay(test.value)
		if err != nil {
			t.Errorf("parseDelay(%q): %v", test.value, err)
			continue
		}
		if got != test.want {
			t.Errorf("parseDelay(%q) = %s, want %s", test.value, got, test.want)
		}
	}

	for _, bad := range []string{"", "soon", "1h1w", "-5m", "1.5h"} {
		if _, err := parseDelay(bad); err == nil {
			t.Errorf("parseDelay(%q) succeeded", bad)
		}
	}
}

func TestUserArgument(t *testing.T) {
	if user, ok := userArgument([]string{"@bob:x", "muted"}, nil); !ok || user != "@bob:x" {
		t.Errorf("explicit user ID = %q, %v", user, ok)
	}
	if user, ok := userArgument([]string{"Bob"}, []string{"@bob:x"}); !ok || user != "@bob:x" {
		t.Errorf("mention fallback = %q, %v", user, ok)
	}
	if _, ok := userArgument([]string{"bob"}, nil); ok {
		t.Error("a bare name was taken as a user")
	}
}
