// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// splitArgs splits a command line on whitespace. Double quotes group
// words into one argument; a backslash escapes the next character
// inside quotes.
func splitArgs(line string) ([]string, error) {
	var (
		args    []string
		current strings.Builder
		inArg   bool
		quoted  bool
		escaped bool
	)
	for _, r := range line {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case quoted && r == '\\':
			escaped = true
		case r == '"':
			quoted = !quoted
			inArg = true
		case !quoted && (r == ' ' || r == '\t' || r == '\n'):
			if inArg {
				args = append(args, current.String())
				current.Reset()
				inArg = false
			}
		default:
			current.WriteRune(r)
			inArg = true
		}
	}
	if quoted {
		return nil, errors.New("unterminated quote")
	}
	if inArg {
		args = append(args, current.String())
	}
	return args, nil
}

var delayPattern = regexp.MustCompile(`^(?:(\d+)w)?(?:(\d+)d)?(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?$`)

// parseDelay accepts compact durations such as "90s", "1m30s", "2d" or
// "1w2d3h".
func parseDelay(value string) (time.Duration, error) {
	parts := delayPattern.FindStringSubmatch(strings.ToLower(value))
	if parts == nil || value == "" {
		return 0, fmt.Errorf("invalid duration %q (use e.g. 90s, 1h30m, 2d)", value)
	}
	units := []time.Duration{7 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute, time.Second}
	var total time.Duration
	for index, unit := range units {
		if parts[index+1] == "" {
			continue
		}
		count, err := strconv.Atoi(parts[index+1])
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", value, err)
		}
		total += time.Duration(count) * unit
	}
	return total, nil
}

// userArgument picks the target user of a command: the first argument
// when it looks like a Matrix user ID, otherwise the first mention.
func userArgument(args, mentions []string) (string, bool) {
	if len(args) > 0 && strings.HasPrefix(args[0], "@") && strings.Contains(args[0], ":") {
		return args[0], true
	}
	if len(mentions) > 0 {
		return mentions[0], true
	}
	return "", false
}
