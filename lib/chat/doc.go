// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package chat defines the narrow chat-platform surface the ticket and
// sweeper packages depend on, and implements it on Matrix.
//
// [Platform] covers channels (create, delete, list by category),
// messages (send, history) and per-channel access rules, plus the role
// lookup used to tell staff from members. Everything above this package
// speaks in channel IDs, user IDs and role names; nothing imports the
// Matrix wire types.
//
// [Matrix] maps the surface onto the client-server API: a channel is a
// room, a category is a space, channel metadata and access rules are
// custom state events, and roles are power-level tiers of the community
// room. See the chattest package for an in-memory implementation used
// in tests.
package chat
